package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const reportColumns = `id, machine_id, summary, recommendations, date, generated_by`

func scanReport(row pgx.Row) (*Report, error) {
	var r Report
	if err := row.Scan(&r.ID, &r.MachineID, &r.Summary, &r.Recommendations, &r.Date, &r.GeneratedBy); err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresClient) queryReports(ctx context.Context, sql string, args ...any) ([]*Report, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	out := make([]*Report, 0)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresClient) CreateReport(ctx context.Context, r *Report) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO reports (machine_id, summary, recommendations, date, generated_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, r.MachineID, r.Summary, r.Recommendations, r.Date, r.GeneratedBy).Scan(&r.ID)
	if err != nil {
		return mapError(err, "report")
	}
	return nil
}

func (p *PostgresClient) GetReport(ctx context.Context, id int64) (*Report, error) {
	r, err := scanReport(p.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("report %d", id))
	}
	return r, nil
}

func (p *PostgresClient) DeleteReport(ctx context.Context, id int64) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	return expectAffected(result, fmt.Sprintf("report %d", id))
}

// ReportsByMachine returns the machine's reports newest first.
func (p *PostgresClient) ReportsByMachine(ctx context.Context, machineID uuid.UUID) ([]*Report, error) {
	return p.queryReports(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE machine_id = $1 ORDER BY date DESC, id DESC`, machineID)
}

// LatestReport returns the newest report of a machine or ErrNotFound.
func (p *PostgresClient) LatestReport(ctx context.Context, machineID uuid.UUID) (*Report, error) {
	r, err := scanReport(p.pool.QueryRow(ctx, `
		SELECT `+reportColumns+` FROM reports
		WHERE machine_id = $1
		ORDER BY date DESC, id DESC
		LIMIT 1
	`, machineID))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("report for machine %s", machineID))
	}
	return r, nil
}

func (p *PostgresClient) ReportsByMachineGeneratorAndDate(ctx context.Context, machineID uuid.UUID, generatedBy string, from, to time.Time) ([]*Report, error) {
	return p.queryReports(ctx, `
		SELECT `+reportColumns+` FROM reports
		WHERE machine_id = $1 AND generated_by = $2 AND date BETWEEN $3 AND $4
		ORDER BY date DESC
	`, machineID, generatedBy, from, to)
}

// ReportsByKeyword searches recommendations case-insensitively.
func (p *PostgresClient) ReportsByKeyword(ctx context.Context, keyword string, offset, limit int) ([]*Report, int64, error) {
	var total int64
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM reports WHERE recommendations ILIKE '%' || $1 || '%'
	`, keyword).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count reports: %w", err)
	}

	reports, err := p.queryReports(ctx, `
		SELECT `+reportColumns+` FROM reports
		WHERE recommendations ILIKE '%' || $1 || '%'
		ORDER BY date DESC, id DESC
		OFFSET $2 LIMIT $3
	`, keyword, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return reports, total, nil
}

func (p *PostgresClient) CountReportsByMachineAndGenerator(ctx context.Context) ([]ReportCount, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT machine_id, generated_by, COUNT(*)
		FROM reports
		GROUP BY machine_id, generated_by
		ORDER BY machine_id, generated_by
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count reports: %w", err)
	}
	defer rows.Close()

	out := make([]ReportCount, 0)
	for rows.Next() {
		var c ReportCount
		if err := rows.Scan(&c.MachineID, &c.GeneratedBy, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan report count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReportsWithUnresolvedAlerts returns the machine's reports since the cutoff
// while the machine has at least one unresolved alert.
func (p *PostgresClient) ReportsWithUnresolvedAlerts(ctx context.Context, machineID uuid.UUID, since time.Time) ([]*Report, error) {
	return p.queryReports(ctx, `
		SELECT `+reportColumns+` FROM reports r
		WHERE r.machine_id = $1 AND r.date >= $2
		  AND EXISTS (SELECT 1 FROM alerts a WHERE a.machine_id = r.machine_id AND a.resolved = FALSE)
		ORDER BY r.date DESC
	`, machineID, since)
}
