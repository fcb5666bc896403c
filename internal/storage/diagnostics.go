package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const diagnosticColumns = `id, machine_id, timestamp, diagnostic_type, details, status, severity,
	intervention_details, technician, intervention_date`

func scanDiagnostic(row pgx.Row) (*Diagnostic, error) {
	var d Diagnostic
	err := row.Scan(&d.ID, &d.MachineID, &d.Timestamp, &d.DiagnosticType, &d.Details,
		&d.Status, &d.Severity, &d.InterventionDetails, &d.Technician, &d.InterventionDate)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *PostgresClient) CreateDiagnostic(ctx context.Context, d *Diagnostic) error {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO diagnostics (machine_id, timestamp, diagnostic_type, details, status, severity,
		                         intervention_details, technician, intervention_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, d.MachineID, d.Timestamp, d.DiagnosticType, d.Details, d.Status, d.Severity,
		d.InterventionDetails, d.Technician, d.InterventionDate).Scan(&d.ID)
	if err != nil {
		return mapError(err, "diagnostic")
	}
	return nil
}

func (p *PostgresClient) GetDiagnostic(ctx context.Context, id uuid.UUID) (*Diagnostic, error) {
	d, err := scanDiagnostic(p.pool.QueryRow(ctx,
		`SELECT `+diagnosticColumns+` FROM diagnostics WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("diagnostic %s", id))
	}
	return d, nil
}

func (p *PostgresClient) UpdateDiagnostic(ctx context.Context, d *Diagnostic) error {
	result, err := p.pool.Exec(ctx, `
		UPDATE diagnostics
		SET machine_id = $1, timestamp = $2, diagnostic_type = $3, details = $4, status = $5,
		    severity = $6, intervention_details = $7, technician = $8, intervention_date = $9
		WHERE id = $10
	`, d.MachineID, d.Timestamp, d.DiagnosticType, d.Details, d.Status, d.Severity,
		d.InterventionDetails, d.Technician, d.InterventionDate, d.ID)
	if err != nil {
		return mapError(err, fmt.Sprintf("diagnostic %s", d.ID))
	}
	return expectAffected(result, fmt.Sprintf("diagnostic %s", d.ID))
}

// UpdateDiagnosticStatus sets the status, intervention details and stamps the intervention date.
func (p *PostgresClient) UpdateDiagnosticStatus(ctx context.Context, id uuid.UUID, status, interventionDetails string, at time.Time) (*Diagnostic, error) {
	d, err := scanDiagnostic(p.pool.QueryRow(ctx, `
		UPDATE diagnostics
		SET status = $2, intervention_details = $3, intervention_date = $4
		WHERE id = $1
		RETURNING `+diagnosticColumns, id, status, interventionDetails, at))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("diagnostic %s", id))
	}
	return d, nil
}

func (p *PostgresClient) DeleteDiagnostic(ctx context.Context, id uuid.UUID) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM diagnostics WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete diagnostic: %w", err)
	}
	return expectAffected(result, fmt.Sprintf("diagnostic %s", id))
}

func buildDiagnosticWhere(f DiagnosticFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.MachineID != nil {
		where = append(where, "machine_id = "+next(*f.MachineID))
	}
	if f.DiagnosticType != "" {
		where = append(where, "diagnostic_type = "+next(f.DiagnosticType))
	}
	if len(f.Status) > 0 {
		where = append(where, "status = ANY("+next(f.Status)+")")
	}
	if f.Technician != "" {
		where = append(where, "technician = "+next(f.Technician))
	}
	if f.From != nil {
		where = append(where, "timestamp >= "+next(*f.From))
	}
	if f.To != nil {
		where = append(where, "timestamp <= "+next(*f.To))
	}
	if f.Critical {
		where = append(where, `(status ILIKE '%critical%' OR status ILIKE '%urgent%'
			OR severity ILIKE '%critical%' OR severity ILIKE '%urgent%')`)
	}

	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// FindDiagnostics returns matches newest first.
func (p *PostgresClient) FindDiagnostics(ctx context.Context, f DiagnosticFilter) ([]*Diagnostic, error) {
	where, args := buildDiagnosticWhere(f)
	sql := `SELECT ` + diagnosticColumns + ` FROM diagnostics` + where + ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query diagnostics: %w", err)
	}
	defer rows.Close()

	out := make([]*Diagnostic, 0)
	for rows.Next() {
		d, err := scanDiagnostic(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan diagnostic: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresClient) CountDiagnostics(ctx context.Context, f DiagnosticFilter) (int64, error) {
	where, args := buildDiagnosticWhere(f)
	var n int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM diagnostics`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count diagnostics: %w", err)
	}
	return n, nil
}
