package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const machineColumns = `id, name, description, location, created_at, updated_at`

func scanMachine(row pgx.Row) (*Machine, error) {
	var m Machine
	if err := row.Scan(&m.ID, &m.Name, &m.Description, &m.Location, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (p *PostgresClient) queryMachines(ctx context.Context, sql string, args ...any) ([]*Machine, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query machines: %w", err)
	}
	defer rows.Close()

	machines := make([]*Machine, 0)
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan machine: %w", err)
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

func (p *PostgresClient) CreateMachine(ctx context.Context, m *Machine) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO machines (name, description, location)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, m.Name, m.Description, m.Location).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return mapError(err, "machine")
	}
	return nil
}

func (p *PostgresClient) GetMachine(ctx context.Context, id uuid.UUID) (*Machine, error) {
	m, err := scanMachine(p.pool.QueryRow(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("machine %s", id))
	}
	return m, nil
}

func (p *PostgresClient) GetMachineByName(ctx context.Context, name string) (*Machine, error) {
	m, err := scanMachine(p.pool.QueryRow(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE name = $1 ORDER BY created_at LIMIT 1`, name))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("machine %q", name))
	}
	return m, nil
}

func (p *PostgresClient) ListMachines(ctx context.Context) ([]*Machine, error) {
	return p.queryMachines(ctx, `SELECT `+machineColumns+` FROM machines ORDER BY name`)
}

func (p *PostgresClient) UpdateMachine(ctx context.Context, m *Machine) error {
	err := p.pool.QueryRow(ctx, `
		UPDATE machines
		SET name = $1, description = $2, location = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING created_at, updated_at
	`, m.Name, m.Description, m.Location, m.ID).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return mapError(err, fmt.Sprintf("machine %s", m.ID))
	}
	return nil
}

func (p *PostgresClient) DeleteMachine(ctx context.Context, id uuid.UUID) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM machines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete machine: %w", err)
	}
	return expectAffected(result, fmt.Sprintf("machine %s", id))
}

func (p *PostgresClient) MachinesByLocation(ctx context.Context, location string) ([]*Machine, error) {
	return p.queryMachines(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE location = $1 ORDER BY name`, location)
}

// MachinesByNameContaining matches case-insensitively anywhere in the name.
func (p *PostgresClient) MachinesByNameContaining(ctx context.Context, fragment string) ([]*Machine, error) {
	return p.queryMachines(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE name ILIKE '%' || $1 || '%' ORDER BY name`, fragment)
}

func (p *PostgresClient) MachineExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM machines WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check machine: %w", err)
	}
	return exists, nil
}

func (p *PostgresClient) CountMachines(ctx context.Context) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM machines`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count machines: %w", err)
	}
	return n, nil
}

func (p *PostgresClient) MachineStats(ctx context.Context) (*MachineStats, error) {
	var s MachineStats
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT NULLIF(location, ''))
		FROM machines
	`).Scan(&s.Total, &s.UniqueLocations)
	if err != nil {
		return nil, fmt.Errorf("failed to compute machine stats: %w", err)
	}
	return &s, nil
}

// MachineActivity gathers the facts the operating state is derived from.
type MachineActivity struct {
	LastReadingAt       *time.Time
	OpenAlerts          int64
	InProgressDiagnosis int64
}

func (p *PostgresClient) GetMachineActivity(ctx context.Context, id uuid.UUID, inProgressStatus string) (*MachineActivity, error) {
	var a MachineActivity
	err := p.pool.QueryRow(ctx, `
		SELECT
			(SELECT MAX(r.timestamp) FROM readings r JOIN sensors s ON s.id = r.sensor_id WHERE s.machine_id = $1),
			(SELECT COUNT(*) FROM alerts WHERE machine_id = $1 AND resolved = FALSE),
			(SELECT COUNT(*) FROM diagnostics WHERE machine_id = $1 AND status = $2)
	`, id, inProgressStatus).Scan(&a.LastReadingAt, &a.OpenAlerts, &a.InProgressDiagnosis)
	if err != nil {
		return nil, fmt.Errorf("failed to load machine activity: %w", err)
	}
	return &a, nil
}
