package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const alertColumns = `id, machine_id, sensor_id, type, criticality, description, value, resolved, timestamp, resolved_at`

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	err := row.Scan(&a.ID, &a.MachineID, &a.SensorID, &a.Type, &a.Criticality,
		&a.Description, &a.Value, &a.Resolved, &a.Timestamp, &a.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *PostgresClient) InsertAlert(ctx context.Context, a *Alert) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO alerts (machine_id, sensor_id, type, criticality, description, value, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, a.MachineID, a.SensorID, a.Type, a.Criticality, a.Description, a.Value, a.Timestamp).Scan(&a.ID)
	if err != nil {
		return mapError(err, "alert")
	}
	return nil
}

func (p *PostgresClient) GetAlert(ctx context.Context, id int64) (*Alert, error) {
	a, err := scanAlert(p.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("alert %d", id))
	}
	return a, nil
}

// ListAlerts filters by machine and resolution when given, newest first.
func (p *PostgresClient) ListAlerts(ctx context.Context, machineID *uuid.UUID, resolved *bool, limit int) ([]*Alert, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := p.pool.Query(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE ($1::uuid IS NULL OR machine_id = $1)
		  AND ($2::boolean IS NULL OR resolved = $2)
		ORDER BY timestamp DESC
		LIMIT $3
	`, machineID, resolved, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	out := make([]*Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresClient) ResolveAlert(ctx context.Context, id int64) (*Alert, error) {
	a, err := scanAlert(p.pool.QueryRow(ctx, `
		UPDATE alerts SET resolved = TRUE, resolved_at = COALESCE(resolved_at, NOW())
		WHERE id = $1
		RETURNING `+alertColumns, id))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("alert %d", id))
	}
	return a, nil
}
