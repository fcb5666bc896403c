package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sensorColumns = `id, machine_id, type, unit, min_threshold, max_threshold, created_at, updated_at`

func scanSensor(row pgx.Row) (*Sensor, error) {
	var s Sensor
	err := row.Scan(&s.ID, &s.MachineID, &s.Type, &s.Unit,
		&s.MinThreshold, &s.MaxThreshold, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresClient) querySensors(ctx context.Context, sql string, args ...any) ([]*Sensor, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensors: %w", err)
	}
	defer rows.Close()

	sensors := make([]*Sensor, 0)
	for rows.Next() {
		s, err := scanSensor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sensor: %w", err)
		}
		sensors = append(sensors, s)
	}
	return sensors, rows.Err()
}

func (p *PostgresClient) CreateSensor(ctx context.Context, s *Sensor) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO sensors (machine_id, type, unit, min_threshold, max_threshold)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, s.MachineID, s.Type, s.Unit, s.MinThreshold, s.MaxThreshold).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return mapError(err, "sensor")
	}
	return nil
}

func (p *PostgresClient) GetSensor(ctx context.Context, id int64) (*Sensor, error) {
	s, err := scanSensor(p.pool.QueryRow(ctx, `SELECT `+sensorColumns+` FROM sensors WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("sensor %d", id))
	}
	return s, nil
}

func (p *PostgresClient) ListSensors(ctx context.Context) ([]*Sensor, error) {
	return p.querySensors(ctx, `SELECT `+sensorColumns+` FROM sensors ORDER BY id`)
}

func (p *PostgresClient) UpdateSensor(ctx context.Context, s *Sensor) error {
	err := p.pool.QueryRow(ctx, `
		UPDATE sensors
		SET machine_id = $1, type = $2, unit = $3, min_threshold = $4, max_threshold = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING created_at, updated_at
	`, s.MachineID, s.Type, s.Unit, s.MinThreshold, s.MaxThreshold, s.ID).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return mapError(err, fmt.Sprintf("sensor %d", s.ID))
	}
	return nil
}

func (p *PostgresClient) DeleteSensor(ctx context.Context, id int64) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM sensors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sensor: %w", err)
	}
	return expectAffected(result, fmt.Sprintf("sensor %d", id))
}

func (p *PostgresClient) SensorsByMachine(ctx context.Context, machineID uuid.UUID) ([]*Sensor, error) {
	return p.querySensors(ctx,
		`SELECT `+sensorColumns+` FROM sensors WHERE machine_id = $1 ORDER BY id`, machineID)
}

func (p *PostgresClient) SensorsByType(ctx context.Context, sensorType string) ([]*Sensor, error) {
	return p.querySensors(ctx,
		`SELECT `+sensorColumns+` FROM sensors WHERE type = $1 ORDER BY id`, sensorType)
}

func (p *PostgresClient) SensorsByMachineAndType(ctx context.Context, machineID uuid.UUID, sensorType string) ([]*Sensor, error) {
	return p.querySensors(ctx,
		`SELECT `+sensorColumns+` FROM sensors WHERE machine_id = $1 AND type = $2 ORDER BY id`, machineID, sensorType)
}

// SensorsByThresholdRange returns sensors whose whole band lies inside [min, max].
func (p *PostgresClient) SensorsByThresholdRange(ctx context.Context, min, max float64) ([]*Sensor, error) {
	return p.querySensors(ctx, `
		SELECT `+sensorColumns+` FROM sensors
		WHERE min_threshold >= $1 AND max_threshold <= $2
		ORDER BY id
	`, min, max)
}

// SensorsWithReadingsSince returns sensors that reported at least once since the cutoff.
func (p *PostgresClient) SensorsWithReadingsSince(ctx context.Context, since time.Time) ([]*Sensor, error) {
	return p.querySensors(ctx, `
		SELECT `+sensorColumns+` FROM sensors s
		WHERE EXISTS (SELECT 1 FROM readings r WHERE r.sensor_id = s.id AND r.timestamp >= $1)
		ORDER BY id
	`, since)
}

func (p *PostgresClient) SensorExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sensors WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check sensor: %w", err)
	}
	return exists, nil
}

func (p *PostgresClient) CountSensors(ctx context.Context) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sensors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sensors: %w", err)
	}
	return n, nil
}

func (p *PostgresClient) CountSensorsByMachine(ctx context.Context, machineID uuid.UUID) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sensors WHERE machine_id = $1`, machineID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sensors: %w", err)
	}
	return n, nil
}

func (p *PostgresClient) SensorStats(ctx context.Context) (*SensorStats, error) {
	var s SensorStats
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*), COUNT(DISTINCT type) FROM sensors`).Scan(&s.Total, &s.UniqueTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to compute sensor stats: %w", err)
	}
	return &s, nil
}
