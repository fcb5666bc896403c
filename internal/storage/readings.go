package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const outOfThresholdClause = `((s.min_threshold IS NOT NULL AND r.value < s.min_threshold) OR
	(s.max_threshold IS NOT NULL AND r.value > s.max_threshold))`

func scanReading(row pgx.Row) (*Reading, error) {
	var r Reading
	if err := row.Scan(&r.ID, &r.SensorID, &r.Value, &r.Timestamp); err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresClient) queryReadings(ctx context.Context, sql string, args ...any) ([]*Reading, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	readings := make([]*Reading, 0)
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func (p *PostgresClient) CreateReading(ctx context.Context, r *Reading) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO readings (sensor_id, value, timestamp)
		VALUES ($1, $2, $3)
		RETURNING id
	`, r.SensorID, r.Value, r.Timestamp).Scan(&r.ID)
	if err != nil {
		return mapError(err, "reading")
	}
	return nil
}

// CreateReadings stores a batch atomically.
func (p *PostgresClient) CreateReadings(ctx context.Context, readings []*Reading) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range readings {
		err := tx.QueryRow(ctx, `
			INSERT INTO readings (sensor_id, value, timestamp)
			VALUES ($1, $2, $3)
			RETURNING id
		`, r.SensorID, r.Value, r.Timestamp).Scan(&r.ID)
		if err != nil {
			return mapError(err, fmt.Sprintf("reading for sensor %d", r.SensorID))
		}
	}

	return tx.Commit(ctx)
}

func (p *PostgresClient) GetReading(ctx context.Context, id int64) (*Reading, error) {
	r, err := scanReading(p.pool.QueryRow(ctx,
		`SELECT id, sensor_id, value, timestamp FROM readings WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("reading %d", id))
	}
	return r, nil
}

func (p *PostgresClient) UpdateReading(ctx context.Context, r *Reading) error {
	result, err := p.pool.Exec(ctx, `
		UPDATE readings SET sensor_id = $1, value = $2, timestamp = $3 WHERE id = $4
	`, r.SensorID, r.Value, r.Timestamp, r.ID)
	if err != nil {
		return mapError(err, fmt.Sprintf("reading %d", r.ID))
	}
	return expectAffected(result, fmt.Sprintf("reading %d", r.ID))
}

func (p *PostgresClient) DeleteReading(ctx context.Context, id int64) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM readings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete reading: %w", err)
	}
	return expectAffected(result, fmt.Sprintf("reading %d", id))
}

// FindReadings applies every set field of f. Results are oldest first unless
// newestFirst is set.
func (p *PostgresClient) FindReadings(ctx context.Context, f ReadingFilter, newestFirst bool) ([]*Reading, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.SensorID != nil {
		add("sensor_id = $%d", *f.SensorID)
	}
	if f.From != nil {
		add("timestamp >= $%d", *f.From)
	}
	if f.To != nil {
		add("timestamp <= $%d", *f.To)
	}
	if f.MinValue != nil {
		add("value >= $%d", *f.MinValue)
	}
	if f.MaxValue != nil {
		add("value <= $%d", *f.MaxValue)
	}

	sql := `SELECT id, sensor_id, value, timestamp FROM readings`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	if newestFirst {
		sql += " ORDER BY timestamp DESC, id DESC"
	} else {
		sql += " ORDER BY timestamp, id"
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return p.queryReadings(ctx, sql, args...)
}

// ReadingsBySensorPage returns one page, newest first, plus the total count.
func (p *PostgresClient) ReadingsBySensorPage(ctx context.Context, sensorID int64, offset, limit int) ([]*Reading, int64, error) {
	total, err := p.CountReadings(ctx, sensorID)
	if err != nil {
		return nil, 0, err
	}

	readings, err := p.queryReadings(ctx, `
		SELECT id, sensor_id, value, timestamp FROM readings
		WHERE sensor_id = $1
		ORDER BY timestamp DESC, id DESC
		OFFSET $2 LIMIT $3
	`, sensorID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return readings, total, nil
}

// AverageReading returns nil when the sensor has no reading in the window.
func (p *PostgresClient) AverageReading(ctx context.Context, sensorID int64, from, to *time.Time) (*float64, error) {
	var avg *float64
	err := p.pool.QueryRow(ctx, `
		SELECT AVG(value) FROM readings
		WHERE sensor_id = $1
		  AND ($2::timestamptz IS NULL OR timestamp >= $2)
		  AND ($3::timestamptz IS NULL OR timestamp <= $3)
	`, sensorID, from, to).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("failed to average readings: %w", err)
	}
	return avg, nil
}

func (p *PostgresClient) OutOfThresholdReadings(ctx context.Context, sensorID int64) ([]*Reading, error) {
	return p.queryReadings(ctx, `
		SELECT r.id, r.sensor_id, r.value, r.timestamp
		FROM readings r JOIN sensors s ON s.id = r.sensor_id
		WHERE r.sensor_id = $1 AND `+outOfThresholdClause+`
		ORDER BY r.timestamp DESC
	`, sensorID)
}

func (p *PostgresClient) CountReadings(ctx context.Context, sensorID int64) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM readings WHERE sensor_id = $1`, sensorID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return n, nil
}

func (p *PostgresClient) CountOutOfThreshold(ctx context.Context, sensorID int64) (int64, error) {
	var n int64
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM readings r JOIN sensors s ON s.id = r.sensor_id
		WHERE r.sensor_id = $1 AND `+outOfThresholdClause, sensorID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return n, nil
}

// LatestReadingsByMachine returns the newest reading of every sensor on the machine.
func (p *PostgresClient) LatestReadingsByMachine(ctx context.Context, machineID uuid.UUID) ([]*SensorReading, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT ON (s.id)
		       r.id, r.sensor_id, r.value, r.timestamp,
		       s.type, s.unit, s.min_threshold, s.max_threshold
		FROM sensors s
		JOIN readings r ON r.sensor_id = s.id
		WHERE s.machine_id = $1
		ORDER BY s.id, r.timestamp DESC, r.id DESC
	`, machineID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest readings: %w", err)
	}
	defer rows.Close()

	out := make([]*SensorReading, 0)
	for rows.Next() {
		var sr SensorReading
		err := rows.Scan(&sr.ID, &sr.SensorID, &sr.Value, &sr.Timestamp,
			&sr.SensorType, &sr.Unit, &sr.MinThreshold, &sr.MaxThreshold)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		out = append(out, &sr)
	}
	return out, rows.Err()
}

// SensorWindowStats summarises one sensor's readings over a time window.
type SensorWindowStats struct {
	SensorID       int64    `json:"sensor_id"`
	SensorType     string   `json:"sensor_type"`
	Count          int64    `json:"count"`
	OutOfThreshold int64    `json:"out_of_threshold"`
	Average        *float64 `json:"average"`
}

func (p *PostgresClient) MachineReadingStatsSince(ctx context.Context, machineID uuid.UUID, since time.Time) ([]SensorWindowStats, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT s.id, s.type,
		       COUNT(r.id),
		       COUNT(r.id) FILTER (WHERE `+outOfThresholdClause+`),
		       AVG(r.value)
		FROM sensors s
		LEFT JOIN readings r ON r.sensor_id = s.id AND r.timestamp > $2
		WHERE s.machine_id = $1
		GROUP BY s.id, s.type
		ORDER BY s.id
	`, machineID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query reading stats: %w", err)
	}
	defer rows.Close()

	var out []SensorWindowStats
	for rows.Next() {
		var st SensorWindowStats
		if err := rows.Scan(&st.SensorID, &st.SensorType, &st.Count, &st.OutOfThreshold, &st.Average); err != nil {
			return nil, fmt.Errorf("failed to scan reading stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
