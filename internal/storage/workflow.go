package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const executionColumns = `id, kind, parent_id, machine_id, diagnostic_id, status, current_step,
	input, output, error, scheduled_for, started_at, completed_at, updated_at`

func scanExecution(row pgx.Row) (*WorkflowExecution, error) {
	var e WorkflowExecution
	var input, output []byte
	err := row.Scan(&e.ID, &e.Kind, &e.ParentID, &e.MachineID, &e.DiagnosticID, &e.Status,
		&e.CurrentStep, &input, &output, &e.Error, &e.ScheduledFor, &e.StartedAt,
		&e.CompletedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Input = input
	e.Output = output
	return &e, nil
}

func (p *PostgresClient) CreateExecution(ctx context.Context, e *WorkflowExecution) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO workflow_executions (id, kind, parent_id, machine_id, diagnostic_id, status,
		                                 current_step, input, scheduled_for, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING updated_at
	`, e.ID, e.Kind, e.ParentID, e.MachineID, e.DiagnosticID, e.Status,
		e.CurrentStep, []byte(e.Input), e.ScheduledFor, e.StartedAt).Scan(&e.UpdatedAt)
	if err != nil {
		return mapError(err, fmt.Sprintf("execution %s", e.ID))
	}
	return nil
}

func (p *PostgresClient) UpdateExecution(ctx context.Context, e *WorkflowExecution) error {
	result, err := p.pool.Exec(ctx, `
		UPDATE workflow_executions
		SET diagnostic_id = $2, status = $3, current_step = $4, output = $5, error = $6,
		    completed_at = $7, updated_at = NOW()
		WHERE id = $1
	`, e.ID, e.DiagnosticID, e.Status, e.CurrentStep, []byte(e.Output), e.Error, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	return expectAffected(result, fmt.Sprintf("execution %s", e.ID))
}

func (p *PostgresClient) GetExecution(ctx context.Context, id string) (*WorkflowExecution, error) {
	e, err := scanExecution(p.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("execution %s", id))
	}
	return e, nil
}

// ListExecutions filters by kind and status when set, newest first.
func (p *PostgresClient) ListExecutions(ctx context.Context, kind string, status ExecutionStatus, limit int) ([]*WorkflowExecution, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT `+executionColumns+` FROM workflow_executions
		WHERE ($1 = '' OR kind = $1) AND ($2 = '' OR status = $2)
		ORDER BY started_at DESC
		LIMIT $3
	`, kind, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	out := make([]*WorkflowExecution, 0)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ChildExecutions returns the executions started by a bulk parent.
func (p *PostgresClient) ChildExecutions(ctx context.Context, parentID string) ([]*WorkflowExecution, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+executionColumns+` FROM workflow_executions
		WHERE parent_id = $1
		ORDER BY started_at
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list child executions: %w", err)
	}
	defer rows.Close()

	out := make([]*WorkflowExecution, 0)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresClient) CreateExecutionEvent(ctx context.Context, ev *ExecutionEvent) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO workflow_events (execution_id, event_type, payload, timestamp)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, ev.ExecutionID, ev.EventType, []byte(ev.Payload), ev.Timestamp).Scan(&ev.ID)
	if err != nil {
		return mapError(err, "execution event")
	}
	return nil
}

func (p *PostgresClient) GetExecutionEvents(ctx context.Context, executionID string) ([]*ExecutionEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, execution_id, event_type, payload, timestamp
		FROM workflow_events
		WHERE execution_id = $1
		ORDER BY id
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution events: %w", err)
	}
	defer rows.Close()

	out := make([]*ExecutionEvent, 0)
	for rows.Next() {
		var ev ExecutionEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.ExecutionID, &ev.EventType, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan execution event: %w", err)
		}
		ev.Payload = payload
		out = append(out, &ev)
	}
	return out, rows.Err()
}
