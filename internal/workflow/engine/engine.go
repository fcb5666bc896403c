package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/config"
	"github.com/KevinKickass/SensorIntegration/internal/diagnostics"
	"github.com/KevinKickass/SensorIntegration/internal/machines"
	"github.com/KevinKickass/SensorIntegration/internal/metrics"
	"github.com/KevinKickass/SensorIntegration/internal/monitoring"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/KevinKickass/SensorIntegration/internal/workflow/definition"
	"github.com/KevinKickass/SensorIntegration/internal/workflow/executor"
	"github.com/KevinKickass/SensorIntegration/internal/workflow/streaming"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

type Store interface {
	CreateExecution(ctx context.Context, e *storage.WorkflowExecution) error
	UpdateExecution(ctx context.Context, e *storage.WorkflowExecution) error
	GetExecution(ctx context.Context, id string) (*storage.WorkflowExecution, error)
	ListExecutions(ctx context.Context, kind string, status storage.ExecutionStatus, limit int) ([]*storage.WorkflowExecution, error)
	ChildExecutions(ctx context.Context, parentID string) ([]*storage.WorkflowExecution, error)
	CreateExecutionEvent(ctx context.Context, ev *storage.ExecutionEvent) error
	GetExecutionEvents(ctx context.Context, executionID string) ([]*storage.ExecutionEvent, error)
	InsertAlert(ctx context.Context, a *storage.Alert) error
}

type Diagnostics interface {
	Create(ctx context.Context, in diagnostics.Input) (*storage.Diagnostic, error)
	Get(ctx context.Context, id uuid.UUID) (*storage.Diagnostic, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status, interventionDetails string) (*storage.Diagnostic, error)
}

type Machines interface {
	Get(ctx context.Context, id uuid.UUID) (*storage.Machine, error)
	Status(ctx context.Context, id uuid.UUID) (*machines.MachineStatus, error)
	AvailableForDiagnostic(ctx context.Context, id uuid.UUID) (bool, error)
}

var (
	errCancelled  = errors.New("execution cancelled")
	errTerminated = errors.New("execution terminated")
	errShutdown   = errors.New("engine shutting down")
)

// lateGrace is how far in the past a maintenance window may be and still run.
const lateGrace = time.Minute

type run struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

type bodyFunc func(ctx context.Context, exec *storage.WorkflowExecution) (map[string]any, error)

type Engine struct {
	store       Store
	diagnostics Diagnostics
	machines    Machines
	executor    *executor.ActivityExecutor
	streamer    *streaming.EventStreamer
	notifiers   []monitoring.Notifier
	bulkLimit   int
	logger      *zap.Logger
	now         func() time.Time

	runningMu sync.Mutex
	running   map[string]*run
	wg        sync.WaitGroup
}

func NewEngine(store Store, diags Diagnostics, machineSvc Machines, streamer *streaming.EventStreamer, cfg config.WorkflowConfig, logger *zap.Logger, notifiers ...monitoring.Notifier) *Engine {
	bulk := cfg.BulkConcurrency
	if bulk <= 0 {
		bulk = 4
	}
	return &Engine{
		store:       store,
		diagnostics: diags,
		machines:    machineSvc,
		executor:    executor.NewActivityExecutor(executor.PolicyFromConfig(cfg), logger),
		streamer:    streamer,
		notifiers:   notifiers,
		bulkLimit:   bulk,
		logger:      logger,
		now:         time.Now,
		running:     make(map[string]*run),
	}
}

func (e *Engine) AddNotifier(n monitoring.Notifier) {
	e.notifiers = append(e.notifiers, n)
}

func newExecutionID(kind definition.Kind, machineID *uuid.UUID) string {
	if kind == definition.KindMaintenance && machineID != nil {
		return fmt.Sprintf("%s-%s-%s", kind, machineID, ulid.Make())
	}
	return fmt.Sprintf("%s-%s", kind, ulid.Make())
}

func (e *Engine) newExecution(kind definition.Kind, machineID *uuid.UUID, parentID *string, status storage.ExecutionStatus, input any) (*storage.WorkflowExecution, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow input: %w", err)
	}
	return &storage.WorkflowExecution{
		ID:        newExecutionID(kind, machineID),
		Kind:      string(kind),
		ParentID:  parentID,
		MachineID: machineID,
		Status:    status,
		Input:     inputJSON,
		StartedAt: e.now().UTC(),
	}, nil
}

// ==================== Starting executions ====================

// StartDiagnostic runs a diagnostic workflow in the background.
func (e *Engine) StartDiagnostic(ctx context.Context, in definition.DiagnosticInput) (*storage.WorkflowExecution, error) {
	exec, err := e.createDiagnostic(ctx, in)
	if err != nil {
		return nil, err
	}
	snapshot := *exec
	e.launch(exec, func(ctx context.Context, exec *storage.WorkflowExecution) (map[string]any, error) {
		return e.runDiagnostic(ctx, exec, in)
	})
	return &snapshot, nil
}

// RunDiagnostic runs a diagnostic workflow on the caller's goroutine and
// returns the finished execution with its diagnostic.
func (e *Engine) RunDiagnostic(ctx context.Context, in definition.DiagnosticInput) (*storage.WorkflowExecution, *storage.Diagnostic, error) {
	exec, err := e.createDiagnostic(ctx, in)
	if err != nil {
		return nil, nil, err
	}

	runCtx, r := e.register(ctx, exec.ID)
	runErr := e.execute(runCtx, r, exec, func(ctx context.Context, exec *storage.WorkflowExecution) (map[string]any, error) {
		return e.runDiagnostic(ctx, exec, in)
	})
	if runErr != nil {
		return exec, nil, runErr
	}

	diag, err := e.diagnostics.Get(ctx, *exec.DiagnosticID)
	if err != nil {
		return exec, nil, err
	}
	return exec, diag, nil
}

func (e *Engine) createDiagnostic(ctx context.Context, in definition.DiagnosticInput) (*storage.WorkflowExecution, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if _, err := e.machines.Get(ctx, in.MachineID); err != nil {
		return nil, err
	}
	machineID := in.MachineID
	exec, err := e.newExecution(definition.KindDiagnostic, &machineID, nil, storage.ExecutionRunning, in)
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}
	return exec, nil
}

// StartBulkDiagnostics runs one diagnostic per machine under a parent
// execution, at most workflow.bulk_concurrency at a time.
func (e *Engine) StartBulkDiagnostics(ctx context.Context, in definition.BulkDiagnosticInput) (*storage.WorkflowExecution, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	for _, id := range in.MachineIDs {
		if _, err := e.machines.Get(ctx, id); err != nil {
			return nil, err
		}
	}

	parent, err := e.newExecution(definition.KindBulkDiagnostic, nil, nil, storage.ExecutionRunning, in)
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateExecution(ctx, parent); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	children := make([]*storage.WorkflowExecution, 0, len(in.MachineIDs))
	for _, id := range in.MachineIDs {
		machineID := id
		child, err := e.newExecution(definition.KindDiagnostic, &machineID, &parent.ID, storage.ExecutionScheduled, in.Child(id))
		if err != nil {
			return nil, err
		}
		if err := e.store.CreateExecution(ctx, child); err != nil {
			return nil, fmt.Errorf("failed to create child execution: %w", err)
		}
		children = append(children, child)
	}

	snapshot := *parent
	e.launch(parent, func(ctx context.Context, exec *storage.WorkflowExecution) (map[string]any, error) {
		return e.runBulk(ctx, exec, in, children)
	})
	return &snapshot, nil
}

// ScheduleMaintenance waits until the window opens, then records and
// completes a maintenance intervention on the machine.
func (e *Engine) ScheduleMaintenance(ctx context.Context, in definition.MaintenanceInput) (*storage.WorkflowExecution, error) {
	if err := in.Validate(e.now(), lateGrace); err != nil {
		return nil, err
	}
	if _, err := e.machines.Get(ctx, in.MachineID); err != nil {
		return nil, err
	}
	if len(in.Tasks) == 0 {
		in.Tasks = definition.DefaultMaintenanceTasks
	}

	machineID := in.MachineID
	exec, err := e.newExecution(definition.KindMaintenance, &machineID, nil, storage.ExecutionScheduled, in)
	if err != nil {
		return nil, err
	}
	at := in.At.UTC()
	exec.ScheduledFor = &at
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	snapshot := *exec
	e.launch(exec, func(ctx context.Context, exec *storage.WorkflowExecution) (map[string]any, error) {
		return e.runMaintenance(ctx, exec, in)
	})
	e.logger.Info("Maintenance scheduled",
		zap.String("execution_id", exec.ID),
		zap.String("machine_id", machineID.String()),
		zap.Time("at", at))
	return &snapshot, nil
}

// ==================== Execution lifecycle ====================

func (e *Engine) register(parent context.Context, id string) (context.Context, *run) {
	ctx, cancel := context.WithCancelCause(parent)
	r := &run{cancel: cancel, done: make(chan struct{})}

	e.runningMu.Lock()
	e.running[id] = r
	e.runningMu.Unlock()
	return ctx, r
}

// launch runs the body on its own goroutine, detached from the request.
func (e *Engine) launch(exec *storage.WorkflowExecution, body bodyFunc) {
	ctx, r := e.register(context.Background(), exec.ID)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = e.execute(ctx, r, exec, body)
	}()
}

func (e *Engine) execute(ctx context.Context, r *run, exec *storage.WorkflowExecution, body bodyFunc) error {
	defer func() {
		e.runningMu.Lock()
		delete(e.running, exec.ID)
		e.runningMu.Unlock()
		r.cancel(nil)
		close(r.done)
	}()

	if exec.Status == storage.ExecutionRunning {
		e.publish(ctx, exec.ID, "execution.started", map[string]any{"kind": exec.Kind})
	}

	out, err := body(ctx, exec)
	e.finish(ctx, exec, out, err)
	return err
}

func (e *Engine) markRunning(ctx context.Context, exec *storage.WorkflowExecution) {
	exec.Status = storage.ExecutionRunning
	e.persist(ctx, exec)
	e.publish(ctx, exec.ID, "execution.started", map[string]any{"kind": exec.Kind})
}

func (e *Engine) finish(ctx context.Context, exec *storage.WorkflowExecution, out map[string]any, err error) {
	cause := context.Cause(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(cause, errShutdown) &&
		exec.Kind == string(definition.KindMaintenance) && exec.Status == storage.ExecutionScheduled {
		// left scheduled so Recover re-arms it on the next start
		return
	}

	switch {
	case err == nil:
		exec.Status = storage.ExecutionCompleted
	case ctx.Err() != nil && errors.Is(cause, errTerminated):
		exec.Status = storage.ExecutionTerminated
		exec.Error = cause.Error()
	case ctx.Err() != nil && errors.Is(cause, errCancelled):
		exec.Status = storage.ExecutionCancelled
		exec.Error = cause.Error()
	default:
		exec.Status = storage.ExecutionFailed
		exec.Error = err.Error()
	}

	if out != nil {
		if data, mErr := json.Marshal(out); mErr == nil {
			exec.Output = data
		}
	}
	now := e.now().UTC()
	exec.CompletedAt = &now
	e.persist(ctx, exec)

	metrics.WorkflowExecutions.WithLabelValues(exec.Kind, string(exec.Status)).Inc()
	payload := map[string]any{"status": exec.Status}
	if exec.Error != "" {
		payload["error"] = exec.Error
	}
	e.publish(ctx, exec.ID, "execution."+string(exec.Status), payload)

	if exec.Status == storage.ExecutionFailed {
		e.logger.Error("Workflow execution failed",
			zap.String("execution_id", exec.ID),
			zap.String("kind", exec.Kind),
			zap.String("error", exec.Error))
	} else {
		e.logger.Info("Workflow execution finished",
			zap.String("execution_id", exec.ID),
			zap.String("kind", exec.Kind),
			zap.String("status", string(exec.Status)))
	}
}

// activity runs one named step through the retrying executor and merges its
// output into state.
func (e *Engine) activity(ctx context.Context, exec *storage.WorkflowExecution, state map[string]any, name string, fn executor.Activity) error {
	exec.CurrentStep = name
	e.persist(ctx, exec)
	e.publish(ctx, exec.ID, "activity.started", map[string]any{"activity": name})

	out, attempts, err := e.executor.Execute(ctx, name, fn)
	if err != nil {
		e.publish(ctx, exec.ID, "activity.failed", map[string]any{
			"activity": name,
			"attempts": attempts,
			"error":    err.Error(),
		})
		return err
	}

	for k, v := range out {
		state[k] = v
	}
	e.publish(ctx, exec.ID, "activity.completed", map[string]any{
		"activity": name,
		"attempts": attempts,
		"output":   out,
	})
	return nil
}

func (e *Engine) persist(ctx context.Context, exec *storage.WorkflowExecution) {
	if err := e.store.UpdateExecution(context.WithoutCancel(ctx), exec); err != nil {
		e.logger.Error("Failed to persist execution",
			zap.String("execution_id", exec.ID),
			zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, executionID, eventType string, payload map[string]any) {
	payloadJSON, _ := json.Marshal(payload)
	event := &storage.ExecutionEvent{
		ExecutionID: executionID,
		EventType:   eventType,
		Payload:     payloadJSON,
		Timestamp:   e.now().UTC(),
	}
	if err := e.store.CreateExecutionEvent(context.WithoutCancel(ctx), event); err != nil {
		e.logger.Error("Failed to record execution event",
			zap.String("execution_id", executionID),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
	e.streamer.Broadcast(event)
}

// ==================== Control ====================

func (e *Engine) lookupRun(id string) (*run, bool) {
	e.runningMu.Lock()
	defer e.runningMu.Unlock()
	r, ok := e.running[id]
	return r, ok
}

func (e *Engine) stoppable(ctx context.Context, id string) (*run, error) {
	if r, ok := e.lookupRun(id); ok {
		return r, nil
	}
	exec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() {
		return nil, fmt.Errorf("%w: execution %s already %s", types.ErrConflict, id, exec.Status)
	}
	return nil, fmt.Errorf("%w: execution %s is not running in this instance", types.ErrConflict, id)
}

// Cancel asks a running or scheduled execution to stop.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	r, err := e.stoppable(ctx, id)
	if err != nil {
		return err
	}
	r.cancel(errCancelled)
	e.logger.Info("Workflow execution cancel requested", zap.String("execution_id", id))
	return nil
}

// Terminate stops an execution immediately and records the reason.
func (e *Engine) Terminate(ctx context.Context, id, reason string) error {
	r, err := e.stoppable(ctx, id)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "terminated by operator"
	}
	r.cancel(fmt.Errorf("%w: %s", errTerminated, reason))
	<-r.done
	e.logger.Warn("Workflow execution terminated",
		zap.String("execution_id", id),
		zap.String("reason", reason))
	return nil
}

// SignalStatus updates the diagnostic linked to an execution that has not
// finished yet.
func (e *Engine) SignalStatus(ctx context.Context, id string, sig definition.StatusSignal) (*storage.Diagnostic, error) {
	exec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() {
		return nil, fmt.Errorf("%w: execution %s already %s", types.ErrConflict, id, exec.Status)
	}
	if exec.DiagnosticID == nil {
		return nil, fmt.Errorf("%w: execution %s has no diagnostic yet", types.ErrConflict, id)
	}

	diag, err := e.diagnostics.UpdateStatus(ctx, *exec.DiagnosticID, sig.Status, sig.InterventionDetails)
	if err != nil {
		return nil, err
	}
	e.publish(ctx, id, "signal.status", map[string]any{
		"diagnostic_id": diag.ID.String(),
		"status":        diag.Status,
	})
	return diag, nil
}

// ==================== Queries ====================

type ExecutionStatus struct {
	*storage.WorkflowExecution
	Children []*storage.WorkflowExecution `json:"children,omitempty"`
}

func (e *Engine) Status(ctx context.Context, id string) (*ExecutionStatus, error) {
	exec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	status := &ExecutionStatus{WorkflowExecution: exec}
	if exec.Kind == string(definition.KindBulkDiagnostic) {
		children, err := e.store.ChildExecutions(ctx, id)
		if err != nil {
			return nil, err
		}
		status.Children = children
	}
	return status, nil
}

func (e *Engine) Events(ctx context.Context, id string) ([]*storage.ExecutionEvent, error) {
	if _, err := e.store.GetExecution(ctx, id); err != nil {
		return nil, err
	}
	return e.store.GetExecutionEvents(ctx, id)
}

func (e *Engine) List(ctx context.Context, kind string, status storage.ExecutionStatus, limit int) ([]*storage.WorkflowExecution, error) {
	switch definition.Kind(kind) {
	case "", definition.KindDiagnostic, definition.KindBulkDiagnostic, definition.KindMaintenance:
	default:
		return nil, fmt.Errorf("%w: unknown workflow kind %q", types.ErrInvalidInput, kind)
	}
	switch status {
	case "", storage.ExecutionScheduled, storage.ExecutionRunning, storage.ExecutionCompleted,
		storage.ExecutionFailed, storage.ExecutionCancelled, storage.ExecutionTerminated:
	default:
		return nil, fmt.Errorf("%w: unknown execution status %q", types.ErrInvalidInput, status)
	}
	return e.store.ListExecutions(ctx, kind, status, limit)
}

// Streamer exposes the live event feed.
func (e *Engine) Streamer() *streaming.EventStreamer {
	return e.streamer
}

// ==================== Startup and shutdown ====================

// Recover fails executions interrupted by a previous shutdown and re-arms
// scheduled maintenance.
func (e *Engine) Recover(ctx context.Context) error {
	stale, err := e.store.ListExecutions(ctx, "", storage.ExecutionRunning, 1000)
	if err != nil {
		return err
	}
	for _, exec := range stale {
		now := e.now().UTC()
		exec.Status = storage.ExecutionFailed
		exec.Error = "interrupted by restart"
		exec.CompletedAt = &now
		e.persist(ctx, exec)
	}

	scheduled, err := e.store.ListExecutions(ctx, string(definition.KindMaintenance), storage.ExecutionScheduled, 1000)
	if err != nil {
		return err
	}
	for _, exec := range scheduled {
		parsed, err := definition.ParseInput(definition.KindMaintenance, exec.Input)
		if err != nil {
			e.logger.Error("Cannot re-arm maintenance", zap.String("execution_id", exec.ID), zap.Error(err))
			continue
		}
		in := *parsed.(*definition.MaintenanceInput)
		e.launch(exec, func(ctx context.Context, exec *storage.WorkflowExecution) (map[string]any, error) {
			return e.runMaintenance(ctx, exec, in)
		})
	}

	if len(stale) > 0 || len(scheduled) > 0 {
		e.logger.Info("Workflow executions recovered",
			zap.Int("failed", len(stale)),
			zap.Int("rescheduled", len(scheduled)))
	}
	return nil
}

// Stop cancels every execution and waits for them to settle.
func (e *Engine) Stop(ctx context.Context) error {
	e.runningMu.Lock()
	for _, r := range e.running {
		r.cancel(errShutdown)
	}
	e.runningMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
