package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/config"
	"github.com/KevinKickass/SensorIntegration/internal/diagnostics"
	"github.com/KevinKickass/SensorIntegration/internal/machines"
	"github.com/KevinKickass/SensorIntegration/internal/monitoring"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/KevinKickass/SensorIntegration/internal/workflow/definition"
	"github.com/KevinKickass/SensorIntegration/internal/workflow/streaming"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ==================== Fakes ====================

type memStore struct {
	mu         sync.Mutex
	executions map[string]storage.WorkflowExecution
	events     []storage.ExecutionEvent
	alerts     []*storage.Alert
}

func newMemStore() *memStore {
	return &memStore{executions: map[string]storage.WorkflowExecution{}}
}

func (m *memStore) CreateExecution(_ context.Context, e *storage.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[e.ID]; ok {
		return types.ErrConflict
	}
	m.executions[e.ID] = *e
	return nil
}

func (m *memStore) UpdateExecution(_ context.Context, e *storage.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[e.ID]; !ok {
		return types.ErrNotFound
	}
	m.executions[e.ID] = *e
	return nil
}

func (m *memStore) GetExecution(_ context.Context, id string) (*storage.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, types.ErrNotFound)
	}
	return &e, nil
}

func (m *memStore) ListExecutions(_ context.Context, kind string, status storage.ExecutionStatus, _ int) ([]*storage.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*storage.WorkflowExecution{}
	for _, e := range m.executions {
		if (kind == "" || e.Kind == kind) && (status == "" || e.Status == status) {
			e := e
			out = append(out, &e)
		}
	}
	return out, nil
}

func (m *memStore) ChildExecutions(_ context.Context, parentID string) ([]*storage.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*storage.WorkflowExecution{}
	for _, e := range m.executions {
		if e.ParentID != nil && *e.ParentID == parentID {
			e := e
			out = append(out, &e)
		}
	}
	return out, nil
}

func (m *memStore) CreateExecutionEvent(_ context.Context, ev *storage.ExecutionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, *ev)
	return nil
}

func (m *memStore) GetExecutionEvents(_ context.Context, id string) ([]*storage.ExecutionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*storage.ExecutionEvent{}
	for _, ev := range m.events {
		if ev.ExecutionID == id {
			ev := ev
			out = append(out, &ev)
		}
	}
	return out, nil
}

func (m *memStore) InsertAlert(_ context.Context, a *storage.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = int64(len(m.alerts) + 1)
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *memStore) eventTypes(id string) []string {
	events, _ := m.GetExecutionEvents(context.Background(), id)
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.EventType)
	}
	return out
}

type fakeDiagnostics struct {
	mu          sync.Mutex
	items       map[uuid.UUID]*storage.Diagnostic
	failUpdates int
}

func (f *fakeDiagnostics) Create(_ context.Context, in diagnostics.Input) (*storage.Diagnostic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &storage.Diagnostic{
		ID:                  uuid.New(),
		MachineID:           in.MachineID,
		Timestamp:           in.Timestamp,
		DiagnosticType:      in.DiagnosticType,
		Details:             in.Details,
		Status:              in.Status,
		Severity:            diagnostics.Classify(in.DiagnosticType, in.Details),
		InterventionDetails: in.InterventionDetails,
		Technician:          in.Technician,
	}
	f.items[d.ID] = d
	return d, nil
}

func (f *fakeDiagnostics) Get(_ context.Context, id uuid.UUID) (*storage.Diagnostic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.items[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDiagnostics) UpdateStatus(_ context.Context, id uuid.UUID, status, details string) (*storage.Diagnostic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdates > 0 {
		f.failUpdates--
		return nil, errors.New("connection reset by peer")
	}
	d, ok := f.items[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	d.Status = status
	d.InterventionDetails = details
	cp := *d
	return &cp, nil
}

func (f *fakeDiagnostics) inProgress(machineID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.items {
		if d.MachineID == machineID && d.Status == storage.DiagnosticInProgress {
			return true
		}
	}
	return false
}

func (f *fakeDiagnostics) byType(t string) []*storage.Diagnostic {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storage.Diagnostic
	for _, d := range f.items {
		if d.DiagnosticType == t {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out
}

type fakeMachines struct {
	items     map[uuid.UUID]*storage.Machine
	states    map[uuid.UUID]machines.State
	statusErr map[uuid.UUID]error
	diags     *fakeDiagnostics
	// gate, when set, holds every Status call until it is closed
	gate chan struct{}
}

func (f *fakeMachines) add(name string) uuid.UUID {
	id := uuid.New()
	f.items[id] = &storage.Machine{ID: id, Name: name}
	return id
}

func (f *fakeMachines) Get(_ context.Context, id uuid.UUID) (*storage.Machine, error) {
	m, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("machine %s: %w", id, types.ErrNotFound)
	}
	return m, nil
}

func (f *fakeMachines) Status(ctx context.Context, id uuid.UUID) (*machines.MachineStatus, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.statusErr[id]; err != nil {
		return nil, err
	}
	if _, err := f.Get(ctx, id); err != nil {
		return nil, err
	}
	state, ok := f.states[id]
	switch {
	case ok:
	case f.diags != nil && f.diags.inProgress(id):
		state = machines.StateMaintenance
	default:
		state = machines.StateOnline
	}
	return &machines.MachineStatus{MachineID: id, State: state}, nil
}

func (f *fakeMachines) AvailableForDiagnostic(ctx context.Context, id uuid.UUID) (bool, error) {
	st, err := f.Status(ctx, id)
	if err != nil {
		return false, err
	}
	return st.State != machines.StateMaintenance, nil
}

type harness struct {
	engine   *Engine
	store    *memStore
	diags    *fakeDiagnostics
	machines *fakeMachines
	notified []*storage.Alert
	mu       sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    newMemStore(),
		diags:    &fakeDiagnostics{items: map[uuid.UUID]*storage.Diagnostic{}},
		machines: &fakeMachines{items: map[uuid.UUID]*storage.Machine{}, states: map[uuid.UUID]machines.State{}, statusErr: map[uuid.UUID]error{}},
	}
	h.machines.diags = h.diags
	cfg := config.WorkflowConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		BulkConcurrency: 2,
	}
	h.engine = NewEngine(h.store, h.diags, h.machines, streaming.NewEventStreamer(), cfg, zap.NewNop(),
		monitoring.NotifierFunc(func(_ context.Context, a *storage.Alert) {
			h.mu.Lock()
			h.notified = append(h.notified, a)
			h.mu.Unlock()
		}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.engine.Stop(ctx)
	})
	return h
}

func (h *harness) wait(t *testing.T, id string) *storage.WorkflowExecution {
	t.Helper()
	if r, ok := h.engine.lookupRun(id); ok {
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("execution %s did not finish", id)
		}
	}
	exec, err := h.store.GetExecution(context.Background(), id)
	require.NoError(t, err)
	return exec
}

// ==================== Diagnostic ====================

func TestRunDiagnosticCritical(t *testing.T) {
	h := newHarness(t)
	machineID := h.machines.add("Plastic injection molding 1")

	exec, diag, err := h.engine.RunDiagnostic(context.Background(), definition.DiagnosticInput{
		MachineID:      machineID,
		DiagnosticType: "Temperature",
		Details:        "Barrel temperature too high",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(exec.ID, "diagnostic-"))
	assert.Equal(t, storage.ExecutionCompleted, exec.Status)
	require.NotNil(t, exec.DiagnosticID)
	assert.Equal(t, diag.ID, *exec.DiagnosticID)
	assert.Equal(t, diagnostics.SeverityCritical, diag.Severity)
	assert.Equal(t, storage.DiagnosticPending, diag.Status)
	assert.Equal(t, definition.DefaultTechnician, diag.Technician)
	assert.Contains(t, string(exec.Output), "summary")

	require.Len(t, h.store.alerts, 1)
	assert.Equal(t, monitoring.CriticalityCritical, h.store.alerts[0].Criticality)
	assert.Equal(t, "diagnostic", h.store.alerts[0].Type)
	assert.Len(t, h.notified, 1)

	events := h.store.eventTypes(exec.ID)
	assert.Equal(t, "execution.started", events[0])
	assert.Equal(t, "execution.completed", events[len(events)-1])
}

func TestRunDiagnosticChecksMachineBeforeOpeningDiagnostic(t *testing.T) {
	h := newHarness(t)
	machineID := h.machines.add("Press")

	exec, _, err := h.engine.RunDiagnostic(context.Background(), definition.DiagnosticInput{
		MachineID:      machineID,
		DiagnosticType: "Visual inspection",
	})
	require.NoError(t, err)
	assert.Contains(t, string(exec.Output), `"machine_state":"online"`)

	busy := h.machines.add("Extruder")
	_, err = h.diags.Create(context.Background(), diagnostics.Input{MachineID: busy, DiagnosticType: "Pressure", Status: storage.DiagnosticInProgress})
	require.NoError(t, err)

	exec, _, err = h.engine.RunDiagnostic(context.Background(), definition.DiagnosticInput{
		MachineID:      busy,
		DiagnosticType: "Visual inspection",
	})
	require.NoError(t, err)
	assert.Contains(t, string(exec.Output), `"machine_state":"maintenance"`)
}

func TestRunDiagnosticNormalCompletes(t *testing.T) {
	h := newHarness(t)
	machineID := h.machines.add("Blow molding 1")

	_, diag, err := h.engine.RunDiagnostic(context.Background(), definition.DiagnosticInput{
		MachineID:      machineID,
		DiagnosticType: "Visual inspection",
		Technician:     "Alice Martin",
	})
	require.NoError(t, err)

	assert.Equal(t, storage.DiagnosticCompleted, diag.Status)
	assert.Equal(t, "Alice Martin", diag.Technician)
	assert.Empty(t, h.store.alerts)
	assert.Empty(t, h.notified)
}

func TestRunDiagnosticRetriesTransientFailures(t *testing.T) {
	h := newHarness(t)
	machineID := h.machines.add("Press")
	h.diags.failUpdates = 2

	exec, diag, err := h.engine.RunDiagnostic(context.Background(), definition.DiagnosticInput{
		MachineID:      machineID,
		DiagnosticType: "Pressure",
		Details:        "insufficient",
	})
	require.NoError(t, err)
	assert.Equal(t, storage.ExecutionCompleted, exec.Status)
	assert.Equal(t, diagnostics.SeverityUrgent, diag.Severity)
	require.Len(t, h.store.alerts, 1)
	assert.Equal(t, monitoring.CriticalityWarning, h.store.alerts[0].Criticality)
}

func TestRunDiagnosticFailsAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	machineID := h.machines.add("Press")
	h.diags.failUpdates = 10

	exec, _, err := h.engine.RunDiagnostic(context.Background(), definition.DiagnosticInput{
		MachineID:      machineID,
		DiagnosticType: "Vibration",
	})
	require.Error(t, err)
	assert.Equal(t, storage.ExecutionFailed, exec.Status)
	assert.Equal(t, definition.ActivityUpdateDiagnostic, exec.CurrentStep)
	assert.Contains(t, exec.Error, "after 3 attempt(s)")
	assert.Contains(t, h.store.eventTypes(exec.ID), "activity.failed")
}

func TestStartDiagnosticRejectsBadInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.StartDiagnostic(context.Background(), definition.DiagnosticInput{})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = h.engine.StartDiagnostic(context.Background(), definition.DiagnosticInput{
		MachineID: uuid.New(), DiagnosticType: "Temperature",
	})
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Empty(t, h.store.executions)
}

func TestStartDiagnosticRunsInBackground(t *testing.T) {
	h := newHarness(t)
	machineID := h.machines.add("Press")

	exec, err := h.engine.StartDiagnostic(context.Background(), definition.DiagnosticInput{
		MachineID: machineID, DiagnosticType: "Temperature", Details: "too low",
	})
	require.NoError(t, err)
	assert.Equal(t, storage.ExecutionRunning, exec.Status)

	done := h.wait(t, exec.ID)
	assert.Equal(t, storage.ExecutionCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
}

// ==================== Bulk ====================

func TestBulkDiagnostics(t *testing.T) {
	h := newHarness(t)
	a := h.machines.add("A")
	b := h.machines.add("B")
	c := h.machines.add("C")
	h.machines.statusErr[c] = fmt.Errorf("machine %s: %w", c, types.ErrNotFound)

	parent, err := h.engine.StartBulkDiagnostics(context.Background(), definition.BulkDiagnosticInput{
		MachineIDs:     []uuid.UUID{a, b, c},
		DiagnosticType: "Preventive check",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(parent.ID, "bulk-diagnostic-"))

	done := h.wait(t, parent.ID)
	assert.Equal(t, storage.ExecutionCompleted, done.Status)
	assert.Contains(t, string(done.Output), `"failed":1`)

	status, err := h.engine.Status(context.Background(), parent.ID)
	require.NoError(t, err)
	require.Len(t, status.Children, 3)
	counts := map[storage.ExecutionStatus]int{}
	for _, child := range status.Children {
		counts[child.Status]++
	}
	assert.Equal(t, 2, counts[storage.ExecutionCompleted])
	assert.Equal(t, 1, counts[storage.ExecutionFailed])
}

func TestBulkDiagnosticsAllFailed(t *testing.T) {
	h := newHarness(t)
	a := h.machines.add("A")
	h.machines.statusErr[a] = busOffline()

	parent, err := h.engine.StartBulkDiagnostics(context.Background(), definition.BulkDiagnosticInput{
		MachineIDs:     []uuid.UUID{a},
		DiagnosticType: "Temperature",
	})
	require.NoError(t, err)

	done := h.wait(t, parent.ID)
	assert.Equal(t, storage.ExecutionFailed, done.Status)
	assert.Contains(t, done.Error, "all 1 diagnostics failed")
}

func TestBulkDiagnosticsStopQueuedChildren(t *testing.T) {
	h := newHarness(t)
	h.engine.bulkLimit = 1
	h.machines.gate = make(chan struct{})
	ids := []uuid.UUID{h.machines.add("A"), h.machines.add("B"), h.machines.add("C")}

	parent, err := h.engine.StartBulkDiagnostics(context.Background(), definition.BulkDiagnosticInput{
		MachineIDs:     ids,
		DiagnosticType: "Visual inspection",
	})
	require.NoError(t, err)

	byStatus := func() map[storage.ExecutionStatus][]string {
		children, err := h.store.ChildExecutions(context.Background(), parent.ID)
		require.NoError(t, err)
		out := map[storage.ExecutionStatus][]string{}
		for _, c := range children {
			out[c.Status] = append(out[c.Status], c.ID)
		}
		return out
	}
	require.Eventually(t, func() bool {
		return len(byStatus()[storage.ExecutionRunning]) == 1
	}, 2*time.Second, 5*time.Millisecond)

	queued := byStatus()[storage.ExecutionScheduled]
	require.Len(t, queued, 2)

	require.NoError(t, h.engine.Cancel(context.Background(), queued[0]))
	assert.Equal(t, storage.ExecutionCancelled, h.wait(t, queued[0]).Status)

	require.NoError(t, h.engine.Terminate(context.Background(), queued[1], "line stopped"))
	terminated, err := h.store.GetExecution(context.Background(), queued[1])
	require.NoError(t, err)
	assert.Equal(t, storage.ExecutionTerminated, terminated.Status)

	close(h.machines.gate)
	done := h.wait(t, parent.ID)
	assert.Equal(t, storage.ExecutionCompleted, done.Status)
	assert.Contains(t, string(done.Output), `"completed":1`)
	assert.Len(t, h.diags.byType("Visual inspection"), 1)
}

func busOffline() error {
	return fmt.Errorf("%w: sensor bus offline", types.ErrConflict)
}

// ==================== Maintenance ====================

func TestScheduleMaintenanceRunsWhenDue(t *testing.T) {
	h := newHarness(t)
	machineID := h.machines.add("Press")

	exec, err := h.engine.ScheduleMaintenance(context.Background(), definition.MaintenanceInput{
		MachineID: machineID,
		At:        time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(exec.ID, "maintenance-"+machineID.String()+"-"))
	assert.Equal(t, storage.ExecutionScheduled, exec.Status)

	done := h.wait(t, exec.ID)
	assert.Equal(t, storage.ExecutionCompleted, done.Status)

	recorded := h.diags.byType(definition.MaintenanceDiagnosticType)
	require.Len(t, recorded, 1)
	assert.Equal(t, storage.DiagnosticCompleted, recorded[0].Status)
	assert.True(t, strings.HasPrefix(recorded[0].InterventionDetails, "Tasks: Clean filters; Lubricate moving parts"))
}

func TestScheduleMaintenanceCancel(t *testing.T) {
	h := newHarness(t)
	machineID := h.machines.add("Press")

	exec, err := h.engine.ScheduleMaintenance(context.Background(), definition.MaintenanceInput{
		MachineID: machineID,
		At:        time.Now().Add(time.Hour),
		Tasks:     []string{"Replace belt"},
	})
	require.NoError(t, err)

	require.NoError(t, h.engine.Cancel(context.Background(), exec.ID))
	done := h.wait(t, exec.ID)
	assert.Equal(t, storage.ExecutionCancelled, done.Status)
	assert.Empty(t, h.diags.byType(definition.MaintenanceDiagnosticType))

	err = h.engine.Cancel(context.Background(), exec.ID)
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestScheduleMaintenanceTerminate(t *testing.T) {
	h := newHarness(t)
	machineID := h.machines.add("Press")

	exec, err := h.engine.ScheduleMaintenance(context.Background(), definition.MaintenanceInput{
		MachineID: machineID,
		At:        time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, h.engine.Terminate(context.Background(), exec.ID, "line shut down"))
	done, err := h.store.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.ExecutionTerminated, done.Status)
	assert.Contains(t, done.Error, "line shut down")
}

func TestScheduleMaintenanceMachineBusy(t *testing.T) {
	h := newHarness(t)
	machineID := h.machines.add("Press")
	h.machines.states[machineID] = machines.StateMaintenance

	exec, err := h.engine.ScheduleMaintenance(context.Background(), definition.MaintenanceInput{
		MachineID: machineID,
		At:        time.Now(),
	})
	require.NoError(t, err)

	done := h.wait(t, exec.ID)
	assert.Equal(t, storage.ExecutionFailed, done.Status)
	assert.Contains(t, done.Error, "already under maintenance")
}

func TestScheduleMaintenanceInPast(t *testing.T) {
	h := newHarness(t)
	machineID := h.machines.add("Press")

	_, err := h.engine.ScheduleMaintenance(context.Background(), definition.MaintenanceInput{
		MachineID: machineID,
		At:        time.Now().Add(-time.Hour),
	})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

// ==================== Control and queries ====================

func TestSignalStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	machineID := h.machines.add("Press")

	diag, err := h.diags.Create(ctx, diagnostics.Input{MachineID: machineID, DiagnosticType: "Pressure", Status: storage.DiagnosticInProgress})
	require.NoError(t, err)
	require.NoError(t, h.store.CreateExecution(ctx, &storage.WorkflowExecution{
		ID: "diagnostic-open", Kind: "diagnostic", Status: storage.ExecutionRunning, DiagnosticID: &diag.ID,
	}))
	require.NoError(t, h.store.CreateExecution(ctx, &storage.WorkflowExecution{
		ID: "diagnostic-done", Kind: "diagnostic", Status: storage.ExecutionCompleted, DiagnosticID: &diag.ID,
	}))
	require.NoError(t, h.store.CreateExecution(ctx, &storage.WorkflowExecution{
		ID: "maintenance-waiting", Kind: "maintenance", Status: storage.ExecutionScheduled,
	}))

	updated, err := h.engine.SignalStatus(ctx, "diagnostic-open", definition.StatusSignal{Status: storage.DiagnosticResolved, InterventionDetails: "Seal replaced"})
	require.NoError(t, err)
	assert.Equal(t, storage.DiagnosticResolved, updated.Status)
	assert.Contains(t, h.store.eventTypes("diagnostic-open"), "signal.status")

	_, err = h.engine.SignalStatus(ctx, "diagnostic-done", definition.StatusSignal{Status: storage.DiagnosticClosed})
	assert.ErrorIs(t, err, types.ErrConflict)

	_, err = h.engine.SignalStatus(ctx, "maintenance-waiting", definition.StatusSignal{Status: storage.DiagnosticClosed})
	assert.ErrorIs(t, err, types.ErrConflict)

	_, err = h.engine.SignalStatus(ctx, "missing", definition.StatusSignal{})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestCancelUnknownExecution(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.engine.Cancel(context.Background(), "diagnostic-nope"), types.ErrNotFound)
}

func TestListValidatesFilters(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.List(context.Background(), "reboot", "", 10)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	_, err = h.engine.List(context.Background(), "", "paused", 10)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	list, err := h.engine.List(context.Background(), string(definition.KindMaintenance), storage.ExecutionScheduled, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRecover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	machineID := h.machines.add("Press")

	require.NoError(t, h.store.CreateExecution(ctx, &storage.WorkflowExecution{
		ID: "diagnostic-stale", Kind: "diagnostic", Status: storage.ExecutionRunning,
	}))
	at := time.Now().Add(time.Hour).UTC()
	require.NoError(t, h.store.CreateExecution(ctx, &storage.WorkflowExecution{
		ID:     "maintenance-later",
		Kind:   string(definition.KindMaintenance),
		Status: storage.ExecutionScheduled,
		Input:  []byte(fmt.Sprintf(`{"machine_id":%q,"at":%q,"tasks":["Check fluid levels"]}`, machineID, at.Format(time.RFC3339Nano))),
	}))

	require.NoError(t, h.engine.Recover(ctx))

	stale, err := h.store.GetExecution(ctx, "diagnostic-stale")
	require.NoError(t, err)
	assert.Equal(t, storage.ExecutionFailed, stale.Status)

	_, armed := h.engine.lookupRun("maintenance-later")
	assert.True(t, armed)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, h.engine.Stop(stopCtx))

	later, err := h.store.GetExecution(ctx, "maintenance-later")
	require.NoError(t, err)
	assert.Equal(t, storage.ExecutionScheduled, later.Status)
}
