package diagnostics

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	machines    map[uuid.UUID]bool
	diagnostics map[uuid.UUID]*storage.Diagnostic
}

func newMemStore(machines ...uuid.UUID) *memStore {
	m := &memStore{machines: map[uuid.UUID]bool{}, diagnostics: map[uuid.UUID]*storage.Diagnostic{}}
	for _, id := range machines {
		m.machines[id] = true
	}
	return m
}

func (m *memStore) MachineExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m.machines[id], nil
}

func (m *memStore) CreateDiagnostic(_ context.Context, d *storage.Diagnostic) error {
	d.ID = uuid.New()
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}
	cp := *d
	m.diagnostics[d.ID] = &cp
	return nil
}

func (m *memStore) GetDiagnostic(_ context.Context, id uuid.UUID) (*storage.Diagnostic, error) {
	d, ok := m.diagnostics[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) UpdateDiagnostic(_ context.Context, d *storage.Diagnostic) error {
	if _, ok := m.diagnostics[d.ID]; !ok {
		return types.ErrNotFound
	}
	cp := *d
	m.diagnostics[d.ID] = &cp
	return nil
}

func (m *memStore) UpdateDiagnosticStatus(_ context.Context, id uuid.UUID, status, details string, at time.Time) (*storage.Diagnostic, error) {
	d, ok := m.diagnostics[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	d.Status = status
	d.InterventionDetails = details
	d.InterventionDate = &at
	cp := *d
	return &cp, nil
}

func (m *memStore) DeleteDiagnostic(_ context.Context, id uuid.UUID) error {
	if _, ok := m.diagnostics[id]; !ok {
		return types.ErrNotFound
	}
	delete(m.diagnostics, id)
	return nil
}

func (m *memStore) FindDiagnostics(_ context.Context, f storage.DiagnosticFilter) ([]*storage.Diagnostic, error) {
	out := make([]*storage.Diagnostic, 0)
	for _, d := range m.diagnostics {
		if f.MachineID != nil && d.MachineID != *f.MachineID {
			continue
		}
		if f.DiagnosticType != "" && d.DiagnosticType != f.DiagnosticType {
			continue
		}
		if len(f.Status) > 0 && !slices.Contains(f.Status, d.Status) {
			continue
		}
		if f.Technician != "" && d.Technician != f.Technician {
			continue
		}
		if f.From != nil && d.Timestamp.Before(*f.From) {
			continue
		}
		if f.To != nil && d.Timestamp.After(*f.To) {
			continue
		}
		if f.Critical && !IsCritical(d.Status) && !IsCritical(d.Severity) {
			continue
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *storage.Diagnostic) int { return b.Timestamp.Compare(a.Timestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) CountDiagnostics(ctx context.Context, f storage.DiagnosticFilter) (int64, error) {
	out, _ := m.FindDiagnostics(ctx, f)
	return int64(len(out)), nil
}

func TestCreateDefaults(t *testing.T) {
	machineID := uuid.New()
	svc := NewService(newMemStore(machineID), zap.NewNop())
	ctx := context.Background()

	d, err := svc.Create(ctx, Input{MachineID: machineID, DiagnosticType: "Temperature check", Details: "temperature too high"})
	require.NoError(t, err)
	assert.Equal(t, storage.DiagnosticPending, d.Status)
	assert.Equal(t, SeverityCritical, d.Severity)

	_, err = svc.Create(ctx, Input{MachineID: machineID, DiagnosticType: "x", Status: "En cours"})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = svc.Create(ctx, Input{MachineID: uuid.New(), DiagnosticType: "x"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = svc.Create(ctx, Input{MachineID: machineID})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestUpdateStatusStampsInterventionDate(t *testing.T) {
	machineID := uuid.New()
	svc := NewService(newMemStore(machineID), zap.NewNop())
	now := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	d, err := svc.Create(ctx, Input{MachineID: machineID, DiagnosticType: "Vibration analysis", Status: storage.DiagnosticInProgress})
	require.NoError(t, err)

	pending, err := svc.HasPending(ctx, machineID)
	require.NoError(t, err)
	assert.True(t, pending)

	updated, err := svc.UpdateStatus(ctx, d.ID, storage.DiagnosticResolved, "bearing replaced")
	require.NoError(t, err)
	assert.Equal(t, storage.DiagnosticResolved, updated.Status)
	assert.Equal(t, "bearing replaced", updated.InterventionDetails)
	require.NotNil(t, updated.InterventionDate)
	assert.Equal(t, now, *updated.InterventionDate)

	pending, err = svc.HasPending(ctx, machineID)
	require.NoError(t, err)
	assert.False(t, pending)

	_, err = svc.UpdateStatus(ctx, d.ID, "done", "")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestStatsAndQueries(t *testing.T) {
	m1, m2 := uuid.New(), uuid.New()
	svc := NewService(newMemStore(m1, m2), zap.NewNop())
	ctx := context.Background()
	old := time.Now().Add(-72 * time.Hour)

	inputs := []Input{
		{MachineID: m1, DiagnosticType: "Pressure analysis", Details: "insufficient pressure", Status: storage.DiagnosticInProgress, Technician: "Alice Martin"},
		{MachineID: m1, DiagnosticType: "Preventive maintenance", Status: storage.DiagnosticCompleted, Technician: "Alice Martin", Timestamp: old},
		{MachineID: m2, DiagnosticType: "Vibration analysis", Details: "excessive", Status: storage.DiagnosticClosed},
		{MachineID: m2, DiagnosticType: "Temperature check", Details: "too high", Status: storage.DiagnosticPending},
	}
	for _, in := range inputs {
		_, err := svc.Create(ctx, in)
		require.NoError(t, err)
	}

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 4, Active: 1, Completed: 2, Critical: 2, Recent: 3}, *st)

	byTech, err := svc.ByTechnician(ctx, "Alice Martin")
	require.NoError(t, err)
	assert.Len(t, byTech, 2)

	latest, err := svc.LatestByMachine(ctx, m1, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "Pressure analysis", latest[0].DiagnosticType)

	n, err := svc.CountByMachine(ctx, m2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = svc.ByDateRange(ctx, time.Now(), old)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}
