package readings

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/monitoring"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu       sync.Mutex
	sensors  map[int64]*storage.Sensor
	readings map[int64]*storage.Reading
	nextID   int64
}

func newMemStore(sensors ...*storage.Sensor) *memStore {
	m := &memStore{sensors: map[int64]*storage.Sensor{}, readings: map[int64]*storage.Reading{}}
	for _, s := range sensors {
		m.sensors[s.ID] = s
	}
	return m
}

func (m *memStore) GetSensor(_ context.Context, id int64) (*storage.Sensor, error) {
	s, ok := m.sensors[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return s, nil
}

func (m *memStore) CreateReading(_ context.Context, r *storage.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	cp := *r
	m.readings[r.ID] = &cp
	return nil
}

func (m *memStore) CreateReadings(ctx context.Context, readings []*storage.Reading) error {
	for _, r := range readings {
		if err := m.CreateReading(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) GetReading(_ context.Context, id int64) (*storage.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.readings[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) UpdateReading(_ context.Context, r *storage.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.readings[r.ID]; !ok {
		return types.ErrNotFound
	}
	cp := *r
	m.readings[r.ID] = &cp
	return nil
}

func (m *memStore) DeleteReading(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.readings[id]; !ok {
		return types.ErrNotFound
	}
	delete(m.readings, id)
	return nil
}

func (m *memStore) FindReadings(_ context.Context, f storage.ReadingFilter, newestFirst bool) ([]*storage.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*storage.Reading, 0)
	for _, r := range m.readings {
		if f.SensorID != nil && r.SensorID != *f.SensorID {
			continue
		}
		if f.From != nil && r.Timestamp.Before(*f.From) {
			continue
		}
		if f.To != nil && r.Timestamp.After(*f.To) {
			continue
		}
		if f.MinValue != nil && r.Value < *f.MinValue {
			continue
		}
		if f.MaxValue != nil && r.Value > *f.MaxValue {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) ReadingsBySensorPage(ctx context.Context, sensorID int64, offset, limit int) ([]*storage.Reading, int64, error) {
	all, _ := m.FindReadings(ctx, storage.ReadingFilter{SensorID: &sensorID}, true)
	total := int64(len(all))
	if offset >= len(all) {
		return []*storage.Reading{}, total, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], total, nil
}

func (m *memStore) AverageReading(ctx context.Context, sensorID int64, from, to *time.Time) (*float64, error) {
	all, _ := m.FindReadings(ctx, storage.ReadingFilter{SensorID: &sensorID, From: from, To: to}, false)
	if len(all) == 0 {
		return nil, nil
	}
	var sum float64
	for _, r := range all {
		sum += r.Value
	}
	avg := sum / float64(len(all))
	return &avg, nil
}

func (m *memStore) OutOfThresholdReadings(context.Context, int64) ([]*storage.Reading, error) {
	return []*storage.Reading{}, nil
}

func (m *memStore) CountReadings(ctx context.Context, sensorID int64) (int64, error) {
	all, _ := m.FindReadings(ctx, storage.ReadingFilter{SensorID: &sensorID}, false)
	return int64(len(all)), nil
}

func (m *memStore) CountOutOfThreshold(context.Context, int64) (int64, error) {
	return 0, nil
}

func (m *memStore) LatestReadingsByMachine(context.Context, uuid.UUID) ([]*storage.SensorReading, error) {
	return []*storage.SensorReading{}, nil
}

type recordingEvaluator struct {
	submitted []float64
}

func (e *recordingEvaluator) Submit(sensor *storage.Sensor, r *storage.Reading) *monitoring.Breach {
	e.submitted = append(e.submitted, r.Value)
	return monitoring.Evaluate(sensor, r.Value)
}

type recordingSink struct {
	accepted []int64
	breaches int
}

func (s *recordingSink) ReadingAccepted(_ context.Context, _ *storage.Sensor, r *storage.Reading, b *monitoring.Breach) {
	s.accepted = append(s.accepted, r.ID)
	if b != nil {
		s.breaches++
	}
}

type staticSnapshots struct {
	reading *storage.Reading
}

func (s staticSnapshots) Snapshot(context.Context, int64) (*storage.Reading, error) {
	return s.reading, nil
}

func ptr(v float64) *float64 { return &v }

func newTestService() (*Service, *memStore, *recordingEvaluator, *recordingSink) {
	store := newMemStore(
		&storage.Sensor{ID: 1, MachineID: uuid.New(), Type: "Temperature", MinThreshold: ptr(20), MaxThreshold: ptr(80)},
		&storage.Sensor{ID: 2, MachineID: uuid.New(), Type: "Flow"},
	)
	eval := &recordingEvaluator{}
	sink := &recordingSink{}
	return NewService(store, eval, zap.NewNop(), sink), store, eval, sink
}

func TestCreate(t *testing.T) {
	svc, _, eval, sink := newTestService()
	ctx := context.Background()

	ok, err := svc.Create(ctx, NewReading{SensorID: 1, Value: 50}, SourceREST)
	require.NoError(t, err)
	assert.False(t, ok.OutOfThreshold)
	assert.False(t, ok.Timestamp.IsZero())

	hot, err := svc.Create(ctx, NewReading{SensorID: 1, Value: 90}, SourceREST)
	require.NoError(t, err)
	assert.True(t, hot.OutOfThreshold)
	require.NotNil(t, hot.Breach)
	assert.Equal(t, monitoring.Above, hot.Breach.Direction)

	_, err = svc.Create(ctx, NewReading{SensorID: 404, Value: 1}, SourceREST)
	assert.ErrorIs(t, err, types.ErrNotFound)

	assert.Equal(t, []float64{50, 90}, eval.submitted)
	assert.Equal(t, []int64{ok.ID, hot.ID}, sink.accepted)
	assert.Equal(t, 1, sink.breaches)
}

func TestCreateBatchRejectsUnknownSensor(t *testing.T) {
	svc, store, _, sink := newTestService()
	ctx := context.Background()

	_, err := svc.CreateBatch(ctx, []NewReading{{SensorID: 1, Value: 30}, {SensorID: 9, Value: 1}}, SourceMQTT)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Empty(t, store.readings)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out, err := svc.CreateBatch(ctx, []NewReading{{SensorID: 1, Value: 10, Timestamp: ts}, {SensorID: 2, Value: 1}}, SourceMQTT)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].OutOfThreshold)
	assert.False(t, out[1].OutOfThreshold)
	assert.Equal(t, ts, out[0].Timestamp)
	assert.Len(t, sink.accepted, 2)
}

func TestUpdateRechecksThresholds(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, NewReading{SensorID: 1, Value: 50}, SourceREST)
	require.NoError(t, err)

	updated, err := svc.Update(ctx, created.ID, NewReading{Value: 5})
	require.NoError(t, err)
	assert.True(t, updated.OutOfThreshold)
	assert.Equal(t, created.Timestamp, updated.Timestamp)

	in, err := svc.IsInThreshold(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, in)

	_, err = svc.Update(ctx, 999, NewReading{Value: 1})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestQueries(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	for i, v := range []float64{30, 40, 50, 60} {
		_, err := svc.Create(ctx, NewReading{SensorID: 1, Value: v, Timestamp: base.Add(time.Duration(i) * time.Hour)}, SourceREST)
		require.NoError(t, err)
	}

	latest, err := svc.LatestSingle(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 60.0, latest.Value)

	_, err = svc.LatestSingle(ctx, 2)
	assert.ErrorIs(t, err, types.ErrNotFound)

	page, err := svc.BySensorPaged(ctx, 1, types.PageRequest{Page: 1, Size: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.TotalItems)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 30.0, page.Items[0].Value)

	ranged, err := svc.BySensorAndDateRange(ctx, 1, base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	_, err = svc.ByDateRange(ctx, base.Add(time.Hour), base)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	byValue, err := svc.ByValueRange(ctx, 35, 55)
	require.NoError(t, err)
	assert.Len(t, byValue, 2)

	avg, err := svc.Average(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, avg)
	assert.InDelta(t, 45.0, *avg, 1e-9)

	none, err := svc.Average(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, none)

	inRange, err := svc.AverageInRange(ctx, 1, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 35.0, *inRange, 1e-9)
}

func TestLivePrefersSnapshot(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, NewReading{SensorID: 1, Value: 42}, SourceREST)
	require.NoError(t, err)

	r, err := svc.Live(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 42.0, r.Value)

	svc.UseSnapshots(staticSnapshots{reading: &storage.Reading{SensorID: 1, Value: 43}})
	r, err = svc.Live(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 43.0, r.Value)

	svc.UseSnapshots(staticSnapshots{})
	r, err = svc.Live(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 42.0, r.Value)
}
