package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/config"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type alertSink struct {
	mu     sync.Mutex
	alerts []*storage.Alert
	err    error
}

func (s *alertSink) InsertAlert(_ context.Context, a *storage.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	a.ID = int64(len(s.alerts) + 1)
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *alertSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

type failingDeduper struct{}

func (failingDeduper) Acquire(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{DedupWindow: time.Minute, AlertQueueSize: 4}
}

func TestEvaluatorRaisesAndDeduplicates(t *testing.T) {
	sink := &alertSink{}
	broker := NewBroker()
	machineID := uuid.New()
	sub := broker.Subscribe(machineID)
	defer broker.Unsubscribe(machineID, sub)

	e := NewEvaluator(sink, NewMemoryDeduper(), testMonitoringConfig(), zap.NewNop(), broker)
	e.Start(context.Background())
	defer e.Stop()

	sensor := &storage.Sensor{ID: 7, MachineID: machineID, Type: "Temperature", Unit: "°C", MinThreshold: f(20), MaxThreshold: f(80)}
	now := time.Now()

	assert.Nil(t, e.Submit(sensor, &storage.Reading{SensorID: 7, Value: 50, Timestamp: now}))
	require.NotNil(t, e.Submit(sensor, &storage.Reading{SensorID: 7, Value: 99, Timestamp: now}))

	select {
	case alert := <-sub:
		assert.Equal(t, machineID, alert.MachineID)
		assert.Equal(t, "threshold_above", alert.Type)
		assert.Equal(t, CriticalityCritical, alert.Criticality)
		require.NotNil(t, alert.SensorID)
		assert.Equal(t, int64(7), *alert.SensorID)
	case <-time.After(2 * time.Second):
		t.Fatal("no alert delivered")
	}

	// same direction inside the window is suppressed, the other direction is not
	e.Submit(sensor, &storage.Reading{SensorID: 7, Value: 95, Timestamp: now})
	e.Submit(sensor, &storage.Reading{SensorID: 7, Value: 1, Timestamp: now})

	require.Eventually(t, func() bool { return sink.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, sink.count())
}

func TestEvaluatorFailsOpenWhenDedupUnavailable(t *testing.T) {
	sink := &alertSink{}
	e := NewEvaluator(sink, failingDeduper{}, testMonitoringConfig(), zap.NewNop())

	sensor := &storage.Sensor{ID: 1, MachineID: uuid.New(), MaxThreshold: f(10)}
	breach := Evaluate(sensor, 11)
	require.NotNil(t, breach)

	job := breachJob{sensor: sensor, reading: &storage.Reading{SensorID: 1, Value: 11}, breach: breach}
	require.NoError(t, e.process(context.Background(), job))
	require.NoError(t, e.process(context.Background(), job))
	assert.Equal(t, 2, sink.count())
}

func TestEvaluatorStoreError(t *testing.T) {
	sink := &alertSink{err: errors.New("db down")}
	var notified bool
	e := NewEvaluator(sink, NewMemoryDeduper(), testMonitoringConfig(), zap.NewNop(),
		NotifierFunc(func(context.Context, *storage.Alert) { notified = true }))

	sensor := &storage.Sensor{ID: 1, MachineID: uuid.New(), MaxThreshold: f(10)}
	job := breachJob{sensor: sensor, reading: &storage.Reading{Value: 50}, breach: Evaluate(sensor, 50)}

	assert.Error(t, e.process(context.Background(), job))
	assert.False(t, notified)
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	sink := &alertSink{}
	cfg := testMonitoringConfig()
	cfg.AlertQueueSize = 1
	e := NewEvaluator(sink, NewMemoryDeduper(), cfg, zap.NewNop())

	sensor := &storage.Sensor{ID: 1, MachineID: uuid.New(), MaxThreshold: f(10)}
	// worker not started: the first breach fills the queue, the second is dropped
	assert.NotNil(t, e.Submit(sensor, &storage.Reading{Value: 20}))
	assert.NotNil(t, e.Submit(sensor, &storage.Reading{Value: 30}))
	assert.Len(t, e.queue, 1)
}

func TestMemoryDeduper(t *testing.T) {
	d := NewMemoryDeduper()
	ctx := context.Background()

	ok, err := d.Acquire(ctx, "1:above", 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = d.Acquire(ctx, "1:above", 50*time.Millisecond)
	assert.False(t, ok)

	ok, _ = d.Acquire(ctx, "1:below", 50*time.Millisecond)
	assert.True(t, ok)

	time.Sleep(80 * time.Millisecond)
	ok, _ = d.Acquire(ctx, "1:above", 50*time.Millisecond)
	assert.True(t, ok)
}

func TestBrokerWildcardAndUnsubscribe(t *testing.T) {
	b := NewBroker()
	m1, m2 := uuid.New(), uuid.New()

	all := b.Subscribe(uuid.Nil)
	only1 := b.Subscribe(m1)

	b.NotifyAlert(context.Background(), &storage.Alert{ID: 1, MachineID: m1})
	b.NotifyAlert(context.Background(), &storage.Alert{ID: 2, MachineID: m2})

	assert.Len(t, all, 2)
	assert.Len(t, only1, 1)

	b.Unsubscribe(m1, only1)
	_, open := <-only1
	assert.True(t, open, "buffered alert is still readable")
	_, open = <-only1
	assert.False(t, open)
}
