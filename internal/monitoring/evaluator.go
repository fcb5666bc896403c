package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/config"
	"github.com/KevinKickass/SensorIntegration/internal/metrics"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"go.uber.org/zap"
)

type AlertWriter interface {
	InsertAlert(ctx context.Context, a *storage.Alert) error
}

type breachJob struct {
	sensor  *storage.Sensor
	reading *storage.Reading
	breach  *Breach
}

// Evaluator checks readings against thresholds on the caller's goroutine and
// turns breaches into alerts on a background worker.
type Evaluator struct {
	store     AlertWriter
	dedup     Deduper
	window    time.Duration
	notifiers []Notifier
	logger    *zap.Logger

	queue  chan breachJob
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEvaluator(store AlertWriter, dedup Deduper, cfg config.MonitoringConfig, logger *zap.Logger, notifiers ...Notifier) *Evaluator {
	size := cfg.AlertQueueSize
	if size < 1 {
		size = 1
	}
	return &Evaluator{
		store:     store,
		dedup:     dedup,
		window:    cfg.DedupWindow,
		notifiers: notifiers,
		logger:    logger,
		queue:     make(chan breachJob, size),
	}
}

// AddNotifier registers an alert subscriber. Call before Start.
func (e *Evaluator) AddNotifier(n Notifier) {
	e.notifiers = append(e.notifiers, n)
}

func (e *Evaluator) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.run(ctx)
	e.logger.Info("Alert evaluator started", zap.Int("queue_size", cap(e.queue)))
}

func (e *Evaluator) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.logger.Info("Alert evaluator stopped")
}

func (e *Evaluator) run(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.queue:
			metrics.AlertQueueDepth.Set(float64(len(e.queue)))
			if err := e.process(ctx, job); err != nil {
				e.logger.Error("Failed to raise alert",
					zap.Int64("sensor_id", job.sensor.ID),
					zap.Error(err))
			}
		}
	}
}

// Submit evaluates a reading and queues an alert when it breaches. The
// returned breach is nil for in-range values. Never blocks.
func (e *Evaluator) Submit(sensor *storage.Sensor, reading *storage.Reading) *Breach {
	breach := Evaluate(sensor, reading.Value)
	if breach == nil {
		return nil
	}

	metrics.ReadingsOutOfThreshold.WithLabelValues(string(breach.Direction)).Inc()
	e.logger.Warn("Sensor value out of threshold",
		zap.Int64("sensor_id", sensor.ID),
		zap.String("sensor_type", sensor.Type),
		zap.Float64("value", reading.Value),
		zap.Float64("limit", breach.Limit),
		zap.String("criticality", breach.Criticality))

	select {
	case e.queue <- breachJob{sensor: sensor, reading: reading, breach: breach}:
		metrics.AlertQueueDepth.Set(float64(len(e.queue)))
	default:
		metrics.AlertsSuppressed.WithLabelValues("queue_full").Inc()
		e.logger.Warn("Alert queue full, dropping breach", zap.Int64("sensor_id", sensor.ID))
	}
	return breach
}

func (e *Evaluator) process(ctx context.Context, job breachJob) error {
	key := fmt.Sprintf("%d:%s", job.sensor.ID, job.breach.Direction)

	ok, err := e.dedup.Acquire(ctx, key, e.window)
	if err != nil {
		// fail open
		e.logger.Warn("Alert dedup unavailable", zap.String("key", key), zap.Error(err))
		ok = true
	}
	if !ok {
		metrics.AlertsSuppressed.WithLabelValues("duplicate").Inc()
		return nil
	}

	sensorID := job.sensor.ID
	value := job.reading.Value
	alert := &storage.Alert{
		MachineID:   job.sensor.MachineID,
		SensorID:    &sensorID,
		Type:        job.breach.AlertType(),
		Criticality: job.breach.Criticality,
		Description: job.breach.Describe(job.sensor),
		Value:       &value,
		Timestamp:   job.reading.Timestamp,
	}
	if err := e.store.InsertAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to store alert: %w", err)
	}

	metrics.AlertsRaised.WithLabelValues(alert.Criticality).Inc()
	e.logger.Info("Alert raised",
		zap.Int64("alert_id", alert.ID),
		zap.String("machine_id", alert.MachineID.String()),
		zap.String("type", alert.Type),
		zap.String("criticality", alert.Criticality))

	for _, n := range e.notifiers {
		n.NotifyAlert(ctx, alert)
	}
	return nil
}
