package monitoring

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier receives every persisted alert.
type Notifier interface {
	NotifyAlert(ctx context.Context, alert *storage.Alert)
}

// Broker fans alerts out to in-process subscribers such as gRPC streams.
// Subscribing with uuid.Nil receives alerts of every machine.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID][]chan *storage.Alert
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[uuid.UUID][]chan *storage.Alert),
	}
}

func (b *Broker) Subscribe(machineID uuid.UUID) <-chan *storage.Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *storage.Alert, 100)
	b.subscribers[machineID] = append(b.subscribers[machineID], ch)
	return ch
}

func (b *Broker) Unsubscribe(machineID uuid.UUID, ch <-chan *storage.Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[machineID]
	for i, sub := range subs {
		if sub == ch {
			b.subscribers[machineID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(b.subscribers[machineID]) == 0 {
		delete(b.subscribers, machineID)
	}
}

func (b *Broker) NotifyAlert(_ context.Context, alert *storage.Alert) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, key := range []uuid.UUID{alert.MachineID, uuid.Nil} {
		for _, ch := range b.subscribers[key] {
			select {
			case ch <- alert:
			default:
				// Slow subscriber, skip
			}
		}
	}
}

// RedisPublisher publishes alerts on the machine's Redis channel.
type RedisPublisher struct {
	store  *storage.RedisStore
	logger *zap.Logger
}

func NewRedisPublisher(store *storage.RedisStore, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{store: store, logger: logger}
}

func (p *RedisPublisher) NotifyAlert(ctx context.Context, alert *storage.Alert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		p.logger.Error("Failed to marshal alert", zap.Error(err))
		return
	}
	if err := p.store.PublishAlert(ctx, alert.MachineID.String(), payload); err != nil {
		p.logger.Warn("Failed to publish alert", zap.Int64("alert_id", alert.ID), zap.Error(err))
	}
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, alert *storage.Alert)

func (f NotifierFunc) NotifyAlert(ctx context.Context, alert *storage.Alert) {
	f(ctx, alert)
}
