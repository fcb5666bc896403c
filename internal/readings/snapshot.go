package readings

import (
	"context"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/monitoring"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"go.uber.org/zap"
)

// SnapshotSink mirrors the latest value of every sensor into Redis.
type SnapshotSink struct {
	store  *storage.RedisStore
	ttl    time.Duration
	logger *zap.Logger
}

func NewSnapshotSink(store *storage.RedisStore, ttl time.Duration, logger *zap.Logger) *SnapshotSink {
	return &SnapshotSink{store: store, ttl: ttl, logger: logger}
}

func (s *SnapshotSink) ReadingAccepted(ctx context.Context, sensor *storage.Sensor, reading *storage.Reading, breach *monitoring.Breach) {
	err := s.store.SaveSnapshot(ctx, sensor.MachineID.String(), reading, breach != nil, s.ttl)
	if err != nil {
		s.logger.Warn("Failed to update sensor snapshot",
			zap.Int64("sensor_id", sensor.ID),
			zap.Error(err))
	}
}
