package monitoring

import (
	"context"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/patrickmn/go-cache"
)

// Deduper claims an alert key for a window. Acquire returns false when the
// key was already claimed inside the window.
type Deduper interface {
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
}

// RedisDeduper shares dedup state between instances.
type RedisDeduper struct {
	store *storage.RedisStore
}

func NewRedisDeduper(store *storage.RedisStore) *RedisDeduper {
	return &RedisDeduper{store: store}
}

func (d *RedisDeduper) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	return d.store.AcquireAlertSlot(ctx, key, window)
}

// MemoryDeduper is the single-instance fallback when Redis is disabled.
type MemoryDeduper struct {
	cache *cache.Cache
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{cache: cache.New(5*time.Minute, 10*time.Minute)}
}

func (d *MemoryDeduper) Acquire(_ context.Context, key string, window time.Duration) (bool, error) {
	// Add fails while an unexpired item exists
	if err := d.cache.Add(key, struct{}{}, window); err != nil {
		return false, nil
	}
	return true, nil
}
