package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/config"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the live sensor snapshot, alert dedup keys and the
// alert pub/sub channel.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "sig"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) sensorKey(sensorID int64) string {
	return fmt.Sprintf("%s:sensor:%d:state", r.prefix, sensorID)
}

// AlertChannel is the pub/sub channel alerts of a machine are published on.
func (r *RedisStore) AlertChannel(machineID string) string {
	return fmt.Sprintf("%s:machine:%s:alerts", r.prefix, machineID)
}

// SaveSnapshot stores the latest value of a sensor and publishes it on the
// machine's telemetry channel in one round trip.
func (r *RedisStore) SaveSnapshot(ctx context.Context, machineID string, reading *Reading, outOfThreshold bool, ttl time.Duration) error {
	state := map[string]interface{}{
		"sensor_id":        reading.SensorID,
		"machine_id":       machineID,
		"reading_id":       reading.ID,
		"value":            reading.Value,
		"timestamp":        reading.Timestamp.Unix(),
		"out_of_threshold": outOfThreshold,
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := r.sensorKey(reading.SensorID)
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, state)
	pipe.Expire(ctx, key, ttl)
	pipe.Publish(ctx, fmt.Sprintf("%s:machine:%s:telemetry", r.prefix, machineID), payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// Snapshot returns the cached latest value of a sensor, or nil when absent.
func (r *RedisStore) Snapshot(ctx context.Context, sensorID int64) (*Reading, error) {
	vals, err := r.client.HGetAll(ctx, r.sensorKey(sensorID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis snapshot failed: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}

	value, err := strconv.ParseFloat(vals["value"], 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt snapshot value: %w", err)
	}
	id, _ := strconv.ParseInt(vals["reading_id"], 10, 64)
	ts, _ := strconv.ParseInt(vals["timestamp"], 10, 64)

	return &Reading{ID: id, SensorID: sensorID, Value: value, Timestamp: time.Unix(ts, 0)}, nil
}

// AcquireAlertSlot returns true when no alert with this key was raised inside
// the window, and claims the slot atomically.
func (r *RedisStore) AcquireAlertSlot(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, fmt.Sprintf("%s:alert:%s", r.prefix, key), "1", window).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return ok, nil
}

func (r *RedisStore) PublishAlert(ctx context.Context, machineID string, payload []byte) error {
	return r.client.Publish(ctx, r.AlertChannel(machineID), payload).Err()
}
