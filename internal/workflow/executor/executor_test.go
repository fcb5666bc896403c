package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/config"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastExecutor(attempts int) *ActivityExecutor {
	return NewActivityExecutor(RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
		Multiplier:      2,
	}, zap.NewNop())
}

func TestPolicyFromConfigDefaults(t *testing.T) {
	p := PolicyFromConfig(config.WorkflowConfig{})
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialInterval)
	assert.Equal(t, 30*time.Second, p.MaxInterval)
}

func TestBackoffIsCapped(t *testing.T) {
	p := RetryPolicy{InitialInterval: time.Second, MaxInterval: 5 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(4))
	assert.Equal(t, 5*time.Second, p.Backoff(10))
}

func TestExecuteRetriesTransientErrors(t *testing.T) {
	calls := 0
	out, attempts, err := fastExecutor(3).Execute(context.Background(), "flaky", func(context.Context) (map[string]any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection reset")
		}
		return map[string]any{"ok": true}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, true, out["ok"])
}

func TestExecuteGivesUp(t *testing.T) {
	_, attempts, err := fastExecutor(2).Execute(context.Background(), "broken", func(context.Context) (map[string]any, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.Contains(t, err.Error(), "activity broken failed after 2 attempt(s)")
}

func TestExecuteDoesNotRetryPermanentErrors(t *testing.T) {
	for _, e := range []error{types.ErrNotFound, Permanent(errors.New("bad state"))} {
		calls := 0
		_, attempts, err := fastExecutor(5).Execute(context.Background(), "once", func(context.Context) (map[string]any, error) {
			calls++
			return nil, e
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, 1, attempts)
	}
}

func TestExecuteStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, attempts, err := fastExecutor(3).Execute(ctx, "cancelled", func(context.Context) (map[string]any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, attempts)
}
