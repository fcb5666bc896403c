package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/config"
	"github.com/KevinKickass/SensorIntegration/internal/metrics"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	"go.uber.org/zap"
)

// Activity is one unit of work inside an execution. Its output is merged
// into the execution output.
type Activity func(ctx context.Context) (map[string]any, error)

type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func PolicyFromConfig(cfg config.WorkflowConfig) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      2,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = time.Second
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = 30 * p.InitialInterval
	}
	return p
}

// Backoff returns the wait before the given retry (1 = first retry).
func (p RetryPolicy) Backoff(retry int) time.Duration {
	d := p.InitialInterval
	for i := 1; i < retry; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxInterval {
			return p.MaxInterval
		}
	}
	return d
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func retryable(err error) bool {
	var perm *permanentError
	switch {
	case errors.As(err, &perm),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrInvalidInput),
		errors.Is(err, types.ErrConflict):
		return false
	}
	return true
}

type ActivityExecutor struct {
	policy RetryPolicy
	logger *zap.Logger
}

func NewActivityExecutor(policy RetryPolicy, logger *zap.Logger) *ActivityExecutor {
	return &ActivityExecutor{policy: policy, logger: logger}
}

// Execute runs the activity until it succeeds, fails permanently or runs out
// of attempts. It returns the number of attempts made.
func (x *ActivityExecutor) Execute(ctx context.Context, name string, activity Activity) (map[string]any, int, error) {
	var lastErr error
	for attempt := 1; attempt <= x.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt - 1, err
		}

		out, err := activity(ctx)
		if err == nil {
			return out, attempt, nil
		}
		lastErr = err

		if !retryable(err) || attempt == x.policy.MaxAttempts {
			return nil, attempt, fmt.Errorf("activity %s failed after %d attempt(s): %w", name, attempt, err)
		}

		wait := x.policy.Backoff(attempt)
		metrics.ActivityRetries.WithLabelValues(name).Inc()
		x.logger.Warn("Activity failed, retrying",
			zap.String("activity", name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, x.policy.MaxAttempts, lastErr
}
