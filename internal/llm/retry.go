package llm

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/danshapiro/agentgraph/internal/ctxlog"
)

type RetryConfig struct {
	// MaxAttempts counts the first call. Values below 1 mean 1.
	MaxAttempts    int
	InitialDelayMS int
	BackoffFactor  float64
	MaxDelayMS     int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelayMS: 200,
		BackoffFactor:  2.0,
		MaxDelayMS:     60_000,
	}
}

// DelayForAttempt returns the wait before retry number attempt (1-indexed):
// initial * factor^(attempt-1), capped at MaxDelayMS.
func DelayForAttempt(attempt int, cfg RetryConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.InitialDelayMS <= 0 {
		return 0
	}
	factor := cfg.BackoffFactor
	if factor <= 0 {
		factor = 1.0
	}
	ms := float64(cfg.InitialDelayMS) * math.Pow(factor, float64(attempt-1))
	if cfg.MaxDelayMS > 0 {
		ms = math.Min(ms, float64(cfg.MaxDelayMS))
	}
	return time.Duration(ms * float64(time.Millisecond))
}

type retryModel struct {
	inner Model
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

// WithRetry retries calls that fail with a retryable Error. A RetryAfter hint
// from the provider overrides the computed delay when it is longer.
func WithRetry(m Model, cfg RetryConfig) Model {
	if cfg.MaxAttempts <= 1 {
		return m
	}
	return &retryModel{inner: m, cfg: cfg, sleep: sleepCtx}
}

func (r *retryModel) Complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		out, err := r.inner.Complete(ctx, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == r.cfg.MaxAttempts {
			break
		}
		delay := DelayForAttempt(attempt, r.cfg)
		var e Error
		if errors.As(err, &e) {
			if ra := e.RetryAfter(); ra != nil && *ra > delay {
				delay = *ra
			}
		}
		ctxlog.FromContext(ctx).Warn("model call failed, retrying", "attempt", attempt, "delay", delay, "err", err)
		if serr := r.sleep(ctx, delay); serr != nil {
			return "", serr
		}
	}
	return "", lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
