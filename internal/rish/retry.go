package rish

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy controls the exponential backoff applied by a
// RetryingChannel between transient failures.
type RetryPolicy struct {
	MaxRetries int
	DelayBase  time.Duration
	DelayMax   time.Duration
}

// DefaultRetryPolicy mirrors the behavior the device channel has proven
// to need in practice: generous retries with a capped exponential delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 10,
		DelayBase:  2 * time.Second,
		DelayMax:   60 * time.Second,
	}
}

// RetryingChannel wraps a Channel with transient-failure retries.
// Permanent failures (missing binary, permission refusal) and non-zero
// exit statuses pass through untouched; only channel timeouts are
// retried. The transfer core does NOT use this wrapper: it supplies its
// own per-chunk and whole-task retry policies and needs the underlying
// one-shot semantics.
type RetryingChannel struct {
	Inner  Channel
	Policy RetryPolicy
	Log    *slog.Logger
}

var _ Channel = (*RetryingChannel)(nil)

// NewRetryingChannel wraps inner with the given policy.
func NewRetryingChannel(inner Channel, policy RetryPolicy, log *slog.Logger) *RetryingChannel {
	if log == nil {
		log = slog.Default()
	}
	return &RetryingChannel{Inner: inner, Policy: policy, Log: log}
}

// Exec runs the command, retrying transient failures with exponential
// backoff.
func (r *RetryingChannel) Exec(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	var lastErr error
	for attempt := 0; attempt <= r.Policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(r.Policy.DelayBase, r.Policy.DelayMax, attempt-1)
			r.Log.Warn("rish transient failure, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()))
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(delay):
			}
		}
		res, err := r.Inner.Exec(ctx, command, timeout)
		if err == nil {
			return res, nil
		}
		if IsPermanent(err) {
			return res, err
		}
		lastErr = err
	}
	return Result{}, lastErr
}

// backoffDelay computes base*2^attempt clamped to max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
