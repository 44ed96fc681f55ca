package adapter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/issuesync/internal/ir"
)

// Policy bounds retries and per-call time.
type Policy struct {
	// Attempts is the total number of tries per call, first one included.
	Attempts int
	// BaseDelay doubles after every failed attempt, up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// CallTimeout bounds every single attempt. Zero disables it.
	CallTimeout time.Duration
	// Sleep waits between attempts. Tests replace it.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// DefaultPolicy returns three attempts with 500ms..8s backoff and a 30s
// per-call timeout.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:    3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		CallTimeout: 30 * time.Second,
	}
}

// WithRetry wraps a with per-call timeouts and bounded exponential backoff.
// Only RATE_LIMITED and TIMEOUT are retried; every other error is returned
// after the first attempt.
func WithRetry(a Adapter, p Policy) Adapter {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &retrying{inner: a, policy: p}
}

type retrying struct {
	inner  Adapter
	policy Policy
}

func (r *retrying) FetchPage(ctx context.Context, filter, cursor string) (Page, error) {
	return retryCall(ctx, r.policy, "fetch", func(ctx context.Context) (Page, error) {
		return r.inner.FetchPage(ctx, filter, cursor)
	})
}

func (r *retrying) GetIssue(ctx context.Context, externalID string) (ir.RemoteIssue, error) {
	return retryCall(ctx, r.policy, "get", func(ctx context.Context) (ir.RemoteIssue, error) {
		return r.inner.GetIssue(ctx, externalID)
	})
}

// CreateIssue is retried like the rest. A timeout that hides a successful
// create can duplicate the issue; platforms give no idempotency key to
// prevent that.
func (r *retrying) CreateIssue(ctx context.Context, fields ir.Fields) (ir.RemoteIssue, error) {
	return retryCall(ctx, r.policy, "create", func(ctx context.Context) (ir.RemoteIssue, error) {
		return r.inner.CreateIssue(ctx, fields)
	})
}

func (r *retrying) UpdateIssue(ctx context.Context, externalID string, fields ir.Fields) (ir.RemoteIssue, error) {
	return retryCall(ctx, r.policy, "update", func(ctx context.Context) (ir.RemoteIssue, error) {
		return r.inner.UpdateIssue(ctx, externalID, fields)
	})
}

func retryCall[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	delay := p.BaseDelay
	for attempt := 1; ; attempt++ {
		result, err := attemptCall(ctx, p.CallTimeout, fn)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}

		code := ir.CodeOf(err)
		if !ir.IsTransient(code) || attempt >= p.Attempts {
			return zero, err
		}

		wait := delay
		var ra *RetryAfterError
		if errors.As(err, &ra) && ra.After > wait {
			wait = ra.After
		}
		if p.MaxDelay > 0 && wait > p.MaxDelay {
			wait = p.MaxDelay
		}

		p.Logger.Warn("retrying remote call",
			"op", op,
			"attempt", attempt,
			"code", code,
			"delay", wait,
			"error", err)

		if err := p.Sleep(ctx, wait); err != nil {
			return zero, err
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}

func attemptCall[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !ir.HasCode(err, ir.CodeTimeout) {
		err = ir.WrapError(ir.CodeTimeout, "remote call exceeded "+timeout.String(), err)
	}
	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
