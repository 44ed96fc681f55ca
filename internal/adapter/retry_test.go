package adapter

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/issuesync/internal/ir"
)

// flaky fails the first failures calls of every operation with err.
type flaky struct {
	failures int
	err      error
	calls    int
	block    bool
}

func (f *flaky) next(ctx context.Context) error {
	f.calls++
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flaky) FetchPage(ctx context.Context, _, _ string) (Page, error) {
	return Page{}, f.next(ctx)
}

func (f *flaky) GetIssue(ctx context.Context, id string) (ir.RemoteIssue, error) {
	if err := f.next(ctx); err != nil {
		return ir.RemoteIssue{}, err
	}
	return ir.RemoteIssue{ExternalID: id}, nil
}

func (f *flaky) CreateIssue(ctx context.Context, fields ir.Fields) (ir.RemoteIssue, error) {
	if err := f.next(ctx); err != nil {
		return ir.RemoteIssue{}, err
	}
	return ir.RemoteIssue{ExternalID: "PROJ-1", Fields: fields}, nil
}

func (f *flaky) UpdateIssue(ctx context.Context, id string, fields ir.Fields) (ir.RemoteIssue, error) {
	if err := f.next(ctx); err != nil {
		return ir.RemoteIssue{}, err
	}
	return ir.RemoteIssue{ExternalID: id, Fields: fields}, nil
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func testPolicy(s *sleepRecorder) Policy {
	return Policy{
		Attempts:  3,
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  time.Second,
		Sleep:     s.sleep,
	}
}

func TestWithRetryRetriesTransient(t *testing.T) {
	for _, code := range []ir.ErrorCode{ir.CodeRateLimited, ir.CodeTimeout} {
		t.Run(string(code), func(t *testing.T) {
			f := &flaky{failures: 2, err: ir.Errorf(code, "try later")}
			s := &sleepRecorder{}

			issue, err := WithRetry(f, testPolicy(s)).GetIssue(context.Background(), "PROJ-9")
			require.NoError(t, err)
			assert.Equal(t, "PROJ-9", issue.ExternalID)
			assert.Equal(t, 3, f.calls)
			assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, s.delays)
		})
	}
}

func TestWithRetryGivesUpAfterAttempts(t *testing.T) {
	f := &flaky{failures: 10, err: ir.Errorf(ir.CodeRateLimited, "slow down")}
	s := &sleepRecorder{}

	_, err := WithRetry(f, testPolicy(s)).UpdateIssue(context.Background(), "PROJ-1", ir.Fields{})
	require.Error(t, err)
	assert.Equal(t, ir.CodeRateLimited, ir.CodeOf(err))
	assert.Equal(t, 3, f.calls)
	assert.Len(t, s.delays, 2)
}

func TestWithRetryDoesNotRetryTerminal(t *testing.T) {
	for _, code := range []ir.ErrorCode{ir.CodeAuth, ir.CodeNotFound, ir.CodeRemoteValidation, ir.CodeInternal} {
		t.Run(string(code), func(t *testing.T) {
			f := &flaky{failures: 1, err: ir.Errorf(code, "no")}
			s := &sleepRecorder{}

			_, err := WithRetry(f, testPolicy(s)).CreateIssue(context.Background(), ir.Fields{})
			require.Error(t, err)
			assert.Equal(t, code, ir.CodeOf(err))
			assert.Equal(t, 1, f.calls)
			assert.Empty(t, s.delays)
		})
	}
}

func TestWithRetryHonorsRetryAfter(t *testing.T) {
	f := &flaky{failures: 1, err: &RetryAfterError{Err: ir.Errorf(ir.CodeRateLimited, "limit"), After: 700 * time.Millisecond}}
	s := &sleepRecorder{}

	_, err := WithRetry(f, testPolicy(s)).GetIssue(context.Background(), "PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{700 * time.Millisecond}, s.delays)
}

func TestWithRetryCapsDelay(t *testing.T) {
	f := &flaky{failures: 1, err: &RetryAfterError{Err: ir.Errorf(ir.CodeRateLimited, "limit"), After: time.Hour}}
	s := &sleepRecorder{}

	_, err := WithRetry(f, testPolicy(s)).GetIssue(context.Background(), "PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second}, s.delays)
}

func TestWithRetryCallTimeout(t *testing.T) {
	f := &flaky{block: true}
	p := testPolicy(&sleepRecorder{})
	p.CallTimeout = 10 * time.Millisecond

	_, err := WithRetry(f, p).GetIssue(context.Background(), "PROJ-1")
	require.Error(t, err)
	assert.Equal(t, ir.CodeTimeout, ir.CodeOf(err))
	assert.Equal(t, 3, f.calls, "timeouts are retried")
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &flaky{failures: 5, err: ir.Errorf(ir.CodeTimeout, "slow")}
	p := testPolicy(nil)
	p.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := WithRetry(f, p).GetIssue(ctx, "PROJ-1")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, f.calls)
}

func TestClassifyResponseRateLimitHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	resp := &http.Response{StatusCode: http.StatusForbidden, Header: http.Header{}}
	resp.Header.Set("X-RateLimit-Remaining", "0")
	resp.Header.Set("Retry-After", "3")

	err := ClassifyResponse(resp, "API rate limit exceeded", now)
	assert.Equal(t, ir.CodeRateLimited, ir.CodeOf(err))
	var ra *RetryAfterError
	require.True(t, errors.As(err, &ra))
	assert.Equal(t, 3*time.Second, ra.After)

	plain := &http.Response{StatusCode: http.StatusForbidden, Header: http.Header{}}
	assert.Equal(t, ir.CodeAuth, ir.CodeOf(ClassifyResponse(plain, "forbidden", now)))
}
