package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/issuesync/internal/ir"
)

// RetryAfterError carries a server-provided delay alongside a transient error.
type RetryAfterError struct {
	Err   error
	After time.Duration
}

func (e *RetryAfterError) Error() string { return e.Err.Error() }
func (e *RetryAfterError) Unwrap() error { return e.Err }

// ClassifyStatus maps an HTTP error status to the adapter error taxonomy.
// Returns nil for statuses below 400.
//
//	401 403                 AUTH_ERROR
//	404 410                 NOT_FOUND
//	429                     RATE_LIMITED
//	408 500 502 503 504     TIMEOUT
//	everything else         REMOTE_VALIDATION
func ClassifyStatus(status int, message string) error {
	if status < http.StatusBadRequest {
		return nil
	}
	if message == "" {
		message = http.StatusText(status)
	}
	msg := fmt.Sprintf("remote returned %d: %s", status, message)

	var code ir.ErrorCode
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = ir.CodeAuth
	case http.StatusNotFound, http.StatusGone:
		code = ir.CodeNotFound
	case http.StatusTooManyRequests:
		code = ir.CodeRateLimited
	case http.StatusRequestTimeout, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		code = ir.CodeTimeout
	default:
		code = ir.CodeRemoteValidation
	}
	return &ir.Error{Code: code, Message: msg}
}

// ClassifyResponse classifies an error response, honoring Retry-After and
// the X-RateLimit headers some platforms send with 403.
func ClassifyResponse(resp *http.Response, message string, now time.Time) error {
	status := resp.StatusCode
	if status == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
		status = http.StatusTooManyRequests
	}
	err := ClassifyStatus(status, message)
	if err == nil {
		return nil
	}
	if !ir.IsTransient(ir.CodeOf(err)) {
		return err
	}
	if after := retryAfter(resp.Header, now); after > 0 {
		return &RetryAfterError{Err: err, After: after}
	}
	return err
}

func retryAfter(h http.Header, now time.Time) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil && at.After(now) {
			return at.Sub(now)
		}
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if at := time.Unix(epoch, 0); at.After(now) {
				return at.Sub(now)
			}
		}
	}
	return 0
}

// TransportError classifies an error returned by the HTTP client itself.
func TransportError(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return ir.WrapError(ir.CodeTimeout, op+" timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return ir.WrapError(ir.CodeInternal, op+" failed", err)
}
