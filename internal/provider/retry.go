package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v5"
)

// chatWithRetry retries op on transient transport failures with capped
// exponential backoff. Non-transient errors stop the loop immediately.
func chatWithRetry[T any](ctx context.Context, maxTries uint, op func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !transient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(maxTries))
}

// transient classifies an error as worth retrying: rate limits, server
// errors, timeouts, and connection failures. Auth and validation errors
// are permanent.
func transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 408, 429, 500, 502, 503, 504, 529:
			return true
		}
		return false
	}

	msg := err.Error()
	for _, marker := range []string{
		"rate_limit",
		"too many requests",
		"timeout",
		"connection reset",
		"connection refused",
		"no such host",
		"unexpected EOF",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
