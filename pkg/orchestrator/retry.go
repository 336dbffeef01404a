package orchestrator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/coordtech/packline/pkg/errdefs"
)

// RetryPolicy bounds the exponential backoff applied to transient remote
// failures.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

// DefaultRetryPolicy retries transient failures up to 4 times with
// exponential backoff capped at 30 seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxRetries:      4,
	}
}

// Retry runs op, retrying only transient and throttled failures per the
// policy. Permanent and conflict errors return immediately; exhausted
// retries return the last transient error.
func Retry(ctx context.Context, policy RetryPolicy, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialInterval
	bo.MaxInterval = policy.MaxInterval

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !errdefs.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(bo, policy.MaxRetries), ctx))
}
