package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
)

// RetryTransient runs op with exponential backoff while it fails with a
// transient error, giving up after maxRetries retries or when ctx ends.
func RetryTransient(ctx context.Context, maxRetries uint64, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 50 * time.Millisecond
	exp.MaxInterval = time.Second
	exp.MaxElapsedTime = 5 * time.Second

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, maxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if apperr.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
