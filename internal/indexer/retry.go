package indexer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type retryPolicy struct {
	maxRetries  int
	initial     time.Duration
	maxInterval time.Duration
}

func (p retryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	initial := p.initial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	maxInterval := p.maxInterval
	if maxInterval < initial {
		maxInterval = initial
	}
	maxRetries := p.maxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.MaxInterval = maxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxRetries)), ctx)
}

// withRetry runs fn until it succeeds, returns an error retryable rejects, or the policy runs
// out of retries. onRetry is called before each wait. The last error is returned.
func withRetry(ctx context.Context, policy retryPolicy, retryable func(error) bool, onRetry func(err error, wait time.Duration), fn func(context.Context) error) error {
	op := func() error {
		err := fn(ctx)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, policy.backOff(ctx), onRetry)
}
