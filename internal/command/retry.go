package command

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/lanerr"
)

// RetryPolicy bounds retries of a fire-and-forget command.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first. Values
	// below 1 mean 1.
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy tries three times starting at 200ms.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:        3,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0
	retries := p.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// Retrying runs op until it succeeds, fails with an error that is not
// retryable, the policy gives up or ctx ends. It returns op's last error.
func Retrying(ctx context.Context, policy RetryPolicy, log *zap.Logger, op func(ctx context.Context) error) error {
	attempt := 0
	return backoff.RetryNotify(
		func() error {
			attempt++
			err := op(ctx)
			if err != nil && !lanerr.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		policy.backOff(ctx),
		func(err error, wait time.Duration) {
			if log != nil {
				log.Debug("retrying command", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
			}
		},
	)
}
