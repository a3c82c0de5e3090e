package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/smallbiznis/splitledger/internal/settlement/domain"
	"github.com/smallbiznis/splitledger/pkg/db"
	"go.uber.org/zap"
)

type retryPolicy struct {
	initial    time.Duration
	max        time.Duration
	maxRetries uint64
}

var defaultRetryPolicy = retryPolicy{
	initial:    50 * time.Millisecond,
	max:        500 * time.Millisecond,
	maxRetries: 3,
}

func (p retryPolicy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initial
	b.MaxInterval = p.max
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, p.maxRetries), ctx)
}

// withRetry reruns op while it fails with serialization, deadlock or
// connection errors. Everything else is returned on the first failure.
func (s *Service) withRetry(ctx context.Context, op func() error) error {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if db.IsTransientErr(err) {
			s.log.Warn("transient store error, retrying",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return backoff.Permanent(err)
	}, s.retry.backoff(ctx))
	return storeErr(err)
}

// storeErr tags transient database failures so the transport asks the
// gateway to redeliver.
func storeErr(err error) error {
	if err == nil || !db.IsTransientErr(err) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
}
