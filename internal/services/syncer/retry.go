package syncer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy задаёт повторы внутри одного прогона.
type RetryPolicy struct {
	CarrierRetries  uint64
	APIRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		CarrierRetries:  2,
		APIRetries:      1,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

func (p RetryPolicy) carrier(ctx context.Context) backoff.BackOff {
	return p.backoff(ctx, p.CarrierRetries)
}

func (p RetryPolicy) api(ctx context.Context) backoff.BackOff {
	return p.backoff(ctx, p.APIRetries)
}

func (p RetryPolicy) backoff(ctx context.Context, retries uint64) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
}
