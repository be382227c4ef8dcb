package backoff

import (
	"errors"
	"math"
	"time"
)

// ErrRetriesExhausted is returned by a policy once its retry budget is spent.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy computes the wait before the next attempt. It returns
// ErrRetriesExhausted when no further attempt should be made.
type RetryPolicy interface {
	ComputeNextInterval(retryCount int, elapsed time.Duration, err error) (time.Duration, error)
}

const defaultMaxInterval = 10 * time.Second

// ExponentialBackoffPolicy multiplies the interval by BackoffFactor after
// every attempt, capped at MaxInterval. MaxRetries 0 means unlimited; a
// positive MaxElapsed bounds the total retry time.
type ExponentialBackoffPolicy struct {
	InitialInterval time.Duration
	BackoffFactor   float64
	MaxInterval     time.Duration
	MaxRetries      int
	MaxElapsed      time.Duration
}

// NewExponentialBackoffPolicy creates a policy doubling from initial.
func NewExponentialBackoffPolicy(initial time.Duration) *ExponentialBackoffPolicy {
	return &ExponentialBackoffPolicy{
		InitialInterval: initial,
		BackoffFactor:   2.0,
		MaxInterval:     defaultMaxInterval,
	}
}

func (p *ExponentialBackoffPolicy) ComputeNextInterval(retryCount int, elapsed time.Duration, _ error) (time.Duration, error) {
	if p.MaxRetries > 0 && retryCount >= p.MaxRetries {
		return 0, ErrRetriesExhausted
	}
	if p.MaxElapsed > 0 && elapsed >= p.MaxElapsed {
		return 0, ErrRetriesExhausted
	}
	interval := float64(p.InitialInterval) * math.Pow(p.BackoffFactor, float64(retryCount))
	if p.MaxInterval > 0 && interval > float64(p.MaxInterval) {
		interval = float64(p.MaxInterval)
	}
	return time.Duration(interval), nil
}

// ConstantBackoffPolicy waits the same Interval between attempts.
type ConstantBackoffPolicy struct {
	Interval   time.Duration
	MaxRetries int
}

// NewConstantBackoffPolicy creates a constant policy with the given budget.
func NewConstantBackoffPolicy(interval time.Duration, maxRetries int) *ConstantBackoffPolicy {
	return &ConstantBackoffPolicy{Interval: interval, MaxRetries: maxRetries}
}

func (p *ConstantBackoffPolicy) ComputeNextInterval(retryCount int, _ time.Duration, _ error) (time.Duration, error) {
	if p.MaxRetries > 0 && retryCount >= p.MaxRetries {
		return 0, ErrRetriesExhausted
	}
	return p.Interval, nil
}
