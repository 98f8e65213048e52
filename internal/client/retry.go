package client

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// MaxJitter bounds the random pause between reconnect attempts.
const MaxJitter = time.Second

// RetryPolicy configures bounded retries of a connect operation.
type RetryPolicy struct {
	MaxAttempts int                                        // total attempts including the first
	Delay       time.Duration                              // fixed delay between attempts (used if DelayFunc nil)
	DelayFunc   func(attempt int, err error) time.Duration // attempt is 1-based
}

// DefaultReconnectPolicy retries ten times with a uniform jitter in [0, MaxJitter).
func DefaultReconnectPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		DelayFunc:   NewJitter(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewJitter returns a DelayFunc drawing uniformly from [0, MaxJitter).
// The source is guarded so the func may be shared between clients.
func NewJitter(src rand.Source) func(int, error) time.Duration {
	var mu sync.Mutex
	rng := rand.New(src)
	return func(int, error) time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return time.Duration(rng.Int63n(int64(MaxJitter)))
	}
}

// Do runs fn until it succeeds, the attempts are exhausted or ctx ends.
// It returns the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		// Don't delay after the last attempt.
		if attempt < attempts {
			var delay time.Duration
			if p.DelayFunc != nil {
				delay = p.DelayFunc(attempt, lastErr)
			} else {
				delay = p.Delay
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return lastErr
}
