package harnessports

import (
	"context"
	"errors"
)

// ErrRateLimited is returned when a key has exhausted its budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimiter coordinates throughput per key (a session identifier).
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
