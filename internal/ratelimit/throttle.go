package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle paces outbound sends.
type Throttle interface {
	Wait(ctx context.Context) error
}

// LocalThrottle paces sends within one process.
type LocalThrottle struct {
	limiter *rate.Limiter
}

// NewLocalThrottle allows perSecond sends with the given burst. A
// non-positive rate disables pacing.
func NewLocalThrottle(perSecond float64, burst int) *LocalThrottle {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &LocalThrottle{limiter: rate.NewLimiter(limit, burst)}
}

func (t *LocalThrottle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// RedisThrottle paces sends across every process sharing key.
type RedisThrottle struct {
	bucket *TokenBucket
	key    string
}

func NewRedisThrottle(bucket *TokenBucket, key string) *RedisThrottle {
	return &RedisThrottle{bucket: bucket, key: key}
}

func (t *RedisThrottle) Wait(ctx context.Context) error {
	for {
		wait, err := t.bucket.Take(ctx, t.key)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
