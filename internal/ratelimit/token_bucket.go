package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var ErrInvalidBucket = errors.New("ratelimit: invalid token bucket")

// takeScript refills the bucket from the elapsed server time and takes one
// token. It returns 0 when a token was taken, otherwise the milliseconds
// until the next token is due.
const takeScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(burst, tokens + (now - ts) / 1000 * rate)
end

local wait = 0
if tokens >= 1 then
  tokens = tokens - 1
else
  wait = math.ceil((1 - tokens) / rate * 1000)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return wait
`

// TokenBucket is a send budget shared by every process that uses the same
// Redis key.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
	rate   float64
	burst  int
	ttl    time.Duration
}

func NewTokenBucket(client *redis.Client, perSecond float64, burst int) (*TokenBucket, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrInvalidBucket)
	}
	if perSecond <= 0 || burst <= 0 {
		return nil, fmt.Errorf("%w: rate %v burst %d", ErrInvalidBucket, perSecond, burst)
	}
	// Idle buckets expire once they would have refilled twice over.
	ttl := time.Duration(math.Max(1, math.Ceil(2*float64(burst)/perSecond))) * time.Second
	return &TokenBucket{
		client: client,
		script: redis.NewScript(takeScript),
		rate:   perSecond,
		burst:  burst,
		ttl:    ttl,
	}, nil
}

// Take consumes one token from key. A zero wait means the token was taken;
// otherwise nothing was consumed and the caller should retry after wait.
func (b *TokenBucket) Take(ctx context.Context, key string) (time.Duration, error) {
	if key == "" {
		return 0, fmt.Errorf("%w: empty key", ErrInvalidBucket)
	}
	ms, err := b.script.Run(ctx, b.client, []string{key}, b.rate, b.burst, b.ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("take token: %w", err)
	}
	if ms <= 0 {
		return 0, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}
