package ratelimit

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/notifier/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const sendThrottleKey = "notifier:send:throttle"

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewRunLock),
	fx.Provide(NewThrottle),
)

// NewRedisClient returns nil when REDIS_ADDR is unset.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	if !cfg.Redis.Enabled() {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

func NewRunLock(client *redis.Client, log *zap.Logger) RunLock {
	if client == nil {
		log.Named("ratelimit").Warn("redis not configured, run lock is process local")
		return NewLocalLocker()
	}
	return NewRedisLocker(client)
}

// NewThrottle shares the send budget through Redis when it is configured.
// A non-positive NOTIFIER_SEND_RATE disables pacing.
func NewThrottle(client *redis.Client, cfg config.Config) (Throttle, error) {
	sched := cfg.Scheduler
	if client == nil || sched.SendRate <= 0 {
		return NewLocalThrottle(sched.SendRate, sched.SendBurst), nil
	}
	burst := sched.SendBurst
	if burst <= 0 {
		burst = 1
	}
	bucket, err := NewTokenBucket(client, sched.SendRate, burst)
	if err != nil {
		return nil, err
	}
	return NewRedisThrottle(bucket, sendThrottleKey), nil
}
