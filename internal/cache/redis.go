package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/config"
)

// NewClient connects to redis and verifies the connection
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NoticeStore deduplicates SLA notices across instances with SET NX
type NoticeStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewNoticeStore creates a NoticeStore. Keys expire after ttl; zero keeps them.
func NewNoticeStore(client *redis.Client, prefix string, ttl time.Duration) *NoticeStore {
	return &NoticeStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *NoticeStore) MarkNoticed(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+":notice:"+key, time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// release deletes the lock only when it still holds our token
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SweepLock is a single-holder lease taken with SET NX PX
type SweepLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewSweepLock creates a lock under prefix:sweep-lock
func NewSweepLock(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *SweepLock {
	return &SweepLock{
		client: client,
		key:    prefix + ":sweep-lock",
		ttl:    ttl,
		logger: logger.Named("sweep-lock"),
	}
}

// Acquire takes the lease if free. The returned release only deletes the
// lease if this holder still owns it.
func (l *SweepLock) Acquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := release.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			l.logger.Warn("Failed to release sweep lock", zap.Error(err))
		}
	}, true, nil
}
