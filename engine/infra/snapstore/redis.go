package snapstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/workflow"
	"github.com/compozy/tasktree/pkg/logger"
)

const pingBackoffBase = 100 * time.Millisecond

// RedisStore keeps snapshots as JSON strings under a key prefix.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	once   sync.Once
	ctx    context.Context
}

// NewRedisStore connects to cfg.URL and pings the server, retrying with
// exponential backoff.
func NewRedisStore(ctx context.Context, cfg *Config) (*RedisStore, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("redis store requires a URL")
	}
	log := logger.FromContext(ctx).With("component", "snapstore_redis")
	ctx = logger.ContextWithLogger(ctx, log)
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := pingRedis(ctx, client, cfg); err != nil {
		client.Close()
		return nil, err
	}
	log.Info("snapshot store connected", "addr", opt.Addr, "db", opt.DB)
	return NewRedisStoreWithClient(ctx, client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewRedisStoreWithClient wraps an existing client. The store owns it.
func NewRedisStoreWithClient(
	ctx context.Context,
	client redis.UniversalClient,
	prefix string,
	ttl time.Duration,
) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, ctx: ctx}
}

func pingRedis(ctx context.Context, client redis.UniversalClient, cfg *Config) error {
	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	backoff := retry.WithMaxRetries(cfg.PingRetries, retry.NewExponential(pingBackoffBase))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.FromContext(ctx).Debug("redis ping failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pinging Redis server (timeout=%s, attempts=%d): %w", timeout, attempt, err)
	}
	return nil
}

func (r *RedisStore) key(id core.ID) string {
	return r.prefix + id.String()
}

func (r *RedisStore) Save(ctx context.Context, snap *workflow.Snapshot) error {
	id, err := snapshotID(snap)
	if err != nil {
		return err
	}
	raw, err := encode(snap)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(id), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", id, err)
	}
	logger.FromContext(ctx).Debug("snapshot saved", "workflow_id", id, "bytes", len(raw))
	return nil
}

func (r *RedisStore) Load(ctx context.Context, id core.ID) (*workflow.Snapshot, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load snapshot %s: %w", id, err)
	}
	return decode(raw)
}

func (r *RedisStore) Delete(ctx context.Context, id core.ID) error {
	n, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return nil
}

// List scans the key prefix. The result is sorted.
func (r *RedisStore) List(ctx context.Context) ([]core.ID, error) {
	var ids []core.ID
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, core.ID(strings.TrimPrefix(iter.Val(), r.prefix)))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

// Close shuts down the Redis connection once.
func (r *RedisStore) Close() error {
	var err error
	r.once.Do(func() {
		err = r.client.Close()
		if err != nil {
			logger.FromContext(r.ctx).Error("redis connection close failed", "error", err)
			return
		}
		logger.FromContext(r.ctx).Debug("redis connection closed")
	})
	return err
}
