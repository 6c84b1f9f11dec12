package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds configuration for the Redis stream transport.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64 // approximate stream cap; 0 disables trimming
}

// RedisTransport appends events to a Redis Stream with XADD.
type RedisTransport struct {
	rdb *redis.Client
	cfg RedisConfig
}

// NewRedisTransport connects to Redis and validates the connection.
func NewRedisTransport(cfg RedisConfig) (*RedisTransport, error) {
	if cfg.Stream == "" {
		cfg.Stream = "cortex:emotions"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisTransport{rdb: rdb, cfg: cfg}, nil
}

func (t *RedisTransport) Name() string { return "redis" }

// Stream returns the target stream key.
func (t *RedisTransport) Stream() string { return t.cfg.Stream }

// Send appends ev to the stream.
func (t *RedisTransport) Send(ctx context.Context, ev Event) error {
	args := &redis.XAddArgs{
		Stream: t.cfg.Stream,
		Values: map[string]interface{}{
			"emotion":   ev.Emotion,
			"timestamp": strconv.FormatInt(ev.Timestamp, 10),
		},
	}
	if t.cfg.MaxLen > 0 {
		args.MaxLen = t.cfg.MaxLen
		args.Approx = true
	}

	if err := t.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("%w: xadd failed: %v", ErrTransport, err)
	}
	return nil
}

// RawClient exposes the underlying client for tests and cleanup.
func (t *RedisTransport) RawClient() *redis.Client {
	return t.rdb
}

// Close closes the Redis connection.
func (t *RedisTransport) Close() error {
	return t.rdb.Close()
}
