package scancache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultKeyPrefix = "clamctl:verdict:"
	DefaultTTL       = 24 * time.Hour
)

// RedisConfig describes the shared verdict store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	return c
}

// redisAPI is the slice of the redis client the cache uses; tests
// substitute a fake.
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Redis is a Cache backed by a shared redis instance, for deployments
// where several gateways front the same daemon pool.
type Redis struct {
	rdb    redisAPI
	prefix string
	ttl    time.Duration
	log    zerolog.Logger
}

var _ Cache = (*Redis)(nil)

func NewRedis(cfg RedisConfig, logger zerolog.Logger) *Redis {
	cfg = cfg.withDefaults()
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{
		rdb:    rdb,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		log:    logger.With().Str("component", "scancache").Logger(),
	}
}

func (r *Redis) key(digest string) string {
	return r.prefix + digest
}

func (r *Redis) Get(ctx context.Context, digest string) (Entry, bool, error) {
	raw, err := r.rdb.Get(ctx, r.key(digest)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Unreadable entries are treated as misses so a format change
		// cannot wedge scanning.
		r.log.Warn().Str("digest", digest).Err(err).Msg("discarding undecodable cache entry")
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (r *Redis) Set(ctx context.Context, digest string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key(digest), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
