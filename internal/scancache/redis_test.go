package scancache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/danmuck/clamctl/internal/testutil/testlog"
)

type fakeRedis struct {
	data    map[string]string
	lastTTL time.Duration
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	raw, ok := value.([]byte)
	if !ok {
		return redis.NewStatusResult("", redis.ErrClosed)
	}
	f.data[key] = string(raw)
	f.lastTTL = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Close() error { return nil }

func newFakeRedisCache(ttl time.Duration) (*Redis, *fakeRedis) {
	fake := &fakeRedis{data: make(map[string]string)}
	cache := &Redis{
		rdb:    fake,
		prefix: DefaultKeyPrefix,
		ttl:    ttl,
		log:    zerolog.Nop(),
	}
	return cache, fake
}

func TestRedisRoundTrip(t *testing.T) {
	testlog.Start(t)

	cache, fake := newFakeRedisCache(time.Hour)
	ctx := context.Background()

	entry := Entry{
		Status:    "infected",
		Signature: "Win.Test.EICAR_HDB-1",
		ScanID:    "scan-42",
		ScannedAt: time.Unix(1_700_000_000, 0).UTC(),
	}
	if err := cache.Set(ctx, "abc123", entry); err != nil {
		t.Fatalf("set: %v", err)
	}
	if fake.lastTTL != time.Hour {
		t.Fatalf("ttl not applied: %v", fake.lastTTL)
	}
	if _, ok := fake.data[DefaultKeyPrefix+"abc123"]; !ok {
		t.Fatalf("key prefix not applied: %v", fake.data)
	}

	got, found, err := cache.Get(ctx, "abc123")
	if err != nil || !found {
		t.Fatalf("expected hit, got found=%v err=%v", found, err)
	}
	if got != entry {
		t.Fatalf("entry mismatch: got=%+v want=%+v", got, entry)
	}
}

func TestRedisMiss(t *testing.T) {
	testlog.Start(t)

	cache, _ := newFakeRedisCache(time.Hour)
	if _, found, err := cache.Get(context.Background(), "nope"); err != nil || found {
		t.Fatalf("expected clean miss, got found=%v err=%v", found, err)
	}
}

func TestRedisUndecodableEntryIsMiss(t *testing.T) {
	testlog.Start(t)

	cache, fake := newFakeRedisCache(time.Hour)
	fake.data[DefaultKeyPrefix+"abc123"] = "{not json"

	if _, found, err := cache.Get(context.Background(), "abc123"); err != nil || found {
		t.Fatalf("expected miss for undecodable entry, got found=%v err=%v", found, err)
	}
}

func TestRedisConfigDefaults(t *testing.T) {
	cfg := RedisConfig{Addr: "127.0.0.1:6379"}.withDefaults()
	if cfg.KeyPrefix != DefaultKeyPrefix {
		t.Fatalf("prefix default missing: %q", cfg.KeyPrefix)
	}
	if cfg.TTL != DefaultTTL {
		t.Fatalf("ttl default missing: %v", cfg.TTL)
	}
}
