package config

import (
	"fmt"
	"time"

	"github.com/danmuck/clamctl/internal/clamd"
	"github.com/danmuck/clamctl/internal/gateway"
	"github.com/danmuck/clamctl/internal/scancache"
)

// ClamdClientConfig converts the file section into the runtime client
// config. Unset fields stay zero and pick up the package defaults.
func ClamdClientConfig(cfg ClamdConfig) (clamd.Config, error) {
	out := clamd.Config{
		Network:       cfg.Network,
		Address:       cfg.Address,
		ChunkSize:     cfg.ChunkSize,
		MaxReplyBytes: cfg.MaxReplyBytes,
	}
	var err error
	if out.DialTimeout, err = parseDuration("clamd.dial_timeout", cfg.DialTimeout); err != nil {
		return clamd.Config{}, err
	}
	if out.ReadTimeout, err = parseDuration("clamd.read_timeout", cfg.ReadTimeout); err != nil {
		return clamd.Config{}, err
	}
	if out.WriteTimeout, err = parseDuration("clamd.write_timeout", cfg.WriteTimeout); err != nil {
		return clamd.Config{}, err
	}
	return out, nil
}

// GatewayServiceConfig converts the top-level gateway fields.
func GatewayServiceConfig(cfg GatewayConfig) (gateway.Config, error) {
	out := gateway.Config{
		ListenAddr:         cfg.ListenAddr,
		ServiceName:        cfg.ServiceName,
		CorsOrigins:        cfg.CorsOrigins,
		APIKey:             cfg.APIKey,
		MaxScanBytes:       cfg.MaxScanBytes,
		DaemonWaitAttempts: cfg.DaemonWaitAttempts,
	}
	var err error
	if out.ShutdownGrace, err = parseDuration("shutdown_grace", cfg.ShutdownGrace); err != nil {
		return gateway.Config{}, err
	}
	return out, nil
}

// RedisCacheConfig converts the cache section for the redis backend.
func RedisCacheConfig(cfg CacheConfig) (scancache.RedisConfig, error) {
	ttl, err := parseDuration("cache.ttl", cfg.TTL)
	if err != nil {
		return scancache.RedisConfig{}, err
	}
	return scancache.RedisConfig{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
		TTL:       ttl,
	}, nil
}

// CacheTTL parses the cache TTL for the memory backend.
func CacheTTL(cfg CacheConfig) (time.Duration, error) {
	return parseDuration("cache.ttl", cfg.TTL)
}

func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}
