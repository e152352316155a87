package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// GatewayConfig is the scangwd configuration file. Durations are TOML
// strings in time.ParseDuration form; conversion to runtime configs
// happens in convert.go.
type GatewayConfig struct {
	ServiceName        string   `toml:"service_name"`
	ListenAddr         string   `toml:"listen_addr"`
	APIKey             string   `toml:"api_key"`
	CorsOrigins        []string `toml:"cors_origins"`
	MaxScanBytes       int64    `toml:"max_scan_bytes"`
	ShutdownGrace      string   `toml:"shutdown_grace"`
	DaemonWaitAttempts int      `toml:"daemon_wait_attempts"`

	Clamd  ClamdConfig  `toml:"clamd"`
	Cache  CacheConfig  `toml:"cache"`
	Events EventsConfig `toml:"events"`
}

// ClamdConfig locates the scanning daemon and bounds the conversation
// with it.
type ClamdConfig struct {
	Network       string `toml:"network"`
	Address       string `toml:"address"`
	DialTimeout   string `toml:"dial_timeout"`
	ReadTimeout   string `toml:"read_timeout"`
	WriteTimeout  string `toml:"write_timeout"`
	ChunkSize     int    `toml:"chunk_size"`
	MaxReplyBytes int    `toml:"max_reply_bytes"`
}

// CacheConfig selects the verdict cache backend.
type CacheConfig struct {
	Backend string      `toml:"backend"`
	TTL     string      `toml:"ttl"`
	Redis   RedisConfig `toml:"redis"`
}

type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

// EventsConfig enables verdict event publishing when URL is set.
type EventsConfig struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

func LoadGatewayConfig(path string) (GatewayConfig, error) {
	var cfg GatewayConfig
	if err := loadToml(path, &cfg); err != nil {
		return GatewayConfig{}, err
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "scangwd"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8090"
	}
	if cfg.Clamd.Network == "" {
		cfg.Clamd.Network = "tcp"
	}
	if cfg.Clamd.Address == "" {
		cfg.Clamd.Address = "127.0.0.1:3310"
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if err := ValidateGatewayConfig(cfg); err != nil {
		return GatewayConfig{}, err
	}
	return cfg, nil
}

// LoadClientConfig reads a flat clamctl client file: the ClamdConfig
// fields at top level.
func LoadClientConfig(path string) (ClamdConfig, error) {
	var cfg ClamdConfig
	if err := loadToml(path, &cfg); err != nil {
		return ClamdConfig{}, err
	}
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:3310"
	}
	if err := ValidateClamdConfig(cfg); err != nil {
		return ClamdConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateGatewayConfig(cfg GatewayConfig) error {
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return fmt.Errorf("gateway config missing service_name")
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("gateway config missing listen_addr")
	}
	if err := ValidateClamdConfig(cfg.Clamd); err != nil {
		return fmt.Errorf("clamd section invalid: %w", err)
	}
	switch cfg.Cache.Backend {
	case "memory", "none":
	case "redis":
		if strings.TrimSpace(cfg.Cache.Redis.Addr) == "" {
			return fmt.Errorf("cache.redis.addr required for redis backend")
		}
	default:
		return fmt.Errorf("unknown cache backend: %s", cfg.Cache.Backend)
	}
	return nil
}

func ValidateClamdConfig(cfg ClamdConfig) error {
	switch cfg.Network {
	case "tcp", "unix":
	default:
		return fmt.Errorf("network must be tcp or unix, got %q", cfg.Network)
	}
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("addr is required")
	}
	return nil
}
