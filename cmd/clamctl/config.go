package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/clamctl/internal/clamd"
)

type fileConfig struct {
	Network       string `toml:"network"`
	Address       string `toml:"address"`
	DialTimeout   string `toml:"dial_timeout"`
	ReadTimeout   string `toml:"read_timeout"`
	WriteTimeout  string `toml:"write_timeout"`
	ChunkSize     int    `toml:"chunk_size"`
	MaxReplyBytes int    `toml:"max_reply_bytes"`
}

// loadClientConfig layers the file over the package defaults. Only keys
// actually present in the file override; a blank value keeps the default.
func loadClientConfig(path string) (clamd.Config, error) {
	cfg := clamd.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return clamd.Config{}, fmt.Errorf("load clamctl config: %w", err)
	}

	if meta.IsDefined("network") {
		if v := strings.TrimSpace(raw.Network); v != "" {
			cfg.Network = v
		}
	}

	if meta.IsDefined("address") {
		if v := strings.TrimSpace(raw.Address); v != "" {
			cfg.Address = v
		}
	}

	if meta.IsDefined("dial_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DialTimeout))
		if err != nil {
			return clamd.Config{}, fmt.Errorf("parse dial_timeout: %w", err)
		}
		cfg.DialTimeout = d
	}

	if meta.IsDefined("read_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReadTimeout))
		if err != nil {
			return clamd.Config{}, fmt.Errorf("parse read_timeout: %w", err)
		}
		cfg.ReadTimeout = d
	}

	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return clamd.Config{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.WriteTimeout = d
	}

	if meta.IsDefined("chunk_size") {
		cfg.ChunkSize = raw.ChunkSize
	}

	if meta.IsDefined("max_reply_bytes") {
		cfg.MaxReplyBytes = raw.MaxReplyBytes
	}

	if err := cfg.Validate(); err != nil {
		return clamd.Config{}, err
	}
	return cfg, nil
}
