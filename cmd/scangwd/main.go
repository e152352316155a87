package main

import (
	"flag"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/clamctl/internal/clamd"
	"github.com/danmuck/clamctl/internal/config"
	"github.com/danmuck/clamctl/internal/gateway"
	"github.com/danmuck/clamctl/internal/logging"
	"github.com/danmuck/clamctl/internal/scancache"
)

func main() {
	configPath := flag.String("config", "cmd/scangwd/config.toml", "gateway config path")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, err := config.LoadGatewayConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load gateway config")
	}
	log.Info().Str("path", *configPath).Msg("loaded gateway config")

	clientCfg, err := config.ClamdClientConfig(cfg.Clamd)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid clamd section")
	}
	clientLog := logging.Component("clamd")
	clientCfg.Logger = &clientLog
	scanner := clamd.New(clientCfg)
	defer scanner.Close()

	var cache scancache.Cache
	switch cfg.Cache.Backend {
	case "redis":
		redisCfg, err := config.RedisCacheConfig(cfg.Cache)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid cache section")
		}
		cache = scancache.NewRedis(redisCfg, log.Logger)
	case "memory":
		ttl, err := config.CacheTTL(cfg.Cache)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid cache section")
		}
		cache = scancache.NewMemory(ttl)
	}
	if cache != nil {
		defer cache.Close()
	}

	var events gateway.Publisher
	if cfg.Events.URL != "" {
		pub, err := gateway.NewNATSPublisher(cfg.Events.URL, cfg.Events.SubjectPrefix, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect event bus")
		}
		defer pub.Close()
		events = pub
	}

	svcCfg, err := config.GatewayServiceConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid gateway config")
	}
	svc := gateway.NewService(svcCfg, scanner, cache, events, log.Logger)
	if err := svc.Run(); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
}
