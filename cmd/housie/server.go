package main

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/housielabs/housie-server/cmd/housie/shared"
	"github.com/housielabs/housie-server/internal/game"
	"github.com/housielabs/housie-server/internal/server"
	"github.com/housielabs/housie-server/internal/settlement"
)

// ServerCmd contains core server configuration
type ServerCmd struct {
	Config              string `kong:"default='housie.hcl',help='Path to the HCL config file'"`
	Addr                string `kong:"help='Override the listen address from the config'"`
	Debug               bool   `kong:"help='Enable debug logging'"`
	Seed                *int64 `kong:"help='Deterministic RNG seed for the server (optional)'"`
	CallIntervalSeconds int    `kong:"help='Override seconds between number calls'"`
	RequiredPlayers     int    `kong:"help='Override seats needed to start a free room'"`
	RedisAddr           string `kong:"help='Override the redis address (enables redis wallets)'"`
}

func (c *ServerCmd) Run() error {
	cfg, err := server.LoadServerConfig(c.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.CallIntervalSeconds > 0 {
		cfg.Game.CallIntervalSeconds = c.CallIntervalSeconds
	}
	if c.RequiredPlayers > 0 {
		cfg.Game.RequiredPlayers = c.RequiredPlayers
	}
	if c.RedisAddr != "" {
		if cfg.Redis == nil {
			cfg.Redis = &server.RedisSettings{}
		}
		cfg.Redis.Addr = c.RedisAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := shared.SetupLogger(cfg.Server.LogLevel, c.Debug)

	addr := cfg.GetServerAddress()
	if c.Addr != "" {
		addr = c.Addr
	}

	var seed int64
	if c.Seed != nil {
		seed = *c.Seed
		logger.Info("Using deterministic seed", "seed", seed)
	} else {
		seed = time.Now().UnixNano()
		logger.Info("Using random seed", "seed", seed)
	}

	ctx := shared.SetupSignalHandlerWithLogger(logger)

	var ledger settlement.Ledger
	var history settlement.History
	if cfg.Redis != nil {
		client, err := settlement.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() { _ = client.Close() }()
		logger.Info("Using redis wallets", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
		ledger = settlement.NewRedisLedger(client, cfg.Game.DefaultCoins)
		history = settlement.NewRedisHistory(client)
	} else {
		logger.Info("Using in-memory wallets", "default_coins", cfg.Game.DefaultCoins)
		ledger = settlement.NewMemoryLedger(cfg.Game.DefaultCoins)
		history = settlement.NewMemoryHistory()
	}

	registry := game.NewRegistry(seed)
	svc := server.NewGameService(registry, ledger, history, quartz.NewReal(), logger,
		server.WithCallInterval(time.Duration(cfg.Game.CallIntervalSeconds)*time.Second),
		server.WithRequiredPlayers(cfg.Game.RequiredPlayers),
	)
	svc.Start(ctx)

	s := server.NewServer(addr, logger, svc)

	logger.Info("Starting housie server",
		"address", addr,
		"call_interval_seconds", cfg.Game.CallIntervalSeconds,
		"required_players", cfg.Game.RequiredPlayers,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		svc.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	})
	return g.Wait()
}
