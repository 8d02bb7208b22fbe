package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"storefront/internal/bot"
	"storefront/internal/config"
	"storefront/internal/logger"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.NewForEnvironment(cfg.GoEnv, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.ValidateBot(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := bot.NewLauncher(cfg.Bot.Token, cfg.Bot.WebAppURL, log)
	if err != nil {
		log.Fatal("bot init failed", zap.Error(err))
	}
	l.Run(ctx)
}
