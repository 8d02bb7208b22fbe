package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/config"
	"storefront/internal/logger"
	"storefront/internal/metrics"
	"storefront/internal/server"
	"storefront/internal/session"

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

	if err := cfg.ValidateStorefront(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New("storefront")

	client := catalog.NewClient(catalog.Options{
		BaseURL:    cfg.Catalog.BaseURL,
		TTL:        cfg.Catalog.TTL,
		ServeStale: cfg.Catalog.ServeStale,
		Retries:    cfg.Catalog.Retries,
		Timeout:    cfg.Catalog.Timeout,
		Logger:     log.Named("catalog"),
		Metrics:    m,
	})

	sessions := session.NewRegistry(session.Options{
		IdleTTL:         cfg.Session.IdleTTL,
		MaxLineQuantity: cfg.Session.MaxLineQuantity,
		RateLimit:       cfg.HTTP.RateLimit,
		RateBurst:       cfg.HTTP.RateBurst,
		Logger:          log.Named("session"),
		Metrics:         m,
	})
	defer sessions.Close()

	var placer checkout.OrderPlacer = checkout.NewLocalPlacer()
	if cfg.Checkout.Placer == "http" {
		placer = checkout.NewHTTPPlacer(cfg.Checkout.APIURL, &http.Client{Timeout: cfg.Checkout.Timeout})
	}
	log.Info("checkout placer", zap.String("mode", cfg.Checkout.Placer))

	e := server.NewStorefront(server.StorefrontDeps{
		Catalog:  client,
		Sessions: sessions,
		Placer:   placer,
		Currency: cfg.Checkout.Currency,
		FEURL:    cfg.FEURL,
		Logger:   log,
		Metrics:  m,
	})

	if err := server.Run(ctx, e, cfg.Addr(), log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
