package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"storefront/internal/config"
	"storefront/internal/infra/cache"
	"storefront/internal/infra/db"
	"storefront/internal/logger"
	"storefront/internal/metrics"
	"storefront/internal/server"
	"storefront/internal/usecase"

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

	if err := cfg.ValidateAPI(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//DB接続
	gormDB, err := db.Connect(cfg.Database.DSN())
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	if err := db.Migrate(gormDB); err != nil {
		log.Fatal("db migrate failed", zap.Error(err))
	}

	//Redis（任意）
	var productCache usecase.ProductCache
	rdb, err := cache.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		log.Fatal("redis connect failed", zap.Error(err))
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		productCache = cache.NewProductListCache(rdb, cfg.Redis.TTL)
		log.Info("product cache enabled", zap.Duration("ttl", cfg.Redis.TTL))
	}

	e := server.NewAPI(server.APIDeps{
		DB:        gormDB,
		Cache:     productCache,
		JWTSecret: cfg.JWT.Secret,
		Currency:  cfg.Checkout.Currency,
		FEURL:     cfg.FEURL,
		Logger:    log,
		Metrics:   metrics.New("api"),
	})

	if err := server.Run(ctx, e, cfg.Addr(), log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
