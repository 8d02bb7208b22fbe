// Package server は api / storefront 共通の echo サーバ（ミドルウェア・起動・終了）。
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"storefront/internal/metrics"
	"storefront/internal/middleware"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 30 * time.Second
	bodyLimit       = "1M"
)

// ヘルスチェック（DB ping など）。nil なら常に ok。
type HealthCheck func(ctx context.Context) error

type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// CORS の許可オリジン（WebAppのURL）。空なら全許可。
	AllowOrigin string
	Health      HealthCheck
}

// New は共通ミドルウェアと /healthz, /metrics を載せた echo を返す。
func New(opts Options) *echo.Echo {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.RecoverWithConfig(echomw.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			opts.Logger.Error("panic recovered", zap.Error(err), zap.ByteString("stack", stack))
			return err
		},
	}))
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(opts.Logger))
	if opts.Metrics != nil {
		e.Use(opts.Metrics.Middleware())
	}
	e.Use(echomw.BodyLimit(bodyLimit))

	origins := []string{"*"}
	if opts.AllowOrigin != "" {
		origins = []string{opts.AllowOrigin}
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  origins,
		AllowHeaders:  []string{echo.HeaderContentType, echo.HeaderAuthorization, middleware.HeaderSessionID, "X-Idempotency-Key"},
		ExposeHeaders: []string{middleware.HeaderSessionID, "X-Catalog-Stale", "X-Catalog-Error", "Idempotent-Replayed"},
	}))

	e.GET("/healthz", healthHandler(opts.Health, opts.Logger))
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics.Handler()))
	}
	return e
}

func healthHandler(check HealthCheck, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if check != nil {
			if err := check(c.Request().Context()); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				return c.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"time":   time.Now().Format(time.RFC3339),
				})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	}
}

// Run は ctx が終わるまで待ち受け、終わったら graceful shutdown する。
func Run(ctx context.Context, e *echo.Echo, addr string, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	logger.Info("server exited gracefully")
	return nil
}
