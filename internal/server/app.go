package server

import (
	"context"
	"time"

	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/handler"
	infraRepo "storefront/internal/infra/repository"
	"storefront/internal/metrics"
	"storefront/internal/session"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type APIDeps struct {
	DB        *gorm.DB
	Cache     usecase.ProductCache // nil ならキャッシュ無し
	JWTSecret string
	Currency  string
	FEURL     string
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// NewAPI は api（商品・注文）の echo を組み立てる。
func NewAPI(d APIDeps) *echo.Echo {
	//Repository（GORM実装）生成
	productRepo := infraRepo.NewProductGormRepository(d.DB)
	orderRepo := infraRepo.NewOrderGormRepository(d.DB)
	orderItemRepo := infraRepo.NewOrderItemGormRepository(d.DB)
	auditRepo := infraRepo.NewAuditLogGormRepository(d.DB)
	txm := infraRepo.NewTxManagerGorm(d.DB)

	//Usecase生成
	productUC := usecase.NewProductUsecase(productRepo, auditRepo, txm, d.Cache, d.Logger, d.Metrics)
	orderUC := usecase.NewOrderUsecase(txm, orderRepo, orderItemRepo, productRepo, d.Currency, d.Logger, d.Metrics)
	adminOrderUC := usecase.NewAdminOrderUsecase(txm)

	e := New(Options{
		Logger:      d.Logger,
		Metrics:     d.Metrics,
		AllowOrigin: d.FEURL,
		Health:      pingDB(d.DB),
	})

	//Handler生成
	RegisterAPIRoutes(e, APIHandlers{
		Products:      handler.NewProductHandler(productUC),
		AdminProducts: handler.NewAdminProductHandler(productUC),
		Orders:        handler.NewOrderHandler(orderUC),
		AdminOrders:   handler.NewAdminOrderHandler(adminOrderUC),
	}, d.JWTSecret)
	return e
}

func pingDB(gdb *gorm.DB) HealthCheck {
	return func(ctx context.Context) error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

type StorefrontDeps struct {
	Catalog   *catalog.Client
	Sessions  *session.Registry
	Placer    checkout.OrderPlacer
	Currency  string
	KeepAlive time.Duration
	FEURL     string
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// NewStorefront は WebApp 向け（セッション・カート・購入）の echo を組み立てる。
func NewStorefront(d StorefrontDeps) *echo.Echo {
	checkoutSvc := checkout.NewService(d.Placer, d.Currency, d.Logger, d.Metrics)
	cartUC := usecase.NewCartUsecase(d.Catalog, d.Sessions, checkoutSvc, d.Logger, d.Metrics)

	e := New(Options{
		Logger:      d.Logger,
		Metrics:     d.Metrics,
		AllowOrigin: d.FEURL,
	})
	RegisterStorefrontRoutes(e, handler.NewCartHandler(cartUC, d.KeepAlive), d.Sessions.Allow)
	return e
}
