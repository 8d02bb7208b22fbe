package server

import (
	"storefront/internal/handler"

	"github.com/labstack/echo/v4"
)

// api のハンドラ一式
type APIHandlers struct {
	Products      *handler.ProductHandler
	AdminProducts *handler.AdminProductHandler
	Orders        *handler.OrderHandler
	AdminOrders   *handler.AdminOrderHandler
}

func RegisterAPIRoutes(e *echo.Echo, h APIHandlers, jwtSecret string) {
	h.Products.RegisterRoutes(e)
	h.AdminProducts.RegisterRoutes(e, jwtSecret)
	h.Orders.RegisterRoutes(e)
	h.AdminOrders.RegisterRoutes(e, jwtSecret)
}

// allow はセッションごとのレート制限（nil なら無制限）
func RegisterStorefrontRoutes(e *echo.Echo, cartH *handler.CartHandler, allow func(sessionID string) bool) {
	cartH.RegisterRoutes(e, allow)
}
