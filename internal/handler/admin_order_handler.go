package handler

import (
	"net/http"
	"strconv"

	"storefront/internal/middleware"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

type AdminOrderHandler struct {
	uc *usecase.AdminOrderUsecase
}

// DI
func NewAdminOrderHandler(uc *usecase.AdminOrderUsecase) *AdminOrderHandler {
	return &AdminOrderHandler{uc: uc}
}

type OrderListResponse struct {
	Items []usecase.OrderOutput `json:"items"`
	Total int64                 `json:"total"`
	Page  int                   `json:"page"`
	Limit int                   `json:"limit"`
}

func (h *AdminOrderHandler) RegisterRoutes(e *echo.Echo, jwtSecret string) {
	admin := e.Group("/api/admin")
	admin.Use(middleware.AuthJWT(jwtSecret))
	admin.Use(middleware.AdminRoleGuard())

	admin.GET("/orders", h.list)
	admin.PUT("/orders/:id/status", h.updateStatus)
}

func (h *AdminOrderHandler) list(c echo.Context) error {
	page := 1
	if v := c.QueryParam("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid page"})
		}
		page = p
	}

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
		}
		limit = l
	}

	f, err := usecase.NewOrderListFilter(page, limit, c.QueryParam("status"), c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return writeError(c, err)
	}

	items, total, err := h.uc.List(c.Request().Context(), f)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, OrderListResponse{Items: items, Total: total, Page: page, Limit: limit})
}

func (h *AdminOrderHandler) updateStatus(c echo.Context) error {
	var req usecase.AdminUpdateOrderStatusInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	// 操作した管理者（監査ログ用）
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	if err := h.uc.UpdateStatus(c.Request().Context(), actor, c.Param("id"), req); err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, SuccessResponse{Message: "updated"})
}
