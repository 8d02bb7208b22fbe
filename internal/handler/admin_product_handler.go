package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/middleware"
	"storefront/internal/repository"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 在庫フラグ更新の入力
type StockUpdateRequest struct {
	InStock *bool `json:"inStock"`
}

// /api/products の書き込みと監査ログ（管理者のみ）
type AdminProductHandler struct {
	uc *usecase.ProductUsecase
}

// DI
func NewAdminProductHandler(uc *usecase.ProductUsecase) *AdminProductHandler {
	return &AdminProductHandler{uc: uc}
}

// adminを登録
func (h *AdminProductHandler) RegisterRoutes(e *echo.Echo, jwtSecret string) {
	guard := []echo.MiddlewareFunc{middleware.AuthJWT(jwtSecret), middleware.AdminRoleGuard()}

	e.POST("/api/products", h.createProduct, guard...)
	e.PUT("/api/products/:id", h.updateProduct, guard...)
	e.DELETE("/api/products/:id", h.deleteProduct, guard...)
	e.PUT("/api/products/:id/stock", h.updateStock, guard...)

	admin := e.Group("/api/admin", guard...)
	admin.GET("/audit-logs", h.listAuditLogs)
}

func (h *AdminProductHandler) createProduct(c echo.Context) error {
	var req usecase.ProductInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	p, err := h.uc.AdminCreateProduct(c.Request().Context(), actor, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *AdminProductHandler) updateProduct(c echo.Context) error {
	var req usecase.ProductInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	p, err := h.uc.AdminUpdateProduct(c.Request().Context(), actor, model.ProductID(c.Param("id")), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *AdminProductHandler) deleteProduct(c echo.Context) error {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	if err := h.uc.AdminDeleteProduct(c.Request().Context(), actor, model.ProductID(c.Param("id"))); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

func (h *AdminProductHandler) updateStock(c echo.Context) error {
	var req StockUpdateRequest
	if err := c.Bind(&req); err != nil || req.InStock == nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	if err := h.uc.AdminSetInStock(c.Request().Context(), actor, model.ProductID(c.Param("id")), *req.InStock); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Message: "updated"})
}

func (h *AdminProductHandler) listAuditLogs(c echo.Context) error {
	f := repository.AuditLogFilter{
		Actor:      strings.TrimSpace(c.QueryParam("actor")),
		ResourceID: strings.TrimSpace(c.QueryParam("resource_id")),
		Limit:      50,
	}

	if v := c.QueryParam("action"); v != "" {
		a := model.AuditAction(v)
		f.Action = &a
	}
	if v := c.QueryParam("resource_type"); v != "" {
		rt := model.AuditResourceType(v)
		f.ResourceType = &rt
	}
	if v := c.QueryParam("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
		}
		f.Limit = l
	}
	if v := c.QueryParam("offset"); v != "" {
		o, err := strconv.Atoi(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid offset"})
		}
		f.Offset = o
	}
	if v := c.QueryParam("from"); v != "" {
		tm, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid from"})
		}
		f.CreatedFrom = &tm
	}
	if v := c.QueryParam("to"); v != "" {
		tm, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid to"})
		}
		f.CreatedTo = &tm
	}

	logs, err := h.uc.AdminListAuditLogs(c.Request().Context(), f)
	if err != nil {
		return writeError(c, err)
	}
	if logs == nil {
		logs = []model.AuditLog{}
	}
	return c.JSON(http.StatusOK, logs)
}
