package handler

import (
	"net/http"
	"strconv"

	"storefront/internal/domain/model"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

// /api/products の公開API
type ProductHandler struct {
	uc *usecase.ProductUsecase
}

// DI
func NewProductHandler(uc *usecase.ProductUsecase) *ProductHandler {
	return &ProductHandler{uc: uc}
}

// 公開商品のルートを登録
func (h *ProductHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/products", h.list)
	e.GET("/api/products/:id", h.detail)
}

func (h *ProductHandler) list(c echo.Context) error {
	var inStock *bool
	if v := c.QueryParam("in_stock"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid in_stock"})
		}
		inStock = &b
	}

	items, err := h.uc.ListProducts(c.Request().Context(), usecase.ListProductsInput{
		Category: c.QueryParam("category"),
		Q:        c.QueryParam("q"),
		Sort:     c.QueryParam("sort"),
		InStock:  inStock,
	})
	if err != nil {
		return writeError(c, err)
	}

	// WebAppは配列を期待する（null不可）
	if items == nil {
		items = []model.Product{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *ProductHandler) detail(c echo.Context) error {
	p, err := h.uc.GetProductDetail(c.Request().Context(), model.ProductID(c.Param("id")))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}
