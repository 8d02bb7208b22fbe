package handler

import (
	"net/http"

	"storefront/internal/domain/model"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

const (
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

type OrderHandler struct {
	uc *usecase.OrderUsecase
}

// DI
func NewOrderHandler(uc *usecase.OrderUsecase) *OrderHandler {
	return &OrderHandler{uc: uc}
}

type OrderCreateRequest struct {
	Items         []usecase.PlaceOrderItemInput `json:"items"`
	Shipping      model.Shipping                `json:"shipping"`
	PaymentMethod string                        `json:"paymentMethod"`
	Currency      string                        `json:"currency"`
}

func (h *OrderHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/orders")
	g.POST("", h.create)
	g.GET("/:id", h.detail)
}

func (h *OrderHandler) create(c echo.Context) error {
	var req OrderCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	//二重送信防止キーはヘッダーから受け取る（bodyには入れない）
	idemKey := c.Request().Header.Get(HeaderIdempotencyKey)

	out, replayed, err := h.uc.PlaceOrder(c.Request().Context(), usecase.PlaceOrderInput{
		Items:          req.Items,
		Shipping:       req.Shipping,
		PaymentMethod:  req.PaymentMethod,
		Currency:       req.Currency,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		return writeError(c, err)
	}

	if replayed {
		c.Response().Header().Set(HeaderReplayed, "true")
		return c.JSON(http.StatusOK, out)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *OrderHandler) detail(c echo.Context) error {
	out, err := h.uc.GetOrderDetail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
