package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"storefront/internal/checkout"
	"storefront/internal/domain/cart"
	"storefront/internal/domain/model"
	"storefront/internal/middleware"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

const (
	HeaderCatalogStale = "X-Catalog-Stale"
	HeaderCatalogError = "X-Catalog-Error"

	defaultKeepAlive = 15 * time.Second
)

// CartHandler は storefront の /session 配下（商品一覧・カート・購入）。
type CartHandler struct {
	uc        *usecase.CartUsecase
	keepAlive time.Duration
}

// DI
func NewCartHandler(uc *usecase.CartUsecase, keepAlive time.Duration) *CartHandler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &CartHandler{uc: uc, keepAlive: keepAlive}
}

// allow はセッションごとの書き込みレート制限（nil なら無制限）
func (h *CartHandler) RegisterRoutes(e *echo.Echo, allow func(sessionID string) bool) {
	g := e.Group("/session", middleware.SessionID())
	if allow != nil {
		g.Use(middleware.SessionRateLimit(allow))
	}

	g.GET("/products", h.products)
	g.GET("/cart", h.getCart)
	g.POST("/cart/items", h.addItem)
	g.DELETE("/cart/items/:productId", h.removeItem)
	g.DELETE("/cart", h.clear)
	g.GET("/cart/events", h.events)
	g.POST("/checkout", h.checkout)
}

func (h *CartHandler) products(c echo.Context) error {
	out, err := h.uc.ListProducts(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}

	if out.Stale {
		c.Response().Header().Set(HeaderCatalogStale, "true")
	}
	if out.Unavailable {
		// 「商品がありません」表示用
		c.Response().Header().Set(HeaderCatalogError, "decode")
	}
	return c.JSON(http.StatusOK, out.Products)
}

func (h *CartHandler) getCart(c echo.Context) error {
	snap, err := h.uc.GetCart(middleware.SessionIDFromContext(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *CartHandler) addItem(c echo.Context) error {
	var req usecase.AddCartItemInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	snap, err := h.uc.AddItem(c.Request().Context(), middleware.SessionIDFromContext(c), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// ?size= があればその行だけ、無ければその商品の全サイズを消す
func (h *CartHandler) removeItem(c echo.Context) error {
	var size *string
	if _, ok := c.QueryParams()["size"]; ok {
		s := c.QueryParam("size")
		size = &s
	}

	snap, err := h.uc.RemoveItem(middleware.SessionIDFromContext(c), model.ProductID(c.Param("productId")), size)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *CartHandler) clear(c echo.Context) error {
	snap, err := h.uc.Clear(middleware.SessionIDFromContext(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *CartHandler) checkout(c echo.Context) error {
	var req checkout.Details
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	receipt, err := h.uc.Checkout(c.Request().Context(), middleware.SessionIDFromContext(c), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, receipt)
}

// events はカートの変更を Server-Sent Events で流す。最初に現在のスナップショットを送る。
func (h *CartHandler) events(c echo.Context) error {
	sid := middleware.SessionIDFromContext(c)

	// 先に購読してから現在値を取る（取りこぼし防止）
	updates, done, unsubscribe, err := h.uc.Subscribe(sid)
	if err != nil {
		return writeError(c, err)
	}
	defer unsubscribe()

	current, err := h.uc.GetCart(sid)
	if err != nil {
		return writeError(c, err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSnapshotEvent(w, current); err != nil {
		return nil
	}
	last := current.Version

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			// セッションが期限切れ
			_, _ = fmt.Fprint(w, "event: closed\ndata: {}\n\n")
			w.Flush()
			return nil
		case snap := <-updates:
			if snap.Version <= last {
				continue
			}
			last = snap.Version
			if err := writeSnapshotEvent(w, snap); err != nil {
				return nil
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeSnapshotEvent(w *echo.Response, snap cart.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: cart\ndata: %s\n\n", snap.Version, b); err != nil {
		return err
	}
	w.Flush()
	return nil
}
