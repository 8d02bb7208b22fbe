package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storefront/internal/domain/cart"
	"storefront/internal/domain/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LocalPlacer はその場で受け付けたことにする（api を呼ばない）。
type LocalPlacer struct {
	Now func() time.Time
}

func NewLocalPlacer() *LocalPlacer {
	return &LocalPlacer{Now: time.Now}
}

func (p *LocalPlacer) PlaceOrder(ctx context.Context, o Order) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	// 同じ冪等キーなら同じ注文ID
	id := uuid.NewSHA1(idempotencyNamespace, []byte("order:"+o.IdempotencyKey)).String()
	return Receipt{
		OrderID:        id,
		Status:         model.OrderStatusAcknowledged,
		Items:          o.Items,
		TotalQuantity:  o.TotalQuantity,
		TotalPrice:     o.TotalPrice,
		Currency:       o.Currency,
		IdempotencyKey: o.IdempotencyKey,
		PlacedAt:       p.Now(),
	}, nil
}

const (
	ordersPath        = "/api/orders"
	idempotencyHeader = "X-Idempotency-Key"
	maxResponseBytes  = 1 << 20
)

// HTTPPlacer は api の POST /api/orders に送る。価格は api 側で確定する。
type HTTPPlacer struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// DI
func NewHTTPPlacer(baseURL string, client *http.Client) *HTTPPlacer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPPlacer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		now:     time.Now,
	}
}

type orderItemRequest struct {
	ProductID model.ProductID `json:"productId"`
	Quantity  int64           `json:"quantity"`
	Size      string          `json:"size,omitempty"`
}

type orderRequest struct {
	Items         []orderItemRequest `json:"items"`
	Shipping      model.Shipping     `json:"shipping"`
	PaymentMethod string             `json:"paymentMethod"`
	Currency      string             `json:"currency,omitempty"`
}

type orderResponse struct {
	OrderID    string            `json:"orderId"`
	Status     model.OrderStatus `json:"status"`
	TotalPrice decimal.Decimal   `json:"totalPrice"`
	Currency   string            `json:"currency"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (p *HTTPPlacer) PlaceOrder(ctx context.Context, o Order) (Receipt, error) {
	body := orderRequest{
		Items:         make([]orderItemRequest, 0, len(o.Items)),
		Shipping:      o.Details.Shipping,
		PaymentMethod: o.Details.PaymentMethod,
		Currency:      o.Currency,
	}
	for _, it := range o.Items {
		body.Items = append(body.Items, orderItemRequest{
			ProductID: it.Product.ID,
			Quantity:  it.Quantity,
			Size:      it.Size,
		})
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+ordersPath, bytes.NewReader(raw))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotencyHeader, o.IdempotencyKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("post order: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Receipt{}, fmt.Errorf("read order response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		var er errorResponse
		_ = json.Unmarshal(data, &er)
		return Receipt{}, &PlacementError{StatusCode: resp.StatusCode, Message: er.Error}
	}

	var out orderResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Receipt{}, fmt.Errorf("decode order response: %w", err)
	}
	if out.OrderID == "" {
		return Receipt{}, fmt.Errorf("decode order response: missing orderId")
	}

	currency := out.Currency
	if currency == "" {
		currency = o.Currency
	}
	return Receipt{
		OrderID:        out.OrderID,
		Status:         out.Status,
		Items:          append([]cart.LineItem(nil), o.Items...),
		TotalQuantity:  o.TotalQuantity,
		TotalPrice:     out.TotalPrice,
		Currency:       currency,
		IdempotencyKey: o.IdempotencyKey,
		PlacedAt:       p.now(),
	}, nil
}
