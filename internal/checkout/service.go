// Package checkout はカートを注文として送信する。
package checkout

import (
	"context"
	"errors"
	"strconv"
	"time"

	"storefront/internal/domain/cart"
	"storefront/internal/domain/model"
	"storefront/internal/metrics"
	"storefront/internal/validator"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 冪等キーの名前空間（セッションID + ストアID + カートバージョンから決定的に作る）
var idempotencyNamespace = uuid.MustParse("5b3e2f0c-6f5c-4b8e-9a57-3f1d2c7e8a10")

// Details は購入者が入力する配送先と支払い方法。
type Details struct {
	Shipping      model.Shipping `json:"shipping"`
	PaymentMethod string         `json:"paymentMethod" validate:"required,max=32"`
}

// Order は placer に渡す注文内容。
type Order struct {
	IdempotencyKey string
	SessionID      string
	Items          []cart.LineItem
	TotalQuantity  int64
	TotalPrice     decimal.Decimal
	Currency       string
	Details        Details
}

type Receipt struct {
	OrderID        string            `json:"orderId"`
	Status         model.OrderStatus `json:"status"`
	Items          []cart.LineItem   `json:"items"`
	TotalQuantity  int64             `json:"totalQuantity"`
	TotalPrice     decimal.Decimal   `json:"totalPrice"`
	Currency       string            `json:"currency"`
	IdempotencyKey string            `json:"idempotencyKey"`
	PlacedAt       time.Time         `json:"placedAt"`
}

// OrderPlacer は注文を受け付ける相手（ローカル確認 / api 送信）。
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, o Order) (Receipt, error)
}

// Cart はチェックアウトが使うカート操作。*cart.Store が満たす。
type Cart interface {
	BeginCheckout() (cart.Snapshot, func(), error)
	Settle(submitted cart.Snapshot) cart.Snapshot
}

type Service struct {
	placer   OrderPlacer
	currency string
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// DI
func NewService(placer OrderPlacer, currency string, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{placer: placer, currency: currency, logger: logger, metrics: m}
}

// Submit はカートを送信し、成功したら送信分をカートから差し引く（同時追加が無ければ空）。
func (s *Service) Submit(ctx context.Context, sessionID string, c Cart, d Details) (Receipt, error) {
	snap, release, err := c.BeginCheckout()
	defer release()
	if err != nil {
		if errors.Is(err, cart.ErrCheckoutInProgress) {
			return s.fail("in_progress", &CheckoutError{Kind: ErrInProgress})
		}
		return s.fail(metrics.ResultError, &CheckoutError{Kind: ErrPlacement, Err: err})
	}

	if snap.IsEmpty() {
		return s.fail(metrics.ResultEmpty, &CheckoutError{Kind: ErrEmptyCart})
	}
	if err := validator.Struct(d); err != nil {
		return s.fail(metrics.ResultInvalid, &CheckoutError{Kind: ErrInvalidDetails, Err: err})
	}

	order := Order{
		IdempotencyKey: IdempotencyKey(sessionID, snap.StoreID, snap.Version),
		SessionID:      sessionID,
		Items:          snap.Items,
		TotalQuantity:  snap.TotalQuantity,
		TotalPrice:     snap.TotalPrice,
		Currency:       s.currency,
		Details:        d,
	}

	receipt, err := s.placer.PlaceOrder(ctx, order)
	if err != nil {
		s.logger.Warn("order placement failed",
			zap.String("session_id", sessionID),
			zap.String("idempotency_key", order.IdempotencyKey),
			zap.Error(err),
		)
		return s.fail(metrics.ResultError, &CheckoutError{Kind: ErrPlacement, Err: err})
	}

	c.Settle(snap)
	s.metrics.CheckoutSubmission(metrics.ResultOK)
	s.logger.Info("checkout submitted",
		zap.String("session_id", sessionID),
		zap.String("order_id", receipt.OrderID),
		zap.Int64("quantity", snap.TotalQuantity),
		zap.String("total", snap.TotalPrice.String()),
	)
	return receipt, nil
}

func (s *Service) fail(result string, err *CheckoutError) (Receipt, error) {
	s.metrics.CheckoutSubmission(result)
	return Receipt{}, err
}

// IdempotencyKey は同じストアの同じカート版なら同じ値になる。
// ストアを作り直すとバージョンは0からやり直すので、ストアIDも混ぜる。
func IdempotencyKey(sessionID, storeID string, version uint64) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(sessionID+":"+storeID+":"+strconv.FormatUint(version, 10))).String()
}
