package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/metrics"
	repo "storefront/internal/repository"
	"storefront/internal/validator"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/currency"
)

const (
	maxOrderLines    = 100
	maxLineQuantity  = 1000
	priceLookupLimit = 8
)

type OrderUsecase struct {
	tx              repo.TransactionManager
	orders          repo.OrderRepository
	orderItems      repo.OrderItemRepository
	products        repo.ProductRepository
	defaultCurrency string
	logger          *zap.Logger
	metrics         *metrics.Metrics
}

// DI
func NewOrderUsecase(
	tx repo.TransactionManager,
	orders repo.OrderRepository,
	orderItems repo.OrderItemRepository,
	products repo.ProductRepository,
	defaultCurrency string,
	logger *zap.Logger,
	m *metrics.Metrics,
) *OrderUsecase {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderUsecase{
		tx:              tx,
		orders:          orders,
		orderItems:      orderItems,
		products:        products,
		defaultCurrency: defaultCurrency,
		logger:          logger,
		metrics:         m,
	}
}

type PlaceOrderItemInput struct {
	ProductID model.ProductID `json:"productId"`
	Quantity  int64           `json:"quantity"`
	Size      string          `json:"size"`
}

type PlaceOrderInput struct {
	Items          []PlaceOrderItemInput
	Shipping       model.Shipping
	PaymentMethod  string
	Currency       string
	IdempotencyKey string
}

type OrderItemOutput struct {
	ProductID model.ProductID `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Size      string          `json:"size,omitempty"`
	Quantity  int64           `json:"quantity"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

type OrderOutput struct {
	OrderID       string            `json:"orderId"`
	Status        string            `json:"status"`
	Shipping      model.Shipping    `json:"shipping"`
	PaymentMethod string            `json:"paymentMethod"`
	Currency      string            `json:"currency"`
	TotalPrice    decimal.Decimal   `json:"totalPrice"`
	CreatedAt     time.Time         `json:"createdAt"`
	Items         []OrderItemOutput `json:"items"`
}

// PlaceOrder は注文を確定する。価格はサーバ側の商品から取る（クライアントの値は使わない）。
// 同じ冪等キーなら同じ注文を返す（replayed=true）。
func (u *OrderUsecase) PlaceOrder(ctx context.Context, in PlaceOrderInput) (OrderOutput, bool, error) {
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" || len(key) > 255 {
		return OrderOutput{}, false, NewHTTPError(http.StatusBadRequest, "invalid idempotency key")
	}

	lines, err := normalizeLines(in.Items)
	if err != nil {
		return OrderOutput{}, false, err
	}

	if err := validator.Struct(in.Shipping); err != nil {
		return OrderOutput{}, false, NewHTTPError(http.StatusBadRequest, err.Error())
	}
	payment := strings.TrimSpace(in.PaymentMethod)
	if payment == "" || len(payment) > 32 {
		return OrderOutput{}, false, NewHTTPError(http.StatusBadRequest, "invalid paymentMethod")
	}

	cur := strings.TrimSpace(in.Currency)
	if cur == "" {
		cur = u.defaultCurrency
	}
	unit, err := currency.ParseISO(cur)
	if err != nil {
		return OrderOutput{}, false, NewHTTPError(http.StatusBadRequest, "invalid currency")
	}
	cur = unit.String()
	shipping := trimShipping(in.Shipping)
	hash := requestHash(lines, shipping, payment, cur)

	// 同じキーなら同じ結果（内容が違えば409）
	if out, found, err := u.findByKey(ctx, key, hash); err != nil {
		return OrderOutput{}, false, err
	} else if found {
		u.metrics.OrderPlaced(true)
		return out, true, nil
	}

	products, err := u.resolveProducts(ctx, lines)
	if err != nil {
		return OrderOutput{}, false, err
	}

	//スナップショット
	items := make([]model.OrderItem, 0, len(lines))
	total := decimal.Zero
	for _, l := range lines {
		p := products[l.ProductID]
		if !p.InStock {
			return OrderOutput{}, false, NewHTTPError(http.StatusConflict, fmt.Sprintf("out of stock: %s", p.ID))
		}
		if len(p.Sizes) > 0 && !p.HasSize(l.Size) {
			return OrderOutput{}, false, NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid size for %s", p.ID))
		}
		it := model.OrderItem{
			ProductID:           p.ID,
			ProductNameSnapshot: p.Name,
			UnitPriceSnapshot:   p.Price,
			Size:                l.Size,
			Quantity:            l.Quantity,
		}
		items = append(items, it)
		total = total.Add(it.LineTotal())
	}

	order := model.Order{
		ID:             uuid.NewString(),
		Status:         model.OrderStatusPending,
		Shipping:       shipping,
		PaymentMethod:  payment,
		Currency:       cur,
		TotalPrice:     total,
		IdempotencyKey: key,
		RequestHash:    hash,
		CreatedAt:      time.Now(),
	}

	//注文処理はトランザクション
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if err := r.Orders().Create(ctx, order); err != nil {
			return err
		}
		if err := r.OrderItems().CreateBulk(ctx, order.ID, items); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		return nil
	})
	if errors.Is(err, repo.ErrDuplicate) {
		//競合（同時で同じキーが入った等）はもう一回検索して同じ結果を返す
		out, found, ferr := u.findByKey(ctx, key, hash)
		if ferr != nil {
			return OrderOutput{}, false, ferr
		}
		if found {
			u.metrics.OrderPlaced(true)
			return out, true, nil
		}
		return OrderOutput{}, false, NewHTTPError(http.StatusConflict, "idempotency conflict")
	}
	if err != nil {
		if he, ok := AsHTTPError(err); ok {
			return OrderOutput{}, false, he
		}
		return OrderOutput{}, false, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	u.metrics.OrderPlaced(false)
	u.logger.Info("order placed",
		zap.String("order_id", order.ID),
		zap.Int("lines", len(items)),
		zap.String("total", total.String()),
		zap.String("currency", cur),
	)

	return toOrderOutput(order, items), false, nil
}

func (u *OrderUsecase) GetOrderDetail(ctx context.Context, orderID string) (OrderOutput, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	o, err := u.orders.FindByID(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return OrderOutput{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return OrderOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	items, err := u.orderItems.ListByOrderID(ctx, orderID)
	if err != nil {
		return OrderOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	return toOrderOutput(o, items), nil
}

// findByKey はキーで既存注文を探す。ハッシュが記録済みで一致しなければ 409。
func (u *OrderUsecase) findByKey(ctx context.Context, key, hash string) (OrderOutput, bool, error) {
	existing, found, err := u.orders.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return OrderOutput{}, false, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if !found {
		return OrderOutput{}, false, nil
	}
	if existing.RequestHash != "" && existing.RequestHash != hash {
		u.logger.Warn("idempotency key reused with different request",
			zap.String("order_id", existing.ID),
		)
		return OrderOutput{}, false, NewHTTPError(http.StatusConflict, "idempotency key reused with different request")
	}
	items, err := u.orderItems.ListByOrderID(ctx, existing.ID)
	if err != nil {
		return OrderOutput{}, false, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	return toOrderOutput(existing, items), true, nil
}

// 商品を並行で引く（重複IDは1回だけ）
func (u *OrderUsecase) resolveProducts(ctx context.Context, lines []PlaceOrderItemInput) (map[model.ProductID]model.Product, error) {
	ids := make([]model.ProductID, 0, len(lines))
	seen := make(map[model.ProductID]struct{}, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}

	found := make([]model.Product, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(priceLookupLimit)
	for i, id := range ids {
		g.Go(func() error {
			p, err := u.products.FindByID(gctx, id)
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown product: %s", id))
			}
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			found[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[model.ProductID]model.Product, len(found))
	for _, p := range found {
		out[p.ID] = p
	}
	return out, nil
}

// 同じ (商品, サイズ) の行はまとめる。順序は最初に出た順。
func normalizeLines(items []PlaceOrderItemInput) ([]PlaceOrderItemInput, error) {
	if len(items) == 0 {
		return nil, NewHTTPError(http.StatusBadRequest, "cart empty")
	}
	if len(items) > maxOrderLines {
		return nil, NewHTTPError(http.StatusBadRequest, "too many items")
	}

	type key struct {
		id   model.ProductID
		size string
	}
	idx := make(map[key]int, len(items))
	out := make([]PlaceOrderItemInput, 0, len(items))
	for _, it := range items {
		it.ProductID = model.ProductID(strings.TrimSpace(string(it.ProductID)))
		it.Size = strings.TrimSpace(it.Size)
		if it.ProductID == "" {
			return nil, NewHTTPError(http.StatusBadRequest, "invalid productId")
		}
		if it.Quantity < 1 || it.Quantity > maxLineQuantity {
			return nil, NewHTTPError(http.StatusBadRequest, "invalid quantity")
		}

		k := key{it.ProductID, it.Size}
		if i, ok := idx[k]; ok {
			out[i].Quantity += it.Quantity
			if out[i].Quantity > maxLineQuantity {
				return nil, NewHTTPError(http.StatusBadRequest, "invalid quantity")
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, it)
	}
	return out, nil
}

// requestHash は注文内容（明細・配送先・支払い・通貨）のハッシュ。明細の順序には依存しない。
func requestHash(lines []PlaceOrderItemInput, s model.Shipping, payment, cur string) string {
	sorted := append([]PlaceOrderItemInput(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ProductID != sorted[j].ProductID {
			return sorted[i].ProductID < sorted[j].ProductID
		}
		return sorted[i].Size < sorted[j].Size
	})

	b, _ := json.Marshal(struct {
		Items    []PlaceOrderItemInput `json:"items"`
		Shipping model.Shipping        `json:"shipping"`
		Payment  string                `json:"paymentMethod"`
		Currency string                `json:"currency"`
	}{sorted, s, payment, cur})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func trimShipping(s model.Shipping) model.Shipping {
	return model.Shipping{
		FullName:   strings.TrimSpace(s.FullName),
		Phone:      strings.TrimSpace(s.Phone),
		Address:    strings.TrimSpace(s.Address),
		City:       strings.TrimSpace(s.City),
		PostalCode: strings.TrimSpace(s.PostalCode),
		Country:    strings.TrimSpace(s.Country),
	}
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID: it.ProductID,
			Name:      it.ProductNameSnapshot,
			Price:     it.UnitPriceSnapshot,
			Size:      it.Size,
			Quantity:  it.Quantity,
			LineTotal: it.LineTotal(),
		})
	}

	return OrderOutput{
		OrderID:       o.ID,
		Status:        string(o.Status),
		Shipping:      o.Shipping,
		PaymentMethod: o.PaymentMethod,
		Currency:      o.Currency,
		TotalPrice:    o.TotalPrice,
		CreatedAt:     o.CreatedAt,
		Items:         outItems,
	}
}
