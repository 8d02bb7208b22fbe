package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/domain/cart"
	"storefront/internal/domain/model"
	"storefront/internal/metrics"

	"go.uber.org/zap"
)

// 商品カタログ（api からの取得 + キャッシュ）
type Catalog interface {
	FetchProducts(ctx context.Context) (catalog.Listing, error)
	Product(ctx context.Context, id model.ProductID) (model.Product, error)
}

// セッションIDごとのカート
type Sessions interface {
	Get(id string) *cart.Store
}

type Checkout interface {
	Submit(ctx context.Context, sessionID string, c checkout.Cart, d checkout.Details) (checkout.Receipt, error)
}

// CartUsecase は storefront の /session 配下の業務ロジック。
// カートはサーバのメモリ上（セッション単位）にだけ存在する。
type CartUsecase struct {
	catalog  Catalog
	sessions Sessions
	checkout Checkout
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// DI
func NewCartUsecase(c Catalog, s Sessions, co Checkout, logger *zap.Logger, m *metrics.Metrics) *CartUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartUsecase{catalog: c, sessions: s, checkout: co, logger: logger, metrics: m}
}

// 一覧の出力。DecodeError のときは空一覧で Unavailable=true。
type ProductListOutput struct {
	Products    []model.Product
	Stale       bool
	Unavailable bool
}

type AddCartItemInput struct {
	ProductID model.ProductID `json:"productId"`
	Size      string          `json:"size"`
}

func (u *CartUsecase) ListProducts(ctx context.Context) (ProductListOutput, error) {
	l, err := u.catalog.FetchProducts(ctx)
	if err != nil {
		if errors.Is(err, catalog.ErrDecode) {
			// 壊れたカタログは「商品なし」として出す
			return ProductListOutput{Products: []model.Product{}, Unavailable: true}, nil
		}
		if ctx.Err() != nil {
			return ProductListOutput{}, ctx.Err()
		}
		return ProductListOutput{}, NewHTTPError(http.StatusServiceUnavailable, "catalog unavailable")
	}

	products := l.Products
	if products == nil {
		products = []model.Product{}
	}
	return ProductListOutput{Products: products, Stale: l.Stale}, nil
}

func (u *CartUsecase) GetCart(sessionID string) (cart.Snapshot, error) {
	s, err := u.store(sessionID)
	if err != nil {
		return cart.Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// AddItem は商品をカタログから引いてカートに1つ追加する。
func (u *CartUsecase) AddItem(ctx context.Context, sessionID string, in AddCartItemInput) (cart.Snapshot, error) {
	s, err := u.store(sessionID)
	if err != nil {
		return cart.Snapshot{}, err
	}

	id := model.ProductID(strings.TrimSpace(string(in.ProductID)))
	if id == "" {
		return cart.Snapshot{}, NewHTTPError(http.StatusBadRequest, "invalid productId")
	}

	p, err := u.catalog.Product(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrProductNotFound):
			return cart.Snapshot{}, NewHTTPError(http.StatusNotFound, "product not found")
		case ctx.Err() != nil:
			return cart.Snapshot{}, ctx.Err()
		default:
			return cart.Snapshot{}, NewHTTPError(http.StatusServiceUnavailable, "catalog unavailable")
		}
	}

	snap, err := s.AddItem(p, in.Size)
	u.metrics.CartMutation("add", err)
	if err != nil {
		return snap, cartError(err)
	}
	return snap, nil
}

// size が nil ならその商品の全サイズを消す。指定があればその行だけ。
func (u *CartUsecase) RemoveItem(sessionID string, productID model.ProductID, size *string) (cart.Snapshot, error) {
	s, err := u.store(sessionID)
	if err != nil {
		return cart.Snapshot{}, err
	}
	productID = model.ProductID(strings.TrimSpace(string(productID)))
	if productID == "" {
		return cart.Snapshot{}, NewHTTPError(http.StatusBadRequest, "invalid productId")
	}

	var snap cart.Snapshot
	if size == nil {
		snap = s.RemoveProduct(productID)
	} else {
		snap = s.RemoveItem(cart.Key{ProductID: productID, Size: *size})
	}
	u.metrics.CartMutation("remove", nil)
	return snap, nil
}

// カートを空にする（購入キャンセル）
func (u *CartUsecase) Clear(sessionID string) (cart.Snapshot, error) {
	s, err := u.store(sessionID)
	if err != nil {
		return cart.Snapshot{}, err
	}
	s.Clear()
	u.metrics.CartMutation("clear", nil)
	return s.Snapshot(), nil
}

func (u *CartUsecase) Checkout(ctx context.Context, sessionID string, d checkout.Details) (checkout.Receipt, error) {
	s, err := u.store(sessionID)
	if err != nil {
		return checkout.Receipt{}, err
	}

	receipt, err := u.checkout.Submit(ctx, sessionID, s, d)
	if err == nil {
		return receipt, nil
	}

	switch {
	case errors.Is(err, checkout.ErrEmptyCart):
		return checkout.Receipt{}, NewHTTPError(http.StatusBadRequest, "cart is empty")
	case errors.Is(err, checkout.ErrInvalidDetails):
		msg := "invalid details"
		var ce *checkout.CheckoutError
		if errors.As(err, &ce) && ce.Err != nil {
			msg = ce.Err.Error()
		}
		return checkout.Receipt{}, NewHTTPError(http.StatusUnprocessableEntity, msg)
	case errors.Is(err, checkout.ErrInProgress):
		return checkout.Receipt{}, NewHTTPError(http.StatusConflict, "checkout already in progress")
	case errors.Is(err, cart.ErrClosed):
		return checkout.Receipt{}, NewHTTPError(http.StatusGone, "session expired")
	}

	var pe *checkout.PlacementError
	if errors.As(err, &pe) && pe.StatusCode >= 400 && pe.StatusCode < 500 {
		msg := pe.Message
		if msg == "" {
			msg = "order rejected"
		}
		return checkout.Receipt{}, NewHTTPError(http.StatusUnprocessableEntity, msg)
	}
	return checkout.Receipt{}, NewHTTPError(http.StatusBadGateway, "order placement failed")
}

// Subscribe は変更ごとのスナップショットを ch に流す。遅い受信側では古い版を捨てる。
// 返り値の関数で解除。ストアが閉じられると done が close される。
func (u *CartUsecase) Subscribe(sessionID string) (<-chan cart.Snapshot, <-chan struct{}, func(), error) {
	s, err := u.store(sessionID)
	if err != nil {
		return nil, nil, nil, err
	}

	ch := make(chan cart.Snapshot, 1)
	unsubscribe := s.Subscribe(func(snap cart.Snapshot) {
		for {
			select {
			case ch <- snap:
				return
			default:
			}
			// 溜まっている古い版を捨てて最新を入れる
			select {
			case <-ch:
			default:
			}
		}
	})
	return ch, s.Done(), unsubscribe, nil
}

func (u *CartUsecase) store(sessionID string) (*cart.Store, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, NewHTTPError(http.StatusBadRequest, "missing session")
	}
	return u.sessions.Get(sessionID), nil
}

func cartError(err error) error {
	switch {
	case errors.Is(err, cart.ErrOutOfStock):
		return NewHTTPError(http.StatusConflict, "out of stock")
	case errors.Is(err, cart.ErrUnknownSize):
		return NewHTTPError(http.StatusBadRequest, "invalid size")
	case errors.Is(err, cart.ErrQuantityLimit):
		return NewHTTPError(http.StatusConflict, "quantity limit reached")
	case errors.Is(err, cart.ErrInvalidProduct):
		return NewHTTPError(http.StatusUnprocessableEntity, "invalid product")
	case errors.Is(err, cart.ErrClosed):
		return NewHTTPError(http.StatusGone, "session expired")
	default:
		return NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
