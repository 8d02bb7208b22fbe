package checkout

import (
	"context"
	"errors"
	"testing"

	"storefront/internal/domain/cart"
	"storefront/internal/domain/model"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type OrderPlacerMock struct{ mock.Mock }

func (m *OrderPlacerMock) PlaceOrder(ctx context.Context, o Order) (Receipt, error) {
	args := m.Called(ctx, o)
	return args.Get(0).(Receipt), args.Error(1)
}

func validDetails() Details {
	return Details{
		Shipping: model.Shipping{
			FullName:   gofakeit.Name(),
			Phone:      gofakeit.Phone(),
			Address:    gofakeit.Street(),
			City:       gofakeit.City(),
			PostalCode: gofakeit.Zip(),
			Country:    gofakeit.Country(),
		},
		PaymentMethod: "card",
	}
}

func product(id, price string, sizes ...string) model.Product {
	return model.Product{
		ID:       model.ProductID(id),
		Name:     gofakeit.ProductName(),
		Price:    decimal.RequireFromString(price),
		Category: "c",
		ImageURL: "https://img/" + id,
		Sizes:    sizes,
		InStock:  true,
	}
}

func filledStore(t *testing.T) *cart.Store {
	t.Helper()
	s := cart.NewStore()
	_, err := s.AddItem(product("a", "10", "M"), "M")
	require.NoError(t, err)
	_, err = s.AddItem(product("a", "10", "M"), "M")
	require.NoError(t, err)
	_, err = s.AddItem(product("b", "2.5"), "")
	require.NoError(t, err)
	return s
}

func assertKind(t *testing.T, err error, kind error) {
	t.Helper()
	var ce *CheckoutError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, kind)
}

func TestSubmit_Success_ClearsCart(t *testing.T) {
	placer := new(OrderPlacerMock)
	svc := NewService(placer, "USD", nil, nil)
	store := filledStore(t)
	d := validDetails()

	placer.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(o Order) bool {
		return o.SessionID == "sess-1" &&
			o.IdempotencyKey == IdempotencyKey("sess-1", store.ID(), 3) &&
			o.TotalQuantity == 3 &&
			o.TotalPrice.Equal(decimal.RequireFromString("22.5")) &&
			o.Currency == "USD" &&
			len(o.Items) == 2 &&
			o.Details == d
	})).Return(Receipt{OrderID: "ord-1", Status: model.OrderStatusPending}, nil).Once()

	r, err := svc.Submit(context.Background(), "sess-1", store, d)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", r.OrderID)

	assert.True(t, store.Snapshot().IsEmpty())
	assert.Equal(t, cart.StateEmpty, store.State())
	placer.AssertExpectations(t)
}

func TestSubmit_EmptyCart(t *testing.T) {
	placer := new(OrderPlacerMock)
	svc := NewService(placer, "USD", nil, nil)

	_, err := svc.Submit(context.Background(), "s", cart.NewStore(), validDetails())
	assertKind(t, err, ErrEmptyCart)
	placer.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestSubmit_InvalidDetails_PreservesCart(t *testing.T) {
	placer := new(OrderPlacerMock)
	svc := NewService(placer, "USD", nil, nil)
	store := filledStore(t)
	before := store.Snapshot()

	d := validDetails()
	d.Shipping.City = ""
	_, err := svc.Submit(context.Background(), "s", store, d)
	assertKind(t, err, ErrInvalidDetails)

	d = validDetails()
	d.PaymentMethod = ""
	_, err = svc.Submit(context.Background(), "s", store, d)
	assertKind(t, err, ErrInvalidDetails)

	assert.Equal(t, before, store.Snapshot())
	placer.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestSubmit_PlacerFailure_PreservesCart(t *testing.T) {
	placer := new(OrderPlacerMock)
	svc := NewService(placer, "USD", nil, nil)
	store := filledStore(t)
	before := store.Snapshot()

	cause := errors.New("api down")
	placer.On("PlaceOrder", mock.Anything, mock.Anything).Return(Receipt{}, cause).Once()

	_, err := svc.Submit(context.Background(), "s", store, validDetails())
	assertKind(t, err, ErrPlacement)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, before, store.Snapshot())

	// 失敗後もう一度送れる（同じ冪等キー）
	placer.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(o Order) bool {
		return o.IdempotencyKey == IdempotencyKey("s", store.ID(), before.Version)
	})).Return(Receipt{OrderID: "ord-2"}, nil).Once()

	_, err = svc.Submit(context.Background(), "s", store, validDetails())
	require.NoError(t, err)
	assert.True(t, store.Snapshot().IsEmpty())
	placer.AssertExpectations(t)
}

func TestSubmit_ItemsAddedDuringPlacementSurvive(t *testing.T) {
	placer := new(OrderPlacerMock)
	svc := NewService(placer, "USD", nil, nil)
	store := filledStore(t)

	placer.On("PlaceOrder", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			_, err := store.AddItem(product("c", "1"), "")
			require.NoError(t, err)
		}).
		Return(Receipt{OrderID: "ord"}, nil).Once()

	_, err := svc.Submit(context.Background(), "s", store, validDetails())
	require.NoError(t, err)

	snap := store.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, model.ProductID("c"), snap.Items[0].Product.ID)
	assert.Equal(t, cart.StateActive, snap.State)
}

func TestSubmit_RejectsOverlappingSubmission(t *testing.T) {
	placer := new(OrderPlacerMock)
	svc := NewService(placer, "USD", nil, nil)
	store := filledStore(t)

	var inner error
	placer.On("PlaceOrder", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			_, inner = svc.Submit(context.Background(), "s", store, validDetails())
		}).
		Return(Receipt{OrderID: "ord"}, nil).Once()

	_, err := svc.Submit(context.Background(), "s", store, validDetails())
	require.NoError(t, err)
	assertKind(t, inner, ErrInProgress)
	placer.AssertNumberOfCalls(t, "PlaceOrder", 1)
}

func TestSubmit_ClosedStore(t *testing.T) {
	svc := NewService(new(OrderPlacerMock), "USD", nil, nil)
	store := filledStore(t)
	store.Close()

	_, err := svc.Submit(context.Background(), "s", store, validDetails())
	assert.ErrorIs(t, err, cart.ErrClosed)
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, IdempotencyKey("s", "st", 1), IdempotencyKey("s", "st", 1))
	assert.NotEqual(t, IdempotencyKey("s", "st", 1), IdempotencyKey("s", "st", 2))
	assert.NotEqual(t, IdempotencyKey("s", "st", 1), IdempotencyKey("t", "st", 1))
	assert.NotEqual(t, IdempotencyKey("s", "st", 1), IdempotencyKey("s", "other", 1))
}

// 同じセッションIDでストアが作り直されても、前のカートと同じキーにならない
func TestSubmit_RecreatedStoreGetsNewKey(t *testing.T) {
	placer := new(OrderPlacerMock)
	svc := NewService(placer, "USD", nil, nil)

	var keys []string
	placer.On("PlaceOrder", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			keys = append(keys, args.Get(1).(Order).IdempotencyKey)
		}).
		Return(Receipt{OrderID: "ord"}, nil).Twice()

	for i := 0; i < 2; i++ {
		store := cart.NewStore()
		_, err := store.AddItem(product("a", "10"), "")
		require.NoError(t, err)

		_, err = svc.Submit(context.Background(), "same-session", store, validDetails())
		require.NoError(t, err)
	}

	require.Len(t, keys, 2)
	assert.NotEqual(t, keys[0], keys[1])
	placer.AssertExpectations(t)
}

func TestCheckoutError_Message(t *testing.T) {
	assert.Equal(t, "checkout: cart is empty", (&CheckoutError{Kind: ErrEmptyCart}).Error())
	err := &CheckoutError{Kind: ErrPlacement, Err: &PlacementError{StatusCode: 409, Message: "conflict"}}
	assert.Equal(t, "checkout: order placement failed: order api returned 409: conflict", err.Error())
}
