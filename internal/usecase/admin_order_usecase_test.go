package usecase_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
	"storefront/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type adminOrderFixture struct {
	orders     *OrderRepoMock
	orderItems *OrderItemRepoMock
	audit      *AuditRepoMock
	tx         *TxManagerMock
}

func newAdminOrderFixture() adminOrderFixture {
	f := adminOrderFixture{
		orders:     new(OrderRepoMock),
		orderItems: new(OrderItemRepoMock),
		audit:      new(AuditRepoMock),
	}
	f.tx = &TxManagerMock{Repos: &TxReposMock{
		orders:     f.orders,
		orderItems: f.orderItems,
		auditLogs:  f.audit,
	}}
	f.tx.On("WithinTx", mock.Anything).Return()
	return f
}

// =====================
// List tests
// =====================

func TestAdminOrderUsecase_List_InvalidPaging(t *testing.T) {
	uc := usecase.NewAdminOrderUsecase(newAdminOrderFixture().tx)

	_, _, err := uc.List(context.Background(), repo.OrderListFilter{Page: 0, Limit: 20})
	assertErrContains(t, err, "invalid page")

	_, _, err = uc.List(context.Background(), repo.OrderListFilter{Page: 1, Limit: 101})
	assertErrContains(t, err, "invalid limit")

	_, _, err = uc.List(context.Background(), repo.OrderListFilter{Page: 1, Limit: 10, Status: "SHIPPED"})
	assertErrContains(t, err, "invalid status")
}

func TestAdminOrderUsecase_List_Success(t *testing.T) {
	f := newAdminOrderFixture()
	filter := repo.OrderListFilter{Page: 1, Limit: 20, Status: "PENDING"}
	f.orders.On("List", mock.Anything, filter).Return([]model.Order{{ID: "o1", Status: model.OrderStatusPending}, {ID: "o2", Status: model.OrderStatusPending}}, int64(7), nil)
	f.orderItems.On("ListByOrderID", mock.Anything, "o1").Return([]model.OrderItem{{ProductID: "p1", Quantity: 1}}, nil)
	f.orderItems.On("ListByOrderID", mock.Anything, "o2").Return([]model.OrderItem{}, nil)

	outs, total, err := usecase.NewAdminOrderUsecase(f.tx).List(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)
	require.Len(t, outs, 2)
	assert.Len(t, outs[0].Items, 1)
	assert.Empty(t, outs[1].Items)
}

func TestAdminOrderUsecase_List_DBError(t *testing.T) {
	f := newAdminOrderFixture()
	f.orders.On("List", mock.Anything, mock.Anything).Return(nil, int64(0), errors.New("boom"))

	outs, _, err := usecase.NewAdminOrderUsecase(f.tx).List(context.Background(), repo.OrderListFilter{Page: 1, Limit: 20})
	assertStatus(t, err, http.StatusInternalServerError)
	assert.Empty(t, outs)
}

func TestNewOrderListFilter(t *testing.T) {
	f, err := usecase.NewOrderListFilter(2, 50, " PENDING ", "2026-01-01T00:00:00Z", "")
	require.NoError(t, err)
	assert.Equal(t, "PENDING", f.Status)
	require.NotNil(t, f.From)
	assert.Equal(t, 2026, f.From.Year())
	assert.Nil(t, f.To)

	_, err = usecase.NewOrderListFilter(1, 20, "", "yesterday", "")
	assertErrContains(t, err, "invalid from")
}

// =====================
// UpdateStatus tests
// =====================

func TestAdminOrderUsecase_UpdateStatus_Guards(t *testing.T) {
	uc := usecase.NewAdminOrderUsecase(newAdminOrderFixture().tx)

	err := uc.UpdateStatus(context.Background(), "", "o1", usecase.AdminUpdateOrderStatusInput{Status: "ACKNOWLEDGED"})
	assertStatus(t, err, http.StatusUnauthorized)

	err = uc.UpdateStatus(context.Background(), "admin", "o1", usecase.AdminUpdateOrderStatusInput{Status: "SHIPPED"})
	assertErrContains(t, err, "invalid status")
}

func TestAdminOrderUsecase_UpdateStatus_NotFound(t *testing.T) {
	f := newAdminOrderFixture()
	f.orders.On("FindByID", mock.Anything, "missing").Return(model.Order{}, repo.ErrNotFound)

	err := usecase.NewAdminOrderUsecase(f.tx).UpdateStatus(context.Background(), "admin", "missing", usecase.AdminUpdateOrderStatusInput{Status: "ACKNOWLEDGED"})
	assertStatus(t, err, http.StatusNotFound)
}

func TestAdminOrderUsecase_UpdateStatus_SameStatusIsNoop(t *testing.T) {
	f := newAdminOrderFixture()
	f.orders.On("FindByID", mock.Anything, "o1").Return(model.Order{ID: "o1", Status: model.OrderStatusPending}, nil)

	err := usecase.NewAdminOrderUsecase(f.tx).UpdateStatus(context.Background(), "admin", "o1", usecase.AdminUpdateOrderStatusInput{Status: "PENDING"})
	require.NoError(t, err)
	f.orders.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	f.audit.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAdminOrderUsecase_UpdateStatus_AcknowledgedIsTerminal(t *testing.T) {
	f := newAdminOrderFixture()
	f.orders.On("FindByID", mock.Anything, "o1").Return(model.Order{ID: "o1", Status: model.OrderStatusAcknowledged}, nil)

	err := usecase.NewAdminOrderUsecase(f.tx).UpdateStatus(context.Background(), "admin", "o1", usecase.AdminUpdateOrderStatusInput{Status: "PENDING"})
	assertStatus(t, err, http.StatusBadRequest)
	f.orders.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdminOrderUsecase_UpdateStatus_Success(t *testing.T) {
	f := newAdminOrderFixture()
	f.orders.On("FindByID", mock.Anything, "o1").Return(model.Order{ID: "o1", Status: model.OrderStatusPending}, nil)
	f.orders.On("UpdateStatus", mock.Anything, "o1", model.OrderStatusAcknowledged).Return(nil)
	f.audit.On("Create", mock.Anything, mock.MatchedBy(func(l model.AuditLog) bool {
		return l.Actor == "admin" &&
			l.Action == model.AuditActionUpdateOrderStatus &&
			l.ResourceType == model.AuditResourceOrder &&
			l.ResourceID == "o1" &&
			l.BeforeJSON == `{"status":"PENDING"}` &&
			l.AfterJSON == `{"status":"ACKNOWLEDGED"}`
	})).Return(nil)

	err := usecase.NewAdminOrderUsecase(f.tx).UpdateStatus(context.Background(), "admin", "o1", usecase.AdminUpdateOrderStatusInput{Status: " ACKNOWLEDGED "})
	require.NoError(t, err)

	f.orders.AssertExpectations(t)
	f.audit.AssertExpectations(t)
}
