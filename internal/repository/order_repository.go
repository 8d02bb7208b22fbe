package repository

import (
	"context"
	"time"

	"storefront/internal/domain/model"
)

type OrderListFilter struct {
	Page   int
	Limit  int
	Status string
	From   *time.Time
	To     *time.Time
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (model.Order, error)
	Create(ctx context.Context, order model.Order) error
	UpdateStatus(ctx context.Context, orderID string, status model.OrderStatus) error

	//検索（同じキーなら同じ結果を返す）
	FindByIdempotencyKey(ctx context.Context, key string) (model.Order, bool, error)
	//管理者用の注文一覧
	List(ctx context.Context, f OrderListFilter) ([]model.Order, int64, error)
}
