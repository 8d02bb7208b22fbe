package repository

import (
	"context"
	"errors"

	"storefront/internal/domain/model"
)

var (
	ErrNotFound = errors.New("not found")

	// 一意制約違反（同じIDの商品、同じ冪等キーの注文）
	ErrDuplicate = errors.New("duplicate")
)

// 一覧検索
type ProductListQuery struct {
	Category string
	Q        string
	Sort     string
	InStock  *bool
}

// 商品の永続化（保存・取得）だけを約束。
type ProductRepository interface {
	List(ctx context.Context, q ProductListQuery) ([]model.Product, error)
	FindByID(ctx context.Context, id model.ProductID) (model.Product, error)

	Create(ctx context.Context, p model.Product) (model.Product, error)
	Update(ctx context.Context, p model.Product) error
	Delete(ctx context.Context, id model.ProductID) error
}

// 在庫フラグの更新だけを約束。
type InventoryRepository interface {
	SetInStock(ctx context.Context, id model.ProductID, inStock bool) error
}
