package repository

import (
	"context"
	"errors"
	"strings"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"gorm.io/gorm"
)

type ProductGormRepository struct {
	db *gorm.DB
}

// DI
func NewProductGormRepository(db *gorm.DB) *ProductGormRepository {
	return &ProductGormRepository{db: db}
}

// カテゴリ/名前検索/在庫/ソート付きで全件返す（WebAppは一覧を一括で受け取る）。
func (r *ProductGormRepository) List(ctx context.Context, q repo.ProductListQuery) ([]model.Product, error) {
	products := []model.Product{}

	tx := r.db.WithContext(ctx).Model(&model.Product{})

	if c := strings.TrimSpace(q.Category); c != "" {
		tx = tx.Where("category = ?", c)
	}

	// q nameを対象（大文字小文字は区別しない）
	if s := strings.TrimSpace(q.Q); s != "" {
		tx = tx.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(s)+"%")
	}

	if q.InStock != nil {
		tx = tx.Where("in_stock = ?", *q.InStock)
	}

	//sort
	switch q.Sort {
	case "price_asc":
		tx = tx.Order("price asc").Order("id asc")
	case "price_desc":
		tx = tx.Order("price desc").Order("id asc")
	case "rating":
		tx = tx.Order("rating desc").Order("id asc")
	default:
		tx = tx.Order("created_at asc").Order("id asc")
	}

	if err := tx.Find(&products).Error; err != nil {
		return []model.Product{}, err
	}
	return products, nil
}

// IDで商品を取得
func (r *ProductGormRepository) FindByID(ctx context.Context, id model.ProductID) (model.Product, error) {
	var p model.Product
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Product{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Product{}, err
	}
	return p, nil
}

// 商品の作成
func (r *ProductGormRepository) Create(ctx context.Context, p model.Product) (model.Product, error) {
	if err := r.db.WithContext(ctx).Create(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return model.Product{}, repo.ErrDuplicate
		}
		return model.Product{}, err
	}
	return p, nil
}

// 商品の更新（ID以外を全て置き換える）
func (r *ProductGormRepository) Update(ctx context.Context, p model.Product) error {
	res := r.db.WithContext(ctx).Model(&model.Product{}).Where("id = ?", p.ID).
		Select("name", "price", "category", "image_url", "additional_images", "sizes",
			"description", "brand", "in_stock", "discount", "rating", "updated_at").
		Updates(&p)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// 商品削除
func (r *ProductGormRepository) Delete(ctx context.Context, id model.ProductID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Product{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
