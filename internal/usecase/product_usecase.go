package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/metrics"
	repo "storefront/internal/repository"
	"storefront/internal/validator"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 商品一覧のキャッシュ（Redis）。nil なら使わない。
type ProductCache interface {
	Get(ctx context.Context, category string) ([]model.Product, bool, error)
	Set(ctx context.Context, category string, products []model.Product) error
	InvalidateAll(ctx context.Context) error
}

type ProductUsecase struct {
	productRepo repo.ProductRepository
	auditRepo   repo.AuditLogRepository
	tx          repo.TransactionManager
	cache       ProductCache
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// DI
func NewProductUsecase(
	productRepo repo.ProductRepository,
	auditRepo repo.AuditLogRepository,
	tx repo.TransactionManager,
	cache ProductCache,
	logger *zap.Logger,
	m *metrics.Metrics,
) *ProductUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductUsecase{
		productRepo: productRepo,
		auditRepo:   auditRepo,
		tx:          tx,
		cache:       cache,
		logger:      logger,
		metrics:     m,
	}
}

// GET /api/productsの入力DTO
type ListProductsInput struct {
	Category string
	Q        string
	Sort     string
	InStock  *bool
}

// 一覧はページングせず配列で返す（WebAppが一括で受け取る）
func (u *ProductUsecase) ListProducts(ctx context.Context, in ListProductsInput) ([]model.Product, error) {
	in.Category = strings.TrimSpace(in.Category)
	in.Q = strings.TrimSpace(in.Q)
	if len(in.Category) > 64 {
		return nil, NewHTTPError(http.StatusBadRequest, "category too long")
	}
	if len(in.Q) > 100 {
		return nil, NewHTTPError(http.StatusBadRequest, "q too long")
	}
	switch in.Sort {
	case "", "new", "price_asc", "price_desc", "rating":
	default:
		return nil, NewHTTPError(http.StatusBadRequest, "invalid sort")
	}

	// カテゴリだけの一覧はキャッシュする
	cacheable := u.cache != nil && in.Q == "" && (in.Sort == "" || in.Sort == "new") && in.InStock == nil
	if cacheable {
		items, ok, err := u.cache.Get(ctx, in.Category)
		switch {
		case err != nil:
			u.metrics.ProductCache(metrics.ResultError)
			u.logger.Warn("product cache get failed", zap.Error(err))
		case ok:
			u.metrics.ProductCache(metrics.ResultHit)
			return items, nil
		default:
			u.metrics.ProductCache("miss")
		}
	}

	items, err := u.productRepo.List(ctx, repo.ProductListQuery{
		Category: in.Category,
		Q:        in.Q,
		Sort:     in.Sort,
		InStock:  in.InStock,
	})
	if err != nil {
		return nil, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	if cacheable {
		if err := u.cache.Set(ctx, in.Category, items); err != nil {
			u.logger.Warn("product cache set failed", zap.Error(err))
		}
	}
	return items, nil
}

func (u *ProductUsecase) GetProductDetail(ctx context.Context, productID model.ProductID) (model.Product, error) {
	if strings.TrimSpace(string(productID)) == "" || len(productID) > 64 {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	p, err := u.productRepo.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Product{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return model.Product{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	return p, nil
}

// 管理者の作成/更新の入力
type ProductInput struct {
	ID               model.ProductID `json:"id"`
	Name             string          `json:"name"`
	Price            decimal.Decimal `json:"price"`
	Category         string          `json:"category"`
	ImageURL         string          `json:"imageUrl"`
	AdditionalImages []string        `json:"additionalImages"`
	Sizes            []string        `json:"sizes"`
	Description      string          `json:"description"`
	Brand            string          `json:"brand"`
	InStock          *bool           `json:"inStock"`
	Discount         float64         `json:"discount"`
	Rating           float64         `json:"rating"`
}

func (in ProductInput) toProduct(id model.ProductID) model.Product {
	inStock := true
	if in.InStock != nil {
		inStock = *in.InStock
	}
	sizes := make([]string, 0, len(in.Sizes))
	for _, s := range in.Sizes {
		sizes = append(sizes, strings.TrimSpace(s))
	}
	return model.Product{
		ID:               id,
		Name:             strings.TrimSpace(in.Name),
		Price:            in.Price,
		Category:         strings.TrimSpace(in.Category),
		ImageURL:         strings.TrimSpace(in.ImageURL),
		AdditionalImages: in.AdditionalImages,
		Sizes:            sizes,
		Description:      in.Description,
		Brand:            strings.TrimSpace(in.Brand),
		InStock:          inStock,
		Discount:         in.Discount,
		Rating:           in.Rating,
	}
}

func (u *ProductUsecase) AdminCreateProduct(ctx context.Context, actor string, in ProductInput) (model.Product, error) {
	if actor == "" {
		return model.Product{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	id := model.ProductID(strings.TrimSpace(string(in.ID)))
	if id == "" {
		id = model.ProductID(uuid.NewString())
	}
	p := in.toProduct(id)
	if err := validator.Product(p); err != nil {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var created model.Product
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		created, err = r.Products().Create(ctx, p)
		if errors.Is(err, repo.ErrDuplicate) {
			return NewHTTPError(http.StatusConflict, "product id already exists")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		return writeAudit(ctx, r, actor, model.AuditActionCreateProduct, model.AuditResourceProduct, string(id), nil, created)
	})
	if err != nil {
		return model.Product{}, err
	}

	u.invalidate(ctx)
	return created, nil
}

func (u *ProductUsecase) AdminUpdateProduct(ctx context.Context, actor string, productID model.ProductID, in ProductInput) (model.Product, error) {
	if actor == "" {
		return model.Product{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if strings.TrimSpace(string(productID)) == "" {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, "invalid product id")
	}
	p := in.toProduct(productID)
	if err := validator.Product(p); err != nil {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var updated model.Product
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		//変更前（before）
		before, err := r.Products().FindByID(ctx, productID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		p.CreatedAt = before.CreatedAt
		p.UpdatedAt = time.Now()
		if err := r.Products().Update(ctx, p); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusNotFound, "not found")
			}
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		updated = p
		return writeAudit(ctx, r, actor, model.AuditActionUpdateProduct, model.AuditResourceProduct, string(productID), before, p)
	})
	if err != nil {
		return model.Product{}, err
	}

	u.invalidate(ctx)
	return updated, nil
}

func (u *ProductUsecase) AdminDeleteProduct(ctx context.Context, actor string, productID model.ProductID) error {
	if actor == "" {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if strings.TrimSpace(string(productID)) == "" {
		return NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		before, err := r.Products().FindByID(ctx, productID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		if err := r.Products().Delete(ctx, productID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusNotFound, "not found")
			}
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		return writeAudit(ctx, r, actor, model.AuditActionDeleteProduct, model.AuditResourceProduct, string(productID), before, nil)
	})
	if err != nil {
		return err
	}

	u.invalidate(ctx)
	return nil
}

// 在庫フラグの切り替え
func (u *ProductUsecase) AdminSetInStock(ctx context.Context, actor string, productID model.ProductID, inStock bool) error {
	if actor == "" {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if strings.TrimSpace(string(productID)) == "" {
		return NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := r.Products().FindByID(ctx, productID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if p.InStock == inStock {
			return nil
		}

		if err := r.Inventory().SetInStock(ctx, productID, inStock); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusNotFound, "not found")
			}
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		return writeAudit(ctx, r, actor, model.AuditActionUpdateStock, model.AuditResourceProduct, string(productID),
			map[string]bool{"inStock": p.InStock}, map[string]bool{"inStock": inStock})
	})
	if err != nil {
		return err
	}

	u.invalidate(ctx)
	return nil
}

// 監査ログの一覧
func (u *ProductUsecase) AdminListAuditLogs(ctx context.Context, f repo.AuditLogFilter) ([]model.AuditLog, error) {
	if f.Limit < 0 || f.Limit > 200 {
		return nil, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	if f.Offset < 0 {
		return nil, NewHTTPError(http.StatusBadRequest, "invalid offset")
	}
	logs, err := u.auditRepo.List(ctx, f)
	if err != nil {
		return nil, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	return logs, nil
}

func (u *ProductUsecase) invalidate(ctx context.Context) {
	if u.cache == nil {
		return
	}
	if err := u.cache.InvalidateAll(ctx); err != nil {
		u.logger.Warn("product cache invalidate failed", zap.Error(err))
	}
}

// 監査ログ（誰が/何を/どの対象に/どう変えたか）をTx内で保存
func writeAudit(ctx context.Context, r repo.TxRepos, actor string, action model.AuditAction, rt model.AuditResourceType, id string, before, after interface{}) error {
	log := model.AuditLog{
		Actor:        actor,
		Action:       action,
		ResourceType: rt,
		ResourceID:   id,
		BeforeJSON:   toJSON(before),
		AfterJSON:    toJSON(after),
		CreatedAt:    time.Now(),
	}
	if err := r.AuditLogs().Create(ctx, log); err != nil {
		return NewHTTPError(http.StatusInternalServerError, "db error")
	}
	return nil
}

func toJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
