// Package cache は api の商品一覧を Redis に置く。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront/internal/domain/model"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "products:list"
	versionKey = keyPrefix + ":ver"
)

// ProductListCache はカテゴリごとの一覧をキャッシュする。
// 無効化は世代番号を進めるだけ（古いキーは TTL で消える）。
type ProductListCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// DI
func NewProductListCache(rdb *redis.Client, ttl time.Duration) *ProductListCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ProductListCache{rdb: rdb, ttl: ttl}
}

// Get はキャッシュがあれば返す。無ければ ok=false。
func (c *ProductListCache) Get(ctx context.Context, category string) ([]model.Product, bool, error) {
	key, err := c.key(ctx, category)
	if err != nil {
		return nil, false, err
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var products []model.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		// 壊れた値は消して取り直させる
		_ = c.rdb.Del(ctx, key).Err()
		return nil, false, nil
	}
	return products, true, nil
}

func (c *ProductListCache) Set(ctx context.Context, category string, products []model.Product) error {
	key, err := c.key(ctx, category)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(products)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, c.ttl).Err()
}

// InvalidateAll は全カテゴリの一覧を無効にする。
func (c *ProductListCache) InvalidateAll(ctx context.Context) error {
	return c.rdb.Incr(ctx, versionKey).Err()
}

func (c *ProductListCache) key(ctx context.Context, category string) (string, error) {
	ver, err := c.rdb.Get(ctx, versionKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	if category == "" {
		category = "_all"
	}
	return fmt.Sprintf("%s:v%d:%s", keyPrefix, ver, category), nil
}
