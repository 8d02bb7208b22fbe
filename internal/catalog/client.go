// Package catalog は api から商品一覧を取得してキャッシュする。
//
// 鮮度（既定60秒）の間はネットワークに出ない。期限切れ後の失敗は
// ServeStale が false ならその呼び出しのエラーになる。
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/metrics"
	"storefront/internal/validator"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL          = 60 * time.Second
	DefaultTimeout      = 10 * time.Second
	DefaultRetryBackoff = 200 * time.Millisecond

	productsPath = "/api/products"
	maxBodyBytes = 8 << 20
	flightKey    = "products"
)

type Options struct {
	BaseURL      string
	TTL          time.Duration
	ServeStale   bool
	Retries      int
	RetryBackoff time.Duration
	Timeout      time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Listing は一覧の取得結果。Stale のとき Cause に直近の失敗が入る。
type Listing struct {
	Products  []model.Product
	FetchedAt time.Time
	Stale     bool
	Cause     error
}

type Client struct {
	opts Options

	mu        sync.RWMutex
	products  []model.Product
	fetchedAt time.Time
	cached    bool
	// Invalidate ごとに進む。古い取得結果はキャッシュに書かない
	gen uint64

	group singleflight.Group
}

// DI
func NewClient(opts Options) *Client {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{opts: opts}
}

// FetchProducts は一覧を返す。
// 同時呼び出しは1回の取得を共有する。呼び出し側の ctx が先に終われば ctx.Err() を返し、
// 取得自体は続いてキャッシュに入る。
func (c *Client) FetchProducts(ctx context.Context) (Listing, error) {
	if err := ctx.Err(); err != nil {
		return Listing{}, err
	}

	if l, ok := c.fresh(); ok {
		c.opts.Metrics.CatalogFetch(metrics.ResultHit)
		return l, nil
	}

	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		gen := c.generation()
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.Timeout)
		defer cancel()

		products, err := c.fetchWithRetry(fctx)
		if err != nil {
			return nil, err
		}
		c.store(products, gen)
		return products, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return Listing{}, ctx.Err()
	case res = <-ch:
	}

	if res.Err != nil {
		return c.onFailure(res.Err)
	}

	c.opts.Metrics.CatalogFetch(metrics.ResultOK)
	c.mu.RLock()
	at := c.fetchedAt
	c.mu.RUnlock()
	return Listing{Products: copyProducts(res.Val.([]model.Product)), FetchedAt: at}, nil
}

// Product は一覧から1件探す。
func (c *Client) Product(ctx context.Context, id model.ProductID) (model.Product, error) {
	l, err := c.FetchProducts(ctx)
	if err != nil {
		return model.Product{}, err
	}
	for _, p := range l.Products {
		if p.ID == id {
			return p, nil
		}
	}
	return model.Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
}

// Invalidate はキャッシュを捨てる。次の呼び出しは必ず取得しに行く。
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.products = nil
	c.fetchedAt = time.Time{}
	c.cached = false
	c.gen++
	c.mu.Unlock()
	c.group.Forget(flightKey)
}

func (c *Client) fresh() (Listing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.cached || c.opts.Now().Sub(c.fetchedAt) >= c.opts.TTL {
		return Listing{}, false
	}
	return Listing{Products: copyProducts(c.products), FetchedAt: c.fetchedAt}, true
}

func (c *Client) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// 取得開始後に Invalidate されていたら捨てる
func (c *Client) store(products []model.Product, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.products = products
	c.fetchedAt = c.opts.Now()
	c.cached = true
}

func (c *Client) onFailure(err error) (Listing, error) {
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		c.opts.Metrics.CatalogFetch(metrics.ResultDecode)
		c.opts.Logger.Warn("catalog decode failed", zap.Error(err))
	} else {
		c.opts.Metrics.CatalogFetch(metrics.ResultNetwork)
		c.opts.Logger.Warn("catalog fetch failed", zap.Error(err))
	}

	if !c.opts.ServeStale {
		return Listing{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.cached {
		return Listing{}, err
	}
	c.opts.Metrics.CatalogFetch(metrics.ResultStale)
	return Listing{
		Products:  copyProducts(c.products),
		FetchedAt: c.fetchedAt,
		Stale:     true,
		Cause:     err,
	}, nil
}

// ネットワークエラーだけ再試行する
func (c *Client) fetchWithRetry(ctx context.Context) ([]model.Product, error) {
	if c.opts.Retries <= 0 {
		return c.fetch(ctx)
	}

	var products []model.Product
	op := func() error {
		p, err := c.fetch(ctx)
		if err != nil {
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				return backoff.Permanent(err)
			}
			c.opts.Logger.Debug("catalog fetch retry", zap.Error(err))
			return err
		}
		products = p
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.RetryBackoff
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.opts.Retries)), ctx)

	if err := backoff.Retry(op, b); err != nil {
		if errors.Is(err, ErrNetwork) || errors.Is(err, ErrDecode) {
			return nil, err
		}
		return nil, &NetworkError{Err: err}
	}
	return products, nil
}

func (c *Client) fetch(ctx context.Context) ([]model.Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+productsPath, nil)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &NetworkError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	return decodeProducts(body)
}

// 本文は商品の JSON 配列。1件でも不正なら全体を不正とする。
func decodeProducts(body []byte) ([]model.Product, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &DecodeError{Err: errors.New("body is not a json array")}
	}

	var products []model.Product
	if err := json.Unmarshal(trimmed, &products); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if err := validator.Products(products); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if products == nil {
		products = []model.Product{}
	}
	return products, nil
}

func copyProducts(src []model.Product) []model.Product {
	out := make([]model.Product, len(src))
	copy(out, src)
	return out
}
