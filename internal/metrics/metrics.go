// Package metrics は Prometheus のメトリクスをまとめて持つ。
//
// nil の *Metrics でも呼び出せる（テストや計測不要な場面で渡さなくてよい）。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベル
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultStale   = "stale"
	ResultHit     = "hit"
	ResultNetwork = "network"
	ResultDecode  = "decode"
	ResultInvalid = "invalid"
	ResultEmpty   = "empty"
)

type Metrics struct {
	registry *prometheus.Registry

	httpDuration        *prometheus.HistogramVec
	catalogFetches      *prometheus.CounterVec
	cartMutations       *prometheus.CounterVec
	checkoutSubmissions *prometheus.CounterVec
	ordersPlaced        *prometheus.CounterVec
	productCache        *prometheus.CounterVec
	activeSessions      prometheus.Gauge
}

// New は専用レジストリに登録した Metrics を返す。namespace はバイナリ名。
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		catalogFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_fetches_total",
			Help:      "Catalog lookups by result (hit, ok, stale, network, decode).",
		}, []string{"result"}),
		cartMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutations_total",
			Help:      "Cart store mutations by operation and result.",
		}, []string{"op", "result"}),
		checkoutSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_submissions_total",
			Help:      "Checkout submissions by result.",
		}, []string{"result"}),
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Orders accepted by the api, split by idempotent replay.",
		}, []string{"replay"}),
		productCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "product_cache_total",
			Help:      "Product list cache lookups by result.",
		}, []string{"result"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently holding a cart.",
		}),
	}

	reg.MustRegister(
		m.httpDuration,
		m.catalogFetches,
		m.cartMutations,
		m.checkoutSubmissions,
		m.ordersPlaced,
		m.productCache,
		m.activeSessions,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// /metrics 用のハンドラ
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware はルート単位でレイテンシを記録する。
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.httpDuration.
				WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) CatalogFetch(result string) {
	if m == nil {
		return
	}
	m.catalogFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) CartMutation(op string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.cartMutations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) CheckoutSubmission(result string) {
	if m == nil {
		return
	}
	m.checkoutSubmissions.WithLabelValues(result).Inc()
}

func (m *Metrics) OrderPlaced(replay bool) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(strconv.FormatBool(replay)).Inc()
}

func (m *Metrics) ProductCache(result string) {
	if m == nil {
		return
	}
	m.productCache.WithLabelValues(result).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
