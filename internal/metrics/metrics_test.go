package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New("test")

	m.CatalogFetch(ResultHit)
	m.CatalogFetch(ResultHit)
	m.CatalogFetch(ResultNetwork)
	m.CartMutation("add", nil)
	m.CartMutation("add", errors.New("boom"))
	m.CheckoutSubmission(ResultOK)
	m.OrderPlaced(true)
	m.ProductCache(ResultHit)
	m.SetActiveSessions(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.catalogFetches.WithLabelValues(ResultHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.catalogFetches.WithLabelValues(ResultNetwork)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cartMutations.WithLabelValues("add", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cartMutations.WithLabelValues("add", ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkoutSubmissions.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersPlaced.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.productCache.WithLabelValues(ResultHit)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeSessions))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CatalogFetch(ResultOK)
		m.CartMutation("add", nil)
		m.CheckoutSubmission(ResultOK)
		m.OrderPlaced(false)
		m.ProductCache(ResultHit)
		m.SetActiveSessions(1)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_MiddlewareAndHandler(t *testing.T) {
	m := New("test")
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `test_http_request_duration_seconds_count{method="GET",route="/ping",status="200"} 1`))
}
