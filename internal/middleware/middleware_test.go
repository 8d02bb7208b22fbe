package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront/internal/middleware"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testSecret = "test-secret"

// =====================
// レスポンス確認用
// =====================

type mwErrorResponse struct {
	Error string `json:"error"`
}

type mwOKResponse struct {
	Actor   string `json:"actor"`
	IsAdmin bool   `json:"is_admin"`
}

// =====================
// helper
// =====================

func mustMakeJWT(t *testing.T, secret string, claims jwt.MapClaims, signingMethod jwt.SigningMethod) string {
	t.Helper()
	token := jwt.NewWithClaims(signingMethod, claims)
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func runRequest(t *testing.T, e *echo.Echo, method string, path string, authHeader string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeMWError(t *testing.T, rec *httptest.ResponseRecorder) mwErrorResponse {
	t.Helper()
	var r mwErrorResponse
	_ = json.NewDecoder(rec.Body).Decode(&r)
	return r
}

func protectedEcho(mws ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.GET("/protected", func(c echo.Context) error {
		actor, _ := middleware.ActorFromContext(c)
		isAdmin, _ := c.Get(middleware.CtxAdminKey).(bool)
		return c.JSON(http.StatusOK, mwOKResponse{Actor: actor, IsAdmin: isAdmin})
	}, mws...)
	return e
}

// =====================
// AuthJWT
// =====================

func TestMiddleware_AuthJWT_Unauthorized(t *testing.T) {
	valid := jwt.MapClaims{"sub": "ops", "adm": true, "exp": time.Now().Add(time.Hour).Unix()}

	cases := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"not bearer", "Basic abc"},
		{"empty token", "Bearer  "},
		{"garbage", "Bearer not.a.jwt"},
		{"wrong secret", "Bearer " + mustMakeJWT(t, "other", valid, jwt.SigningMethodHS256)},
		{"wrong alg", "Bearer " + mustMakeJWT(t, testSecret, valid, jwt.SigningMethodHS512)},
		{"expired", "Bearer " + mustMakeJWT(t, testSecret, jwt.MapClaims{"sub": "ops", "adm": true, "exp": time.Now().Add(-time.Minute).Unix()}, jwt.SigningMethodHS256)},
		{"missing sub", "Bearer " + mustMakeJWT(t, testSecret, jwt.MapClaims{"adm": true}, jwt.SigningMethodHS256)},
		{"numeric sub", "Bearer " + mustMakeJWT(t, testSecret, jwt.MapClaims{"sub": 1, "adm": true}, jwt.SigningMethodHS256)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := protectedEcho(middleware.AuthJWT(testSecret))

			rec := runRequest(t, e, http.MethodGet, "/protected", tc.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", decodeMWError(t, rec).Error)
		})
	}
}

func TestMiddleware_AuthJWT_OK_SetsContext(t *testing.T) {
	e := protectedEcho(middleware.AuthJWT(testSecret))
	token, exp, err := middleware.IssueAdminToken(testSecret, "ops@example.com", time.Hour, time.Now())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	rec := runRequest(t, e, http.MethodGet, "/protected", "bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code)

	var body mwOKResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ops@example.com", body.Actor)
	assert.True(t, body.IsAdmin)
}

func TestMiddleware_IssueAdminToken_EmptySecret(t *testing.T) {
	_, _, err := middleware.IssueAdminToken("", "ops", time.Hour, time.Now())
	assert.Error(t, err)
}

// =====================
// AdminRoleGuard
// =====================

func TestMiddleware_AdminRoleGuard(t *testing.T) {
	e := protectedEcho(middleware.AuthJWT(testSecret), middleware.AdminRoleGuard())

	admin, _, err := middleware.IssueAdminToken(testSecret, "ops", time.Hour, time.Now())
	require.NoError(t, err)
	user := mustMakeJWT(t, testSecret, jwt.MapClaims{"sub": "viewer", "exp": time.Now().Add(time.Hour).Unix()}, jwt.SigningMethodHS256)
	notAdmin := mustMakeJWT(t, testSecret, jwt.MapClaims{"sub": "viewer", "adm": false}, jwt.SigningMethodHS256)

	rec := runRequest(t, e, http.MethodGet, "/protected", "Bearer "+admin)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = runRequest(t, e, http.MethodGet, "/protected", "Bearer "+user)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "admin only", decodeMWError(t, rec).Error)

	rec = runRequest(t, e, http.MethodGet, "/protected", "Bearer "+notAdmin)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// AuthJWT 無しで来たら401
	bare := protectedEcho(middleware.AdminRoleGuard())
	rec = runRequest(t, bare, http.MethodGet, "/protected", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =====================
// SessionID / SessionRateLimit
// =====================

func sessionEcho(mws ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	h := func(c echo.Context) error {
		return c.String(http.StatusOK, middleware.SessionIDFromContext(c))
	}
	e.GET("/s", h, mws...)
	e.POST("/s", h, mws...)
	return e
}

func TestMiddleware_SessionID(t *testing.T) {
	e := sessionEcho(middleware.SessionID())

	t.Run("issues when absent", func(t *testing.T) {
		rec := runRequest(t, e, http.MethodGet, "/s", "")
		require.Equal(t, http.StatusOK, rec.Code)
		sid := rec.Header().Get(middleware.HeaderSessionID)
		_, err := uuid.Parse(sid)
		assert.NoError(t, err)
		assert.Equal(t, sid, rec.Body.String())
	})

	t.Run("header wins over query", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/s?sid=from-query", nil)
		req.Header.Set(middleware.HeaderSessionID, "from-header")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, "from-header", rec.Body.String())
		assert.Equal(t, "from-header", rec.Header().Get(middleware.HeaderSessionID))
	})

	t.Run("query for event source", func(t *testing.T) {
		rec := runRequest(t, e, http.MethodGet, "/s?sid=abc_123", "")
		assert.Equal(t, "abc_123", rec.Body.String())
	})

	t.Run("rejects odd characters", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/s", nil)
		req.Header.Set(middleware.HeaderSessionID, "bad id<script>")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMiddleware_SessionRateLimit(t *testing.T) {
	allowed := map[string]bool{"good": true}
	var calls []string
	allow := func(sid string) bool {
		calls = append(calls, sid)
		return allowed[sid]
	}
	e := sessionEcho(middleware.SessionID(), middleware.SessionRateLimit(allow))

	do := func(method, sid string) int {
		req := httptest.NewRequest(method, "/s", nil)
		req.Header.Set(middleware.HeaderSessionID, sid)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do(http.MethodPost, "good"))
	assert.Equal(t, http.StatusTooManyRequests, do(http.MethodPost, "bad"))
	// 読み取りは制限しない
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "bad"))
	assert.Equal(t, []string{"good", "bad"}, calls)
}

// =====================
// RequestLogger
// =====================

func TestMiddleware_RequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	e := echo.New()
	e.Use(middleware.RequestLogger(zap.New(core)))
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.GET("/boom", func(c echo.Context) error { return echo.NewHTTPError(http.StatusInternalServerError, "boom") })

	runRequest(t, e, http.MethodGet, "/ok", "")
	runRequest(t, e, http.MethodGet, "/boom", "")
	runRequest(t, e, http.MethodGet, "/missing", "")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, int64(http.StatusNoContent), entries[0].ContextMap()["status"])
	assert.Equal(t, "/ok", entries[0].ContextMap()["route"])
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.Equal(t, zap.WarnLevel, entries[2].Level)
}
