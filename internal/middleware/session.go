package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	HeaderSessionID = "X-Session-ID"
	CtxSessionIDKey = "session_id"

	maxSessionIDLen = 128
)

// SessionID はセッションIDを決める。ヘッダ優先、無ければ ?sid=（EventSource用）、
// どちらも無ければ発行してレスポンスヘッダで返す。
func SessionID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sid := strings.TrimSpace(c.Request().Header.Get(HeaderSessionID))
			if sid == "" {
				sid = strings.TrimSpace(c.QueryParam("sid"))
			}
			if sid == "" {
				sid = uuid.NewString()
			} else if !validSessionID(sid) {
				return c.JSON(http.StatusBadRequest, errorJSON("invalid session id"))
			}

			c.Set(CtxSessionIDKey, sid)
			c.Response().Header().Set(HeaderSessionID, sid)
			return next(c)
		}
	}
}

func SessionIDFromContext(c echo.Context) string {
	sid, _ := c.Get(CtxSessionIDKey).(string)
	return sid
}

// 英数字と - _ . だけ許可
func validSessionID(s string) bool {
	if len(s) > maxSessionIDLen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
