package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// SessionRateLimit は書き込み系（GET/HEAD以外）をセッション単位で制限する。
// allow は session.Registry.Allow を想定。
func SessionRateLimit(allow func(sessionID string) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			switch c.Request().Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return next(c)
			}

			sid := SessionIDFromContext(c)
			if sid != "" && !allow(sid) {
				return c.JSON(http.StatusTooManyRequests, errorJSON("too many requests"))
			}
			return next(c)
		}
	}
}
