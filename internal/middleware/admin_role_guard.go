package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

//contextのadmがtrueかどうかを確認します。

func AdminRoleGuard() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := ActorFromContext(c); !ok {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			//adm=true だけ許可
			isAdmin, _ := c.Get(CtxAdminKey).(bool)
			if !isAdmin {
				return c.JSON(http.StatusForbidden, errorJSON("admin only"))
			}

			return next(c)
		}
	}
}
