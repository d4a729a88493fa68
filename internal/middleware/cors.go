package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// corsHeaders are attached to every proxy response.
var corsHeaders = map[string]string{
	echo.HeaderAccessControlAllowOrigin:  "*",
	echo.HeaderAccessControlAllowMethods: http.MethodOptions,
	echo.HeaderAccessControlAllowHeaders: "*",
}

// ApplyCORS sets the CORS headers on h, replacing any existing values.
func ApplyCORS(h http.Header) {
	for k, v := range corsHeaders {
		h.Set(k, v)
	}
}

// CORS returns an Echo middleware that sets the CORS headers before the
// handler runs, so early rejections and error responses carry them too.
// Handlers that copy upstream headers must call ApplyCORS again afterwards.
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ApplyCORS(c.Response().Header())
			return next(c)
		}
	}
}
