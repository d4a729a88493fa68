package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// inboundHopByHop are connection-scoped request headers removed before
// any handler sees the request.
var inboundHopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that adds security headers
// and strips hop-by-hop headers from the incoming request.
// Response headers are set up front because streamed replies commit them
// before the handler returns.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header
			for _, v := range h.Values("Connection") {
				for _, name := range strings.Split(v, ",") {
					if name = strings.TrimSpace(name); name != "" {
						h.Del(name)
					}
				}
			}
			for _, name := range inboundHopByHop {
				h.Del(name)
			}

			res := c.Response().Header()
			res.Set(echo.HeaderXContentTypeOptions, "nosniff")
			res.Set(echo.HeaderXFrameOptions, "DENY")

			return next(c)
		}
	}
}
