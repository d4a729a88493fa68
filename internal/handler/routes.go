package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"copilot-proxy-go/internal/config"
	"copilot-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Health and metrics routes are exact matches; every other path and
// method reaches the proxy.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/", proxy.Handle)
	e.Any("/*", proxy.Handle)
}
