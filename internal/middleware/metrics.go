package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"copilot-proxy-go/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records request count,
// latency and the in-flight gauge for each inbound request.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			start := time.Now()

			err := next(c)

			m.RequestsInFlight.Dec()

			labels := []string{
				metrics.NormalizeMethod(c.Request().Method),
				strconv.Itoa(responseStatus(c, err)),
				metrics.NormalizePath(c.Request().URL.Path),
			}
			m.RequestsTotal.WithLabelValues(labels...).Inc()
			m.RequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// responseStatus returns the status the client sees. A returned error has
// not been written yet; Echo's error handler turns it into the response later.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
