package middleware

import (
	"strconv"
	"time"

	"github.com/vibast-solutions/ms-go-accounts/app/metrics"

	"github.com/labstack/echo/v4"
)

// Metrics records the latency of every request under its route template, so
// /users/1 and /users/2 share one series.
func Metrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		status := c.Response().Status
		if err != nil {
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if !c.Response().Committed {
				status = 500
			}
		}

		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
		return err
	}
}
