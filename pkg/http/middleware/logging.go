package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"MarketMaker/pkg/logger"
)

// RequestLogging logs each request at debug level, 5xx responses as errors and requests slower
// than slow as warnings.
func RequestLogging(log *logger.Logger, slow time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			latency := time.Since(start)
			fields := []logger.Field{
				logger.String("method", c.Request().Method),
				logger.String("route", routeOf(c)),
				logger.Int("status", c.Response().Status),
				logger.Duration("latency", latency),
				logger.Int64("bytes", c.Response().Size),
			}
			switch {
			case c.Response().Status >= 500:
				log.Error("http request failed", append(fields, logger.Error(err))...)
			case slow > 0 && latency >= slow:
				log.Warn("http request slow", fields...)
			default:
				log.Debug("http request", fields...)
			}
			return nil
		}
	}
}

// routeOf returns the registered route template, falling back to the raw path for unmatched
// requests.
func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return c.Request().URL.Path
}
