package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// RequestLogger writes one access-log entry per request. It runs after
// the error handler has rendered, so the status is final.
func RequestLogger(log logrus.FieldLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			res := c.Response()
			fields := logrus.Fields{
				"request_id":  res.Header().Get(echo.HeaderXRequestID),
				"method":      c.Request().Method,
				"path":        c.Path(),
				"status":      res.Status,
				"duration_ms": time.Since(start).Milliseconds(),
				"user_id":     userID(c),
			}
			entry := log.WithFields(fields)
			if err != nil {
				entry = entry.WithError(err)
			}
			if res.Status >= 500 {
				entry.Error("request")
			} else {
				entry.Info("request")
			}
			return nil
		}
	}
}
