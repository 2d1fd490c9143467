package middleware

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mscan/mscan-core/internal/metrics"
	"github.com/mscan/mscan-core/internal/service"
)

// Timeout bounds the request's user context so storage calls made with it
// give up after d.
func Timeout(d time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if d <= 0 {
			return c.Next()
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), d)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// Metrics records request latency by method, route pattern and status.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		// errors are rendered by the app's error handler after this returns
		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			switch e, ok := service.AsError(err); {
			case ok:
				status = e.Status
			case errors.As(err, &fe):
				status = fe.Code
			default:
				status = fiber.StatusInternalServerError
			}
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Method(), c.Route().Path, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
		return err
	}
}
