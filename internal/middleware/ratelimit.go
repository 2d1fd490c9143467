package middleware

import (
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/mscan/mscan-core/internal/metrics"
	"github.com/mscan/mscan-core/internal/ratelimit"
	"github.com/mscan/mscan-core/internal/service"
)

// KeyFunc picks the rate limit subject for a request.
type KeyFunc func(c *fiber.Ctx) string

// ByIP keys on the client IP.
func ByIP(c *fiber.Ctx) string { return c.IP() }

// ByPartnerApp keys on the app authenticated by PartnerAPIKey, so it must run
// after it.
func ByPartnerApp(c *fiber.Ctx) string {
	if app := PartnerAppFrom(c); app != nil {
		return app.ID.String()
	}
	return ""
}

// ByParam keys on a route parameter.
func ByParam(name string) KeyFunc {
	return func(c *fiber.Ctx) string { return c.Params(name) }
}

// RateLimit applies rule to the subject chosen by key. Rejected requests get
// ErrRateLimited with a Retry-After header. When the limiter itself fails the
// request is let through.
func RateLimit(limiter ratelimit.Limiter, rule ratelimit.Rule, key KeyFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		d, err := limiter.Check(c.UserContext(), rule, key(c))
		if err != nil {
			log.Error().Err(err).Str("scope", rule.Scope).Msg("rate limiter unavailable, allowing request")
			return c.Next()
		}

		if !rule.Disabled() {
			c.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining()))
		}
		if !d.Allowed {
			metrics.RateLimited.WithLabelValues(rule.Scope).Inc()
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			return service.ErrRateLimited
		}
		return c.Next()
	}
}
