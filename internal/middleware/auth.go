package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/mscan/mscan-core/internal/auth"
	"github.com/mscan/mscan-core/internal/model"
	"github.com/mscan/mscan-core/internal/service"
)

// HeaderAPIKey carries a partner app's secret key.
const HeaderAPIKey = "X-API-Key"

const (
	localClaims = "mscan.claims"
	localApp    = "mscan.app"
)

// RequireRole accepts a bearer token carrying one of roles. The token must
// belong to the resolved tenant unless it is a super_admin token.
func RequireRole(tokens *auth.Manager, roles ...auth.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return service.ErrUnauthorized.WithMessage("missing bearer token")
		}

		claims, err := tokens.Parse(raw)
		if err != nil {
			return service.ErrUnauthorized.WithMessage("invalid or expired token")
		}
		if !claims.HasRole(roles...) {
			return service.ErrForbidden
		}
		if claims.Role != auth.RoleSuperAdmin && claims.TenantID != TenantID(c) {
			return service.ErrForbidden.WithMessage("token does not belong to this tenant")
		}

		c.Locals(localClaims, claims)
		return c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ClaimsFrom returns the claims accepted by RequireRole, or nil.
func ClaimsFrom(c *fiber.Ctx) *auth.Claims {
	claims, _ := c.Locals(localClaims).(*auth.Claims)
	return claims
}

// AppFinder resolves a partner app by its public code.
type AppFinder interface {
	GetByCode(ctx context.Context, appCode string) (*model.PartnerApp, error)
}

// PartnerAPIKey authenticates the partner app named by the :appCode route
// parameter with the X-API-Key header. The app must be active and belong to
// the resolved tenant.
func PartnerAPIKey(apps AppFinder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(HeaderAPIKey)
		if key == "" {
			return service.ErrUnauthorized.WithMessage("missing API key")
		}

		app, err := apps.GetByCode(c.UserContext(), c.Params("appCode"))
		if err != nil {
			return fmt.Errorf("get partner app: %w", err)
		}
		if app == nil || !app.Active || app.TenantID != TenantID(c) {
			return service.ErrUnauthorized.WithMessage("invalid API key")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(app.APIKeyHash), []byte(key)); err != nil {
			log.Warn().Str("app_code", app.AppCode).Msg("partner api key rejected")
			return service.ErrUnauthorized.WithMessage("invalid API key")
		}

		c.Locals(localApp, app)
		return c.Next()
	}
}

// PartnerAppFrom returns the app authenticated by PartnerAPIKey, or nil.
func PartnerAppFrom(c *fiber.Ctx) *model.PartnerApp {
	app, _ := c.Locals(localApp).(*model.PartnerApp)
	return app
}
