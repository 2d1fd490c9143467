// Package middleware holds the fiber middleware shared by the API surfaces.
package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/mscan/mscan-core/internal/model"
	"github.com/mscan/mscan-core/internal/service"
)

// HeaderTenant selects the tenant explicitly.
const HeaderTenant = "X-Tenant"

const localTenant = "mscan.tenant"

// TenantFinder resolves a tenant by slug.
type TenantFinder interface {
	GetBySlug(ctx context.Context, slug string) (*model.Tenant, error)
}

// TenantOptions controls where the tenant slug is taken from.
type TenantOptions struct {
	// BaseDomain enables subdomain resolution: acme.<BaseDomain> selects "acme".
	BaseDomain string
	// Default is used when neither the header nor the host names a tenant.
	Default string
}

// Tenant resolves the request's tenant from the X-Tenant header, the host's
// subdomain or the configured default, in that order. Unknown and suspended
// tenants are rejected with ErrTenantNotFound.
func Tenant(finder TenantFinder, opts TenantOptions) fiber.Handler {
	base := strings.ToLower(strings.TrimPrefix(opts.BaseDomain, "."))

	return func(c *fiber.Ctx) error {
		slug := tenantSlug(c, base, opts.Default)
		if slug == "" {
			return service.ErrTenantNotFound
		}

		tenant, err := finder.GetBySlug(c.UserContext(), slug)
		if err != nil {
			return fmt.Errorf("resolve tenant: %w", err)
		}
		if tenant == nil || tenant.Status != model.TenantActive {
			return service.ErrTenantNotFound
		}

		c.Locals(localTenant, tenant)
		return c.Next()
	}
}

func tenantSlug(c *fiber.Ctx, base, fallback string) string {
	if slug := strings.TrimSpace(c.Get(HeaderTenant)); slug != "" {
		return strings.ToLower(slug)
	}
	if base != "" {
		host := strings.ToLower(c.Hostname())
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		if sub, ok := strings.CutSuffix(host, "."+base); ok && sub != "" && !strings.Contains(sub, ".") {
			return sub
		}
	}
	return strings.ToLower(fallback)
}

// TenantFrom returns the tenant resolved by Tenant, or nil.
func TenantFrom(c *fiber.Ctx) *model.Tenant {
	t, _ := c.Locals(localTenant).(*model.Tenant)
	return t
}

// TenantID returns the resolved tenant's id, or uuid.Nil.
func TenantID(c *fiber.Ctx) uuid.UUID {
	if t := TenantFrom(c); t != nil {
		return t.ID
	}
	return uuid.Nil
}
