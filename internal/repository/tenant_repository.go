package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mscan/mscan-core/internal/model"
)

// TenantRepository resolves tenants by slug.
type TenantRepository struct {
	pool PoolInterface
}

// NewTenantRepository creates a new TenantRepository with the given pool.
func NewTenantRepository(pool *pgxpool.Pool) *TenantRepository {
	return &TenantRepository{pool: pool}
}

// NewTenantRepositoryWithPool creates a TenantRepository with a custom pool interface.
func NewTenantRepositoryWithPool(pool PoolInterface) *TenantRepository {
	return &TenantRepository{pool: pool}
}

// GetBySlug returns the tenant or nil, nil when the slug is unknown.
func (r *TenantRepository) GetBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	query := `SELECT id, slug, name, status, created_at FROM tenants WHERE slug = $1`

	var t model.Tenant
	var status string
	err := r.pool.QueryRow(ctx, query, slug).Scan(&t.ID, &t.Slug, &t.Name, &status, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tenant %s: %w", slug, err)
	}
	t.Status = model.TenantStatus(status)
	return &t, nil
}
