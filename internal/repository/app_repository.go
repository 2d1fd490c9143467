package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mscan/mscan-core/internal/model"
)

// AppRepository looks up partner apps allowed to call the partner scan API.
type AppRepository struct {
	pool PoolInterface
}

// NewAppRepository creates a new AppRepository with the given pool.
func NewAppRepository(pool *pgxpool.Pool) *AppRepository {
	return &AppRepository{pool: pool}
}

// NewAppRepositoryWithPool creates an AppRepository with a custom pool interface.
func NewAppRepositoryWithPool(pool PoolInterface) *AppRepository {
	return &AppRepository{pool: pool}
}

// GetByCode returns the partner app or nil, nil when the code is unknown.
func (r *AppRepository) GetByCode(ctx context.Context, appCode string) (*model.PartnerApp, error) {
	query := `SELECT id, tenant_id, app_code, name, api_key_hash, active FROM partner_apps WHERE app_code = $1`

	var app model.PartnerApp
	err := r.pool.QueryRow(ctx, query, appCode).
		Scan(&app.ID, &app.TenantID, &app.AppCode, &app.Name, &app.APIKeyHash, &app.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get partner app %s: %w", appCode, err)
	}
	return &app, nil
}
