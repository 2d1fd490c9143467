package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mscan/mscan-core/internal/model"
	"github.com/mscan/mscan-core/internal/service"
	"github.com/mscan/mscan-core/pkg/database"
)

// PoolInterface defines the database operations needed by repositories.
// This allows for easier testing with mocks.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const couponColumns = `id, tenant_id, code, reference, status, points, discount_value, expiry_date, batch_id,
	COALESCE(activation_note, ''), COALESCE(deactivation_reason, ''), created_at, updated_at, redeemed_at`

// CouponRepository provides data access for coupons using pgx.
// Every query is scoped by tenant_id.
type CouponRepository struct {
	pool PoolInterface
}

// NewCouponRepository creates a new CouponRepository with the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// NewCouponRepositoryWithPool creates a new CouponRepository with a custom pool interface.
// This is primarily used for testing.
func NewCouponRepositoryWithPool(pool PoolInterface) *CouponRepository {
	return &CouponRepository{pool: pool}
}

func scanCoupon(row rowScanner) (*model.Coupon, error) {
	var c model.Coupon
	var status string
	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.Code,
		&c.Reference,
		&status,
		&c.Points,
		&c.DiscountValue,
		&c.ExpiryDate,
		&c.BatchID,
		&c.ActivationNote,
		&c.DeactivationReason,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.RedeemedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = model.CouponStatus(status)
	return &c, nil
}

// GetByCode retrieves a coupon by its public code.
// Returns nil, nil if the coupon is not found (service layer handles this).
func (r *CouponRepository) GetByCode(ctx context.Context, tenantID uuid.UUID, code string) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE tenant_id = $1 AND code = $2`

	coupon, err := scanCoupon(r.pool.QueryRow(ctx, query, tenantID, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get coupon by code: %w", err)
	}
	return coupon, nil
}

// GetByID retrieves a coupon by id. Returns nil, nil if not found.
func (r *CouponRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE tenant_id = $1 AND id = $2`

	coupon, err := scanCoupon(r.pool.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get coupon %s: %w", id, err)
	}
	return coupon, nil
}

// GetForUpdate retrieves a coupon with a row lock (SELECT FOR UPDATE).
// Returns service.ErrCouponNotFound if the coupon doesn't exist.
func (r *CouponRepository) GetForUpdate(ctx context.Context, tx database.TxQuerier, tenantID, id uuid.UUID) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE tenant_id = $1 AND id = $2 FOR UPDATE`

	coupon, err := scanCoupon(tx.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon for update %s: %w", id, err)
	}
	return coupon, nil
}

// GetByCodeForUpdate locks a coupon found by code.
// Returns service.ErrCouponNotFound if the coupon doesn't exist.
func (r *CouponRepository) GetByCodeForUpdate(ctx context.Context, tx database.TxQuerier, tenantID uuid.UUID, code string) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE tenant_id = $1 AND code = $2 FOR UPDATE`

	coupon, err := scanCoupon(tx.QueryRow(ctx, query, tenantID, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon by code for update: %w", err)
	}
	return coupon, nil
}

// ListByReferencesForUpdate locks every coupon whose reference is in refs.
// Missing references are simply absent from the result.
func (r *CouponRepository) ListByReferencesForUpdate(ctx context.Context, tx database.TxQuerier, tenantID uuid.UUID, refs []string) ([]model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons
		WHERE tenant_id = $1 AND reference = ANY($2::text[])
		ORDER BY reference
		FOR UPDATE`

	rows, err := tx.Query(ctx, query, tenantID, refs)
	if err != nil {
		return nil, fmt.Errorf("list coupons by reference: %w", err)
	}
	defer rows.Close()

	coupons := make([]model.Coupon, 0, len(refs))
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon: %w", err)
		}
		coupons = append(coupons, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coupon rows: %w", err)
	}
	return coupons, nil
}

// UpdateStatus moves a coupon from one status to another only if it is still in from.
// Activation records note as the activation note and deactivation as the reason.
// Returns false when no row matched (the coupon changed concurrently).
func (r *CouponRepository) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, from, to model.CouponStatus, note string, at time.Time) (bool, error) {
	query := `UPDATE coupons SET
			status = $4,
			updated_at = $5,
			activation_note = CASE WHEN $4 = 'active' AND $6 <> '' THEN $6 ELSE activation_note END,
			deactivation_reason = CASE WHEN $4 = 'inactive' THEN $6 ELSE deactivation_reason END,
			redeemed_at = CASE WHEN $4 = 'redeemed' THEN $5 ELSE redeemed_at END
		WHERE tenant_id = $1 AND id = $2 AND status = $3`

	tag, err := r.pool.Exec(ctx, query, tenantID, id, string(from), string(to), at, note)
	if err != nil {
		return false, fmt.Errorf("update coupon status %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRedeemed is the compare-and-swap that makes redemption exactly-once:
// it only succeeds while the coupon is active and not past its expiry date.
func (r *CouponRepository) MarkRedeemed(ctx context.Context, tx database.TxQuerier, tenantID, id uuid.UUID, at time.Time) (bool, error) {
	query := `UPDATE coupons SET status = 'redeemed', redeemed_at = $3, updated_at = $3
		WHERE tenant_id = $1 AND id = $2 AND status = 'active'
		AND (expiry_date IS NULL OR expiry_date > $3)`

	tag, err := tx.Exec(ctx, query, tenantID, id, at)
	if err != nil {
		return false, fmt.Errorf("mark coupon redeemed %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ActivateMany activates every listed coupon that is still printed and returns the affected count.
func (r *CouponRepository) ActivateMany(ctx context.Context, tx database.TxQuerier, tenantID uuid.UUID, ids []uuid.UUID, note string, at time.Time) (int64, error) {
	idStrings := make([]string, len(ids))
	for i, id := range ids {
		idStrings[i] = id.String()
	}

	query := `UPDATE coupons SET status = 'active', updated_at = $4,
			activation_note = CASE WHEN $3 <> '' THEN $3 ELSE activation_note END
		WHERE tenant_id = $1 AND id = ANY($2::uuid[]) AND status = 'printed'`

	tag, err := tx.Exec(ctx, query, tenantID, idStrings, note, at)
	if err != nil {
		return 0, fmt.Errorf("activate coupons: %w", err)
	}
	return tag.RowsAffected(), nil
}

// NextReferenceBlock reserves n sequential reference numbers for prefix and
// returns the first one.
func (r *CouponRepository) NextReferenceBlock(ctx context.Context, tx database.TxQuerier, tenantID uuid.UUID, prefix string, n int) (int64, error) {
	query := `INSERT INTO coupon_sequences (tenant_id, prefix, last_value) VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, prefix)
		DO UPDATE SET last_value = coupon_sequences.last_value + EXCLUDED.last_value
		RETURNING last_value`

	var last int64
	if err := tx.QueryRow(ctx, query, tenantID, prefix, n).Scan(&last); err != nil {
		return 0, fmt.Errorf("reserve references for %s: %w", prefix, err)
	}
	return last - int64(n) + 1, nil
}

// InsertMany inserts draft coupons inside tx.
func (r *CouponRepository) InsertMany(ctx context.Context, tx database.TxQuerier, coupons []model.Coupon) error {
	query := `INSERT INTO coupons
		(id, tenant_id, code, reference, status, points, discount_value, expiry_date, batch_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`

	for i := range coupons {
		c := &coupons[i]
		_, err := tx.Exec(ctx, query,
			c.ID, c.TenantID, c.Code, c.Reference, string(c.Status), c.Points,
			c.DiscountValue, c.ExpiryDate, c.BatchID, c.CreatedAt)
		if err != nil {
			if constraint, ok := database.UniqueViolation(err); ok {
				return fmt.Errorf("insert coupon %s: duplicate %s: %w", c.Reference, constraint, err)
			}
			return fmt.Errorf("insert coupon %s: %w", c.Reference, err)
		}
	}
	return nil
}

// ExpireOverdue moves every non-terminal coupon past its expiry date to expired.
func (r *CouponRepository) ExpireOverdue(ctx context.Context, at time.Time) (int64, error) {
	query := `UPDATE coupons SET status = 'expired', updated_at = $1
		WHERE status IN ('draft', 'printed', 'active', 'inactive')
		AND expiry_date IS NOT NULL AND expiry_date < $1`

	tag, err := r.pool.Exec(ctx, query, at)
	if err != nil {
		return 0, fmt.Errorf("expire overdue coupons: %w", err)
	}
	return tag.RowsAffected(), nil
}
