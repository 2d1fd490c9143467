package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mscan/mscan-core/internal/model"
	"github.com/mscan/mscan-core/internal/service"
	"github.com/mscan/mscan-core/pkg/database"
)

const (
	constraintScanCoupon        = "scans_coupon_id_key"
	constraintScanRewardCoupon  = "uq_credit_scan_reward_coupon"
	constraintDebitReference    = "uq_credit_debit_reference"
	defaultTransactionPageLimit = 50
)

// CreditRepository stores scans, credit transactions and running balances.
type CreditRepository struct {
	pool PoolInterface
}

// NewCreditRepository creates a new CreditRepository with the given pool.
func NewCreditRepository(pool *pgxpool.Pool) *CreditRepository {
	return &CreditRepository{pool: pool}
}

// NewCreditRepositoryWithPool creates a CreditRepository with a custom pool interface.
// This is primarily used for testing.
func NewCreditRepositoryWithPool(pool PoolInterface) *CreditRepository {
	return &CreditRepository{pool: pool}
}

// InsertScan records a redemption within a transaction.
// Returns service.ErrCouponAlreadyUsed if the coupon already has a scan.
func (r *CreditRepository) InsertScan(ctx context.Context, tx database.TxQuerier, scan *model.Scan) error {
	query := `INSERT INTO scans (id, tenant_id, coupon_id, user_identity, points, channel, app_id, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := tx.Exec(ctx, query,
		scan.ID, scan.TenantID, scan.CouponID, scan.UserIdentity, scan.Points,
		string(scan.Channel), scan.AppID, scan.SessionID, scan.CreatedAt)
	if err != nil {
		if _, ok := database.UniqueViolation(err); ok {
			return service.ErrCouponAlreadyUsed
		}
		return fmt.Errorf("insert scan: %w", err)
	}
	return nil
}

// AppendTransaction adds an entry to the credit ledger.
// Returns service.ErrCouponAlreadyUsed for a second reward on one coupon and
// service.ErrDuplicateDebit for a reused debit reference.
func (r *CreditRepository) AppendTransaction(ctx context.Context, tx database.TxQuerier, txn *model.CreditTransaction) error {
	query := `INSERT INTO credit_transactions
		(id, tenant_id, user_identity, amount, reason, coupon_id, scan_id, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`

	_, err := tx.Exec(ctx, query,
		txn.ID, txn.TenantID, txn.UserIdentity, txn.Amount, string(txn.Reason),
		txn.CouponID, txn.ScanID, txn.Reference, txn.CreatedAt)
	if err != nil {
		if constraint, ok := database.UniqueViolation(err); ok {
			if constraint == constraintDebitReference {
				return service.ErrDuplicateDebit
			}
			if scanRewardConflict(constraint) {
				return service.ErrCouponAlreadyUsed
			}
			return fmt.Errorf("append credit transaction: duplicate %s: %w", constraint, err)
		}
		return fmt.Errorf("append credit transaction: %w", err)
	}
	return nil
}

// AddToBalance credits amount to the identity's balance, creating it on first
// use, and returns the new balance.
func (r *CreditRepository) AddToBalance(ctx context.Context, tx database.TxQuerier, txn *model.CreditTransaction) (int64, error) {
	query := `INSERT INTO credit_balances (tenant_id, user_identity, balance, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, user_identity)
		DO UPDATE SET balance = credit_balances.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
		RETURNING balance`

	var balance int64
	err := tx.QueryRow(ctx, query, txn.TenantID, txn.UserIdentity, txn.Amount, txn.CreatedAt).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("add to balance: %w", err)
	}
	return balance, nil
}

// Debit subtracts amount only if the balance covers it. Returns the new
// balance and false when funds were insufficient or no balance exists.
func (r *CreditRepository) Debit(ctx context.Context, tx database.TxQuerier, txn *model.CreditTransaction, amount int64) (int64, bool, error) {
	query := `UPDATE credit_balances SET balance = balance - $3, updated_at = $4
		WHERE tenant_id = $1 AND user_identity = $2 AND balance >= $3
		RETURNING balance`

	var balance int64
	err := tx.QueryRow(ctx, query, txn.TenantID, txn.UserIdentity, amount, txn.CreatedAt).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		if database.CheckViolation(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("debit balance: %w", err)
	}
	return balance, true, nil
}

// GetBalance returns the identity's balance, zero if it has never earned credit.
func (r *CreditRepository) GetBalance(ctx context.Context, tenantID uuid.UUID, identity string) (int64, error) {
	query := `SELECT balance FROM credit_balances WHERE tenant_id = $1 AND user_identity = $2`

	var balance int64
	err := r.pool.QueryRow(ctx, query, tenantID, identity).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// ListTransactions returns the newest transactions first.
// On success, returns an empty slice (not nil) when none exist.
func (r *CreditRepository) ListTransactions(ctx context.Context, tenantID uuid.UUID, identity string, limit int) ([]model.CreditTransaction, error) {
	if limit <= 0 {
		limit = defaultTransactionPageLimit
	}
	query := `SELECT id, tenant_id, user_identity, amount, reason, coupon_id, scan_id, COALESCE(reference, ''), created_at
		FROM credit_transactions
		WHERE tenant_id = $1 AND user_identity = $2
		ORDER BY created_at DESC, id
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, tenantID, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()

	txns := []model.CreditTransaction{}
	for rows.Next() {
		var t model.CreditTransaction
		var reason string
		if err := rows.Scan(&t.ID, &t.TenantID, &t.UserIdentity, &t.Amount, &reason,
			&t.CouponID, &t.ScanID, &t.Reference, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit transaction: %w", err)
		}
		t.Reason = model.CreditReason(reason)
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credit transaction rows: %w", err)
	}
	return txns, nil
}

// scanRewardConflict reports whether constraint guards exactly-once crediting.
func scanRewardConflict(constraint string) bool {
	return constraint == constraintScanCoupon || constraint == constraintScanRewardCoupon
}
