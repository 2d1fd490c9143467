package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mscan/mscan-core/internal/model"
	"github.com/mscan/mscan-core/pkg/database"
)

const otpColumns = `id, target, recipient, purpose, code, created_at, expires_at, attempt_count, consumed_at`

// OTPRepository stores one live one-time code per target.
type OTPRepository struct {
	pool PoolInterface
}

// NewOTPRepository creates a new OTPRepository with the given pool.
func NewOTPRepository(pool *pgxpool.Pool) *OTPRepository {
	return &OTPRepository{pool: pool}
}

// NewOTPRepositoryWithPool creates an OTPRepository with a custom pool interface.
func NewOTPRepositoryWithPool(pool PoolInterface) *OTPRepository {
	return &OTPRepository{pool: pool}
}

func (r *OTPRepository) db(db database.TxQuerier) database.TxQuerier {
	if db == nil {
		return r.pool
	}
	return db
}

func scanOTP(row rowScanner) (*model.OTPRecord, error) {
	var rec model.OTPRecord
	var purpose string
	err := row.Scan(
		&rec.ID,
		&rec.Target,
		&rec.Recipient,
		&purpose,
		&rec.Code,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.AttemptCount,
		&rec.ConsumedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Purpose = model.OTPPurpose(purpose)
	return &rec, nil
}

// Upsert stores rec as the live code for its target, superseding any previous
// code and resetting the attempt counter.
func (r *OTPRepository) Upsert(ctx context.Context, rec *model.OTPRecord) error {
	query := `INSERT INTO otps (id, target, recipient, purpose, code, created_at, expires_at, attempt_count, consumed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, NULL)
		ON CONFLICT (target) DO UPDATE SET
			id = EXCLUDED.id,
			recipient = EXCLUDED.recipient,
			purpose = EXCLUDED.purpose,
			code = EXCLUDED.code,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			attempt_count = 0,
			consumed_at = NULL`

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.Target, rec.Recipient, string(rec.Purpose), rec.Code, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert otp: %w", err)
	}
	return nil
}

// RegisterAttempt counts one verification attempt and returns the record as it
// stands after the increment. Returns nil, nil if no code exists for target.
// A nil db runs the statement on the pool.
func (r *OTPRepository) RegisterAttempt(ctx context.Context, db database.TxQuerier, target string) (*model.OTPRecord, error) {
	query := `UPDATE otps SET attempt_count = attempt_count + 1 WHERE target = $1 RETURNING ` + otpColumns

	rec, err := scanOTP(r.db(db).QueryRow(ctx, query, target))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("register otp attempt: %w", err)
	}
	return rec, nil
}

// Consume marks the code used. Returns false if it was already consumed or superseded.
func (r *OTPRepository) Consume(ctx context.Context, db database.TxQuerier, id uuid.UUID, at time.Time) (bool, error) {
	query := `UPDATE otps SET consumed_at = $2 WHERE id = $1 AND consumed_at IS NULL`

	tag, err := r.db(db).Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("consume otp: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteExpiredBefore removes codes that expired before cutoff.
func (r *OTPRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM otps WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired otps: %w", err)
	}
	return tag.RowsAffected(), nil
}
