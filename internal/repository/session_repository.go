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
	"github.com/mscan/mscan-core/internal/service"
	"github.com/mscan/mscan-core/pkg/database"
)

const sessionColumns = `id, tenant_id, coupon_id, coupon_code, coupon_reference, points,
	COALESCE(mobile_number, ''), status, COALESCE(client_ip, ''), created_at, otp_requested_at, completed_at, scan_id`

// SessionRepository stores public scan sessions.
type SessionRepository struct {
	pool PoolInterface
}

// NewSessionRepository creates a new SessionRepository with the given pool.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// NewSessionRepositoryWithPool creates a SessionRepository with a custom pool interface.
func NewSessionRepositoryWithPool(pool PoolInterface) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func scanSession(row rowScanner) (*model.ScanSession, error) {
	var s model.ScanSession
	var status string
	err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.CouponID,
		&s.CouponCode,
		&s.CouponReference,
		&s.Points,
		&s.MobileNumber,
		&status,
		&s.ClientIP,
		&s.CreatedAt,
		&s.OTPRequestedAt,
		&s.CompletedAt,
		&s.ScanID,
	)
	if err != nil {
		return nil, err
	}
	s.Status = model.SessionStatus(status)
	return &s, nil
}

// Insert stores a new session.
func (r *SessionRepository) Insert(ctx context.Context, s *model.ScanSession) error {
	query := `INSERT INTO scan_sessions
		(id, tenant_id, coupon_id, coupon_code, coupon_reference, points, status, client_ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.TenantID, s.CouponID, s.CouponCode, s.CouponReference, s.Points,
		string(s.Status), s.ClientIP, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert scan session: %w", err)
	}
	return nil
}

// GetByID returns the session or nil, nil when it does not exist.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ScanSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM scan_sessions WHERE id = $1`

	s, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get scan session %s: %w", id, err)
	}
	return s, nil
}

// GetForUpdate locks the session row for the rest of tx.
// Returns service.ErrSessionNotFound if the session doesn't exist.
func (r *SessionRepository) GetForUpdate(ctx context.Context, tx database.TxQuerier, id uuid.UUID) (*model.ScanSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM scan_sessions WHERE id = $1 FOR UPDATE`

	s, err := scanSession(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get scan session for update %s: %w", id, err)
	}
	return s, nil
}

// RequestOTP records the mobile number and moves the session to pending-otp.
// A session that already has a pending OTP may request a new one.
// Returns false when the session is no longer awaiting a mobile or OTP.
func (r *SessionRepository) RequestOTP(ctx context.Context, id uuid.UUID, mobile string, at time.Time) (bool, error) {
	query := `UPDATE scan_sessions SET mobile_number = $2, status = 'pending-otp', otp_requested_at = $3
		WHERE id = $1 AND status IN ('pending-mobile', 'pending-otp')`

	tag, err := r.pool.Exec(ctx, query, id, mobile, at)
	if err != nil {
		return false, fmt.Errorf("request otp for session %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Complete marks a pending-otp session completed and links the resulting scan.
func (r *SessionRepository) Complete(ctx context.Context, tx database.TxQuerier, id, scanID uuid.UUID, at time.Time) (bool, error) {
	query := `UPDATE scan_sessions SET status = 'completed', completed_at = $3, scan_id = $2
		WHERE id = $1 AND status = 'pending-otp'`

	tag, err := tx.Exec(ctx, query, id, scanID, at)
	if err != nil {
		return false, fmt.Errorf("complete scan session %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteCreatedBefore removes sessions that never completed and were created before cutoff.
func (r *SessionRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM scan_sessions WHERE status <> 'completed' AND created_at < $1`

	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale scan sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
