package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mscan/mscan-core/internal/model"
	"github.com/mscan/mscan-core/internal/service"
)

func fillSession(s model.ScanSession) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*uuid.UUID)) = s.ID
		*(dest[1].(*uuid.UUID)) = s.TenantID
		*(dest[2].(*uuid.UUID)) = s.CouponID
		*(dest[3].(*string)) = s.CouponCode
		*(dest[4].(*string)) = s.CouponReference
		*(dest[5].(*int)) = s.Points
		*(dest[6].(*string)) = s.MobileNumber
		*(dest[7].(*string)) = string(s.Status)
		*(dest[8].(*string)) = s.ClientIP
		*(dest[9].(*time.Time)) = s.CreatedAt
		*(dest[10].(**time.Time)) = s.OTPRequestedAt
		*(dest[11].(**time.Time)) = s.CompletedAt
		*(dest[12].(**uuid.UUID)) = s.ScanID
		return nil
	}
}

func TestSessionRepository_Insert(t *testing.T) {
	session := &model.ScanSession{
		ID:              uuid.New(),
		TenantID:        testTenant,
		CouponID:        testCoupon,
		CouponCode:      "PUBLIC_SCAN_001",
		CouponReference: "ACME-000001",
		Points:          100,
		Status:          model.SessionPendingMobile,
		ClientIP:        "203.0.113.7",
		CreatedAt:       time.Now(),
	}
	var capturedArgs []any
	mock := &mockPool{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			assert.Contains(t, sql, "INSERT INTO scan_sessions")
			capturedArgs = arguments
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	}

	err := NewSessionRepositoryWithPool(mock).Insert(context.Background(), session)

	require.NoError(t, err)
	assert.Equal(t, session.ID, capturedArgs[0])
	assert.Equal(t, "pending-mobile", capturedArgs[6])
	assert.Equal(t, "203.0.113.7", capturedArgs[7])
}

func TestSessionRepository_GetByID(t *testing.T) {
	requested := time.Now()
	want := model.ScanSession{
		ID:             uuid.New(),
		TenantID:       testTenant,
		CouponID:       testCoupon,
		CouponCode:     "PUBLIC_SCAN_001",
		Points:         100,
		MobileNumber:   "+12025550123",
		Status:         model.SessionPendingOTP,
		CreatedAt:      requested.Add(-time.Minute),
		OTPRequestedAt: &requested,
	}

	t.Run("found", func(t *testing.T) {
		mock := &mockPool{
			queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
				return &mockRow{scanFn: fillSession(want)}
			},
		}

		got, err := NewSessionRepositoryWithPool(mock).GetByID(context.Background(), want.ID)

		require.NoError(t, err)
		assert.Equal(t, want, *got)
	})

	t.Run("not found", func(t *testing.T) {
		mock := &mockPool{
			queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
				return errRow(pgx.ErrNoRows)
			},
		}

		got, err := NewSessionRepositoryWithPool(mock).GetByID(context.Background(), want.ID)

		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestSessionRepository_GetForUpdate_NotFound(t *testing.T) {
	tx := &mockPool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			assert.Contains(t, sql, "FOR UPDATE")
			return errRow(pgx.ErrNoRows)
		},
	}

	_, err := NewSessionRepositoryWithPool(&mockPool{}).GetForUpdate(context.Background(), tx, uuid.New())

	assert.True(t, errors.Is(err, service.ErrSessionNotFound))
}

func TestSessionRepository_RequestOTP(t *testing.T) {
	tests := []struct {
		name string
		tag  string
		want bool
	}{
		{name: "pending session", tag: "UPDATE 1", want: true},
		{name: "completed session", tag: "UPDATE 0", want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mock := &mockPool{
				execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
					assert.Contains(t, sql, "status IN ('pending-mobile', 'pending-otp')")
					return pgconn.NewCommandTag(tc.tag), nil
				},
			}

			ok, err := NewSessionRepositoryWithPool(mock).RequestOTP(context.Background(), uuid.New(), "+12025550123", time.Now())

			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestSessionRepository_Complete(t *testing.T) {
	scanID := uuid.New()
	tx := &mockPool{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			assert.Contains(t, sql, "status = 'pending-otp'")
			assert.Equal(t, scanID, arguments[1])
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}

	ok, err := NewSessionRepositoryWithPool(&mockPool{}).Complete(context.Background(), tx, uuid.New(), scanID, time.Now())

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSessionRepository_DeleteCreatedBefore(t *testing.T) {
	dbErr := errors.New("statement timeout")
	mock := &mockPool{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			assert.Contains(t, sql, "status <> 'completed'")
			return pgconn.CommandTag{}, dbErr
		},
	}

	_, err := NewSessionRepositoryWithPool(mock).DeleteCreatedBefore(context.Background(), time.Now())

	require.Error(t, err)
	assert.True(t, errors.Is(err, dbErr))
	assert.Contains(t, err.Error(), "delete stale scan sessions")
}
