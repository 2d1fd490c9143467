package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/mscan/mscan-core/internal/metrics"
	"github.com/mscan/mscan-core/internal/model"
	"github.com/mscan/mscan-core/pkg/database"
)

const otpDigits = 6

var otpSpace = big.NewInt(1_000_000)

// OTPRepositoryInterface defines the interface for one-time code storage.
type OTPRepositoryInterface interface {
	Upsert(ctx context.Context, rec *model.OTPRecord) error
	RegisterAttempt(ctx context.Context, db database.TxQuerier, target string) (*model.OTPRecord, error)
	Consume(ctx context.Context, db database.TxQuerier, id uuid.UUID, at time.Time) (bool, error)
}

// OTPServiceInterface is what the session and auth flows need from OTPService.
type OTPServiceInterface interface {
	Issue(ctx context.Context, target, recipient string, purpose model.OTPPurpose) (*model.OTPRecord, error)
	Verify(ctx context.Context, db database.TxQuerier, target, code string) error
}

// OTPService issues and verifies numeric one-time codes bound to a target.
// Issuing a new code for a target supersedes the previous one.
type OTPService struct {
	repo        OTPRepositoryInterface
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	random      io.Reader
}

// NewOTPService creates an OTPService.
func NewOTPService(repo OTPRepositoryInterface, ttl time.Duration, maxAttempts int) *OTPService {
	return &OTPService{
		repo:        repo,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		now:         time.Now,
		random:      rand.Reader,
	}
}

// Issue generates and stores a fresh code for target.
func (s *OTPService) Issue(ctx context.Context, target, recipient string, purpose model.OTPPurpose) (*model.OTPRecord, error) {
	code, err := s.generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}

	now := s.now()
	rec := &model.OTPRecord{
		ID:        uuid.New(),
		Target:    target,
		Recipient: recipient,
		Purpose:   purpose,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("store otp: %w", err)
	}

	metrics.OTPsIssued.WithLabelValues(string(purpose)).Inc()
	return rec, nil
}

// Verify checks code against the live code for target and consumes it on success.
// Every call counts as an attempt, including ones that end up rejected; once the
// cap is exceeded even the correct code fails. A nil db runs on the pool.
// Returns:
//   - ErrInvalidOTP for a wrong, unknown, consumed or superseded code
//   - ErrOTPExpired for a correct code presented after expiry
//   - ErrOTPAttemptsExceeded once the attempt cap is exceeded
func (s *OTPService) Verify(ctx context.Context, db database.TxQuerier, target, code string) error {
	rec, err := s.repo.RegisterAttempt(ctx, db, target)
	if err != nil {
		return fmt.Errorf("register otp attempt: %w", err)
	}
	if rec == nil || rec.ConsumedAt != nil {
		return ErrInvalidOTP
	}
	if rec.AttemptCount > s.maxAttempts {
		return ErrOTPAttemptsExceeded
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(rec.Code)) != 1 {
		return ErrInvalidOTP
	}

	now := s.now()
	if model.IsExpired(rec.CreatedAt, rec.ExpiresAt.Sub(rec.CreatedAt), now) {
		return ErrOTPExpired
	}

	ok, err := s.repo.Consume(ctx, db, rec.ID, now)
	if err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}
	if !ok {
		return ErrInvalidOTP
	}
	return nil
}

func (s *OTPService) generateCode() (string, error) {
	n, err := rand.Int(s.random, otpSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

// IsOTPRejection reports whether err is a verification outcome rather than an
// infrastructure failure.
func IsOTPRejection(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	return e.Is(ErrInvalidOTP) || e.Is(ErrOTPExpired) || e.Is(ErrOTPAttemptsExceeded)
}
