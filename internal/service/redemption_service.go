package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mscan/mscan-core/internal/events"
	"github.com/mscan/mscan-core/internal/metrics"
	"github.com/mscan/mscan-core/internal/model"
	"github.com/mscan/mscan-core/internal/tracing"
	"github.com/mscan/mscan-core/pkg/database"
)

// CreditRepositoryInterface defines the interface for scan and credit ledger storage.
type CreditRepositoryInterface interface {
	InsertScan(ctx context.Context, tx database.TxQuerier, scan *model.Scan) error
	AppendTransaction(ctx context.Context, tx database.TxQuerier, txn *model.CreditTransaction) error
	AddToBalance(ctx context.Context, tx database.TxQuerier, txn *model.CreditTransaction) (int64, error)
	Debit(ctx context.Context, tx database.TxQuerier, txn *model.CreditTransaction, amount int64) (int64, bool, error)
	GetBalance(ctx context.Context, tenantID uuid.UUID, identity string) (int64, error)
	ListTransactions(ctx context.Context, tenantID uuid.UUID, identity string, limit int) ([]model.CreditTransaction, error)
}

// RedemptionService turns a coupon into credit exactly once.
type RedemptionService struct {
	pool       TxBeginner
	sessions   SessionRepositoryInterface
	couponRepo CouponRepositoryInterface
	creditRepo CreditRepositoryInterface
	otp        OTPServiceInterface
	publisher  events.Publisher
	sessionTTL time.Duration
	now        func() time.Time
}

// NewRedemptionService creates a RedemptionService.
func NewRedemptionService(
	pool TxBeginner,
	sessions SessionRepositoryInterface,
	couponRepo CouponRepositoryInterface,
	creditRepo CreditRepositoryInterface,
	otp OTPServiceInterface,
	publisher events.Publisher,
	sessionTTL time.Duration,
) *RedemptionService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &RedemptionService{
		pool:       pool,
		sessions:   sessions,
		couponRepo: couponRepo,
		creditRepo: creditRepo,
		otp:        otp,
		publisher:  publisher,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// redemption describes who redeems through which channel.
type redemption struct {
	tenantID  uuid.UUID
	identity  string
	channel   model.ScanChannel
	appID     *uuid.UUID
	sessionID *uuid.UUID
}

// Redeem completes a public scan session: it verifies the OTP and credits the
// coupon's points to the session's mobile number in one transaction.
// Uses SELECT FOR UPDATE on the session so concurrent verifications serialize.
// A rejected OTP still commits so the attempt counter persists.
// Sessions of another tenant are reported as ErrSessionNotFound.
func (s *RedemptionService) Redeem(ctx context.Context, tenantID, sessionID uuid.UUID, code string) (res *model.RedemptionResult, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "RedemptionService.Redeem")
	defer span.End()
	defer func() { observeRedemption(model.ChannelPublic, res, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	// 1. Lock the session row
	session, err := s.sessions.GetForUpdate(ctx, tx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session for update: %w", err)
	}
	if session.TenantID != tenantID {
		return nil, ErrSessionNotFound
	}

	now := s.now()
	switch session.EffectiveStatus(s.sessionTTL, now) {
	case model.SessionCompleted:
		return nil, ErrSessionCompleted
	case model.SessionExpired:
		return nil, ErrSessionExpired
	case model.SessionPendingMobile:
		return nil, ErrOTPNotRequested
	}

	// 2. Verify the OTP inside the transaction
	if err := s.otp.Verify(ctx, tx, session.OTPTarget(), code); err != nil {
		if !IsOTPRejection(err) {
			return nil, fmt.Errorf("verify otp: %w", err)
		}
		if cErr := tx.Commit(ctx); cErr != nil {
			log.Error().Err(cErr).Str("session_id", sessionID.String()).Msg("failed to persist otp attempt")
		}
		return nil, err
	}

	// 3. Re-fetch and lock the coupon
	coupon, err := s.couponRepo.GetForUpdate(ctx, tx, session.TenantID, session.CouponID)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon for update: %w", err)
	}

	// 4-5. Redeem, record and credit
	id := session.ID
	result, scan, err := s.award(ctx, tx, coupon, redemption{
		tenantID:  session.TenantID,
		identity:  session.MobileNumber,
		channel:   model.ChannelPublic,
		sessionID: &id,
	}, now)
	if err != nil {
		return nil, err
	}

	ok, err := s.sessions.Complete(ctx, tx, session.ID, scan.ID, now)
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	if !ok {
		return nil, ErrSessionCompleted
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit redemption: %w", err)
	}

	s.afterCommit(ctx, scan, result)
	return result, nil
}

// RedeemCode redeems a coupon by code for an already authenticated identity,
// as used by the partner and mobile channels.
func (s *RedemptionService) RedeemCode(ctx context.Context, tenantID uuid.UUID, code, identity string, channel model.ScanChannel, appID *uuid.UUID) (res *model.RedemptionResult, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "RedemptionService.RedeemCode")
	defer span.End()
	span.SetAttributes(attribute.String("channel", string(channel)))
	defer func() { observeRedemption(channel, res, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	coupon, err := s.couponRepo.GetByCodeForUpdate(ctx, tx, tenantID, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon for update: %w", err)
	}

	result, scan, err := s.award(ctx, tx, coupon, redemption{
		tenantID: tenantID,
		identity: identity,
		channel:  channel,
		appID:    appID,
	}, s.now())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit redemption: %w", err)
	}

	s.afterCommit(ctx, scan, result)
	return result, nil
}

// award marks the locked coupon redeemed and credits its points.
// The conditional update is what guarantees a single winner.
func (s *RedemptionService) award(ctx context.Context, tx pgx.Tx, coupon *model.Coupon, r redemption, now time.Time) (*model.RedemptionResult, *model.Scan, error) {
	switch {
	case coupon.Status == model.CouponRedeemed:
		return nil, nil, ErrCouponAlreadyUsed
	case coupon.Status == model.CouponExpired || coupon.IsPastExpiry(now):
		return nil, nil, ErrCouponExpired
	case coupon.Status != model.CouponActive:
		return nil, nil, ErrCouponNotActive
	}

	ok, err := s.couponRepo.MarkRedeemed(ctx, tx, r.tenantID, coupon.ID, now)
	if err != nil {
		return nil, nil, fmt.Errorf("mark redeemed: %w", err)
	}
	if !ok {
		return nil, nil, ErrCouponAlreadyUsed
	}

	scan := &model.Scan{
		ID:           uuid.New(),
		TenantID:     r.tenantID,
		CouponID:     coupon.ID,
		UserIdentity: r.identity,
		Points:       coupon.Points,
		Channel:      r.channel,
		AppID:        r.appID,
		SessionID:    r.sessionID,
		CreatedAt:    now,
	}
	if err := s.creditRepo.InsertScan(ctx, tx, scan); err != nil {
		if errors.Is(err, ErrCouponAlreadyUsed) {
			return nil, nil, ErrCouponAlreadyUsed
		}
		return nil, nil, fmt.Errorf("insert scan: %w", err)
	}

	couponID := coupon.ID
	txn := &model.CreditTransaction{
		ID:           uuid.New(),
		TenantID:     r.tenantID,
		UserIdentity: r.identity,
		Amount:       int64(coupon.Points),
		Reason:       model.ReasonScanReward,
		CouponID:     &couponID,
		ScanID:       &scan.ID,
		CreatedAt:    now,
	}
	if err := s.creditRepo.AppendTransaction(ctx, tx, txn); err != nil {
		if errors.Is(err, ErrCouponAlreadyUsed) {
			return nil, nil, ErrCouponAlreadyUsed
		}
		return nil, nil, fmt.Errorf("append credit: %w", err)
	}

	balance, err := s.creditRepo.AddToBalance(ctx, tx, txn)
	if err != nil {
		return nil, nil, fmt.Errorf("update balance: %w", err)
	}

	return &model.RedemptionResult{
		PointsAwarded: coupon.Points,
		ScanID:        scan.ID,
		UserID:        r.identity,
		Balance:       balance,
	}, scan, nil
}

// afterCommit publishes the scan event. The redemption already happened, so
// failures are only logged.
func (s *RedemptionService) afterCommit(ctx context.Context, scan *model.Scan, result *model.RedemptionResult) {
	log.Info().
		Str("tenant_id", scan.TenantID.String()).
		Str("coupon_id", scan.CouponID.String()).
		Str("scan_id", scan.ID.String()).
		Str("channel", string(scan.Channel)).
		Int("points", scan.Points).
		Msg("coupon redeemed")

	err := s.publisher.PublishScanCompleted(ctx, events.ScanCompleted{
		ScanID:       scan.ID,
		TenantID:     scan.TenantID,
		CouponID:     scan.CouponID,
		UserIdentity: scan.UserIdentity,
		Points:       scan.Points,
		Balance:      result.Balance,
		Channel:      string(scan.Channel),
		AppID:        scan.AppID,
		OccurredAt:   scan.CreatedAt,
	})
	if err != nil {
		log.Warn().Err(err).Str("scan_id", scan.ID.String()).Msg("failed to publish scan event")
	}
}

func observeRedemption(channel model.ScanChannel, res *model.RedemptionResult, err error) {
	result := "success"
	if err != nil {
		result = "error"
		if e, ok := AsError(err); ok {
			result = e.Code
		}
	}
	metrics.Redemptions.WithLabelValues(string(channel), result).Inc()
	if res != nil {
		metrics.PointsAwarded.WithLabelValues(string(channel)).Add(float64(res.PointsAwarded))
	}
}
