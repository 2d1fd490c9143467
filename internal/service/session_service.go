package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mscan/mscan-core/internal/metrics"
	"github.com/mscan/mscan-core/internal/model"
	"github.com/mscan/mscan-core/internal/notify"
	"github.com/mscan/mscan-core/internal/ratelimit"
	"github.com/mscan/mscan-core/internal/tracing"
	"github.com/mscan/mscan-core/pkg/database"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// SessionRepositoryInterface defines the interface for scan session storage.
type SessionRepositoryInterface interface {
	Insert(ctx context.Context, s *model.ScanSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ScanSession, error)
	GetForUpdate(ctx context.Context, tx database.TxQuerier, id uuid.UUID) (*model.ScanSession, error)
	RequestOTP(ctx context.Context, id uuid.UUID, mobile string, at time.Time) (bool, error)
	Complete(ctx context.Context, tx database.TxQuerier, id, scanID uuid.UUID, at time.Time) (bool, error)
}

// CouponFinder looks coupons up by their public code.
type CouponFinder interface {
	GetByCode(ctx context.Context, tenantID uuid.UUID, code string) (*model.Coupon, error)
}

// SessionService drives the first two steps of a public scan: starting a
// session for a coupon code and binding a mobile number with an OTP.
// Redemption itself is RedemptionService.Redeem.
type SessionService struct {
	sessions   SessionRepositoryInterface
	coupons    CouponFinder
	otp        OTPServiceInterface
	dispatcher notify.Dispatcher
	limiter    ratelimit.Limiter
	sendRule   ratelimit.Rule
	ttl        time.Duration
	now        func() time.Time
}

// NewSessionService creates a SessionService. sendRule limits OTP sends per mobile number.
func NewSessionService(
	sessions SessionRepositoryInterface,
	coupons CouponFinder,
	otp OTPServiceInterface,
	dispatcher notify.Dispatcher,
	limiter ratelimit.Limiter,
	sendRule ratelimit.Rule,
	ttl time.Duration,
) *SessionService {
	return &SessionService{
		sessions:   sessions,
		coupons:    coupons,
		otp:        otp,
		dispatcher: dispatcher,
		limiter:    limiter,
		sendRule:   sendRule,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Start opens a scan session for an active, unexpired coupon.
// Returns:
//   - ErrCouponNotFound if no coupon has this code in the tenant
//   - ErrCouponExpired if the coupon is expired or past its expiry date
//   - ErrCouponNotActive for any other non-active status, including redeemed
func (s *SessionService) Start(ctx context.Context, tenantID uuid.UUID, couponCode, clientIP string) (*model.StartScanResponse, error) {
	ctx, span := tracing.Tracer().Start(ctx, "SessionService.Start")
	defer span.End()

	code := strings.TrimSpace(couponCode)
	if code == "" {
		return nil, ErrValidation.WithMessage("invalid request: couponCode is required")
	}

	coupon, err := s.coupons.GetByCode(ctx, tenantID, code)
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}

	now := s.now()
	if coupon.Status == model.CouponExpired || (coupon.Status != model.CouponRedeemed && coupon.IsPastExpiry(now)) {
		return nil, ErrCouponExpired
	}
	if coupon.Status != model.CouponActive {
		return nil, ErrCouponNotActive
	}

	session := &model.ScanSession{
		ID:              uuid.New(),
		TenantID:        tenantID,
		CouponID:        coupon.ID,
		CouponCode:      coupon.Code,
		CouponReference: coupon.Reference,
		Points:          coupon.Points,
		Status:          model.SessionPendingMobile,
		ClientIP:        clientIP,
		CreatedAt:       now,
	}
	if err := s.sessions.Insert(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	metrics.SessionsStarted.Inc()
	return &model.StartScanResponse{
		SessionID:     session.ID,
		CouponDetails: coupon.Summary(),
		ExpiresAt:     now.Add(s.ttl),
	}, nil
}

// SubmitMobile binds a mobile number to the session and sends an OTP to it.
// Submitting again re-issues the code, which invalidates the previous one.
// A dispatch failure is logged but does not fail the call.
func (s *SessionService) SubmitMobile(ctx context.Context, tenantID, sessionID uuid.UUID, mobile string) error {
	ctx, span := tracing.Tracer().Start(ctx, "SessionService.SubmitMobile")
	defer span.End()

	mobile = strings.TrimSpace(mobile)
	if !e164Pattern.MatchString(mobile) {
		return ErrValidation.WithMessage("invalid request: mobileNumber must be an E.164 phone number such as +1234567890")
	}

	session, err := s.load(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}

	if err := s.checkSendLimit(ctx, mobile); err != nil {
		return err
	}

	ok, err := s.sessions.RequestOTP(ctx, session.ID, mobile, s.now())
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if !ok {
		return ErrSessionCompleted
	}

	rec, err := s.otp.Issue(ctx, session.OTPTarget(), mobile, model.OTPPurposeScan)
	if err != nil {
		return fmt.Errorf("issue otp: %w", err)
	}

	dispatch(ctx, s.dispatcher, rec)
	return nil
}

// Get returns the session. Completed sessions stay readable after the TTL;
// any other session past it is reported as ErrSessionExpired.
// Sessions of another tenant are reported as ErrSessionNotFound.
func (s *SessionService) Get(ctx context.Context, tenantID, sessionID uuid.UUID) (*model.ScanSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil || session.TenantID != tenantID {
		return nil, ErrSessionNotFound
	}
	if session.EffectiveStatus(s.ttl, s.now()) == model.SessionExpired {
		return nil, ErrSessionExpired
	}
	return session, nil
}

// load fetches a session of tenantID that can still accept input.
func (s *SessionService) load(ctx context.Context, tenantID, sessionID uuid.UUID) (*model.ScanSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil || session.TenantID != tenantID {
		return nil, ErrSessionNotFound
	}
	switch session.EffectiveStatus(s.ttl, s.now()) {
	case model.SessionCompleted:
		return nil, ErrSessionCompleted
	case model.SessionExpired:
		return nil, ErrSessionExpired
	}
	return session, nil
}

func (s *SessionService) checkSendLimit(ctx context.Context, mobile string) error {
	return checkLimit(ctx, s.limiter, s.sendRule, mobile)
}

// checkLimit applies rule to subject. Limiter failures let the call through.
func checkLimit(ctx context.Context, limiter ratelimit.Limiter, rule ratelimit.Rule, subject string) error {
	if limiter == nil {
		return nil
	}
	d, err := limiter.Check(ctx, rule, subject)
	if err != nil {
		log.Error().Err(err).Str("scope", rule.Scope).Msg("rate limiter unavailable, allowing request")
		return nil
	}
	if !d.Allowed {
		metrics.RateLimited.WithLabelValues(rule.Scope).Inc()
		return ErrRateLimited
	}
	return nil
}

// dispatch hands the code to the delivery channel. Failures are logged only:
// the code is stored and the consumer can request another one.
func dispatch(ctx context.Context, d notify.Dispatcher, rec *model.OTPRecord) {
	if d == nil {
		return
	}
	err := d.SendOTP(ctx, notify.OTPMessage{
		Recipient: rec.Recipient,
		Code:      rec.Code,
		Purpose:   string(rec.Purpose),
		ExpiresAt: rec.ExpiresAt,
	})
	if err != nil {
		metrics.OTPDispatchFailures.Inc()
		log.Error().
			Err(err).
			Str("target", rec.Target).
			Str("purpose", string(rec.Purpose)).
			Msg("failed to dispatch otp")
	}
}
