package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mscan/mscan-core/internal/auth"
	"github.com/mscan/mscan-core/internal/model"
	"github.com/mscan/mscan-core/internal/notify"
	"github.com/mscan/mscan-core/internal/ratelimit"
)

// AuthService signs consumers in with an OTP sent to their mobile number.
type AuthService struct {
	otp        OTPServiceInterface
	dispatcher notify.Dispatcher
	limiter    ratelimit.Limiter
	loginRule  ratelimit.Rule
	tokens     *auth.Manager
}

// NewAuthService creates an AuthService. loginRule limits login codes per mobile number.
func NewAuthService(otp OTPServiceInterface, dispatcher notify.Dispatcher, limiter ratelimit.Limiter, loginRule ratelimit.Rule, tokens *auth.Manager) *AuthService {
	return &AuthService{
		otp:        otp,
		dispatcher: dispatcher,
		limiter:    limiter,
		loginRule:  loginRule,
		tokens:     tokens,
	}
}

// RequestLoginOTP sends a login code to mobile.
func (s *AuthService) RequestLoginOTP(ctx context.Context, tenantID uuid.UUID, mobile string) error {
	mobile = strings.TrimSpace(mobile)
	if !e164Pattern.MatchString(mobile) {
		return ErrValidation.WithMessage("invalid request: mobileNumber must be an E.164 phone number such as +1234567890")
	}
	if err := checkLimit(ctx, s.limiter, s.loginRule, mobile); err != nil {
		return err
	}

	rec, err := s.otp.Issue(ctx, model.LoginOTPTarget(tenantID, mobile), mobile, model.OTPPurposeLogin)
	if err != nil {
		return fmt.Errorf("issue login otp: %w", err)
	}
	dispatch(ctx, s.dispatcher, rec)
	return nil
}

// VerifyLoginOTP checks the login code and returns a consumer token.
func (s *AuthService) VerifyLoginOTP(ctx context.Context, tenantID uuid.UUID, mobile, code string) (*model.TokenResponse, error) {
	mobile = strings.TrimSpace(mobile)
	if err := s.otp.Verify(ctx, nil, model.LoginOTPTarget(tenantID, mobile), code); err != nil {
		return nil, err
	}

	token, expires, err := s.tokens.Issue(tenantID, mobile, auth.RoleConsumer)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	log.Info().Str("tenant_id", tenantID.String()).Msg("consumer signed in")
	return &model.TokenResponse{Token: token, ExpiresAt: expires}, nil
}
