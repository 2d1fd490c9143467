package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the state of a public scan session.
type SessionStatus string

const (
	SessionPendingMobile SessionStatus = "pending-mobile"
	SessionPendingOTP    SessionStatus = "pending-otp"
	SessionCompleted     SessionStatus = "completed"
	SessionExpired       SessionStatus = "expired"
)

// ScanSession tracks one in-progress public redemption.
// Coupon fields are a snapshot taken when the session started.
type ScanSession struct {
	ID              uuid.UUID     `json:"sessionId"`
	TenantID        uuid.UUID     `json:"-"`
	CouponID        uuid.UUID     `json:"-"`
	CouponCode      string        `json:"couponCode"`
	CouponReference string        `json:"couponReference"`
	Points          int           `json:"points"`
	MobileNumber    string        `json:"mobileNumber,omitempty"`
	Status          SessionStatus `json:"status"`
	ClientIP        string        `json:"-"`
	CreatedAt       time.Time     `json:"createdAt"`
	OTPRequestedAt  *time.Time    `json:"otpRequestedAt,omitempty"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty"`
	ScanID          *uuid.UUID    `json:"scanId,omitempty"`
}

// EffectiveStatus reports the status a caller should observe at now:
// a non-completed session past its TTL is expired regardless of the stored status.
func (s *ScanSession) EffectiveStatus(ttl time.Duration, now time.Time) SessionStatus {
	if s.Status != SessionCompleted && IsExpired(s.CreatedAt, ttl, now) {
		return SessionExpired
	}
	return s.Status
}

// OTPTarget is the OTP binding for this session.
func (s *ScanSession) OTPTarget() string {
	return ScanOTPTarget(s.ID)
}

// StartScanRequest is the DTO for POST /api/public-scan/start.
type StartScanRequest struct {
	CouponCode string `json:"couponCode" validate:"required,notblank,max=64"`
}

// StartScanResponse is returned when a session is created.
type StartScanResponse struct {
	SessionID     uuid.UUID     `json:"sessionId"`
	CouponDetails CouponSummary `json:"couponDetails"`
	ExpiresAt     time.Time     `json:"expiresAt"`
}

// SubmitMobileRequest is the DTO for POST /api/public-scan/:sessionId/mobile.
type SubmitMobileRequest struct {
	MobileNumber string `json:"mobileNumber" validate:"required,e164"`
}

// VerifyOTPRequest is the DTO for POST /api/public-scan/:sessionId/verify-otp.
type VerifyOTPRequest struct {
	OTP string `json:"otp" validate:"required,otp"`
}
