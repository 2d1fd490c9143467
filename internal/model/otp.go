package model

import (
	"time"

	"github.com/google/uuid"
)

// OTPPurpose distinguishes scan verification codes from login codes.
type OTPPurpose string

const (
	OTPPurposeScan  OTPPurpose = "scan"
	OTPPurposeLogin OTPPurpose = "login"
)

// OTPRecord is the single live one-time code for a target.
type OTPRecord struct {
	ID           uuid.UUID  `json:"id"`
	Target       string     `json:"target"`
	Recipient    string     `json:"recipient"`
	Purpose      OTPPurpose `json:"purpose"`
	Code         string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	AttemptCount int        `json:"attempt_count"`
	ConsumedAt   *time.Time `json:"consumed_at,omitempty"`
}

// ScanOTPTarget binds an OTP to a scan session.
func ScanOTPTarget(sessionID uuid.UUID) string {
	return "scan:" + sessionID.String()
}

// LoginOTPTarget binds an OTP to a mobile login within a tenant.
func LoginOTPTarget(tenantID uuid.UUID, mobile string) string {
	return "login:" + tenantID.String() + ":" + mobile
}

// IsExpired reports whether something created at start with lifetime ttl
// is no longer valid at now. Sessions and OTPs both go through this.
func IsExpired(start time.Time, ttl time.Duration, now time.Time) bool {
	return !now.Before(start.Add(ttl))
}

// LoginOTPRequest is the DTO for POST /api/mobile/v1/auth/otp.
type LoginOTPRequest struct {
	MobileNumber string `json:"mobileNumber" validate:"required,e164"`
}

// LoginVerifyRequest is the DTO for POST /api/mobile/v1/auth/verify.
type LoginVerifyRequest struct {
	MobileNumber string `json:"mobileNumber" validate:"required,e164"`
	OTP          string `json:"otp" validate:"required,otp"`
}

// TokenResponse carries an issued bearer token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
