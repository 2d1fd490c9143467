package model

import (
	"time"

	"github.com/google/uuid"
)

// CreditReason is the business reason behind a ledger entry.
type CreditReason string

const (
	ReasonScanReward      CreditReason = "scan_reward"
	ReasonRedemptionDebit CreditReason = "redemption_debit"
)

// CreditTransaction is an append-only, signed entry in a consumer's credit ledger.
type CreditTransaction struct {
	ID           uuid.UUID    `json:"id"`
	TenantID     uuid.UUID    `json:"-"`
	UserIdentity string       `json:"user_identity"`
	Amount       int64        `json:"amount"`
	Reason       CreditReason `json:"reason"`
	CouponID     *uuid.UUID   `json:"coupon_id,omitempty"`
	ScanID       *uuid.UUID   `json:"scan_id,omitempty"`
	Reference    string       `json:"reference,omitempty"`
	CreatedAt    time.Time    `json:"timestamp"`
}

// CreditBalance is the running balance for one identity within a tenant.
type CreditBalance struct {
	TenantID     uuid.UUID `json:"-"`
	UserIdentity string    `json:"user_identity"`
	Balance      int64     `json:"balance"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreditStatement is a balance together with its most recent transactions.
type CreditStatement struct {
	Balance      int64               `json:"balance"`
	Transactions []CreditTransaction `json:"transactions"`
}

// DebitRequest is the DTO for spending credits.
// Reference makes the debit idempotent per identity.
type DebitRequest struct {
	Amount    int64  `json:"amount" validate:"required,gte=1"`
	Reference string `json:"reference" validate:"required,notblank,max=128"`
}

// ScanChannel identifies which API surface redeemed a coupon.
type ScanChannel string

const (
	ChannelPublic  ScanChannel = "public"
	ChannelMobile  ScanChannel = "mobile"
	ChannelPartner ScanChannel = "partner"
)

// Scan is the audit record of a successful redemption.
type Scan struct {
	ID           uuid.UUID   `json:"id"`
	TenantID     uuid.UUID   `json:"-"`
	CouponID     uuid.UUID   `json:"coupon_id"`
	UserIdentity string      `json:"user_identity"`
	Points       int         `json:"points"`
	Channel      ScanChannel `json:"channel"`
	AppID        *uuid.UUID  `json:"app_id,omitempty"`
	SessionID    *uuid.UUID  `json:"session_id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// RedemptionResult is returned by every redemption channel.
type RedemptionResult struct {
	PointsAwarded int       `json:"pointsAwarded"`
	ScanID        uuid.UUID `json:"scanId"`
	UserID        string    `json:"userId"`
	Balance       int64     `json:"balance"`
}

// PartnerScanRequest is the DTO for POST /api/app/:appCode/scans.
type PartnerScanRequest struct {
	CouponCode   string `json:"couponCode" validate:"required,notblank,max=64"`
	UserIdentity string `json:"userIdentity" validate:"required,notblank,max=255"`
}

// MobileScanRequest is the DTO for POST /api/mobile/v1/scan/.
type MobileScanRequest struct {
	CouponCode string `json:"couponCode" validate:"required,notblank,max=64"`
}
