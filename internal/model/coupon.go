package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CouponStatus is the lifecycle state of a coupon.
type CouponStatus string

const (
	CouponDraft    CouponStatus = "draft"
	CouponPrinted  CouponStatus = "printed"
	CouponActive   CouponStatus = "active"
	CouponInactive CouponStatus = "inactive"
	CouponRedeemed CouponStatus = "redeemed"
	CouponExpired  CouponStatus = "expired"
)

// IsTerminal reports whether no further transition can leave this status.
func (s CouponStatus) IsTerminal() bool {
	return s == CouponRedeemed || s == CouponExpired
}

// CouponEvent is an input to the coupon state machine.
type CouponEvent string

const (
	EventPrint      CouponEvent = "print"
	EventActivate   CouponEvent = "activate"
	EventDeactivate CouponEvent = "deactivate"
	EventReactivate CouponEvent = "reactivate"
	EventRedeem     CouponEvent = "redeem"
	EventExpire     CouponEvent = "expire"
)

var couponTransitions = map[CouponEvent]map[CouponStatus]CouponStatus{
	EventPrint:      {CouponDraft: CouponPrinted},
	EventActivate:   {CouponPrinted: CouponActive},
	EventDeactivate: {CouponActive: CouponInactive},
	EventReactivate: {CouponInactive: CouponActive},
	EventRedeem:     {CouponActive: CouponRedeemed},
}

// NextStatus returns the status reached by applying ev to from.
// The second result is false when the transition is not allowed.
// Expire is accepted from every non-terminal status; whether the coupon
// is actually past its expiry date is checked by the caller.
func NextStatus(from CouponStatus, ev CouponEvent) (CouponStatus, bool) {
	if ev == EventExpire {
		if from.IsTerminal() {
			return "", false
		}
		return CouponExpired, true
	}
	next, ok := couponTransitions[ev][from]
	return next, ok
}

// ParseCouponEvent validates a user supplied event name.
func ParseCouponEvent(s string) (CouponEvent, bool) {
	ev := CouponEvent(strings.ToLower(strings.TrimSpace(s)))
	switch ev {
	case EventPrint, EventActivate, EventDeactivate, EventReactivate, EventRedeem, EventExpire:
		return ev, true
	}
	return "", false
}

// Coupon represents a tenant-issued reward token.
type Coupon struct {
	ID                 uuid.UUID           `json:"id"`
	TenantID           uuid.UUID           `json:"tenant_id"`
	Code               string              `json:"code"`
	Reference          string              `json:"reference"`
	Status             CouponStatus        `json:"status"`
	Points             int                 `json:"points"`
	DiscountValue      decimal.NullDecimal `json:"discount_value"`
	ExpiryDate         *time.Time          `json:"expiry_date,omitempty"`
	BatchID            *uuid.UUID          `json:"batch_id,omitempty"`
	ActivationNote     string              `json:"activation_note,omitempty"`
	DeactivationReason string              `json:"deactivation_reason,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	RedeemedAt         *time.Time          `json:"redeemed_at,omitempty"`
}

// IsPastExpiry reports whether the coupon's expiry date lies before now.
func (c *Coupon) IsPastExpiry(now time.Time) bool {
	return c.ExpiryDate != nil && now.After(*c.ExpiryDate)
}

// Summary returns the public fields snapshotted into a scan session.
func (c *Coupon) Summary() CouponSummary {
	return CouponSummary{
		Code:       c.Code,
		Reference:  c.Reference,
		Points:     c.Points,
		ExpiryDate: c.ExpiryDate,
	}
}

// CouponSummary is the public view of a coupon shown to scanning consumers.
type CouponSummary struct {
	Code       string     `json:"code"`
	Reference  string     `json:"reference"`
	Points     int        `json:"points"`
	ExpiryDate *time.Time `json:"expiryDate,omitempty"`
}

var referencePattern = regexp.MustCompile(`^([A-Za-z0-9]+)-([0-9]{1,12})$`)

// ErrMalformedReference is returned by ParseReference for input not shaped like PREFIX-000123.
var ErrMalformedReference = errors.New("malformed coupon reference")

// Reference is a parsed sequential coupon reference such as ACME-000042.
type Reference struct {
	Prefix string
	Number int64
	Width  int
}

// ParseReference splits a reference into prefix, number and zero-padded width.
func ParseReference(s string) (Reference, error) {
	m := referencePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Reference{}, fmt.Errorf("%w: %q", ErrMalformedReference, s)
	}
	n, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %q", ErrMalformedReference, s)
	}
	return Reference{Prefix: strings.ToUpper(m[1]), Number: n, Width: len(m[2])}, nil
}

// String formats the reference back to PREFIX-NNNNNN form.
func (r Reference) String() string {
	return fmt.Sprintf("%s-%0*d", r.Prefix, r.Width, r.Number)
}

// ReferenceWidth is the zero-padded width used for newly created references.
const ReferenceWidth = 6

// CreateCouponsRequest is the DTO for creating a batch of draft coupons.
type CreateCouponsRequest struct {
	Prefix        string              `json:"prefix" validate:"required,alphanum,max=16"`
	Count         *int                `json:"count" validate:"required,gte=1"`
	Points        *int                `json:"points" validate:"required,gte=1"`
	DiscountValue decimal.NullDecimal `json:"discount_value"`
	ExpiryDate    *time.Time          `json:"expiry_date"`
}

// TransitionRequest carries the optional note recorded with a transition.
// Deactivation requires a note, which is stored as the deactivation reason.
type TransitionRequest struct {
	Note string `json:"note" validate:"max=500"`
}

// ActivateRangeRequest is the DTO for activating a contiguous reference range.
type ActivateRangeRequest struct {
	FromRef string `json:"fromRef" validate:"required,notblank,max=64"`
	ToRef   string `json:"toRef" validate:"required,notblank,max=64"`
	Note    string `json:"note" validate:"max=500"`
}

// ActivateBatchRequest is the DTO for activating an explicit list of references.
type ActivateBatchRequest struct {
	References []string `json:"references" validate:"required,min=1,dive,required,max=64"`
	Note       string   `json:"note" validate:"max=500"`
}

// BatchActivationResult reports how many coupons a bulk activation changed.
type BatchActivationResult struct {
	Activated  int      `json:"activated"`
	References []string `json:"references"`
}
