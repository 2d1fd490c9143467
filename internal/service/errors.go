package service

import (
	"errors"
	"net/http"
)

// Kind groups errors by how callers should react to them.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindValidation   Kind = "validation"
	KindExpired      Kind = "expired"
	KindConflict     Kind = "conflict"
	KindRateLimited  Kind = "rate_limited"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindUnavailable  Kind = "unavailable"
)

// Error is a domain error with a stable machine-readable code.
// Sentinels are compared by identity with errors.Is; use WithMessage
// to attach request specific detail while keeping that identity.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int

	base *Error
}

func (e *Error) Error() string { return e.Message }

// Is matches the sentinel an error was derived from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e == t || (e.base != nil && e.base == t)
}

// WithMessage returns a copy of the sentinel carrying a more specific message.
func (e *Error) WithMessage(msg string) *Error {
	base := e
	if e.base != nil {
		base = e.base
	}
	return &Error{Kind: e.Kind, Code: e.Code, Message: msg, Status: e.Status, base: base}
}

func newError(kind Kind, status int, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Status: status}
}

var (
	// ErrCouponNotFound is returned when no coupon matches within the tenant.
	ErrCouponNotFound = newError(KindNotFound, http.StatusNotFound, "NOT_FOUND", "coupon not found")

	// ErrCouponExpired is returned when a coupon's expiry date has passed.
	ErrCouponExpired = newError(KindExpired, http.StatusBadRequest, "COUPON_EXPIRED", "coupon has expired")

	// ErrCouponNotActive is returned when a coupon is not in the active state.
	ErrCouponNotActive = newError(KindValidation, http.StatusBadRequest, "COUPON_NOT_ACTIVE", "coupon is not active")

	// ErrCouponAlreadyUsed is returned when a concurrent request redeemed the coupon first.
	ErrCouponAlreadyUsed = newError(KindConflict, http.StatusConflict, "COUPON_ALREADY_USED", "coupon already used")

	// ErrInvalidTransition is returned when the state machine forbids an event.
	ErrInvalidTransition = newError(KindConflict, http.StatusConflict, "INVALID_TRANSITION", "invalid coupon status transition")

	// ErrConcurrentUpdate is returned when a conditional update matched no row.
	ErrConcurrentUpdate = newError(KindConflict, http.StatusConflict, "CONCURRENT_UPDATE", "coupon was modified concurrently")

	// ErrSessionNotFound is returned for unknown scan sessions.
	ErrSessionNotFound = newError(KindNotFound, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found")

	// ErrSessionExpired is returned for sessions older than their TTL.
	ErrSessionExpired = newError(KindExpired, http.StatusBadRequest, "SESSION_EXPIRED", "Session expired")

	// ErrSessionCompleted is returned when a session has already redeemed its coupon.
	ErrSessionCompleted = newError(KindConflict, http.StatusBadRequest, "SESSION_COMPLETED", "session already completed")

	// ErrOTPNotRequested is returned when verification is attempted before a mobile number was submitted.
	ErrOTPNotRequested = newError(KindValidation, http.StatusBadRequest, "OTP_NOT_REQUESTED", "no OTP has been requested for this session")

	// ErrInvalidOTP is returned for a wrong, consumed or unknown code.
	ErrInvalidOTP = newError(KindValidation, http.StatusBadRequest, "INVALID_OTP", "invalid OTP")

	// ErrOTPExpired is returned for a correct code presented after its expiry.
	ErrOTPExpired = newError(KindExpired, http.StatusBadRequest, "OTP_EXPIRED", "OTP has expired")

	// ErrOTPAttemptsExceeded is returned once the verification attempt cap is reached.
	ErrOTPAttemptsExceeded = newError(KindRateLimited, http.StatusTooManyRequests, "OTP_ATTEMPTS_EXCEEDED", "too many attempts, temporarily locked")

	// ErrRateLimited is returned when a rate limit gate rejects a call.
	ErrRateLimited = newError(KindRateLimited, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "rate limit exceeded, try again later")

	// ErrValidation is returned for malformed input.
	ErrValidation = newError(KindValidation, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request")

	// ErrInsufficientCredit is returned when a debit would make the balance negative.
	ErrInsufficientCredit = newError(KindConflict, http.StatusBadRequest, "INSUFFICIENT_CREDIT", "insufficient credit balance")

	// ErrDuplicateDebit is returned when a debit reference was already used.
	ErrDuplicateDebit = newError(KindConflict, http.StatusConflict, "DUPLICATE_REFERENCE", "debit reference already used")

	// ErrTenantNotFound is returned when a request cannot be mapped to an active tenant.
	ErrTenantNotFound = newError(KindNotFound, http.StatusNotFound, "TENANT_NOT_FOUND", "tenant not found")

	// ErrUnauthorized is returned for missing or invalid credentials.
	ErrUnauthorized = newError(KindUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")

	// ErrForbidden is returned when credentials lack the required role.
	ErrForbidden = newError(KindForbidden, http.StatusForbidden, "FORBIDDEN", "forbidden")

	// ErrUnavailable is returned when storage or a dependency timed out; callers may retry.
	ErrUnavailable = newError(KindUnavailable, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service temporarily unavailable, please retry")
)

// AsError extracts the domain error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
