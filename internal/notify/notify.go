// Package notify delivers one-time codes to consumers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// OTPMessage is what gets delivered to the consumer's phone.
type OTPMessage struct {
	Recipient string    `json:"recipient"`
	Code      string    `json:"code"`
	Purpose   string    `json:"purpose"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Dispatcher sends OTP messages. Implementations must be safe for concurrent use.
type Dispatcher interface {
	SendOTP(ctx context.Context, msg OTPMessage) error
}

// LogDispatcher only logs the message. It is used when no broker is configured
// or the broker is unreachable at startup, so local and test setups still work.
type LogDispatcher struct{}

// SendOTP logs the delivery. The code itself is logged at debug level only.
func (LogDispatcher) SendOTP(_ context.Context, msg OTPMessage) error {
	log.Info().
		Str("recipient", maskRecipient(msg.Recipient)).
		Str("purpose", msg.Purpose).
		Time("expires_at", msg.ExpiresAt).
		Msg("otp dispatch (log only)")
	log.Debug().
		Str("recipient", msg.Recipient).
		Str("code", msg.Code).
		Msg("otp code")
	return nil
}

// Retrying wraps a Dispatcher with bounded attempts, each under its own timeout.
type Retrying struct {
	next        Dispatcher
	maxAttempts int
	timeout     time.Duration
	backoff     time.Duration
}

// NewRetrying creates a retrying dispatcher. maxAttempts below one is treated as one.
func NewRetrying(next Dispatcher, maxAttempts int, timeout time.Duration) *Retrying {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retrying{next: next, maxAttempts: maxAttempts, timeout: timeout, backoff: 100 * time.Millisecond}
}

// SendOTP tries the wrapped dispatcher until it succeeds, attempts run out or ctx ends.
func (r *Retrying) SendOTP(ctx context.Context, msg OTPMessage) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err := r.sendOnce(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", r.maxAttempts).
			Str("recipient", maskRecipient(msg.Recipient)).
			Msg("otp dispatch attempt failed")

		if attempt == r.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(r.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("otp dispatch failed after %d attempts: %w", r.maxAttempts, lastErr)
}

func (r *Retrying) sendOnce(ctx context.Context, msg OTPMessage) error {
	if r.timeout <= 0 {
		return r.next.SendOTP(ctx, msg)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.next.SendOTP(attemptCtx, msg)
}

// maskRecipient keeps the last four characters of a phone number.
func maskRecipient(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
