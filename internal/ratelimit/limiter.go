// Package ratelimit implements fixed-window counters keyed by (scope, subject).
package ratelimit

import (
	"context"
	"time"

	"github.com/mscan/mscan-core/internal/config"
)

// Rule is one rate limit gate.
type Rule struct {
	Scope  string
	Limit  int
	Window time.Duration
}

// Disabled reports whether the rule lets everything through.
func (r Rule) Disabled() bool {
	return r.Limit <= 0 || r.Window <= 0
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	RetryAfter time.Duration
}

// Remaining is how many more calls the current window accepts.
func (d Decision) Remaining() int {
	if r := d.Limit - d.Count; r > 0 {
		return r
	}
	return 0
}

// Limiter counts calls per (scope, subject) within a window.
type Limiter interface {
	Check(ctx context.Context, rule Rule, subject string) (Decision, error)
}

// Rules are the gates applied around the scan flow.
type Rules struct {
	StartByIP       Rule
	OTPSendByMobile Rule
	VerifyBySession Rule
	PartnerByApp    Rule
	LoginByMobile   Rule
}

// RulesFromConfig builds the gate set from configuration.
func RulesFromConfig(cfg config.RateLimitConfig) Rules {
	return Rules{
		StartByIP:       Rule{Scope: "scan-start", Limit: cfg.StartPerIP, Window: cfg.StartWindow},
		OTPSendByMobile: Rule{Scope: "otp-send", Limit: cfg.OTPSendPerMobile, Window: cfg.OTPSendWindow},
		VerifyBySession: Rule{Scope: "otp-verify", Limit: cfg.VerifyPerSession, Window: cfg.VerifyWindow},
		PartnerByApp:    Rule{Scope: "partner-api", Limit: cfg.PartnerPerKey, Window: cfg.PartnerWindow},
		LoginByMobile:   Rule{Scope: "login-otp", Limit: cfg.OTPSendPerMobile, Window: cfg.OTPSendWindow},
	}
}
