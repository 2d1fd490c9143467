// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mscan"

var (
	// SessionsStarted counts public scan sessions created.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scan_sessions_started_total",
		Help:      "Public scan sessions started.",
	})

	// OTPsIssued counts one-time codes generated, by purpose.
	OTPsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "otps_issued_total",
		Help:      "One-time codes issued.",
	}, []string{"purpose"})

	// OTPDispatchFailures counts codes that could not be handed to the delivery channel.
	OTPDispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "otp_dispatch_failures_total",
		Help:      "OTP messages that failed to dispatch after retries.",
	})

	// Redemptions counts redemption attempts by channel and outcome code.
	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "redemptions_total",
		Help:      "Coupon redemption attempts by channel and result.",
	}, []string{"channel", "result"})

	// PointsAwarded sums credit granted by redemptions.
	PointsAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "points_awarded_total",
		Help:      "Reward points credited by successful redemptions.",
	}, []string{"channel"})

	// RateLimited counts requests rejected by a rate limit gate.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by rate limiting.",
	}, []string{"scope"})

	// CouponTransitions counts ledger status changes by event.
	CouponTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "coupon_transitions_total",
		Help:      "Coupon status transitions applied.",
	}, []string{"event"})

	// SweepRemoved counts rows removed or expired by the cleanup sweep.
	SweepRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_rows_total",
		Help:      "Rows affected by the periodic cleanup sweep.",
	}, []string{"kind"})

	// HTTPRequestDuration observes handler latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
