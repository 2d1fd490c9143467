// Package scheduler runs periodic cleanup of stale scan state.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mscan/mscan-core/internal/metrics"
)

// SessionSweeper deletes abandoned scan sessions.
type SessionSweeper interface {
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// OTPSweeper deletes one-time codes that can no longer be used.
type OTPSweeper interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CouponExpirer moves coupons past their expiry date to expired.
type CouponExpirer interface {
	ExpireOverdue(ctx context.Context) (int64, error)
}

// Options configures the sweep.
type Options struct {
	Spec       string
	Timeout    time.Duration
	SessionTTL time.Duration

	// SessionGrace keeps sessions readable past their TTL so late calls
	// report them as expired rather than unknown.
	SessionGrace time.Duration
	OTPGrace     time.Duration
}

// Scheduler runs SweepExpired on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	sessions SessionSweeper
	otps     OTPSweeper
	coupons  CouponExpirer
	opts     Options
	now      func() time.Time
}

// New creates a Scheduler. Call Start to begin running jobs.
func New(sessions SessionSweeper, otps OTPSweeper, coupons CouponExpirer, opts Options) *Scheduler {
	logger := cronLogger{log.With().Str("component", "scheduler").Logger()}
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)), cron.WithLogger(logger)),
		sessions: sessions,
		otps:     otps,
		coupons:  coupons,
		opts:     opts,
		now:      time.Now,
	}
}

// Start registers the sweep and starts the cron runner.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.opts.Spec, func() { s.SweepExpired(context.Background()) }); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", s.opts.Spec, err)
	}
	s.cron.Start()
	log.Info().Str("schedule", s.opts.Spec).Msg("cleanup sweep scheduled")
	return nil
}

// Stop stops scheduling and waits for a running sweep until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SweepExpired removes stale sessions and OTPs and expires overdue coupons.
// Each step gets its own timeout and a failing step does not stop the others.
func (s *Scheduler) SweepExpired(ctx context.Context) {
	now := s.now()

	s.step(ctx, "sessions", func(ctx context.Context) (int64, error) {
		return s.sessions.DeleteCreatedBefore(ctx, now.Add(-(s.opts.SessionTTL + s.opts.SessionGrace)))
	})
	s.step(ctx, "otps", func(ctx context.Context) (int64, error) {
		return s.otps.DeleteExpiredBefore(ctx, now.Add(-s.opts.OTPGrace))
	})
	s.step(ctx, "coupons", s.coupons.ExpireOverdue)
}

func (s *Scheduler) step(ctx context.Context, kind string, fn func(context.Context) (int64, error)) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	n, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("sweep step failed")
		return
	}
	if n > 0 {
		metrics.SweepRemoved.WithLabelValues(kind).Add(float64(n))
		log.Info().Str("kind", kind).Int64("count", n).Msg("sweep removed stale rows")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
