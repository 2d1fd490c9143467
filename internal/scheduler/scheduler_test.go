package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sweeperFunc func(ctx context.Context, cutoff time.Time) (int64, error)

func (f sweeperFunc) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}

func (f sweeperFunc) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}

type expirerFunc func(ctx context.Context) (int64, error)

func (f expirerFunc) ExpireOverdue(ctx context.Context) (int64, error) { return f(ctx) }

func TestScheduler_SweepExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var sessionCutoff, otpCutoff time.Time
	expired := false

	s := New(
		sweeperFunc(func(ctx context.Context, cutoff time.Time) (int64, error) {
			sessionCutoff = cutoff
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return 3, nil
		}),
		sweeperFunc(func(ctx context.Context, cutoff time.Time) (int64, error) {
			otpCutoff = cutoff
			return 0, nil
		}),
		expirerFunc(func(ctx context.Context) (int64, error) {
			expired = true
			return 1, nil
		}),
		Options{Spec: "@every 1m", Timeout: time.Second, SessionTTL: 10 * time.Minute, SessionGrace: time.Hour, OTPGrace: time.Hour},
	)
	s.now = func() time.Time { return now }

	s.SweepExpired(context.Background())

	assert.Equal(t, now.Add(-70*time.Minute), sessionCutoff)
	assert.Equal(t, now.Add(-time.Hour), otpCutoff)
	assert.True(t, expired)
}

// A session that went past its TTL a sweep tick ago must still exist so the
// scan flow reports it as expired.
func TestScheduler_SweepKeepsRecentlyExpiredSessions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	createdAt := now.Add(-10*time.Minute - 30*time.Second)
	deleted := false

	noop := sweeperFunc(func(ctx context.Context, cutoff time.Time) (int64, error) { return 0, nil })
	s := New(
		sweeperFunc(func(ctx context.Context, cutoff time.Time) (int64, error) {
			deleted = createdAt.Before(cutoff)
			return 0, nil
		}),
		noop,
		expirerFunc(func(ctx context.Context) (int64, error) { return 0, nil }),
		Options{Spec: "@every 1m", SessionTTL: 10 * time.Minute, SessionGrace: time.Hour},
	)
	s.now = func() time.Time { return now }

	s.SweepExpired(context.Background())

	assert.False(t, deleted)
}

func TestScheduler_SweepExpired_ContinuesAfterFailure(t *testing.T) {
	calls := 0
	failing := sweeperFunc(func(ctx context.Context, cutoff time.Time) (int64, error) {
		calls++
		return 0, errors.New("connection refused")
	})
	expired := false

	s := New(failing, failing, expirerFunc(func(ctx context.Context) (int64, error) {
		expired = true
		return 0, nil
	}), Options{Spec: "@every 1m"})

	s.SweepExpired(context.Background())

	assert.Equal(t, 2, calls)
	assert.True(t, expired)
}

func TestScheduler_StartRejectsBadSpec(t *testing.T) {
	noop := sweeperFunc(func(ctx context.Context, cutoff time.Time) (int64, error) { return 0, nil })
	s := New(noop, noop, expirerFunc(func(ctx context.Context) (int64, error) { return 0, nil }), Options{Spec: "not a schedule"})

	assert.Error(t, s.Start())
}

func TestScheduler_StartStop(t *testing.T) {
	noop := sweeperFunc(func(ctx context.Context, cutoff time.Time) (int64, error) { return 0, nil })
	s := New(noop, noop, expirerFunc(func(ctx context.Context) (int64, error) { return 0, nil }), Options{Spec: "@every 1h"})

	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
