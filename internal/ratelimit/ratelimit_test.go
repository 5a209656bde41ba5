package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"recharge-core/internal/config"
	"recharge-core/internal/repo"
)

type fakeCounter struct {
	count     int
	err       error
	lastSince time.Time
}

func (c *fakeCounter) CountRechargesSince(_ context.Context, _, _ string, since time.Time) (int, error) {
	c.lastSince = since
	if c.err != nil {
		return 0, c.err
	}
	return c.count, nil
}

func newTestLimiter(counter Counter, settings config.Settings) *Limiter {
	return New(counter, func() config.Settings { return settings }, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAllowUnderLimit(t *testing.T) {
	s := config.DefaultSettings()
	s.MaxDailyRecharges = 10
	l := newTestLimiter(&fakeCounter{count: 9}, s)

	if err := l.Allow(context.Background(), "user-1", repo.TypeRecharge); err != nil {
		t.Fatalf("9 of 10 used must be allowed: %v", err)
	}
}

func TestRejectAtLimit(t *testing.T) {
	s := config.DefaultSettings()
	s.MaxDailyRecharges = 10
	l := newTestLimiter(&fakeCounter{count: 10}, s)

	err := l.Allow(context.Background(), "user-1", repo.TypeRecharge)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestOfferTypeUsesOfferCap(t *testing.T) {
	s := config.DefaultSettings()
	s.MaxDailyRecharges = 10
	s.MaxDailyOffers = 5
	l := newTestLimiter(&fakeCounter{count: 5}, s)

	err := l.Allow(context.Background(), "user-1", repo.TypeDriveOffer)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected offer cap of 5 to apply, got %v", err)
	}
	if err := l.Allow(context.Background(), "user-1", repo.TypeRecharge); err != nil {
		t.Fatalf("recharge cap of 10 must still allow: %v", err)
	}
}

func TestCutoffIsLocalMidnight(t *testing.T) {
	s := config.DefaultSettings()
	s.RateLimitTimezone = "Asia/Dhaka"
	counter := &fakeCounter{}
	l := newTestLimiter(counter, s)
	// 01:30 in Dhaka (UTC+6) on Aug 28 is 19:30 UTC on Aug 27.
	l.now = func() time.Time {
		return time.Date(2026, 8, 27, 19, 30, 0, 0, time.UTC)
	}

	if err := l.Allow(context.Background(), "user-1", repo.TypeRecharge); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loc := s.Location()
	want := time.Date(2026, 8, 28, 0, 0, 0, 0, loc)
	if !counter.lastSince.Equal(want) {
		t.Fatalf("expected cutoff %v, got %v", want, counter.lastSince)
	}
}

func TestInfraErrorFailsOpen(t *testing.T) {
	s := config.DefaultSettings()
	s.RateLimitFailOpen = true
	l := newTestLimiter(&fakeCounter{err: errors.New("db down")}, s)

	if err := l.Allow(context.Background(), "user-1", repo.TypeRecharge); err != nil {
		t.Fatalf("fail-open must admit on infra error: %v", err)
	}
}

func TestInfraErrorFailsClosedWhenConfigured(t *testing.T) {
	s := config.DefaultSettings()
	s.RateLimitFailOpen = false
	l := newTestLimiter(&fakeCounter{err: errors.New("db down")}, s)

	if err := l.Allow(context.Background(), "user-1", repo.TypeRecharge); err == nil {
		t.Fatal("fail-closed must reject on infra error")
	}
}

func TestZeroLimitDisablesCheck(t *testing.T) {
	s := config.DefaultSettings()
	s.MaxDailyRecharges = 0
	counter := &fakeCounter{count: 1000}
	l := newTestLimiter(counter, s)

	if err := l.Allow(context.Background(), "user-1", repo.TypeRecharge); err != nil {
		t.Fatalf("zero cap disables the limiter: %v", err)
	}
}
