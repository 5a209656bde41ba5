// Package ratelimit enforces the per-user daily transaction caps. Days roll
// over at local midnight in the configured business timezone, not UTC.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"recharge-core/internal/config"
	"recharge-core/internal/metrics"
	"recharge-core/internal/repo"
)

// ErrLimitExceeded is returned when the user already hit today's cap for
// the transaction type.
var ErrLimitExceeded = errors.New("daily transaction limit exceeded")

// Counter is the storage surface the limiter needs.
type Counter interface {
	CountRechargesSince(ctx context.Context, uid, txnType string, since time.Time) (int, error)
}

// Limiter counts a user's transactions since local midnight and compares
// against the configured cap for the transaction type.
type Limiter struct {
	counter  Counter
	settings func() config.Settings
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Limiter. settings is read per call so hot reloads take
// effect immediately.
func New(counter Counter, settings func() config.Settings, metricRegistry *metrics.Metrics, logger *slog.Logger) *Limiter {
	return &Limiter{
		counter:  counter,
		settings: settings,
		metrics:  metricRegistry,
		logger:   logger.With("component", "ratelimit"),
		now:      time.Now,
	}
}

// Allow checks whether the user may start another transaction of the given
// type today. Counting failures fail open or closed per configuration:
// open admits the transaction with a warning, closed returns the error.
func (l *Limiter) Allow(ctx context.Context, uid, txnType string) error {
	s := l.settings()

	limit := s.MaxDailyRecharges
	if txnType == repo.TypeDriveOffer {
		limit = s.MaxDailyOffers
	}
	if limit <= 0 {
		return nil
	}

	midnight := localMidnight(l.now(), s.Location())
	count, err := l.counter.CountRechargesSince(ctx, uid, txnType, midnight)
	if err != nil {
		if s.RateLimitFailOpen {
			l.logger.Warn("rate limit count failed, failing open", "uid", uid, "type", txnType, "error", err)
			if l.metrics != nil {
				l.metrics.Errors.WithLabelValues("ratelimit").Inc()
			}
			return nil
		}
		return fmt.Errorf("count daily transactions: %w", err)
	}

	if count >= limit {
		if l.metrics != nil {
			l.metrics.RateLimitHits.WithLabelValues(txnType).Inc()
		}
		l.logger.Info("daily limit reached", "uid", uid, "type", txnType, "count", count, "limit", limit)
		return fmt.Errorf("%w: %d of %d used today", ErrLimitExceeded, count, limit)
	}
	return nil
}

func localMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
