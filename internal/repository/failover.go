package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/metrics"
	"slotkeeper/internal/models"
)

const recoveryInterval = time.Minute

// FailoverRateLimitStore uses primary until it errors, then serves from
// fallback and retries primary once per recovery interval.
type FailoverRateLimitStore struct {
	primary   domain.RateLimitStore
	fallback  domain.RateLimitStore
	ping      func(ctx context.Context) error
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverRateLimitStore(primary, fallback domain.RateLimitStore, logger *zerolog.Logger) *FailoverRateLimitStore {
	return &FailoverRateLimitStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// WithPing sets how Check reaches the primary while traffic is on the fallback.
func (r *FailoverRateLimitStore) WithPing(ping func(ctx context.Context) error) *FailoverRateLimitStore {
	r.ping = ping
	return r
}

func (r *FailoverRateLimitStore) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary rate limit store failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverRateLimitStore) CheckAndIncrement(ctx context.Context, phone string, limit int, window time.Duration, now time.Time) (models.RateLimitDecision, error) {
	if !r.isDown.Load() {
		dec, err := r.primary.CheckAndIncrement(ctx, phone, limit, window, now)
		if err == nil {
			return dec, nil
		}
		r.markDown(err)
	} else if time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval {
		// Try to recover after 1 minute
		dec, err := r.primary.CheckAndIncrement(ctx, phone, limit, window, now)
		if err == nil {
			r.isDown.Store(false)
			r.logger.Info().Msg("Primary rate limit store recovered")
			return dec, nil
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}

	metrics.IncRateLimitFallback()
	return r.fallback.CheckAndIncrement(ctx, phone, limit, window, now)
}

// Healthy reports whether the primary store is currently in use.
func (r *FailoverRateLimitStore) Healthy() bool {
	return !r.isDown.Load()
}

// Check is the readiness check of the rate limit. While degraded it pings the
// primary and switches back on success, so recovery does not wait for the
// next booking.
func (r *FailoverRateLimitStore) Check(ctx context.Context) error {
	if r.Healthy() {
		return nil
	}
	if r.ping != nil {
		if err := r.ping(ctx); err == nil {
			r.isDown.Store(false)
			r.logger.Info().Msg("Primary rate limit store recovered")
			return nil
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}
	return errors.New("rate limit served from in-memory fallback")
}
