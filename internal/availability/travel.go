package availability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/metrics"
	"slotkeeper/internal/models"
)

// TravelEstimate is the travel component of an appointment's buffer.
type TravelEstimate struct {
	Minutes     int
	Provisional bool
}

// EffectiveInterval is [start, start+duration+travel+grace).
func EffectiveInterval(start time.Time, durationMinutes, travelMinutes, graceMinutes int) models.Interval {
	total := durationMinutes + travelMinutes + graceMinutes
	return models.Interval{Start: start, End: start.Add(time.Duration(total) * time.Minute)}
}

// BufferCalculator wraps the external travel-time lookup with a hard timeout
// and a default used when the lookup fails.
type BufferCalculator struct {
	estimator      domain.TravelEstimator
	timeout        time.Duration
	defaultMinutes int
	logger         *zerolog.Logger
}

func NewBufferCalculator(estimator domain.TravelEstimator, timeout time.Duration, defaultMinutes int, logger *zerolog.Logger) *BufferCalculator {
	if timeout <= 0 {
		timeout = models.DefaultTravelTimeout * time.Second
	}
	if defaultMinutes < 0 {
		defaultMinutes = models.DefaultTravelMinutes
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BufferCalculator{
		estimator:      estimator,
		timeout:        timeout,
		defaultMinutes: defaultMinutes,
		logger:         logger,
	}
}

// Estimate never fails: when the lookup errors or times out the default is
// returned and flagged provisional. An empty destination means the client
// comes to the owner and needs no travel time.
func (c *BufferCalculator) Estimate(ctx context.Context, origin, destination string) TravelEstimate {
	if strings.TrimSpace(destination) == "" {
		return TravelEstimate{}
	}

	minutes, err := c.lookup(ctx, origin, destination)
	if err != nil {
		metrics.IncTravelFallback()
		c.logger.Warn().
			Err(err).
			Str("destination", destination).
			Int("default_minutes", c.defaultMinutes).
			Msg("travel time unavailable, using provisional default")
		return TravelEstimate{Minutes: c.defaultMinutes, Provisional: true}
	}
	return TravelEstimate{Minutes: minutes}
}

// Lookup performs a single bounded lookup without the fallback.
func (c *BufferCalculator) Lookup(ctx context.Context, origin, destination string) (int, error) {
	return c.lookup(ctx, origin, destination)
}

func (c *BufferCalculator) lookup(ctx context.Context, origin, destination string) (int, error) {
	if c.estimator == nil {
		return 0, fmt.Errorf("%w: no estimator configured", domain.ErrTravelTimeUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		minutes int
		err     error
	}
	done := make(chan result, 1)
	go func() {
		m, err := c.estimator.EstimateMinutes(ctx, origin, destination)
		done <- result{minutes: m, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", domain.ErrTravelTimeUnavailable, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return 0, fmt.Errorf("%w: %v", domain.ErrTravelTimeUnavailable, res.err)
		}
		if res.minutes < 0 {
			return 0, fmt.Errorf("%w: negative estimate %d", domain.ErrTravelTimeUnavailable, res.minutes)
		}
		return res.minutes, nil
	}
}
