package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"
)

// Expirer is the part of the lifecycle manager the sweep needs.
type Expirer interface {
	ExpireSweep(ctx context.Context, now time.Time) ([]string, error)
}

// ExpirySweeper periodically expires lapsed pending reservations.
type ExpirySweeper struct {
	lifecycle Expirer
	clock     domain.Clock
	logger    *zerolog.Logger
}

func NewExpirySweeper(lifecycle Expirer, clock domain.Clock, logger *zerolog.Logger) *ExpirySweeper {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ExpirySweeper{lifecycle: lifecycle, clock: clock, logger: logger}
}

// RunOnce performs one sweep at the clock's current time.
func (s *ExpirySweeper) RunOnce(ctx context.Context) []string {
	ids, err := s.lifecycle.ExpireSweep(ctx, s.clock.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("Expiry sweep failed")
		return nil
	}
	return ids
}

// Register schedules the sweep on spec, defaulting to every minute.
func (s *ExpirySweeper) Register(sched *Scheduler, spec string) error {
	if spec == "" {
		spec = models.DefaultSweepSchedule
	}
	return sched.Add("expiry_sweep", spec, func(ctx context.Context) {
		s.RunOnce(ctx)
	})
}
