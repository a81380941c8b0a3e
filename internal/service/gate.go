package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/events"
	"slotkeeper/internal/models"
)

// AntiSpamGate admits booking attempts. The per-phone rate limit is global
// across owners and is checked before the owner's block list, so a client that
// is both over the limit and blocked sees the rate limit.
type AntiSpamGate struct {
	rates    domain.RateLimitStore
	blocks   domain.BlockStore
	eventBus domain.EventPublisher
	limit    int
	window   time.Duration
	clock    domain.Clock
	logger   *zerolog.Logger
}

func NewAntiSpamGate(rates domain.RateLimitStore, blocks domain.BlockStore, eventBus domain.EventPublisher, limit int, window time.Duration, logger *zerolog.Logger) *AntiSpamGate {
	if limit <= 0 {
		limit = models.DefaultRateLimitMax
	}
	if window <= 0 {
		window = models.DefaultRateLimitWindow * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &AntiSpamGate{
		rates:    rates,
		blocks:   blocks,
		eventBus: eventBus,
		limit:    limit,
		window:   window,
		clock:    domain.SystemClock{},
		logger:   logger,
	}
}

// WithClock replaces the time source.
func (g *AntiSpamGate) WithClock(clock domain.Clock) *AntiSpamGate {
	g.clock = clock
	return g
}

// Check consumes one attempt for phone and then consults the owner's block
// list. A denied attempt leaves the counter untouched.
func (g *AntiSpamGate) Check(ctx context.Context, ownerID, phone string) (models.RateLimitDecision, error) {
	phone = models.NormalizePhone(phone)

	dec, err := g.rates.CheckAndIncrement(ctx, phone, g.limit, g.window, g.clock.Now())
	if err != nil {
		return dec, fmt.Errorf("rate limit check: %w", err)
	}
	if !dec.Allowed {
		g.logger.Info().
			Str("phone", phone).
			Int("count", dec.Count).
			Time("reset_time", dec.ResetTime).
			Msg("Booking attempt rate limited")
		return dec, &domain.RateLimitError{ResetTime: dec.ResetTime}
	}

	blocked, err := g.blocks.IsBlocked(ctx, ownerID, phone)
	if err != nil {
		return dec, fmt.Errorf("block list check: %w", err)
	}
	if blocked {
		g.logger.Info().Str("owner_id", ownerID).Str("phone", phone).Msg("Blocked client attempted booking")
		return dec, domain.ErrClientBlocked
	}
	return dec, nil
}

func (g *AntiSpamGate) BlockClient(ctx context.Context, ownerID, phone, reason string) (*models.BlockEntry, error) {
	entry := &models.BlockEntry{
		OwnerID:   strings.TrimSpace(ownerID),
		Phone:     models.NormalizePhone(phone),
		Reason:    strings.TrimSpace(reason),
		BlockedAt: g.clock.Now().UTC(),
	}
	if err := validateBlockKey(entry.OwnerID, entry.Phone); err != nil {
		return nil, err
	}
	if err := g.blocks.Block(ctx, entry); err != nil {
		return nil, err
	}

	g.logger.Info().Str("owner_id", entry.OwnerID).Str("phone", entry.Phone).Msg("Client blocked")
	g.publish(events.EventClientBlocked, events.ClientBlockPayload{OwnerID: entry.OwnerID, Phone: entry.Phone, Reason: entry.Reason})
	return entry, nil
}

func (g *AntiSpamGate) UnblockClient(ctx context.Context, ownerID, phone string) error {
	ownerID = strings.TrimSpace(ownerID)
	phone = models.NormalizePhone(phone)
	if err := validateBlockKey(ownerID, phone); err != nil {
		return err
	}
	if err := g.blocks.Unblock(ctx, ownerID, phone); err != nil {
		return err
	}

	g.logger.Info().Str("owner_id", ownerID).Str("phone", phone).Msg("Client unblocked")
	g.publish(events.EventClientUnblocked, events.ClientBlockPayload{OwnerID: ownerID, Phone: phone})
	return nil
}

func (g *AntiSpamGate) ListBlocked(ctx context.Context, ownerID string) ([]*models.BlockEntry, error) {
	return g.blocks.ListBlocked(ctx, strings.TrimSpace(ownerID))
}

func (g *AntiSpamGate) publish(eventType string, payload interface{}) {
	if g.eventBus == nil {
		return
	}
	if err := g.eventBus.PublishJSON(eventType, payload); err != nil {
		g.logger.Error().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}

func validateBlockKey(ownerID, phone string) error {
	v := &domain.ValidationError{}
	if ownerID == "" {
		v.Add("owner_id", "is required")
	}
	if phone == "" {
		v.Add("phone", "is required")
	}
	return v.OrNil()
}
