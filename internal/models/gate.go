package models

import (
	"strings"
	"time"
)

// RateLimitEntry is the global per-phone booking counter.
type RateLimitEntry struct {
	Phone       string    `json:"phone"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// RateLimitDecision is the outcome of one atomic check-and-increment.
type RateLimitDecision struct {
	Allowed   bool      `json:"allowed"`
	Count     int       `json:"count"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

// BlockEntry bars a phone from booking with one owner.
type BlockEntry struct {
	OwnerID   string    `json:"owner_id"`
	Phone     string    `json:"phone"`
	Reason    string    `json:"reason,omitempty"`
	BlockedAt time.Time `json:"blocked_at"`
}

// NormalizePhone keeps a leading '+' and digits so the same number always
// maps to one rate-limit and block key.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
