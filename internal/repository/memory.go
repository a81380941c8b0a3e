package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"slotkeeper/internal/models"
)

// MemoryRateLimitStore keeps per-phone windows in process memory. It backs
// the Redis store when Redis is unreachable and serves single-instance tests.
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	entries map[string]*models.RateLimitEntry
}

func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{entries: make(map[string]*models.RateLimitEntry)}
}

func (r *MemoryRateLimitStore) CheckAndIncrement(ctx context.Context, phone string, limit int, window time.Duration, now time.Time) (models.RateLimitDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[phone]
	if !ok || now.After(entry.WindowEnd) {
		entry = &models.RateLimitEntry{
			Phone:       phone,
			Count:       1,
			WindowStart: now,
			WindowEnd:   now.Add(window),
		}
		r.entries[phone] = entry
		return decision(true, entry.Count, limit, entry.WindowEnd), nil
	}

	if entry.Count < limit {
		entry.Count++
		return decision(true, entry.Count, limit, entry.WindowEnd), nil
	}

	// отказ ничего не меняет
	return decision(false, entry.Count, limit, entry.WindowEnd), nil
}

// Entry returns a copy of the stored window for phone.
func (r *MemoryRateLimitStore) Entry(phone string) (models.RateLimitEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[phone]
	if !ok {
		return models.RateLimitEntry{}, false
	}
	return *entry, true
}

func decision(allowed bool, count, limit int, resetAt time.Time) models.RateLimitDecision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return models.RateLimitDecision{
		Allowed:   allowed,
		Count:     count,
		Remaining: remaining,
		ResetTime: resetAt,
	}
}

type blockKey struct {
	ownerID string
	phone   string
}

// MemoryBlockStore is an owner-scoped block list held in memory.
type MemoryBlockStore struct {
	mu      sync.RWMutex
	entries map[blockKey]models.BlockEntry
}

func NewMemoryBlockStore() *MemoryBlockStore {
	return &MemoryBlockStore{entries: make(map[blockKey]models.BlockEntry)}
}

func (r *MemoryBlockStore) IsBlocked(ctx context.Context, ownerID, phone string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[blockKey{ownerID: ownerID, phone: phone}]
	return ok, nil
}

func (r *MemoryBlockStore) Block(ctx context.Context, entry *models.BlockEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[blockKey{ownerID: entry.OwnerID, phone: entry.Phone}] = *entry
	return nil
}

func (r *MemoryBlockStore) Unblock(ctx context.Context, ownerID, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, blockKey{ownerID: ownerID, phone: phone})
	return nil
}

func (r *MemoryBlockStore) ListBlocked(ctx context.Context, ownerID string) ([]*models.BlockEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.BlockEntry
	for key, entry := range r.entries {
		if key.ownerID != ownerID {
			continue
		}
		e := entry
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phone < out[j].Phone })
	return out, nil
}
