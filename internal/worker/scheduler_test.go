package worker

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeExpirer struct {
	mu    sync.Mutex
	calls []time.Time
	ids   []string
	err   error
}

func (f *fakeExpirer) ExpireSweep(_ context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, now)
	return f.ids, f.err
}

func (f *fakeExpirer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestExpirySweeper_RunOnce(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	exp := &fakeExpirer{ids: []string{"a-1", "a-2"}}
	s := NewExpirySweeper(exp, fixedClock{now: now}, nil)

	assert.Equal(t, []string{"a-1", "a-2"}, s.RunOnce(context.Background()))
	assert.Equal(t, []time.Time{now}, exp.calls)

	exp.err = errors.New("database is locked")
	assert.Nil(t, s.RunOnce(context.Background()))
}

func TestScheduler_RunsJobs(t *testing.T) {
	sched := NewScheduler(nil)
	exp := &fakeExpirer{}
	require.NoError(t, NewExpirySweeper(exp, nil, nil).Register(sched, "@every 1s"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return exp.count() >= 1 }, 3*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_InvalidSpec(t *testing.T) {
	sched := NewScheduler(nil)
	err := sched.Add("broken", "every now and then", func(context.Context) {})
	assert.Error(t, err)
}

type fakeProvisional struct {
	appts []*models.Appointment
	err   error
}

func (f *fakeProvisional) ListProvisional(context.Context, int) ([]*models.Appointment, error) {
	return f.appts, f.err
}

type fakeOwners struct {
	owners  map[string]*models.Owner
	lookups int
}

func (f *fakeOwners) GetOwner(_ context.Context, id string) (*models.Owner, error) {
	f.lookups++
	o, ok := f.owners[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o, nil
}

func (f *fakeOwners) UpsertOwner(context.Context, *models.Owner) error { return nil }

type fakeLookup struct {
	minutes map[string]int
	calls   int32
}

func (f *fakeLookup) Lookup(_ context.Context, origin, destination string) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	if origin != "Depot 1" {
		return 0, errors.New("unexpected origin " + origin)
	}
	m, ok := f.minutes[destination]
	if !ok {
		return 0, domain.ErrTravelTimeUnavailable
	}
	return m, nil
}

type fakeApplier struct {
	applied map[string]int
	errs    map[string]error
}

func (f *fakeApplier) ApplyTravelEstimate(_ context.Context, id string, minutes int) (*models.Appointment, error) {
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	f.applied[id] = minutes
	return &models.Appointment{ID: id, TravelMinutes: minutes}, nil
}

func TestTravelRecomputer_RunOnce(t *testing.T) {
	source := &fakeProvisional{appts: []*models.Appointment{
		{ID: "a-1", OwnerID: "owner-1", Address: "Near 1"},
		{ID: "a-2", OwnerID: "owner-1", Address: "Unknown"},
		{ID: "a-3", OwnerID: "owner-1", Address: "Near 1"},
		{ID: "a-4", OwnerID: "ghost", Address: "Near 1"},
	}}
	owners := &fakeOwners{owners: map[string]*models.Owner{"owner-1": {ID: "owner-1", BaseAddress: "Depot 1"}}}
	lookup := &fakeLookup{minutes: map[string]int{"Near 1": 25}}
	applier := &fakeApplier{
		applied: make(map[string]int),
		errs:    map[string]error{"a-3": domain.ErrInvalidTransition},
	}

	r := NewTravelRecomputer(source, owners, lookup, applier, RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond}, nil)
	updated, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, updated)
	assert.Equal(t, map[string]int{"a-1": 25}, applier.applied)
	assert.Equal(t, 2, owners.lookups, "owner origin cached per run")
	// a-1 once, a-2 twice (retried), a-3 once
	assert.Equal(t, int32(4), atomic.LoadInt32(&lookup.calls))
}

func TestTravelRecomputer_SkipsOverlappingEstimate(t *testing.T) {
	source := &fakeProvisional{appts: []*models.Appointment{
		{ID: "a-1", OwnerID: "owner-1", Address: "Near 1"},
		{ID: "a-2", OwnerID: "owner-1", Address: "Near 1"},
	}}
	owners := &fakeOwners{owners: map[string]*models.Owner{"owner-1": {ID: "owner-1", BaseAddress: "Depot 1"}}}
	lookup := &fakeLookup{minutes: map[string]int{"Near 1": 90}}
	neighbour := &models.Appointment{ID: "b-1"}
	applier := &fakeApplier{
		applied: make(map[string]int),
		errs:    map[string]error{"a-1": &domain.ConflictError{Conflicts: []*models.Appointment{neighbour}}},
	}

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r := NewTravelRecomputer(source, owners, lookup, applier, RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond}, &logger)
	updated, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, updated)
	assert.Equal(t, map[string]int{"a-2": 90}, applier.applied)
	assert.Contains(t, buf.String(), `"conflicting_appointment_id":"b-1"`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestTravelRecomputer_ListError(t *testing.T) {
	r := NewTravelRecomputer(&fakeProvisional{err: errors.New("boom")}, &fakeOwners{}, &fakeLookup{}, &fakeApplier{}, RetryPolicy{}, nil)
	_, err := r.RunOnce(context.Background())
	assert.Error(t, err)
}
