package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"
)

func TestConcurrentBooking(t *testing.T) {
	logger := zerolog.Nop()
	dbPath := filepath.Join(t.TempDir(), "concurrency.db")
	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			// same owner, same start: only one may land
			appt := newAppointment(fmt.Sprintf("appt-%d", id), baseTime, 60)
			results <- db.CreatePendingWithLock(ctx, appt)
		}(i)
	}

	wg.Wait()
	close(results)

	successCount := 0
	conflictCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, domain.ErrSlotConflict), errors.Is(err, domain.ErrConcurrentInsert):
			conflictCount++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, successCount, "Only one booking should succeed for the same slot")
	assert.Equal(t, numGoroutines-1, conflictCount, "All other bookings should fail")

	list, err := db.ListOwnerAppointments(ctx, "owner-1", baseTime, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestConfirmRacesSweep(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	appt := newAppointment("race", baseTime, 30)
	require.NoError(t, db.CreatePendingWithLock(ctx, appt))
	now := appt.ExpiresAt.Add(time.Second)

	var wg sync.WaitGroup
	var confirmErr, sweepErr error
	var expired []string
	wg.Add(2)
	go func() {
		defer wg.Done()
		confirmErr = db.TransitionStatus(ctx, "race", models.StatusPending, models.StatusConfirmed, "client", now)
	}()
	go func() {
		defer wg.Done()
		expired, sweepErr = db.ExpirePending(ctx, now)
	}()
	wg.Wait()
	require.NoError(t, sweepErr)

	got, err := db.GetAppointment(ctx, "race")
	require.NoError(t, err)

	// exactly one writer wins
	if confirmErr == nil {
		assert.Equal(t, models.StatusConfirmed, got.Status)
		assert.Empty(t, expired)
	} else {
		assert.True(t, errors.Is(confirmErr, domain.ErrStaleTransition))
		assert.Equal(t, models.StatusExpired, got.Status)
		assert.Equal(t, []string{"race"}, expired)
	}

	history, err := db.GetStatusHistory(ctx, "race")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
