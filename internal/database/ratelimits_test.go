package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAndIncrement(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	const phone = "+15550001"
	window := 24 * time.Hour

	for i := 1; i <= 3; i++ {
		dec, err := db.CheckAndIncrement(ctx, phone, 3, window, baseTime.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		assert.True(t, dec.Allowed)
		assert.Equal(t, i, dec.Count)
		assert.Equal(t, 3-i, dec.Remaining)
		// window is anchored at the first request
		assert.Equal(t, baseTime.Add(time.Hour+window), dec.ResetTime)
	}

	dec, err := db.CheckAndIncrement(ctx, phone, 3, window, baseTime.Add(5*time.Hour))
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, 0, dec.Remaining)

	// a denial does not touch the counter
	var count int
	var start int64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT count, window_start FROM rate_limits WHERE phone = ?`, phone).Scan(&count, &start))
	assert.Equal(t, 3, count)
	assert.Equal(t, baseTime.Add(time.Hour), fromMillis(start))

	// other phones are independent
	dec, err = db.CheckAndIncrement(ctx, "+15550002", 3, window, baseTime)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)

	// past the window a fresh one opens
	later := baseTime.Add(time.Hour + window + time.Millisecond)
	dec, err = db.CheckAndIncrement(ctx, phone, 3, window, later)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 1, dec.Count)
	assert.Equal(t, later.Add(window), dec.ResetTime)
}
