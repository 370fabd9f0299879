package migration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phonegate/pkg/platform/sentinel"
	"phonegate/pkg/requestcontext"
)

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()

	require.NoError(t, store.Claim(ctx, "2026_08_backfill_fingerprints"))
	assert.ErrorIs(t, store.Claim(ctx, "2026_08_backfill_fingerprints"), sentinel.ErrConflict)

	applied, err := store.IsApplied(ctx, "2026_08_backfill_fingerprints")
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestReleaseMakesClaimRetryable(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()

	require.NoError(t, store.Claim(ctx, "failed_run"))
	require.NoError(t, store.Release(ctx, "failed_run"))

	applied, err := store.IsApplied(ctx, "failed_run")
	require.NoError(t, err)
	assert.False(t, applied)

	assert.NoError(t, store.Claim(ctx, "failed_run"))
}

func TestReleaseMissingEntryIsNoop(t *testing.T) {
	assert.NoError(t, NewInMemory().Release(context.Background(), "never_claimed"))
}

func TestListOrderedByApplication(t *testing.T) {
	store := NewInMemory()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Claim(requestcontext.WithTime(context.Background(), base.Add(time.Hour)), "second"))
	require.NoError(t, store.Claim(requestcontext.WithTime(context.Background(), base), "first"))

	entries, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Name)
	assert.Equal(t, "second", entries[1].Name)
}

func TestConcurrentClaimsExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.Claim(ctx, "contested")
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, sentinel.ErrConflict)
		}
	}
	assert.Equal(t, 1, winners)
}
