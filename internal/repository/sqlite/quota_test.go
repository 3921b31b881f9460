package sqlite

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quotaEpoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func TestQuotaAdmit_UpToLimit(t *testing.T) {
	q := newTestDB(t).Quotas()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		rec, ok, err := q.Admit(ctx, "user-1", 3, time.Hour, quotaEpoch)
		require.NoError(t, err)
		assert.True(t, ok, "admission %d", i)
		assert.Equal(t, i, rec.Count)
	}

	rec, ok, err := q.Admit(ctx, "user-1", 3, time.Hour, quotaEpoch.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, rec.Count, "a rejection must not increment")
	assert.Equal(t, 0, rec.Remaining())
}

func TestQuotaAdmit_WindowRollover(t *testing.T) {
	q := newTestDB(t).Quotas()
	ctx := context.Background()

	_, ok, _ := q.Admit(ctx, "user-1", 1, time.Hour, quotaEpoch)
	require.True(t, ok)
	_, ok, _ = q.Admit(ctx, "user-1", 1, time.Hour, quotaEpoch.Add(59*time.Minute))
	require.False(t, ok)

	rec, ok, err := q.Admit(ctx, "user-1", 1, time.Hour, quotaEpoch.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok, "the first request at windowStart+window starts a new window")
	assert.Equal(t, 1, rec.Count)
	assert.True(t, rec.WindowStart.Equal(quotaEpoch.Add(time.Hour)))
}

func TestQuotaAdmit_KeysAreIndependent(t *testing.T) {
	q := newTestDB(t).Quotas()
	ctx := context.Background()

	_, ok, _ := q.Admit(ctx, "a", 1, time.Hour, quotaEpoch)
	require.True(t, ok)
	_, ok, _ = q.Admit(ctx, "b", 1, time.Hour, quotaEpoch)
	assert.True(t, ok)
}

func TestQuotaAdmit_Concurrent(t *testing.T) {
	q := newTestDB(t).Quotas()

	const (
		callers = 25
		limit   = 7
	)
	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := q.Admit(context.Background(), "hot-key", limit, time.Hour, quotaEpoch)
			if err != nil {
				t.Errorf("Admit() error = %v", err)
				return
			}
			if ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), admitted.Load())
}

func TestQuotaPeek_DoesNotConsume(t *testing.T) {
	q := newTestDB(t).Quotas()
	ctx := context.Background()

	rec, err := q.Peek(ctx, "fresh", 5, time.Hour, quotaEpoch)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Count)
	assert.Equal(t, 5, rec.Remaining())

	_, _, err = q.Admit(ctx, "fresh", 5, time.Hour, quotaEpoch)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		rec, err = q.Peek(ctx, "fresh", 5, time.Hour, quotaEpoch)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.Count)
	}

	rec, err = q.Peek(ctx, "fresh", 5, time.Hour, quotaEpoch.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Count, "an elapsed window reads as reset")
}
