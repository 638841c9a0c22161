package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *ReportCache {
	t.Helper()
	srv := miniredis.RunT(t)
	c := NewReportCache(redis.NewClient(&redis.Options{Addr: srv.Addr()}), time.Minute)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEntryKeysAreNamespacedByGeneration(t *testing.T) {
	c := NewReportCache(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), time.Minute)
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, "kitchenledger:report:generation", c.generationKey())
	assert.Equal(t, "kitchenledger:report:0:ledger", c.entryKey(0, "ledger"))
	assert.NotEqual(t, c.entryKey(1, "ledger"), c.entryKey(2, "ledger"))
}

func TestSetThenGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var dst []string
	gen, ok, err := c.Get(ctx, "ledger", &dst)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), gen)

	require.NoError(t, c.Set(ctx, gen, "ledger", []string{"purchase", "waste"}))

	gen, ok, err = c.Get(ctx, "ledger", &dst)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(0), gen)
	assert.Equal(t, []string{"purchase", "waste"}, dst)
}

func TestInvalidateHidesOlderEntries(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var dst string
	gen, _, err := c.Get(ctx, "summary", &dst)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, gen, "summary", "before"))
	require.NoError(t, c.Invalidate(ctx))

	next, ok, err := c.Get(ctx, "summary", &dst)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, gen+1, next)
}

func TestReportComputedBeforeWriteIsNotStored(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var dst string
	gen, ok, err := c.Get(ctx, "ledger", &dst)
	require.NoError(t, err)
	require.False(t, ok)

	// a ledger write lands while the report is being computed
	require.NoError(t, c.Invalidate(ctx))
	require.NoError(t, c.Set(ctx, gen, "ledger", "computed before the write"))

	_, ok, err = c.Get(ctx, "ledger", &dst)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, dst)
}

func TestUnreachableRedisSurfacesErrors(t *testing.T) {
	c := NewReportCache(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	}), time.Minute)
	t.Cleanup(func() { _ = c.Close() })

	var dst map[string]any
	_, ok, err := c.Get(context.Background(), "ledger", &dst)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, c.Set(context.Background(), 0, "ledger", map[string]int{"a": 1}))
	assert.Error(t, c.Invalidate(context.Background()))
}
