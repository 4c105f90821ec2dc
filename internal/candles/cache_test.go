package candles

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trongkhoidev/oreka-tracker/internal/testutil"
	"github.com/trongkhoidev/oreka-tracker/pkg/cache"
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	mu      sync.Mutex
	data    []types.Candle
	err     error
	calls   atomic.Int32
	gate    chan struct{}
	lastKey string
}

func (f *fakeFetcher) Fetch(ctx context.Context, symbol string, interval string, limit int) ([]types.Candle, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastKey = symbol + ":" + interval
	if f.err != nil {
		return nil, f.err
	}
	return append([]types.Candle(nil), f.data...), nil
}

func (f *fakeFetcher) set(data []types.Candle, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = data
	f.err = err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, fetcher Fetcher, mirror *testutil.MockMirror, clk *clock) *Cache {
	t.Helper()

	rc, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		Name:        "candles-test",
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(rc.Close)

	c, err := New(&Config{
		Cache:   rc,
		Mirror:  mirror,
		Fetcher: fetcher,
		Logger:  zap.NewNop(),
		Now:     clk.Now,
	})
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(&Config{Fetcher: &fakeFetcher{}, Logger: zap.NewNop()})
	assert.Error(t, err)
}

func TestGet_PositiveEntryCached(t *testing.T) {
	fetcher := &fakeFetcher{data: testutil.CreateTestCandles(0, 3)}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	mirror := testutil.NewMockMirror()
	c := newTestCache(t, fetcher, mirror, clk)
	ctx := context.Background()

	got, err := c.Get(ctx, "btcusdt", "1m")
	require.NoError(t, err)
	assert.Len(t, got, 3)

	_, err = c.Get(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Equal(t, "BTCUSDT:1m", fetcher.lastKey)

	// Positive entries expire after five minutes
	clk.Advance(DefaultPositiveTTL + time.Second)
	_, err = c.Get(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load())

	keys, _ := mirror.Keys(ctx, KeyPrefix)
	assert.Equal(t, []string{"candles:BTCUSDT:1m"}, keys)
}

func TestGet_NegativeEntryExpiresSooner(t *testing.T) {
	fetcher := &fakeFetcher{}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, fetcher, testutil.NewMockMirror(), clk)
	ctx := context.Background()

	got, err := c.Get(ctx, "NOPE", "1h")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, _ = c.Get(ctx, "NOPE", "1h")
	assert.Equal(t, int32(1), fetcher.calls.Load())

	clk.Advance(DefaultNegativeTTL + time.Second)
	fetcher.set(testutil.CreateTestCandles(0, 2), nil)

	got, err = c.Get(ctx, "NOPE", "1h")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestGet_UpstreamFailureServesStale(t *testing.T) {
	fetcher := &fakeFetcher{data: testutil.CreateTestCandles(0, 4)}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, fetcher, testutil.NewMockMirror(), clk)
	ctx := context.Background()

	_, err := c.Get(ctx, "ETHUSDT", "5m")
	require.NoError(t, err)

	clk.Advance(DefaultPositiveTTL + time.Second)
	fetcher.set(nil, errors.New("upstream down"))

	got, err := c.Get(ctx, "ETHUSDT", "5m")
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestGet_UpstreamFailureWithoutStaleIsNegative(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("upstream down")}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, fetcher, testutil.NewMockMirror(), clk)
	ctx := context.Background()

	_, err := c.Get(ctx, "ETHUSDT", "5m")
	require.Error(t, err)

	// Within the negative TTL the upstream is not hammered
	got, err := c.Get(ctx, "ETHUSDT", "5m")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestGet_SingleFlight(t *testing.T) {
	fetcher := &fakeFetcher{data: testutil.CreateTestCandles(0, 1), gate: make(chan struct{})}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, fetcher, testutil.NewMockMirror(), clk)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Get(context.Background(), "SOLUSDT", "1m")
		}()
	}

	require.Eventually(t, func() bool { return fetcher.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fetcher.gate)
	wg.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestGet_InvalidKey(t *testing.T) {
	c := newTestCache(t, &fakeFetcher{}, testutil.NewMockMirror(), &clock{now: time.Now()})

	_, err := c.Get(context.Background(), "", "1m")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = c.Get(context.Background(), "BTCUSDT", "7m")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestPrefetch(t *testing.T) {
	fetcher := &fakeFetcher{data: testutil.CreateTestCandles(0, 2)}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, fetcher, testutil.NewMockMirror(), clk)
	ctx := context.Background()

	require.NoError(t, c.Prefetch(ctx, "BTCUSDT", "1m"))
	require.NoError(t, c.Prefetch(ctx, "BTCUSDT", "1m"))
	assert.Equal(t, int32(1), fetcher.calls.Load())

	got, err := c.Get(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestLoad_Rehydrates(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	mirror := testutil.NewMockMirror()

	fresh, _ := json.Marshal(types.CandleEntry{Data: testutil.CreateTestCandles(0, 2), FetchedAt: clk.Now().Add(-time.Minute)})
	expiredNegative, _ := json.Marshal(types.CandleEntry{Data: []types.Candle{}, FetchedAt: clk.Now().Add(-time.Hour), Negative: true})
	mirror.Put(Key("BTCUSDT", "1m"), fresh)
	mirror.Put(Key("DOGEUSDT", "1m"), expiredNegative)
	mirror.Put(Key("BAD", "1m"), []byte("{"))

	fetcher := &fakeFetcher{data: testutil.CreateTestCandles(0, 9)}
	c := newTestCache(t, fetcher, mirror, clk)
	require.NoError(t, c.Load(context.Background()))

	got, err := c.Get(context.Background(), "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(0), fetcher.calls.Load())

	got, err = c.Get(context.Background(), "DOGEUSDT", "1m")
	require.NoError(t, err)
	assert.Len(t, got, 9)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestParseWarmKeys(t *testing.T) {
	keys, err := ParseWarmKeys("btcusdt:1m, ETHUSDT:1h,,")
	require.NoError(t, err)
	assert.Equal(t, []WarmKey{{"BTCUSDT", "1m"}, {"ETHUSDT", "1h"}}, keys)

	_, err = ParseWarmKeys("BTCUSDT")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = ParseWarmKeys("BTCUSDT:9x")
	assert.ErrorIs(t, err, ErrInvalidKey)

	keys, err = ParseWarmKeys("")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestWarmer(t *testing.T) {
	fetcher := &fakeFetcher{data: testutil.CreateTestCandles(0, 1)}
	c := newTestCache(t, fetcher, testutil.NewMockMirror(), &clock{now: time.Unix(1_700_000_000, 0)})

	_, err := NewWarmer(&WarmerConfig{Cache: c, Schedule: "not a schedule", Logger: zap.NewNop()})
	assert.Error(t, err)

	w, err := NewWarmer(&WarmerConfig{
		Cache:  c,
		Keys:   []WarmKey{{"BTCUSDT", "1m"}, {"ETHUSDT", "1m"}},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	w.RunNow()
	assert.Equal(t, int32(2), fetcher.calls.Load())

	w.Start()
	w.Stop()
}
