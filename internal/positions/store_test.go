package positions

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trongkhoidev/oreka-tracker/internal/testutil"
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
	"go.uber.org/zap"
)

var fixedNow = time.UnixMilli(10 * 24 * 3600 * 1000)

func newTestStore(t *testing.T, mirror *testutil.MockMirror) *Store {
	t.Helper()

	s, err := New(&Config{
		Mirror:         mirror,
		Logger:         zap.NewNop(),
		MaxPoints:      100,
		PctThreshold:   DefaultPctThreshold,
		TotalThreshold: DefaultTotalThreshold,
		Now:            func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return s
}

func snap(timeMs int64, amounts ...float64) types.PositionSnapshot {
	return types.NewSnapshot(timeMs, amounts, false)
}

func times(tl []types.PositionSnapshot) []int64 {
	out := make([]int64, len(tl))
	for i, p := range tl {
		out[i] = p.Time
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)

	_, err = New(&Config{Logger: zap.NewNop(), PctThreshold: -1})
	assert.Error(t, err)

	s, err := New(&Config{Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxPoints, s.maxPoints)
}

func TestApplyPolledSnapshot_Idempotent(t *testing.T) {
	mirror := testutil.NewMockMirror()
	s := newTestStore(t, mirror)

	assert.True(t, s.ApplyPolledSnapshot("m1", snap(1000, 10, 5)))
	assert.False(t, s.ApplyPolledSnapshot("m1", snap(1000, 10, 5)))

	history := s.GetHistory("m1", types.WindowAll)
	require.Len(t, history, 1)
	assert.Equal(t, []float64{10, 5}, history[0].Amounts)
	assert.Equal(t, 1, mirror.SaveCount())
}

func TestApplyPolledSnapshot_SameMillisecondReplaces(t *testing.T) {
	s := newTestStore(t, testutil.NewMockMirror())

	s.ApplyPolledSnapshot("m1", snap(1000, 10, 5))
	s.ApplyPolledSnapshot("m1", snap(1000, 20, 5))

	current, ok := s.GetCurrent("m1")
	require.True(t, ok)
	assert.Equal(t, []float64{20, 5}, current.Amounts)
	assert.Len(t, s.GetHistory("m1", types.WindowAll), 1)
}

func TestApplyPolledSnapshot_MonotonicOrder(t *testing.T) {
	s := newTestStore(t, testutil.NewMockMirror())

	for _, ts := range []int64{3000, 1000, 5000, 2000, 4000, 1000} {
		s.ApplyPolledSnapshot("m1", snap(ts, float64(ts), 1))
	}

	assert.Equal(t, []int64{1000, 2000, 3000, 4000, 5000}, times(s.GetHistory("m1", types.WindowAll)))
}

func TestApplyPolledSeries_ProvisionalSuperseded(t *testing.T) {
	s := newTestStore(t, testutil.NewMockMirror())

	first := []types.PositionSnapshot{
		snap(1000, 0, 0),
		snap(2000, 10, 0),
		types.NewSnapshot(2500, []float64{10, 0}, true),
	}
	second := []types.PositionSnapshot{
		snap(1000, 0, 0),
		snap(2000, 10, 0),
		snap(2200, 10, 4),
		types.NewSnapshot(3000, []float64{10, 4}, true),
	}

	assert.True(t, s.ApplyPolledSeries("m1", first))
	assert.True(t, s.ApplyPolledSeries("m1", second))

	history := s.GetHistory("m1", types.WindowAll)
	assert.Equal(t, []int64{1000, 2000, 2200, 3000}, times(history))
	assert.True(t, history[3].Provisional)
	for _, p := range history[:3] {
		assert.False(t, p.Provisional)
	}
}

func TestApplyPolledSeries_TwoIdenticalPolls(t *testing.T) {
	mirror := testutil.NewMockMirror()
	s := newTestStore(t, mirror)

	series := []types.PositionSnapshot{snap(1000, 0, 0), snap(1500, 0, 5), snap(2000, 10, 5)}

	assert.True(t, s.ApplyPolledSeries("m1", series))
	require.Equal(t, 1, mirror.SaveCount())

	assert.False(t, s.ApplyPolledSeries("m1", series))
	assert.Equal(t, 1, mirror.SaveCount())
}

func TestApplyPolledSeries_EmptyIsNoop(t *testing.T) {
	mirror := testutil.NewMockMirror()
	s := newTestStore(t, mirror)

	s.ApplyPolledSnapshot("m1", snap(1000, 1, 1))
	assert.False(t, s.ApplyPolledSeries("m1", nil))
	assert.False(t, s.ApplyPolledSeries("m1", []types.PositionSnapshot{}))

	assert.Len(t, s.GetHistory("m1", types.WindowAll), 1)
	assert.Equal(t, 1, mirror.SaveCount())
}

func TestSignificance(t *testing.T) {
	tests := []struct {
		name string
		prev types.PositionSnapshot
		next types.PositionSnapshot
		want bool
	}{
		{"identical", snap(1, 50, 50), snap(2, 50, 50), false},
		{"below-thresholds", snap(1, 1000, 1000), snap(2, 1000.002, 1000), false},
		{"total-moves", snap(1, 50, 50), snap(2, 50.02, 50.02), true},
		{"percentage-moves", snap(1, 1000, 1000), snap(2, 1005, 995), true},
		{"outcome-count-changes", snap(1, 0, 0), snap(2, 0, 0, 0), true},
	}

	th := Thresholds{Pct: DefaultPctThreshold, Total: DefaultTotalThreshold}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := tt.prev
			assert.Equal(t, tt.want, th.Significant(&prev, tt.next))
		})
	}

	assert.True(t, th.Significant(nil, snap(1, 0, 0)))
}

func TestApplyPolledSnapshot_InsignificantNotPersisted(t *testing.T) {
	mirror := testutil.NewMockMirror()
	s := newTestStore(t, mirror)

	require.True(t, s.ApplyPolledSnapshot("m1", snap(1000, 1000, 1000)))
	assert.False(t, s.ApplyPolledSnapshot("m1", snap(2000, 1000.001, 1000)))
	assert.Equal(t, 1, mirror.SaveCount())

	// Memory still merges the point
	current, _ := s.GetCurrent("m1")
	assert.Equal(t, int64(2000), current.Time)
}

func TestApplyLocalEvent(t *testing.T) {
	mirror := testutil.NewMockMirror()
	s := newTestStore(t, mirror)

	s.ApplyPolledSnapshot("m1", snap(2000, 10, 5))
	saves := mirror.SaveCount()

	got, ok := s.ApplyLocalEvent("m1", testutil.CreateTestStake("m1", 3000, types.SideShort, 5, "me"))
	require.True(t, ok)

	assert.Equal(t, int64(3000), got.Time)
	assert.Equal(t, []float64{10, 10}, got.Amounts)
	assert.InDelta(t, 50.0, got.Percentages[0], 1e-9)
	assert.True(t, got.Provisional)
	assert.Equal(t, saves+1, mirror.SaveCount())

	current, _ := s.GetCurrent("m1")
	assert.Equal(t, got, current)
}

func TestApplyLocalEvent_NeverGoesBackInTime(t *testing.T) {
	s := newTestStore(t, testutil.NewMockMirror())
	s.ApplyPolledSnapshot("m1", snap(5000, 1, 1))

	got, ok := s.ApplyLocalEvent("m1", testutil.CreateTestStake("m1", 4000, types.SideLong, 2, "me"))
	require.True(t, ok)
	assert.Equal(t, int64(5001), got.Time)
	assert.Equal(t, []float64{3, 1}, got.Amounts)

	// The confirmed point is left alone.
	history := s.GetHistory("m1", types.WindowAll)
	require.Len(t, history, 2)
	assert.Equal(t, int64(5000), history[0].Time)
	assert.Equal(t, []float64{1, 1}, history[0].Amounts)
	assert.False(t, history[0].Provisional)
}

func TestApplyLocalEvent_SameTimeAsConfirmedPoint(t *testing.T) {
	s := newTestStore(t, testutil.NewMockMirror())
	s.ApplyPolledSnapshot("m1", snap(5000, 1, 1))

	got, ok := s.ApplyLocalEvent("m1", testutil.CreateTestStake("m1", 5000, types.SideShort, 1, "me"))
	require.True(t, ok)
	assert.Equal(t, int64(5001), got.Time)

	history := s.GetHistory("m1", types.WindowAll)
	assert.Equal(t, []int64{5000, 5001}, times(history))
	assert.Equal(t, []float64{1, 1}, history[0].Amounts)
}

func TestApplyLocalEvent_OverwritesProvisionalPoint(t *testing.T) {
	s := newTestStore(t, testutil.NewMockMirror())
	s.ApplyPolledSeries("m1", []types.PositionSnapshot{
		snap(1000, 0, 0),
		types.NewSnapshot(3000, []float64{0, 0}, true),
	})

	got, ok := s.ApplyLocalEvent("m1", testutil.CreateTestStake("m1", 2000, types.SideLong, 4, "me"))
	require.True(t, ok)
	assert.Equal(t, int64(3000), got.Time)
	assert.Equal(t, []int64{1000, 3000}, times(s.GetHistory("m1", types.WindowAll)))
}

func TestApplyLocalEvent_EmptyMarket(t *testing.T) {
	s := newTestStore(t, testutil.NewMockMirror())

	got, ok := s.ApplyLocalEvent("m1", testutil.CreateTestStake("m1", 100, types.SideLong, 4, "me"))
	require.True(t, ok)
	assert.Equal(t, []float64{4, 0}, got.Amounts)
	assert.Equal(t, 4.0, got.Total)
}

func TestApplyLocalEvent_Rejected(t *testing.T) {
	s := newTestStore(t, testutil.NewMockMirror())

	_, ok := s.ApplyLocalEvent("m1", testutil.CreateTestStake("m1", 100, types.SideLong, -1, "me"))
	assert.False(t, ok)

	claim := testutil.CreateTestStake("m1", 100, types.SideLong, 1, "me")
	claim.Kind = types.EventKindClaim
	_, ok = s.ApplyLocalEvent("m1", claim)
	assert.False(t, ok)

	_, found := s.GetCurrent("m1")
	assert.False(t, found)
}

func TestLocalThenPoll_ProvisionalReplaced(t *testing.T) {
	s := newTestStore(t, testutil.NewMockMirror())

	s.ApplyPolledSnapshot("m1", snap(1000, 0, 0))
	s.ApplyLocalEvent("m1", testutil.CreateTestStake("m1", 1500, types.SideLong, 5, "me"))

	s.ApplyPolledSeries("m1", []types.PositionSnapshot{
		snap(1000, 0, 0),
		snap(1400, 5, 0),
		types.NewSnapshot(2000, []float64{5, 0}, true),
	})

	assert.Equal(t, []int64{1000, 1400, 2000}, times(s.GetHistory("m1", types.WindowAll)))
}

func TestApplyPolledSeries_SupersedesLaterProvisionalPoint(t *testing.T) {
	mirror := testutil.NewMockMirror()
	s := newTestStore(t, mirror)

	closed := []types.PositionSnapshot{
		snap(1000, 0, 0),
		snap(2000, 10, 0),
		snap(5000, 10, 0),
	}
	require.True(t, s.ApplyPolledSeries("m1", closed))

	local, ok := s.ApplyLocalEvent("m1", testutil.CreateTestStake("m1", 6000, types.SideShort, 5, "me"))
	require.True(t, ok)
	assert.Equal(t, int64(6000), local.Time)

	saves := mirror.SaveCount()
	assert.True(t, s.ApplyPolledSeries("m1", closed))
	assert.Equal(t, saves+1, mirror.SaveCount())

	current, _ := s.GetCurrent("m1")
	assert.Equal(t, int64(5000), current.Time)
	assert.Equal(t, []float64{10, 0}, current.Amounts)
	assert.False(t, current.Provisional)
	assert.Equal(t, []int64{1000, 2000, 5000}, times(s.GetHistory("m1", types.WindowAll)))
}

func TestApplyPolledSeries_ReplacesCoveredSpan(t *testing.T) {
	s := newTestStore(t, testutil.NewMockMirror())

	s.ApplyPolledSnapshot("m1", snap(500, 0, 0))
	s.ApplyPolledSeries("m1", []types.PositionSnapshot{
		snap(1000, 0, 0),
		snap(2000, 10, 0),
		snap(3000, 10, 5),
		types.NewSnapshot(4000, []float64{10, 5}, true),
	})

	// The 3000 point is gone from the next read of the ledger.
	s.ApplyPolledSeries("m1", []types.PositionSnapshot{
		snap(1000, 0, 0),
		snap(2000, 10, 0),
		types.NewSnapshot(4500, []float64{10, 0}, true),
	})

	history := s.GetHistory("m1", types.WindowAll)
	assert.Equal(t, []int64{500, 1000, 2000, 4500}, times(history))
	assert.Equal(t, []float64{10, 0}, history[3].Amounts)
}

func TestGetHistory_Windows(t *testing.T) {
	s := newTestStore(t, testutil.NewMockMirror())
	now := fixedNow.UnixMilli()
	day := int64(24 * 3600 * 1000)

	s.ApplyPolledSnapshot("m1", snap(now-9*day, 1, 1))
	s.ApplyPolledSnapshot("m1", snap(now-3*day, 2, 1))
	s.ApplyPolledSnapshot("m1", snap(now-day/2, 3, 1))

	assert.Len(t, s.GetHistory("m1", types.Window24h), 1)
	assert.Len(t, s.GetHistory("m1", types.Window7d), 2)
	assert.Len(t, s.GetHistory("m1", types.Window30d), 3)
	assert.Len(t, s.GetHistory("m1", types.WindowAll), 3)
	assert.Empty(t, s.GetHistory("unknown", types.WindowAll))
}

func TestGetHistory_ReturnsCopies(t *testing.T) {
	s := newTestStore(t, testutil.NewMockMirror())
	s.ApplyPolledSnapshot("m1", snap(1000, 1, 1))

	h := s.GetHistory("m1", types.WindowAll)
	h[0].Amounts[0] = 999

	current, _ := s.GetCurrent("m1")
	assert.Equal(t, 1.0, current.Amounts[0])
}

func TestTrim(t *testing.T) {
	s, err := New(&Config{Logger: zap.NewNop(), MaxPoints: 3, Mirror: testutil.NewMockMirror()})
	require.NoError(t, err)

	for i := int64(1); i <= 5; i++ {
		s.ApplyPolledSnapshot("m1", snap(i*1000, float64(i), 0))
	}

	assert.Equal(t, []int64{3000, 4000, 5000}, times(s.GetHistory("m1", types.WindowAll)))
}

func TestLoad_Rehydrates(t *testing.T) {
	mirror := testutil.NewMockMirror()
	s := newTestStore(t, mirror)

	s.ApplyPolledSnapshot("m1", snap(1000, 1, 2))
	s.ApplyPolledSnapshot("m1", snap(2000, 3, 2))

	restored := newTestStore(t, mirror)
	require.NoError(t, restored.Load(context.Background()))

	assert.Equal(t, []string{"m1"}, restored.Markets())
	assert.Equal(t, s.GetHistory("m1", types.WindowAll), restored.GetHistory("m1", types.WindowAll))
}

func TestLoad_SkipsCorruptEntries(t *testing.T) {
	mirror := testutil.NewMockMirror()

	good, err := json.Marshal(record{
		MarketID: "good",
		Points:   []types.PositionSnapshot{snap(2000, 1, 1), snap(1000, 0, 0)},
	})
	require.NoError(t, err)

	mirror.Put(KeyPrefix+"good", good)
	mirror.Put(KeyPrefix+"garbage", []byte("{not json"))
	mirror.Put(KeyPrefix+"empty", []byte(`{"market_id":"empty","points":[]}`))
	mirror.Put(KeyPrefix+"no-amounts", []byte(`{"market_id":"no-amounts","points":[{"time":1}]}`))
	mirror.Put("candles:BTCUSDT:1m", []byte(`[]`))

	s := newTestStore(t, mirror)
	require.NoError(t, s.Load(context.Background()))

	assert.Equal(t, []string{"good"}, s.Markets())
	assert.Equal(t, []int64{1000, 2000}, times(s.GetHistory("good", types.WindowAll)))
}

func TestLoad_RecomputesDerivedFields(t *testing.T) {
	mirror := testutil.NewMockMirror()
	mirror.Put(KeyPrefix+"m1", []byte(`{"market_id":"m1","points":[{"time":1,"amounts":[3,1],"total":99,"percentages":[1,1]}]}`))

	s := newTestStore(t, mirror)
	require.NoError(t, s.Load(context.Background()))

	current, ok := s.GetCurrent("m1")
	require.True(t, ok)
	assert.Equal(t, 4.0, current.Total)
	assert.InDelta(t, 75.0, current.Percentages[0], 1e-9)
}

func TestPersist_FailureIsNotFatal(t *testing.T) {
	mirror := testutil.NewMockMirror()
	mirror.SetSaveError(errors.New("disk full"))
	s := newTestStore(t, mirror)

	assert.True(t, s.ApplyPolledSnapshot("m1", snap(1000, 1, 1)))
	_, ok := s.GetCurrent("m1")
	assert.True(t, ok)
}

func TestClear(t *testing.T) {
	mirror := testutil.NewMockMirror()
	s := newTestStore(t, mirror)

	s.ApplyPolledSnapshot("m1", snap(1000, 1, 1))
	require.NoError(t, s.Clear(context.Background(), "m1"))

	_, ok := s.GetCurrent("m1")
	assert.False(t, ok)
	keys, _ := mirror.Keys(context.Background(), KeyPrefix)
	assert.Empty(t, keys)
}
