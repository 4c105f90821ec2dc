package ledger

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
)

func fieldsFrom(t *testing.T, s string) rawFields {
	t.Helper()
	var f rawFields
	require.NoError(t, json.Unmarshal([]byte(s), &f))
	return f
}

func TestNormalizeTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		input int64
		want  int64
	}{
		{"seconds", 1_700_000_000, 1_700_000_000_000},
		{"milliseconds", 1_700_000_000_123, 1_700_000_000_123},
		{"microseconds", 1_700_000_000_123_456, 1_700_000_000_123},
		{"zero", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTimestamp(tt.input))
		})
	}
}

func TestNormalizeEvent_Stake(t *testing.T) {
	data := fieldsFrom(t, `{
		"market_address": "0xM",
		"user": "0xU",
		"prediction": false,
		"amount": "250000000",
		"timestamp_bid": "1700000000"
	}`)

	ev, err := normalizeEvent(types.EventKindStake, data, 4, 8)
	require.NoError(t, err)

	assert.Equal(t, "0xM", ev.MarketID)
	assert.Equal(t, "0xU", ev.User)
	assert.Equal(t, types.SideShort, ev.Side)
	assert.InDelta(t, 2.5, ev.Amount, 1e-12)
	assert.Equal(t, int64(1_700_000_000_000), ev.Time)
	assert.Equal(t, uint64(4), ev.Sequence)
}

func TestNormalizeEvent_SideEncodings(t *testing.T) {
	tests := []struct {
		name string
		data string
		want int
	}{
		{"prediction-true", `{"market":"m","prediction":true}`, types.SideLong},
		{"outcome-index-number", `{"market":"m","outcome_index":3}`, 3},
		{"outcome-index-string", `{"market":"m","outcome_index":"2"}`, 2},
		{"outcome-number", `{"market":"m","outcome":1}`, 1},
		{"side-long", `{"market":"m","side":"long"}`, types.SideLong},
		{"side-short", `{"market":"m","side":"SHORT"}`, types.SideShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := normalizeEvent(types.EventKindStake, fieldsFrom(t, tt.data), 0, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Side)
		})
	}
}

func TestNormalizeEvent_Defaults(t *testing.T) {
	t.Run("missing-amount-is-zero", func(t *testing.T) {
		ev, err := normalizeEvent(types.EventKindStake, fieldsFrom(t, `{"market_id":"m","side":"long"}`), 0, 8)
		require.NoError(t, err)
		assert.Equal(t, 0.0, ev.Amount)
	})

	t.Run("numeric-amount", func(t *testing.T) {
		ev, err := normalizeEvent(types.EventKindStake, fieldsFrom(t, `{"market_id":"m","side":"long","amount":1500}`), 0, 3)
		require.NoError(t, err)
		assert.InDelta(t, 1.5, ev.Amount, 1e-12)
	})

	t.Run("unresolvable-side-dropped", func(t *testing.T) {
		_, err := normalizeEvent(types.EventKindStake, fieldsFrom(t, `{"market":"m","side":"sideways"}`), 0, 0)
		assert.ErrorIs(t, err, errNoSide)
	})

	t.Run("non-stake-needs-no-side", func(t *testing.T) {
		ev, err := normalizeEvent(types.EventKindClaim, fieldsFrom(t, `{"market":"m","amount":"10"}`), 0, 0)
		require.NoError(t, err)
		assert.Equal(t, types.EventKindClaim, ev.Kind)
	})

	t.Run("missing-market", func(t *testing.T) {
		_, err := normalizeEvent(types.EventKindStake, fieldsFrom(t, `{"side":"long"}`), 0, 0)
		assert.ErrorIs(t, err, errNoMarket)
	})
}

func TestParseViewResult(t *testing.T) {
	t.Run("struct-with-outcome-amounts", func(t *testing.T) {
		body := `[{"bidding_start_time":"1700000000","bidding_end_time":"1700003600",
			"outcome_amounts":["100000000","300000000","0"],"is_resolved":true}]`

		info, err := parseViewResult("0xM", []byte(body), 8)
		require.NoError(t, err)

		assert.Equal(t, int64(1_700_000_000_000), info.OpenTime)
		assert.Equal(t, int64(1_700_003_600_000), info.CloseTime)
		assert.Equal(t, []float64{1, 3, 0}, info.Totals)
		assert.Equal(t, 3, info.Outcomes)
		assert.True(t, info.Resolved)
	})

	t.Run("long-short-amounts", func(t *testing.T) {
		body := `[{"open_time":1700000000000,"close_time":1700003600000,"long_amount":"5","short_amount":"7"}]`

		info, err := parseViewResult("0xM", []byte(body), 0)
		require.NoError(t, err)

		assert.Equal(t, []float64{5, 7}, info.Totals)
		assert.Equal(t, 2, info.Outcomes)
		assert.False(t, info.Resolved)
	})

	t.Run("positional", func(t *testing.T) {
		body := `["1700000000","1700003600",["1","2"],false]`

		info, err := parseViewResult("0xM", []byte(body), 0)
		require.NoError(t, err)

		assert.Equal(t, int64(1_700_000_000_000), info.OpenTime)
		assert.Equal(t, []float64{1, 2}, info.Totals)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := parseViewResult("0xM", []byte(`[]`), 0)
		assert.ErrorIs(t, err, types.ErrMarketNotFound)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := parseViewResult("0xM", []byte(`{`), 0)
		assert.Error(t, err)
	})
}
