package ledger

import (
	"bytes"
	"errors"
	"math/big"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
)

var (
	errNoSide   = errors.New("side not resolvable")
	errNoMarket = errors.New("market field missing")
)

// Field aliases seen across contract versions.
var (
	marketFields = []string{"market_address", "market", "market_id"}
	userFields   = []string{"user", "bidder", "account", "sender", "owner"}
	amountFields = []string{"amount", "bid_amount", "value"}
	timeFields   = []string{"timestamp", "timestamp_bid", "time", "created_at"}
)

// rawFields is an event payload whose values are decoded lazily.
type rawFields map[string]json.RawMessage

func (r rawFields) first(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		v, ok := r[k]
		if ok && len(v) > 0 && !bytes.Equal(v, []byte("null")) {
			return v, true
		}
	}
	return nil, false
}

func (r rawFields) str(keys ...string) string {
	raw, ok := r.first(keys...)
	if !ok {
		return ""
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	// Numbers and nested objects fall back to their literal text.
	return string(raw)
}

// dec decodes a JSON number or numeric string.
func (r rawFields) dec(keys ...string) (decimal.Decimal, bool) {
	raw, ok := r.first(keys...)
	if !ok {
		return decimal.Zero, false
	}
	return parseDecimal(raw)
}

func parseDecimal(raw json.RawMessage) (decimal.Decimal, bool) {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// toDisplay converts a base-unit amount into display units.
func toDisplay(base decimal.Decimal, decimals int32) float64 {
	if decimals > 0 {
		base = base.Shift(-decimals)
	}
	f, _ := base.Float64()
	if f < 0 {
		return 0
	}
	return f
}

func bigToDisplay(base *big.Int, decimals int32) float64 {
	if base == nil {
		return 0
	}
	return toDisplay(decimal.NewFromBigInt(base, 0), decimals)
}

// NormalizeTimestamp converts a seconds, milliseconds or microseconds epoch
// value into milliseconds.
func NormalizeTimestamp(v int64) int64 {
	switch {
	case v >= 1e14:
		return v / 1000
	case v >= 1e11:
		return v
	default:
		return v * 1000
	}
}

// resolveSide maps the heterogeneous side encodings onto an outcome index.
func resolveSide(r rawFields) (int, error) {
	raw, ok := r.first("prediction")
	if ok {
		var b bool
		if json.Unmarshal(raw, &b) == nil {
			if b {
				return types.SideLong, nil
			}
			return types.SideShort, nil
		}
	}

	d, ok := r.dec("outcome_index")
	if ok && d.IsInteger() && !d.IsNegative() {
		return int(d.IntPart()), nil
	}

	for _, key := range []string{"outcome", "side"} {
		raw, ok := r.first(key)
		if !ok {
			continue
		}
		if d, ok := parseDecimal(raw); ok && d.IsInteger() && !d.IsNegative() {
			return int(d.IntPart()), nil
		}

		var s string
		if json.Unmarshal(raw, &s) == nil {
			side, err := types.ParseSide(s)
			if err == nil {
				return side, nil
			}
		}
	}

	return 0, errNoSide
}

// normalizeEvent turns a raw event payload into a StakeEvent.
// Stake events without a resolvable side are rejected; other kinds keep side 0.
func normalizeEvent(kind types.EventKind, data rawFields, sequence uint64, decimals int32) (types.StakeEvent, error) {
	ev := types.StakeEvent{
		MarketID: data.str(marketFields...),
		User:     data.str(userFields...),
		Sequence: sequence,
		Kind:     kind,
	}
	if ev.MarketID == "" {
		return ev, errNoMarket
	}

	if amount, ok := data.dec(amountFields...); ok {
		ev.Amount = toDisplay(amount, decimals)
	}

	if ts, ok := data.dec(timeFields...); ok {
		ev.Time = NormalizeTimestamp(ts.IntPart())
	}

	if kind == types.EventKindStake {
		side, err := resolveSide(data)
		if err != nil {
			return ev, err
		}
		ev.Side = side
	}

	return ev, nil
}

func sameMarket(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
