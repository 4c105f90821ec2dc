// Package timeline rebuilds a market's stake distribution history from a
// batch of ledger events.
package timeline

import (
	"sort"

	"github.com/trongkhoidev/oreka-tracker/pkg/types"
)

// Bounds are the market window the series is drawn over.
type Bounds struct {
	Open     int64 // ms
	Close    int64 // ms
	Outcomes int
}

// BoundsFromMarket derives reconstruction bounds from ledger market detail.
func BoundsFromMarket(info *types.MarketInfo) Bounds {
	return Bounds{
		Open:     info.OpenTime,
		Close:    info.CloseTime,
		Outcomes: info.OutcomeCount(),
	}
}

// Reconstruct converts an unordered event batch into a monotonic, gap-free
// step series starting at the market open. It is pure: the same events in any
// order yield the same series.
func Reconstruct(events []types.StakeEvent, bounds Bounds, now int64) []types.PositionSnapshot {
	outcomes := bounds.Outcomes
	if outcomes < 2 {
		outcomes = 2
	}

	closeTime := bounds.Close
	if closeTime < bounds.Open {
		closeTime = bounds.Open
	}

	stakes := prepare(events, bounds.Open, closeTime, outcomes)

	series := make([]types.PositionSnapshot, 0, len(stakes)+2)
	amounts := make([]float64, outcomes)
	series = append(series, types.NewSnapshot(bounds.Open, amounts, false))

	for i := range stakes {
		amounts[stakes[i].Side] += stakes[i].Amount

		snap := types.NewSnapshot(stakes[i].Time, amounts, false)
		last := len(series) - 1
		if series[last].Time == snap.Time {
			series[last] = snap
			continue
		}
		series = append(series, snap)
	}

	end := now
	if end > closeTime {
		end = closeTime
	}

	if end > series[len(series)-1].Time {
		series = append(series, types.NewSnapshot(end, amounts, now < closeTime))
	}

	return series
}

// prepare filters, clamps, orders and deduplicates the stake events.
func prepare(events []types.StakeEvent, open int64, closeTime int64, outcomes int) []types.StakeEvent {
	stakes := make([]types.StakeEvent, 0, len(events))
	for i := range events {
		ev := events[i]
		if !ev.IsStake() || ev.Side < 0 || ev.Side >= outcomes {
			continue
		}
		if ev.Amount < 0 {
			ev.Amount = 0
		}

		// Clock skew can misplace a timestamp; the amount still counts.
		if ev.Time < open {
			ev.Time = open
		}
		if ev.Time > closeTime {
			ev.Time = closeTime
		}
		stakes = append(stakes, ev)
	}

	sort.SliceStable(stakes, func(i, j int) bool {
		return less(&stakes[i], &stakes[j])
	})

	seen := make(map[string]struct{}, len(stakes))
	out := stakes[:0]
	for i := range stakes {
		key := stakes[i].DedupKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, stakes[i])
	}

	return out
}

func less(a, b *types.StakeEvent) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	if a.Side != b.Side {
		return a.Side < b.Side
	}
	if a.Amount != b.Amount {
		return a.Amount < b.Amount
	}
	if a.User != b.User {
		return a.User < b.User
	}
	return a.Sequence < b.Sequence
}
