package positions

import (
	"math"
	"sort"

	"github.com/trongkhoidev/oreka-tracker/pkg/types"
)

// merge inserts snap into tl keyed by Time. A point at the same millisecond is
// replaced. Only the last point of a timeline may be provisional, so any
// provisional point that ends up behind a later one is dropped.
func merge(tl []types.PositionSnapshot, snap types.PositionSnapshot) []types.PositionSnapshot {
	i := sort.Search(len(tl), func(i int) bool {
		return tl[i].Time >= snap.Time
	})

	switch {
	case i < len(tl) && tl[i].Time == snap.Time:
		tl[i] = snap
	case i == len(tl):
		tl = append(tl, snap)
	default:
		tl = append(tl, types.PositionSnapshot{})
		copy(tl[i+1:], tl[i:])
		tl[i] = snap
	}

	return dropInnerProvisional(tl)
}

// replaceSpan swaps the points between the first and last time of series for
// the series itself. Earlier points are kept; later points survive only when
// confirmed.
func replaceSpan(tl []types.PositionSnapshot, series []types.PositionSnapshot) []types.PositionSnapshot {
	var normalized []types.PositionSnapshot
	for _, snap := range series {
		normalized = merge(normalized, snap.Clone())
	}
	start := normalized[0].Time
	end := normalized[len(normalized)-1].Time

	out := make([]types.PositionSnapshot, 0, len(tl)+len(normalized))
	for _, p := range tl {
		if p.Time < start {
			out = append(out, p)
		}
	}
	out = append(out, normalized...)
	for _, p := range tl {
		if p.Time > end && !p.Provisional {
			out = append(out, p)
		}
	}
	return dropInnerProvisional(out)
}

// dropInnerProvisional keeps a provisional point only at the end of tl.
func dropInnerProvisional(tl []types.PositionSnapshot) []types.PositionSnapshot {
	out := tl[:0]
	for j := range tl {
		if tl[j].Provisional && j < len(tl)-1 {
			continue
		}
		out = append(out, tl[j])
	}
	return out
}

// trim evicts the oldest points beyond max and returns the number removed.
func trim(tl []types.PositionSnapshot, max int) ([]types.PositionSnapshot, int) {
	if max <= 0 || len(tl) <= max {
		return tl, 0
	}
	drop := len(tl) - max
	out := make([]types.PositionSnapshot, max)
	copy(out, tl[drop:])
	return out, drop
}

// Thresholds decide whether a change is worth notifying and persisting.
type Thresholds struct {
	Pct   float64 // percentage points
	Total float64 // absolute total
}

// Significant compares the new latest point with the prior latest point.
func (th Thresholds) Significant(prev *types.PositionSnapshot, next types.PositionSnapshot) bool {
	if prev == nil {
		return true
	}
	if len(prev.Amounts) != len(next.Amounts) {
		return true
	}
	if math.Abs(next.Total-prev.Total) > th.Total {
		return true
	}
	for i := range next.Percentages {
		if math.Abs(next.Percentages[i]-prev.Percentages[i]) > th.Pct {
			return true
		}
	}
	return false
}
