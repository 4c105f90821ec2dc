package types

import (
	"fmt"
	"time"
)

// PositionSnapshot is one point of a market's reconstructed timeline.
type PositionSnapshot struct {
	Time        int64     `json:"time"` // milliseconds since epoch
	Amounts     []float64 `json:"amounts"`
	Total       float64   `json:"total"`
	Percentages []float64 `json:"percentages"`

	// Provisional marks a placeholder "current" point that a later point
	// replaces instead of following.
	Provisional bool `json:"provisional,omitempty"`
}

// NewSnapshot builds a snapshot with its denormalized total and percentages.
// The amounts slice is copied.
func NewSnapshot(timeMs int64, amounts []float64, provisional bool) PositionSnapshot {
	amts := make([]float64, len(amounts))
	copy(amts, amounts)

	total := 0.0
	for _, a := range amts {
		total += a
	}

	return PositionSnapshot{
		Time:        timeMs,
		Amounts:     amts,
		Total:       total,
		Percentages: percentages(amts, total),
		Provisional: provisional,
	}
}

func percentages(amounts []float64, total float64) []float64 {
	pcts := make([]float64, len(amounts))
	if len(amounts) == 0 {
		return pcts
	}

	if total <= 0 {
		equal := 100 / float64(len(amounts))
		for i := range pcts {
			pcts[i] = equal
		}
		return pcts
	}

	for i, a := range amounts {
		pcts[i] = a / total * 100
	}
	return pcts
}

// Clone returns a deep copy.
func (s PositionSnapshot) Clone() PositionSnapshot {
	out := s
	out.Amounts = append([]float64(nil), s.Amounts...)
	out.Percentages = append([]float64(nil), s.Percentages...)
	return out
}

// HistoryWindow selects how far back GetHistory reaches.
type HistoryWindow string

const (
	Window24h HistoryWindow = "24h"
	Window7d  HistoryWindow = "7d"
	Window30d HistoryWindow = "30d"
	WindowAll HistoryWindow = "all"
)

// ParseHistoryWindow validates a window string. Empty means all.
func ParseHistoryWindow(s string) (HistoryWindow, error) {
	switch HistoryWindow(s) {
	case Window24h, Window7d, Window30d, WindowAll:
		return HistoryWindow(s), nil
	case "":
		return WindowAll, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidWindow, s)
}

// Duration returns the lookback of the window, 0 for all.
func (w HistoryWindow) Duration() time.Duration {
	switch w {
	case Window24h:
		return 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	case Window30d:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}
