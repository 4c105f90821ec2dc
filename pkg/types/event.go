package types

import (
	"fmt"
	"strconv"
	"strings"
)

// EventKind classifies a normalized ledger event.
type EventKind string

const (
	EventKindStake       EventKind = "stake"
	EventKindResolve     EventKind = "resolve"
	EventKindClaim       EventKind = "claim"
	EventKindWithdrawFee EventKind = "withdraw_fee"
)

// Binary market sides. Multi-outcome markets use the outcome index directly.
const (
	SideLong  = 0
	SideShort = 1
)

// StakeEvent is one observed ledger action, normalized from whatever shape the
// ledger delivered it in.
type StakeEvent struct {
	MarketID string    `json:"market_id"`
	Time     int64     `json:"time"` // milliseconds since epoch
	Side     int       `json:"side"`
	Amount   float64   `json:"amount"`
	User     string    `json:"user"`
	Sequence uint64    `json:"sequence,omitempty"` // 0 = not assigned by the ledger
	Kind     EventKind `json:"kind"`
}

// IsStake reports whether the event moves stake (events without a kind are
// treated as stakes).
func (e *StakeEvent) IsStake() bool {
	return e.Kind == "" || e.Kind == EventKindStake
}

// DedupKey identifies the same logical event across poll cycles.
// The ledger sequence number wins when present.
func (e *StakeEvent) DedupKey() string {
	market := strings.ToLower(e.MarketID)
	if e.Sequence > 0 {
		return market + "#" + strconv.FormatUint(e.Sequence, 10)
	}
	return fmt.Sprintf("%s|%d|%d|%s|%s",
		market, e.Time, e.Side, strconv.FormatFloat(e.Amount, 'g', -1, 64), e.User)
}

// Validate checks the invariants a locally-originated event must satisfy.
func (e *StakeEvent) Validate() error {
	if e.MarketID == "" {
		return ErrMarketNotFound
	}
	if e.Side < 0 {
		return ErrInvalidSide
	}
	if e.Amount < 0 {
		return ErrNegativeAmount
	}
	return nil
}

// ParseSide accepts "long"/"short"/"yes"/"no" or a numeric outcome index.
func ParseSide(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "yes", "up", "true":
		return SideLong, nil
	case "short", "no", "down", "false":
		return SideShort, nil
	}

	idx, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
	return idx, nil
}
