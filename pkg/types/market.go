package types

// MarketInfo is the market detail returned by the ledger's view call.
type MarketInfo struct {
	MarketID  string    `json:"market_id"`
	OpenTime  int64     `json:"open_time"`  // ms
	CloseTime int64     `json:"close_time"` // ms
	Outcomes  int       `json:"outcomes"`
	Totals    []float64 `json:"totals,omitempty"` // on-chain stake per outcome
	Resolved  bool      `json:"resolved"`
}

// OutcomeCount returns the number of outcomes, at least two.
func (m *MarketInfo) OutcomeCount() int {
	n := m.Outcomes
	if len(m.Totals) > n {
		n = len(m.Totals)
	}
	if n < 2 {
		n = 2
	}
	return n
}
