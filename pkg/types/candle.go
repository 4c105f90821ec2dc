package types

import "time"

// Candle is a single OHLCV bar from the price upstream.
type Candle struct {
	OpenTime int64   `json:"open_time"` // ms
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// CandleEntry is what the candle cache stores per (symbol, interval).
// A negative entry records an empty upstream answer.
type CandleEntry struct {
	Data      []Candle  `json:"data"`
	FetchedAt time.Time `json:"fetched_at"`
	Negative  bool      `json:"negative"`
}
