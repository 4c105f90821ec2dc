package testutil

import (
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
)

// CreateTestStake creates a stake event for testing.
func CreateTestStake(marketID string, timeMs int64, side int, amount float64, user string) types.StakeEvent {
	return types.StakeEvent{
		MarketID: marketID,
		Time:     timeMs,
		Side:     side,
		Amount:   amount,
		User:     user,
		Kind:     types.EventKindStake,
	}
}

// CreateTestMarketInfo creates a binary market detail for testing.
func CreateTestMarketInfo(marketID string, openMs int64, closeMs int64) *types.MarketInfo {
	return &types.MarketInfo{
		MarketID:  marketID,
		OpenTime:  openMs,
		CloseTime: closeMs,
		Outcomes:  2,
	}
}

// CreateTestSnapshot creates a non-provisional snapshot.
func CreateTestSnapshot(timeMs int64, amounts ...float64) types.PositionSnapshot {
	return types.NewSnapshot(timeMs, amounts, false)
}

// CreateTestCandles creates n one-minute candles starting at startMs.
func CreateTestCandles(startMs int64, n int) []types.Candle {
	candles := make([]types.Candle, 0, n)
	for i := 0; i < n; i++ {
		price := 100 + float64(i)
		candles = append(candles, types.Candle{
			OpenTime: startMs + int64(i)*60_000,
			Open:     price,
			High:     price + 1,
			Low:      price - 1,
			Close:    price + 0.5,
			Volume:   10,
		})
	}
	return candles
}
