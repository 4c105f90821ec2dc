// Package ledger reads market events and market details from the external
// ledger and normalizes them into pkg/types values.
package ledger

import (
	"context"

	"github.com/trongkhoidev/oreka-tracker/pkg/types"
)

// Source is a read-only view of the ledger.
type Source interface {
	// FetchEvents returns the market's events starting at the since cursor.
	// It never fails: transport or decoding problems are logged and counted,
	// and an empty slice is returned. Events are neither sorted nor deduplicated.
	FetchEvents(ctx context.Context, marketID string, since uint64) []types.StakeEvent

	// FetchMarket returns the market detail from the ledger's view call.
	FetchMarket(ctx context.Context, marketID string) (*types.MarketInfo, error)
}
