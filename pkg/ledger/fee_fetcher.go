package ledger

import (
	"context"
	"fmt"
	"math/big"
)

// FeeFetcher reads fees straight from the ledger. It satisfies feecache.Fetcher.
type FeeFetcher struct {
	ledger Ledger
}

func NewFeeFetcher(l Ledger) *FeeFetcher {
	return &FeeFetcher{ledger: l}
}

// FetchFees fails as a whole if any asset cannot be read
func (f *FeeFetcher) FetchFees(ctx context.Context, assets []string) (map[string]*big.Int, error) {
	fees := make(map[string]*big.Int, len(assets))
	for _, asset := range assets {
		fee, err := f.ledger.Fee(ctx, asset)
		if err != nil {
			return nil, fmt.Errorf("failed to read fee for %s: %w", asset, err)
		}
		fees[asset] = fee
	}
	return fees, nil
}
