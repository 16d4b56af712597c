// Package price fetches the market snapshot attached to cycle reports.
package price

import (
	"context"

	"VaultKeeper/internal/model"
)

// Lookup returns the current price snapshot.
type Lookup interface {
	Snapshot(ctx context.Context) (*model.PriceSnapshot, error)
	Name() string
}

// Static always returns the same price. Useful when no price API is set and
// in tests.
type Static struct {
	Symbol string
	Price  float64
}

func (s *Static) Name() string { return "static" }

func (s *Static) Snapshot(_ context.Context) (*model.PriceSnapshot, error) {
	return &model.PriceSnapshot{Symbol: s.Symbol, Price: s.Price, Source: s.Name()}, nil
}
