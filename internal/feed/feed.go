// Package feed normalizes external spot prices into typed per-symbol samples.
package feed

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is one spot-price observation. Never mutated after creation.
type PriceSample struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}

// Source is the price-feed capability consumed by the engine.
type Source interface {
	// Subscribe returns a channel of samples for all configured symbols.
	// Slow consumers may miss samples; delivery is best-effort.
	Subscribe() <-chan PriceSample

	// Latest returns the most recent price for a symbol, if any was seen.
	Latest(symbol string) (decimal.Decimal, bool)

	// PriceAt returns the historical spot price at t. Used for slot
	// reference prices and settlement closing prices.
	PriceAt(symbol string, t time.Time) (decimal.Decimal, error)

	Start() error
	Stop()
}
