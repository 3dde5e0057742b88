package execution

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SimulatedExchange fills every order instantly at its limit price. Used when
// SIMULATION_MODE=true; the ledger records fills as if they were real.
type SimulatedExchange struct{}

// NewSimulatedExchange creates a paper-trading exchange
func NewSimulatedExchange() *SimulatedExchange {
	return &SimulatedExchange{}
}

// PlaceOrder fills at the limit price
func (s *SimulatedExchange) PlaceOrder(_ context.Context, spec OrderSpec) (Fill, error) {
	if spec.Price.IsZero() {
		return Fill{}, fmt.Errorf("simulated fill needs a price for %s", spec.TokenID)
	}
	log.Info().
		Str("symbol", spec.Symbol).
		Str("side", spec.Side).
		Str("price", spec.Price.String()).
		Str("shares", spec.Shares.String()).
		Bool("hedge", spec.IsHedge).
		Msg("🧪 [SIM] Order filled")

	return Fill{
		ExchangeID: "sim-" + uuid.NewString(),
		Shares:     spec.Shares,
		Price:      spec.Price,
		Cost:       spec.Cost(),
	}, nil
}

// CancelOrder is a no-op for simulated fills
func (s *SimulatedExchange) CancelOrder(context.Context, string) error {
	return nil
}
