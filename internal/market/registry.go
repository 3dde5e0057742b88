// Package market tracks the active 15-minute prediction-market slot per symbol.
package market

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// SlotDuration is the length of one prediction-market window
const SlotDuration = 15 * time.Minute

// Slot is one 15-minute market window for a symbol. Immutable once created.
type Slot struct {
	MarketID       string
	Symbol         string
	OpenTime       time.Time
	CloseTime      time.Time
	ReferencePrice decimal.Decimal

	// CLOB token IDs for the two outcomes, empty when unresolved
	UpTokenID   string
	DownTokenID string
}

// TokenFor returns the CLOB token ID for a direction ("UP" or "DOWN")
func (s *Slot) TokenFor(side string) string {
	if side == "UP" {
		return s.UpTokenID
	}
	return s.DownTokenID
}

// Rotation is emitted when a symbol's slot boundary is crossed
type Rotation struct {
	Expired *Slot
	Next    *Slot
}

// ReferencePricer provides the spot prices captured on slot creation
type ReferencePricer interface {
	Latest(symbol string) (decimal.Decimal, bool)
	PriceAt(symbol string, t time.Time) (decimal.Decimal, error)
}

// TokenResolver resolves a market ID to its outcome token IDs
type TokenResolver interface {
	ResolveTokens(marketID string) (upToken, downToken string, err error)
}

// Registry computes slot boundaries deterministically from wall-clock time
// and rotates each symbol's active slot at the 15-minute boundary.
type Registry struct {
	pricer   ReferencePricer
	resolver TokenResolver // may be nil in simulation without market data

	mu        sync.Mutex
	active    map[string]*Slot
	rotations chan Rotation
}

// NewRegistry creates a slot registry
func NewRegistry(pricer ReferencePricer, resolver TokenResolver) *Registry {
	return &Registry{
		pricer:    pricer,
		resolver:  resolver,
		active:    make(map[string]*Slot),
		rotations: make(chan Rotation, 64),
	}
}

// Rotations returns boundary-crossing events. The expired slot must be
// settled by the consumer.
func (r *Registry) Rotations() <-chan Rotation {
	return r.rotations
}

// SlotID returns the deterministic market ID for a symbol at time t
func SlotID(symbol string, t time.Time) string {
	open := t.UTC().Truncate(SlotDuration)
	return fmt.Sprintf("%s-updown-15m-%d", strings.ToLower(symbol), open.Unix())
}

// CurrentSlot returns the active slot for a symbol at time now, creating it
// on first call within a boundary. Idempotent: repeated calls within the same
// boundary return the same slot.
func (r *Registry) CurrentSlot(symbol string, now time.Time) *Slot {
	open := now.UTC().Truncate(SlotDuration)
	id := SlotID(symbol, now)

	r.mu.Lock()
	defer r.mu.Unlock()

	if slot, ok := r.active[symbol]; ok && slot.MarketID == id {
		if slot.ReferencePrice.IsZero() {
			r.backfillReference(slot)
		}
		return slot
	}

	slot := &Slot{
		MarketID:  id,
		Symbol:    symbol,
		OpenTime:  open,
		CloseTime: open.Add(SlotDuration),
	}
	r.backfillReference(slot)

	if r.resolver != nil {
		up, down, err := r.resolver.ResolveTokens(id)
		if err != nil {
			log.Warn().Err(err).Str("market", id).Msg("Token resolution failed")
		} else {
			slot.UpTokenID = up
			slot.DownTokenID = down
		}
	}

	expired := r.active[symbol]
	r.active[symbol] = slot

	log.Info().
		Str("market", id).
		Time("close", slot.CloseTime).
		Str("reference", slot.ReferencePrice.String()).
		Msg("🔄 New slot")

	select {
	case r.rotations <- Rotation{Expired: expired, Next: slot}:
	default:
		log.Warn().Str("market", id).Msg("Rotation channel full, event dropped")
	}

	return slot
}

// Reattach restores a slot from persisted state after a restart
func (r *Registry) Reattach(slot *Slot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.active[slot.Symbol]; !ok || cur.OpenTime.Before(slot.OpenTime) {
		r.active[slot.Symbol] = slot
	}
}

// backfillReference captures the slot's reference price once. The value is
// fixed for the slot's lifetime; only a zero value is ever retried.
func (r *Registry) backfillReference(slot *Slot) {
	if price, ok := r.pricer.Latest(slot.Symbol); ok && !price.IsZero() {
		slot.ReferencePrice = price
		return
	}
	price, err := r.pricer.PriceAt(slot.Symbol, slot.OpenTime)
	if err != nil {
		log.Warn().Err(err).Str("market", slot.MarketID).Msg("No reference price yet")
		return
	}
	slot.ReferencePrice = price
}
