// Package exposure enforces the per-symbol MAX_POSITION cap with atomic
// check-and-reserve semantics.
package exposure

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrCapExceeded is returned when a reservation would push a symbol's
// committed notional over the cap
var ErrCapExceeded = fmt.Errorf("exposure cap exceeded")

// Ledger tracks committed notional per symbol. Reservations are atomic with
// respect to the cap check, so concurrent entries cannot jointly exceed it.
type Ledger struct {
	mu   sync.Mutex
	max  decimal.Decimal
	used map[string]decimal.Decimal
}

// NewLedger creates an exposure ledger with the given per-symbol cap
func NewLedger(max decimal.Decimal) *Ledger {
	return &Ledger{
		max:  max,
		used: make(map[string]decimal.Decimal),
	}
}

// Reserve commits amount against a symbol's cap, or fails atomically
func (l *Ledger) Reserve(symbol string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("reserve amount must be positive, got %s", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.used[symbol].Add(amount)
	if next.GreaterThan(l.max) {
		return fmt.Errorf("%w: %s used %s + %s > %s",
			ErrCapExceeded, symbol, l.used[symbol], amount, l.max)
	}
	l.used[symbol] = next
	return nil
}

// Release returns previously reserved notional. Never drops below zero.
func (l *Ledger) Release(symbol string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.used[symbol].Sub(amount)
	if next.LessThan(decimal.Zero) {
		next = decimal.Zero
	}
	l.used[symbol] = next
}

// Used returns the committed notional for a symbol
func (l *Ledger) Used(symbol string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used[symbol]
}

// Available returns the remaining headroom for a symbol
func (l *Ledger) Available(symbol string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	avail := l.max.Sub(l.used[symbol])
	if avail.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return avail
}
