// Package notify fans position lifecycle events out to alert sinks.
package notify

import (
	"github.com/shopspring/decimal"
)

// Notifier receives trade lifecycle events. Implementations must not block
// the caller for long; network sends happen on the caller's goroutine but
// with short timeouts.
type Notifier interface {
	Startup(symbols []string, simulation bool)
	PositionOpened(symbol, side string, shares, price, cost decimal.Decimal)
	PositionHedged(symbol, side string, shares, price decimal.Decimal)
	PositionSettled(symbol, winner string, pnl decimal.Decimal, approximate bool)
	PositionAborted(symbol, reason string)
}

// Multi fans out to several sinks
type Multi struct {
	sinks []Notifier
}

// NewMulti builds a fan-out notifier, skipping nil sinks
func NewMulti(sinks ...Notifier) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *Multi) Startup(symbols []string, simulation bool) {
	for _, s := range m.sinks {
		s.Startup(symbols, simulation)
	}
}

func (m *Multi) PositionOpened(symbol, side string, shares, price, cost decimal.Decimal) {
	for _, s := range m.sinks {
		s.PositionOpened(symbol, side, shares, price, cost)
	}
}

func (m *Multi) PositionHedged(symbol, side string, shares, price decimal.Decimal) {
	for _, s := range m.sinks {
		s.PositionHedged(symbol, side, shares, price)
	}
}

func (m *Multi) PositionSettled(symbol, winner string, pnl decimal.Decimal, approximate bool) {
	for _, s := range m.sinks {
		s.PositionSettled(symbol, winner, pnl, approximate)
	}
}

func (m *Multi) PositionAborted(symbol, reason string) {
	for _, s := range m.sinks {
		s.PositionAborted(symbol, reason)
	}
}
