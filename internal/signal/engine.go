// Package signal computes momentum signals from a rolling spot-price window.
package signal

import (
	"math"
	"sync"
	"time"

	"github.com/polyneko/polyneko/internal/feed"
)

// Direction is the predicted price direction for the remainder of the slot
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
	DirectionFlat Direction = "FLAT"
)

// Signal is a derived momentum reading. Ephemeral: recomputed each tick,
// only the signal that triggered an entry is recorded on the trade.
type Signal struct {
	Symbol     string
	Timestamp  time.Time
	Score      float64 // percent change over the window, signed
	Direction  Direction
	Confidence float64 // 0.0 to 1.0
}

// Engine maintains a fixed-duration rolling price window per symbol.
// Deterministic: the output is a pure function of the window contents.
type Engine struct {
	window    time.Duration
	threshold float64 // |score| needed for a directional call, in percent

	mu      sync.Mutex
	samples map[string][]feed.PriceSample
}

// NewEngine creates a signal engine with the given lookback window and
// directional threshold (percent momentum magnitude).
func NewEngine(window time.Duration, threshold float64) *Engine {
	return &Engine{
		window:    window,
		threshold: threshold,
		samples:   make(map[string][]feed.PriceSample),
	}
}

// Observe ingests one sample and returns the signal for the updated window.
// Samples older than the latest stored one are dropped silently; the window
// is never recomputed retroactively.
func (e *Engine) Observe(s feed.PriceSample) Signal {
	e.mu.Lock()
	defer e.mu.Unlock()

	win := e.samples[s.Symbol]
	if n := len(win); n > 0 && s.Timestamp.Before(win[n-1].Timestamp) {
		return e.evaluate(s.Symbol, win)
	}

	win = append(win, s)

	// Evict samples that fell out of the lookback window
	cutoff := s.Timestamp.Add(-e.window)
	i := 0
	for i < len(win)-1 && win[i].Timestamp.Before(cutoff) {
		i++
	}
	win = win[i:]
	e.samples[s.Symbol] = win

	return e.evaluate(s.Symbol, win)
}

// Window returns a copy of the current window for a symbol
func (e *Engine) Window(symbol string) []feed.PriceSample {
	e.mu.Lock()
	defer e.mu.Unlock()

	win := e.samples[symbol]
	out := make([]feed.PriceSample, len(win))
	copy(out, win)
	return out
}

func (e *Engine) evaluate(symbol string, win []feed.PriceSample) Signal {
	sig := Signal{Symbol: symbol, Direction: DirectionFlat}
	if len(win) > 0 {
		sig.Timestamp = win[len(win)-1].Timestamp
	}
	if len(win) < 2 {
		return sig
	}

	earliest := win[0].Price
	latest := win[len(win)-1].Price
	if earliest.IsZero() {
		return sig
	}

	score, _ := latest.Sub(earliest).Div(earliest).Float64()
	sig.Score = score * 100

	abs := math.Abs(sig.Score)
	if abs < e.threshold {
		return sig
	}

	if sig.Score > 0 {
		sig.Direction = DirectionUp
	} else {
		sig.Direction = DirectionDown
	}
	sig.Confidence = confidence(abs, e.threshold)
	return sig
}

// confidence maps momentum magnitude to 0..1: the threshold itself is worth
// 0.25, four times the threshold saturates at 1.0
func confidence(abs, threshold float64) float64 {
	if threshold <= 0 {
		return 1
	}
	c := abs / (4 * threshold)
	if c > 1 {
		c = 1
	}
	return c
}
