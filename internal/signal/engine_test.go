package signal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyneko/polyneko/internal/feed"
)

func sample(symbol string, price float64, ts time.Time) feed.PriceSample {
	return feed.PriceSample{Symbol: symbol, Price: decimal.NewFromFloat(price), Timestamp: ts}
}

func TestObserveFewerThanTwoSamplesIsFlat(t *testing.T) {
	e := NewEngine(5*time.Minute, 0.05)

	sig := e.Observe(sample("BTC", 50000, time.Now()))

	assert.Equal(t, DirectionFlat, sig.Direction)
	assert.Zero(t, sig.Confidence)
	assert.Zero(t, sig.Score)
}

func TestObserveUpwardMomentum(t *testing.T) {
	e := NewEngine(5*time.Minute, 0.05)
	now := time.Now()

	e.Observe(sample("BTC", 50000, now))
	sig := e.Observe(sample("BTC", 50100, now.Add(time.Minute)))

	// +100 on 50000 is +0.2%
	assert.Equal(t, DirectionUp, sig.Direction)
	assert.InDelta(t, 0.2, sig.Score, 1e-9)
	assert.Greater(t, sig.Confidence, 0.0)
}

func TestObserveDownwardMomentum(t *testing.T) {
	e := NewEngine(5*time.Minute, 0.05)
	now := time.Now()

	e.Observe(sample("ETH", 3000, now))
	sig := e.Observe(sample("ETH", 2994, now.Add(time.Minute)))

	assert.Equal(t, DirectionDown, sig.Direction)
	assert.InDelta(t, -0.2, sig.Score, 1e-9)
}

func TestObserveBelowThresholdIsFlat(t *testing.T) {
	e := NewEngine(5*time.Minute, 0.05)
	now := time.Now()

	e.Observe(sample("BTC", 50000, now))
	sig := e.Observe(sample("BTC", 50010, now.Add(time.Minute)))

	// +0.02% is under the 0.05% threshold
	assert.Equal(t, DirectionFlat, sig.Direction)
	assert.Zero(t, sig.Confidence)
	assert.InDelta(t, 0.02, sig.Score, 1e-9)
}

func TestObserveOutOfOrderSampleDropped(t *testing.T) {
	e := NewEngine(5*time.Minute, 0.05)
	now := time.Now()

	e.Observe(sample("BTC", 50000, now))
	e.Observe(sample("BTC", 50100, now.Add(2*time.Minute)))

	// An older sample must not perturb the window
	sig := e.Observe(sample("BTC", 10, now.Add(time.Minute)))

	require.Len(t, e.Window("BTC"), 2)
	assert.Equal(t, DirectionUp, sig.Direction)
	assert.InDelta(t, 0.2, sig.Score, 1e-9)
}

func TestObserveEvictsExpiredSamples(t *testing.T) {
	e := NewEngine(time.Minute, 0.05)
	now := time.Now()

	e.Observe(sample("BTC", 40000, now))
	e.Observe(sample("BTC", 50000, now.Add(30*time.Second)))
	sig := e.Observe(sample("BTC", 50050, now.Add(90*time.Second)))

	// The 40000 sample fell out of the window, momentum is 50000 -> 50050
	require.Len(t, e.Window("BTC"), 2)
	assert.InDelta(t, 0.1, sig.Score, 1e-9)
	assert.Equal(t, DirectionUp, sig.Direction)
}

func TestObserveDeterministic(t *testing.T) {
	now := time.Now()
	run := func() Signal {
		e := NewEngine(5*time.Minute, 0.05)
		e.Observe(sample("SOL", 150, now))
		e.Observe(sample("SOL", 151, now.Add(time.Minute)))
		return e.Observe(sample("SOL", 152, now.Add(2*time.Minute)))
	}

	assert.Equal(t, run(), run())
}

func TestObserveSymbolsAreIndependent(t *testing.T) {
	e := NewEngine(5*time.Minute, 0.05)
	now := time.Now()

	e.Observe(sample("BTC", 50000, now))
	e.Observe(sample("BTC", 50100, now.Add(time.Minute)))
	sig := e.Observe(sample("ETH", 3000, now.Add(time.Minute)))

	assert.Equal(t, DirectionFlat, sig.Direction)
}

func TestConfidenceScaling(t *testing.T) {
	assert.InDelta(t, 0.25, confidence(0.05, 0.05), 1e-9)
	assert.InDelta(t, 0.5, confidence(0.10, 0.05), 1e-9)
	assert.InDelta(t, 1.0, confidence(0.20, 0.05), 1e-9)
	assert.InDelta(t, 1.0, confidence(0.50, 0.05), 1e-9)
}
