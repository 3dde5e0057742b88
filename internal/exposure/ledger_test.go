package exposure

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestReserveWithinCap(t *testing.T) {
	l := NewLedger(d(200))

	require.NoError(t, l.Reserve("BTC", d(50)))
	require.NoError(t, l.Reserve("BTC", d(150)))

	assert.True(t, l.Used("BTC").Equal(d(200)))
	assert.True(t, l.Available("BTC").IsZero())
}

func TestReserveOverCapFails(t *testing.T) {
	l := NewLedger(d(100))

	require.NoError(t, l.Reserve("BTC", d(80)))
	err := l.Reserve("BTC", d(30))

	require.ErrorIs(t, err, ErrCapExceeded)
	assert.True(t, l.Used("BTC").Equal(d(80)), "failed reserve must not change usage")
}

func TestReserveRejectsNonPositive(t *testing.T) {
	l := NewLedger(d(100))

	assert.Error(t, l.Reserve("BTC", decimal.Zero))
	assert.Error(t, l.Reserve("BTC", d(-5)))
}

func TestCapIsPerSymbol(t *testing.T) {
	l := NewLedger(d(100))

	require.NoError(t, l.Reserve("BTC", d(100)))
	require.NoError(t, l.Reserve("ETH", d(100)))
}

func TestReleaseReturnsHeadroom(t *testing.T) {
	l := NewLedger(d(100))

	require.NoError(t, l.Reserve("BTC", d(100)))
	l.Release("BTC", d(40))

	require.NoError(t, l.Reserve("BTC", d(40)))
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	l := NewLedger(d(100))

	l.Release("BTC", d(40))

	assert.True(t, l.Used("BTC").IsZero())
	assert.True(t, l.Available("BTC").Equal(d(100)))
}

// Many goroutines racing to reserve must never jointly exceed the cap.
func TestReserveIsAtomicUnderConcurrency(t *testing.T) {
	l := NewLedger(d(100))

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Reserve("BTC", d(10)) == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted)
	assert.True(t, l.Used("BTC").Equal(d(100)))
}
