package market

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPricer struct {
	latest map[string]decimal.Decimal
	at     decimal.Decimal
	atErr  error
}

func (s *stubPricer) Latest(symbol string) (decimal.Decimal, bool) {
	p, ok := s.latest[symbol]
	return p, ok
}

func (s *stubPricer) PriceAt(string, time.Time) (decimal.Decimal, error) {
	return s.at, s.atErr
}

type stubResolver struct {
	up, down string
	err      error
	calls    int
}

func (s *stubResolver) ResolveTokens(string) (string, string, error) {
	s.calls++
	return s.up, s.down, s.err
}

func TestSlotID(t *testing.T) {
	// 2026-03-01 12:07:30 UTC falls in the 12:00 slot
	ts := time.Date(2026, 3, 1, 12, 7, 30, 0, time.UTC)
	open := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, fmt.Sprintf("btc-updown-15m-%d", open.Unix()), SlotID("BTC", ts))
	assert.Equal(t, SlotID("BTC", ts), SlotID("BTC", ts.Add(7*time.Minute)))
	assert.NotEqual(t, SlotID("BTC", ts), SlotID("BTC", ts.Add(8*time.Minute)))
}

func TestCurrentSlotIdempotentWithinBoundary(t *testing.T) {
	pricer := &stubPricer{latest: map[string]decimal.Decimal{"BTC": decimal.NewFromInt(50000)}}
	resolver := &stubResolver{up: "tok-up", down: "tok-down"}
	r := NewRegistry(pricer, resolver)

	now := time.Date(2026, 3, 1, 12, 3, 0, 0, time.UTC)
	first := r.CurrentSlot("BTC", now)
	second := r.CurrentSlot("BTC", now.Add(5*time.Minute))

	assert.Same(t, first, second)
	assert.Equal(t, 1, resolver.calls, "tokens resolved once per slot")
	assert.Equal(t, "tok-up", first.UpTokenID)
	assert.Equal(t, "tok-down", first.DownTokenID)
	assert.True(t, first.OpenTime.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	assert.True(t, first.CloseTime.Equal(time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC)))
}

func TestCurrentSlotReferenceFixedForSlotLifetime(t *testing.T) {
	pricer := &stubPricer{latest: map[string]decimal.Decimal{"BTC": decimal.NewFromInt(50000)}}
	r := NewRegistry(pricer, nil)

	now := time.Date(2026, 3, 1, 12, 3, 0, 0, time.UTC)
	slot := r.CurrentSlot("BTC", now)
	require.True(t, slot.ReferencePrice.Equal(decimal.NewFromInt(50000)))

	// The spot moving later must not change the captured reference
	pricer.latest["BTC"] = decimal.NewFromInt(60000)
	again := r.CurrentSlot("BTC", now.Add(time.Minute))
	assert.True(t, again.ReferencePrice.Equal(decimal.NewFromInt(50000)))
}

func TestCurrentSlotBackfillsMissingReference(t *testing.T) {
	pricer := &stubPricer{latest: map[string]decimal.Decimal{}, atErr: errors.New("no kline yet")}
	r := NewRegistry(pricer, nil)

	now := time.Date(2026, 3, 1, 12, 3, 0, 0, time.UTC)
	slot := r.CurrentSlot("BTC", now)
	require.True(t, slot.ReferencePrice.IsZero())

	// Feed comes alive; the zero reference is retried and then frozen
	pricer.latest["BTC"] = decimal.NewFromInt(51000)
	slot = r.CurrentSlot("BTC", now.Add(time.Minute))
	assert.True(t, slot.ReferencePrice.Equal(decimal.NewFromInt(51000)))
}

func TestBoundaryCrossingEmitsRotation(t *testing.T) {
	pricer := &stubPricer{latest: map[string]decimal.Decimal{"BTC": decimal.NewFromInt(50000)}}
	r := NewRegistry(pricer, nil)

	now := time.Date(2026, 3, 1, 12, 3, 0, 0, time.UTC)
	first := r.CurrentSlot("BTC", now)
	<-r.Rotations() // creation event, no expired slot

	next := r.CurrentSlot("BTC", now.Add(15*time.Minute))
	require.NotEqual(t, first.MarketID, next.MarketID)

	select {
	case rot := <-r.Rotations():
		assert.Equal(t, first.MarketID, rot.Expired.MarketID)
		assert.Equal(t, next.MarketID, rot.Next.MarketID)
	default:
		t.Fatal("expected a rotation event")
	}
}

func TestReattachRestoresSlot(t *testing.T) {
	pricer := &stubPricer{latest: map[string]decimal.Decimal{"BTC": decimal.NewFromInt(50000)}}
	r := NewRegistry(pricer, nil)

	open := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	slot := &Slot{
		MarketID:       SlotID("BTC", open),
		Symbol:         "BTC",
		OpenTime:       open,
		CloseTime:      open.Add(SlotDuration),
		ReferencePrice: decimal.NewFromInt(49000),
	}
	r.Reattach(slot)

	got := r.CurrentSlot("BTC", open.Add(5*time.Minute))
	assert.Same(t, slot, got)
	assert.True(t, got.ReferencePrice.Equal(decimal.NewFromInt(49000)))
}

func TestTokenFor(t *testing.T) {
	s := &Slot{UpTokenID: "u", DownTokenID: "d"}
	assert.Equal(t, "u", s.TokenFor("UP"))
	assert.Equal(t, "d", s.TokenFor("DOWN"))
}
