// Package position runs the per-(symbol, market) trade lifecycle:
// IDLE → ENTERED → HEDGED → SETTLED, with ABORTED as the failure exit.
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyneko/polyneko/internal/execution"
	"github.com/polyneko/polyneko/internal/ledger"
	"github.com/polyneko/polyneko/internal/market"
	"github.com/polyneko/polyneko/internal/signal"
)

// State of the lifecycle machine. The string values double as the persisted
// position status.
type State string

const (
	StateIdle    State = "IDLE"
	StateEntered State = State(ledger.StatusEntered)
	StateHedged  State = State(ledger.StatusHedged)
	StateSettled State = State(ledger.StatusSettled)
	StateAborted State = State(ledger.StatusAborted)
)

// Gateway is the slice of the execution gateway the manager needs
type Gateway interface {
	Submit(ctx context.Context, spec execution.OrderSpec) (execution.OrderResult, error)
}

// Store persists position state and settlement records
type Store interface {
	SavePosition(*ledger.PositionRecord) error
	RecordTrade(*ledger.TradeRecord) error
}

// Exposure is the atomic check-and-reserve cap ledger
type Exposure interface {
	Reserve(symbol string, amount decimal.Decimal) error
	Release(symbol string, amount decimal.Decimal)
	Available(symbol string) decimal.Decimal
}

// Quotes serves cached outcome-token prices. Reads must not block on I/O.
type Quotes interface {
	BestAsk(tokenID string) (decimal.Decimal, bool)
}

// Events receives lifecycle notifications
type Events interface {
	PositionOpened(symbol, side string, shares, price, cost decimal.Decimal)
	PositionHedged(symbol, side string, shares, price decimal.Decimal)
	PositionSettled(symbol, winner string, pnl decimal.Decimal, approximate bool)
	PositionAborted(symbol, reason string)
}

// PayoutFunc computes the settlement payout of one leg. The default pays $1
// per share on the winning side and nothing on the losing side.
type PayoutFunc func(winner, side string, shares decimal.Decimal) decimal.Decimal

// BinaryPayout is the standard $1-per-winning-share settlement
func BinaryPayout(winner, side string, shares decimal.Decimal) decimal.Decimal {
	if side == winner && !shares.IsZero() {
		return shares
	}
	return decimal.Zero
}

// Params are the sizing and hedging knobs
type Params struct {
	BetSize       decimal.Decimal // base notional per entry
	MinConfidence float64         // entry gate
	TrailTrigger  decimal.Decimal // adverse token-price drop that arms the hedge
	TrailSize     decimal.Decimal // hedge shares as a fraction of entry shares
	HedgeConfirm  time.Duration   // how long the drop must persist before firing
	Payout        PayoutFunc
}

// MinShares is the smallest order the CLOB accepts
var MinShares = decimal.NewFromInt(5)

// Manager owns one position through its whole life. All transitions run
// under the mutex, so callers may drive it from any goroutine, but each
// transition is strictly sequential.
type Manager struct {
	mu sync.Mutex

	slot   market.Slot
	params Params

	gateway  Gateway
	store    Store
	exposure Exposure
	quotes   Quotes
	events   Events

	state        State
	record       *ledger.PositionRecord
	entryFailed  bool // one retry allowed within the slot
	hedgeTried   bool
	adverseSince *time.Time
}

// NewManager creates an idle manager for a slot
func NewManager(slot market.Slot, params Params, gw Gateway, store Store, exp Exposure, quotes Quotes, events Events) *Manager {
	if params.Payout == nil {
		params.Payout = BinaryPayout
	}
	return &Manager{
		slot:     slot,
		params:   params,
		gateway:  gw,
		store:    store,
		exposure: exp,
		quotes:   quotes,
		events:   events,
		state:    StateIdle,
	}
}

// Resume rebuilds a manager from a persisted open position after a restart.
// The exposure reservation for the entry leg is re-applied.
func Resume(rec ledger.PositionRecord, slot market.Slot, params Params, gw Gateway, store Store, exp Exposure, quotes Quotes, events Events) (*Manager, error) {
	m := NewManager(slot, params, gw, store, exp, quotes, events)
	switch rec.Status {
	case ledger.StatusEntered:
		m.state = StateEntered
	case ledger.StatusHedged:
		m.state = StateHedged
		m.hedgeTried = true
	default:
		return nil, fmt.Errorf("position %s is not open (status %s)", rec.ID, rec.Status)
	}
	if err := exp.Reserve(rec.Symbol, rec.Cost); err != nil {
		// Over-cap after a config change; keep the position alive anyway
		log.Warn().Err(err).Str("position", rec.ID).Msg("Recovered position exceeds exposure cap")
	}
	r := rec
	m.record = &r
	log.Info().
		Str("position", rec.ID).
		Str("symbol", rec.Symbol).
		Str("status", rec.Status).
		Msg("🔄 Position recovered from ledger")
	return m, nil
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Slot returns the market slot this manager trades
func (m *Manager) Slot() market.Slot { return m.slot }

// Record returns a copy of the persisted position, if one exists
func (m *Manager) Record() (ledger.PositionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return ledger.PositionRecord{}, false
	}
	return *m.record, true
}

// Done reports whether the manager reached a terminal state
func (m *Manager) Done() bool {
	s := m.State()
	return s == StateSettled || s == StateAborted
}

// OnSignal attempts an entry. Only acts in IDLE; later signals for an open
// position are ignored (hedging keys off token quotes, not spot momentum).
func (m *Manager) OnSignal(ctx context.Context, sig signal.Signal, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return nil
	}
	if sig.Direction == signal.DirectionFlat || sig.Confidence < m.params.MinConfidence {
		return nil
	}
	if !now.Before(m.slot.CloseTime) {
		return nil
	}

	side := string(sig.Direction)
	tokenID := m.slot.TokenFor(side)
	if tokenID == "" {
		return fmt.Errorf("no token for side %s in slot %s", side, m.slot.MarketID)
	}

	price, ok := m.quotes.BestAsk(tokenID)
	if !ok || price.IsZero() {
		log.Debug().Str("market", m.slot.MarketID).Str("side", side).Msg("No quote yet, entry skipped")
		return nil
	}

	// Confidence scales the bet between 50% and 100% of BET_SIZE, then the
	// remaining exposure headroom caps it
	confScale := decimal.NewFromFloat(0.5 + sig.Confidence/2)
	notional := m.params.BetSize.Mul(confScale)
	if avail := m.exposure.Available(sig.Symbol); notional.GreaterThan(avail) {
		notional = avail
	}
	if notional.LessThanOrEqual(decimal.Zero) {
		log.Debug().Str("symbol", sig.Symbol).Msg("No exposure headroom, entry skipped")
		return nil
	}

	shares := notional.Div(price).RoundDown(2)
	if shares.LessThan(MinShares) {
		log.Debug().
			Str("symbol", sig.Symbol).
			Str("shares", shares.String()).
			Msg("Below minimum order size, entry skipped")
		return nil
	}
	cost := shares.Mul(price)

	if err := m.exposure.Reserve(sig.Symbol, cost); err != nil {
		log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("Exposure cap hit, entry skipped")
		return nil
	}

	positionID := m.slot.MarketID + "-" + uuid.NewString()[:8]
	result, err := m.submitWithDeadline(ctx, execution.OrderSpec{
		ClientKey:  uuid.NewString(),
		PositionID: positionID,
		MarketID:   m.slot.MarketID,
		Symbol:     sig.Symbol,
		Side:       side,
		TokenID:    tokenID,
		Shares:     shares,
		Price:      price,
		Reason:     "entry",
	})
	if err != nil {
		m.exposure.Release(sig.Symbol, cost)
		return err
	}

	if !result.Filled() {
		m.exposure.Release(sig.Symbol, cost)
		if m.entryFailed {
			m.abortLocked("entry order failed twice")
			return nil
		}
		m.entryFailed = true
		log.Warn().
			Str("symbol", sig.Symbol).
			Str("market", m.slot.MarketID).
			Msg("Entry order failed, will retry once this slot")
		return nil
	}

	// Fill amounts, not the pre-trade estimate, are what we hold
	if !result.Cost.Equal(cost) {
		m.exposure.Release(sig.Symbol, cost)
		if err := m.exposure.Reserve(sig.Symbol, result.Cost); err != nil {
			log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("Fill cost exceeds reservation")
		}
	}

	rec := &ledger.PositionRecord{
		ID:               positionID,
		Symbol:           sig.Symbol,
		MarketID:         m.slot.MarketID,
		Side:             side,
		EntryPrice:       result.FillPrice,
		Shares:           result.FilledShares,
		Cost:             result.Cost,
		EntryTime:        now,
		Status:           ledger.StatusEntered,
		SlotOpen:         m.slot.OpenTime,
		SlotClose:        m.slot.CloseTime,
		ReferencePrice:   m.slot.ReferencePrice,
		UpTokenID:        m.slot.UpTokenID,
		DownTokenID:      m.slot.DownTokenID,
		SignalScore:      sig.Score,
		SignalConfidence: sig.Confidence,
	}
	if err := m.persist(rec); err != nil {
		m.exposure.Release(sig.Symbol, result.Cost)
		m.abortLocked("position persist failed: " + err.Error())
		return err
	}
	m.record = rec
	m.state = StateEntered

	log.Info().
		Str("symbol", sig.Symbol).
		Str("side", side).
		Str("shares", result.FilledShares.String()).
		Str("price", result.FillPrice.String()).
		Str("cost", result.Cost.String()).
		Float64("confidence", sig.Confidence).
		Msg("📈 Position entered")
	m.events.PositionOpened(sig.Symbol, side, result.FilledShares, result.FillPrice, result.Cost)
	return nil
}

// OnTick evaluates hedge conditions. Called periodically while the slot is
// live. Returns true when the slot has reached close time and the manager is
// ready for settlement; per the tie-break rule a due close always wins over
// a pending hedge trigger.
func (m *Manager) OnTick(ctx context.Context, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !now.Before(m.slot.CloseTime) {
		return m.state == StateEntered || m.state == StateHedged
	}
	if m.state != StateEntered || m.hedgeTried {
		return false
	}

	quote, ok := m.quotes.BestAsk(m.slot.TokenFor(m.record.Side))
	if !ok || quote.IsZero() {
		return false
	}

	drop := m.record.EntryPrice.Sub(quote)
	if drop.LessThan(m.params.TrailTrigger) {
		// Recovered: the trigger re-arms from scratch
		m.adverseSince = nil
		return false
	}

	if m.adverseSince == nil {
		t := now
		m.adverseSince = &t
		log.Debug().
			Str("symbol", m.record.Symbol).
			Str("drop", drop.String()).
			Msg("Adverse move detected, confirming...")
		return false
	}
	if now.Sub(*m.adverseSince) < m.params.HedgeConfirm {
		return false
	}

	m.fireHedge(ctx, quote, now)
	return false
}

// fireHedge submits the one-shot opposite-side order. Called with the lock held.
func (m *Manager) fireHedge(ctx context.Context, entryQuote decimal.Decimal, now time.Time) {
	m.hedgeTried = true

	hedgeSide := opposite(m.record.Side)
	tokenID := m.slot.TokenFor(hedgeSide)
	price, ok := m.quotes.BestAsk(tokenID)
	if !ok || price.IsZero() {
		log.Warn().Str("symbol", m.record.Symbol).Msg("Hedge triggered but no quote for opposite side")
		return
	}

	shares := m.record.Shares.Mul(m.params.TrailSize).RoundDown(2)
	if shares.LessThan(MinShares) {
		shares = MinShares
	}

	result, err := m.submitWithDeadline(ctx, execution.OrderSpec{
		ClientKey:  uuid.NewString(),
		PositionID: m.record.ID,
		MarketID:   m.slot.MarketID,
		Symbol:     m.record.Symbol,
		Side:       hedgeSide,
		TokenID:    tokenID,
		Shares:     shares,
		Price:      price,
		IsHedge:    true,
		Reason:     fmt.Sprintf("trail: entry token %s -> %s", m.record.EntryPrice, entryQuote),
	})
	if err != nil || !result.Filled() {
		log.Error().Err(err).
			Str("symbol", m.record.Symbol).
			Msg("❌ Hedge order failed, position stays unhedged")
		return
	}

	hedgeTime := now
	m.record.HedgeSide = hedgeSide
	m.record.HedgePrice = result.FillPrice
	m.record.HedgeShares = result.FilledShares
	m.record.HedgeCost = result.Cost
	m.record.HedgeTime = &hedgeTime
	m.record.Status = ledger.StatusHedged
	if err := m.persist(m.record); err != nil {
		// The ledger still says ENTERED; advancing in memory anyway would
		// re-fire the hedge after a restart
		m.abortLocked("hedge persist failed: " + err.Error())
		return
	}
	m.state = StateHedged

	log.Info().
		Str("symbol", m.record.Symbol).
		Str("side", hedgeSide).
		Str("shares", result.FilledShares.String()).
		Str("price", result.FillPrice.String()).
		Msg("🛡️  Position hedged")
	m.events.PositionHedged(m.record.Symbol, hedgeSide, result.FilledShares, result.FillPrice)
}

// Settle computes realized P&L from the closing spot price and writes the
// trade record. Idempotent: a second call is a no-op. The trade is durably
// written before the exposure reservation is released.
func (m *Manager) Settle(closingPrice decimal.Decimal, approximate bool, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateSettled, StateAborted:
		return nil
	case StateIdle:
		m.state = StateSettled
		return nil
	}

	winner := "DOWN"
	if closingPrice.GreaterThanOrEqual(m.slot.ReferencePrice) {
		winner = "UP"
	}

	payout := m.params.Payout(winner, m.record.Side, m.record.Shares)
	if m.record.HedgeSide != "" {
		payout = payout.Add(m.params.Payout(winner, m.record.HedgeSide, m.record.HedgeShares))
	}
	pnl := payout.Sub(m.record.Cost).Sub(m.record.HedgeCost)

	trade := &ledger.TradeRecord{
		PositionID:     m.record.ID,
		MarketID:       m.record.MarketID,
		Symbol:         m.record.Symbol,
		Side:           m.record.Side,
		Winner:         winner,
		EntryShares:    m.record.Shares,
		EntryCost:      m.record.Cost,
		HedgeShares:    m.record.HedgeShares,
		HedgeCost:      m.record.HedgeCost,
		Hedged:         m.record.HedgeSide != "",
		Payout:         payout,
		PnL:            pnl,
		ReferencePrice: m.slot.ReferencePrice,
		ClosingPrice:   closingPrice,
		Approximate:    approximate,
		SettledAt:      now,
	}
	if err := m.writeTrade(trade); err != nil {
		return fmt.Errorf("trade record failed for %s: %w", m.record.ID, err)
	}

	m.record.Status = ledger.StatusSettled
	m.record.RealizedPnL = pnl
	if err := m.persist(m.record); err != nil {
		log.Error().Err(err).Str("position", m.record.ID).Msg("Settled position persist failed")
	}
	m.state = StateSettled
	m.exposure.Release(m.record.Symbol, m.record.Cost)

	log.Info().
		Str("symbol", m.record.Symbol).
		Str("winner", winner).
		Str("payout", payout.String()).
		Str("pnl", pnl.String()).
		Bool("approximate", approximate).
		Msg("💰 Position settled")
	m.events.PositionSettled(m.record.Symbol, winner, pnl, approximate)
	return nil
}

// Abort moves the manager to the terminal failure state
func (m *Manager) Abort(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateSettled || m.state == StateAborted {
		return
	}
	m.abortLocked(reason)
}

func (m *Manager) abortLocked(reason string) {
	symbol := m.slot.Symbol
	if m.record != nil {
		symbol = m.record.Symbol
		m.exposure.Release(symbol, m.record.Cost)
		m.record.Status = ledger.StatusAborted
		if err := m.persist(m.record); err != nil {
			log.Error().Err(err).Str("position", m.record.ID).Msg("Aborted position persist failed")
		}
	}
	m.state = StateAborted
	log.Error().Str("symbol", symbol).Str("reason", reason).Msg("🚫 Position aborted")
	m.events.PositionAborted(symbol, reason)
}

// submitWithDeadline caps every order at the slot's close time so nothing
// stays in flight past settlement
func (m *Manager) submitWithDeadline(ctx context.Context, spec execution.OrderSpec) (execution.OrderResult, error) {
	ctx, cancel := context.WithDeadline(ctx, m.slot.CloseTime)
	defer cancel()
	return m.gateway.Submit(ctx, spec)
}

// persist retries a failed position write a few times; the transition does
// not proceed until the write lands
func (m *Manager) persist(rec *ledger.PositionRecord) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = m.store.SavePosition(rec); err == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return err
}

func (m *Manager) writeTrade(trade *ledger.TradeRecord) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = m.store.RecordTrade(trade); err == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return err
}

func opposite(side string) string {
	if side == "UP" {
		return "DOWN"
	}
	return "UP"
}
