// Package engine wires the feed, signal, market and position components into
// the running bot and owns every position manager's lifecycle.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyneko/polyneko/internal/feed"
	"github.com/polyneko/polyneko/internal/ledger"
	"github.com/polyneko/polyneko/internal/market"
	"github.com/polyneko/polyneko/internal/position"
	"github.com/polyneko/polyneko/internal/signal"
)

const (
	tickInterval        = time.Second
	feedGapLimit        = 30 * time.Second
	closeLookupAttempts = 3
)

// Ledger is the slice of the store the orchestrator needs on top of what
// managers use themselves
type Ledger interface {
	position.Store
	LoadOpenPositions() ([]ledger.PositionRecord, error)
}

// Exposure adds the read side of the cap ledger for reporting
type Exposure interface {
	position.Exposure
	Used(symbol string) decimal.Decimal
}

// Orchestrator routes price samples to the signal engine, spawns one
// position manager per (symbol, slot), and forces settlement at rotation.
type Orchestrator struct {
	symbols  []string
	feed     feed.Source
	signals  *signal.Engine
	registry *market.Registry
	books    *market.Books
	gateway  position.Gateway
	store    Ledger
	exposure Exposure
	events   position.Events
	params   position.Params
	cooldown time.Duration

	mu        sync.Mutex
	managers  map[string]*position.Manager // keyed by market ID
	lastEntry map[string]time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New assembles the orchestrator
func New(symbols []string, src feed.Source, signals *signal.Engine, registry *market.Registry,
	books *market.Books, gw position.Gateway, store Ledger, exp Exposure,
	events position.Events, params position.Params, cooldown time.Duration) *Orchestrator {
	return &Orchestrator{
		symbols:   symbols,
		feed:      src,
		signals:   signals,
		registry:  registry,
		books:     books,
		gateway:   gw,
		store:     store,
		exposure:  exp,
		events:    events,
		params:    params,
		cooldown:  cooldown,
		managers:  make(map[string]*position.Manager),
		lastEntry: make(map[string]time.Time),
	}
}

// Start recovers persisted positions and launches the processing loops
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, o.cancel = context.WithCancel(ctx)

	if err := o.recover(ctx); err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}

	samples := o.feed.Subscribe()

	o.wg.Add(3)
	go o.consumeFeed(ctx, samples)
	go o.tickLoop(ctx)
	go o.rotationLoop(ctx)

	log.Info().Strs("symbols", o.symbols).Msg("🚀 Engine started")
	return nil
}

// Stop shuts the loops down and waits for in-flight settlements to land
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	log.Info().Msg("Engine stopped")
}

// recover reloads open positions from the ledger so no position is silently
// abandoned across a restart. Past-close positions settle on the first tick.
func (o *Orchestrator) recover(ctx context.Context) error {
	recs, err := o.store.LoadOpenPositions()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		slot := &market.Slot{
			MarketID:       rec.MarketID,
			Symbol:         rec.Symbol,
			OpenTime:       rec.SlotOpen,
			CloseTime:      rec.SlotClose,
			ReferencePrice: rec.ReferencePrice,
			UpTokenID:      rec.UpTokenID,
			DownTokenID:    rec.DownTokenID,
		}
		mgr, err := position.Resume(rec, *slot, o.params, o.gateway, o.store, o.exposure, o.quotes(), o.events)
		if err != nil {
			log.Error().Err(err).Str("position", rec.ID).Msg("Position not recoverable")
			continue
		}
		if err := o.register(slot.MarketID, mgr); err != nil {
			mgr.Abort(err.Error())
			continue
		}
		o.registry.Reattach(slot)
		o.books.Watch(slot.UpTokenID, slot.DownTokenID)
	}
	if len(recs) > 0 {
		log.Info().Int("count", len(recs)).Msg("Open positions recovered")
	}
	return nil
}

// consumeFeed drives entries. A symbol whose feed has stalled gets no new
// entries by construction, since entries only fire on fresh samples.
func (o *Orchestrator) consumeFeed(ctx context.Context, samples <-chan feed.PriceSample) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-samples:
			if !ok {
				return
			}
			o.onSample(ctx, sample)
		}
	}
}

func (o *Orchestrator) onSample(ctx context.Context, sample feed.PriceSample) {
	sig := o.signals.Observe(sample)

	now := sample.Timestamp
	if time.Since(now) > feedGapLimit {
		// Stale backlog after a reconnect; keep the window warm, skip entries
		return
	}

	mgr := o.managerFor(sample.Symbol, now)
	if mgr == nil || mgr.State() != position.StateIdle {
		return
	}
	if sig.Direction == signal.DirectionFlat {
		return
	}

	o.mu.Lock()
	last := o.lastEntry[sample.Symbol]
	o.mu.Unlock()
	if now.Sub(last) < o.cooldown {
		return
	}

	if err := mgr.OnSignal(ctx, sig, now); err != nil {
		log.Error().Err(err).Str("symbol", sample.Symbol).Msg("Entry attempt failed")
		return
	}
	if mgr.State() == position.StateEntered {
		o.mu.Lock()
		o.lastEntry[sample.Symbol] = now
		o.mu.Unlock()
	}
}

// tickLoop drives hedge evaluation, close-time settlement and manager reaping
func (o *Orchestrator) tickLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, symbol := range o.symbols {
				o.managerFor(symbol, now)
			}
			for _, mgr := range o.snapshot() {
				if mgr.OnTick(ctx, now) {
					o.wg.Add(1)
					go func(m *position.Manager) {
						defer o.wg.Done()
						o.settle(m, now)
					}(mgr)
				}
			}
			o.reap()
		}
	}
}

// rotationLoop forces settlement of expired slots the moment the boundary
// crosses and watches the new slot's token books
func (o *Orchestrator) rotationLoop(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case rot := <-o.registry.Rotations():
			if rot.Next != nil {
				o.books.Watch(rot.Next.UpTokenID, rot.Next.DownTokenID)
			}
			if rot.Expired == nil {
				continue
			}
			o.mu.Lock()
			mgr := o.managers[rot.Expired.MarketID]
			o.mu.Unlock()
			if mgr != nil && !mgr.Done() {
				o.wg.Add(1)
				go func(m *position.Manager) {
					defer o.wg.Done()
					o.settle(m, time.Now().UTC())
				}(mgr)
			}
		}
	}
}

// settle resolves the closing price and finalizes the manager. The historical
// lookup gets a few attempts; only after that does the last known sample step
// in and the trade gets flagged approximate.
func (o *Orchestrator) settle(mgr *position.Manager, now time.Time) {
	slot := mgr.Slot()

	var closing decimal.Decimal
	var err error
	for attempt := 0; attempt < closeLookupAttempts; attempt++ {
		if closing, err = o.feed.PriceAt(slot.Symbol, slot.CloseTime); err == nil && !closing.IsZero() {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	approximate := false
	if err != nil || closing.IsZero() {
		log.Warn().Err(err).Str("market", slot.MarketID).Msg("Closing price lookup failed, using last sample")
		latest, ok := o.feed.Latest(slot.Symbol)
		if !ok {
			// Nothing better than the slot's own reference; UP wins on the tie
			latest = slot.ReferencePrice
		}
		closing = latest
		approximate = true
	}

	if err := mgr.Settle(closing, approximate, now); err != nil {
		log.Error().Err(err).Str("market", slot.MarketID).Msg("Settlement failed, will retry next tick")
	}
}

// managerFor returns the live manager for a symbol's current slot, creating
// one when the slot is new. Returns nil while the slot lacks a reference
// price or token IDs.
func (o *Orchestrator) managerFor(symbol string, now time.Time) *position.Manager {
	slot := o.registry.CurrentSlot(symbol, now)

	o.mu.Lock()
	if mgr, ok := o.managers[slot.MarketID]; ok {
		o.mu.Unlock()
		return mgr
	}
	o.mu.Unlock()

	if slot.ReferencePrice.IsZero() {
		return nil
	}

	mgr := position.NewManager(*slot, o.params, o.gateway, o.store, o.exposure, o.quotes(), o.events)
	if err := o.register(slot.MarketID, mgr); err != nil {
		// Lost the race; the registered manager wins
		o.mu.Lock()
		existing := o.managers[slot.MarketID]
		o.mu.Unlock()
		return existing
	}
	o.books.Watch(slot.UpTokenID, slot.DownTokenID)
	return mgr
}

// register enforces the one-manager-per-market invariant
func (o *Orchestrator) register(marketID string, mgr *position.Manager) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.managers[marketID]; ok && !existing.Done() {
		return fmt.Errorf("duplicate manager for market %s", marketID)
	}
	o.managers[marketID] = mgr
	return nil
}

// reap drops managers for slots that reached a terminal state and whose
// close time has passed
func (o *Orchestrator) reap() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, mgr := range o.managers {
		if mgr.Done() && time.Now().After(mgr.Slot().CloseTime) {
			delete(o.managers, id)
		}
	}
}

func (o *Orchestrator) snapshot() []*position.Manager {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*position.Manager, 0, len(o.managers))
	for _, mgr := range o.managers {
		out = append(out, mgr)
	}
	return out
}

func (o *Orchestrator) quotes() position.Quotes {
	return o.books
}

// OpenExposure reports the committed notional per symbol, for the dashboard
func (o *Orchestrator) OpenExposure() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(o.symbols))
	for _, s := range o.symbols {
		out[s] = o.exposure.Used(s)
	}
	return out
}
