package market

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// TokenQuote holds the cached best prices for one outcome token
type TokenQuote struct {
	TokenID   string
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	UpdatedAt time.Time
}

// Books maintains a live cache of outcome-token quotes from the Polymarket
// market websocket. Reads never block on I/O.
type Books struct {
	wsURL string

	mu         sync.RWMutex
	conn       *websocket.Conn
	running    bool
	subscribed map[string]bool
	quotes     map[string]*TokenQuote

	resubCh chan struct{}
	stopCh  chan struct{}
}

// NewBooks creates a book cache connected to the given websocket URL
func NewBooks(wsURL string) *Books {
	return &Books{
		wsURL:      wsURL,
		subscribed: make(map[string]bool),
		quotes:     make(map[string]*TokenQuote),
		resubCh:    make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
}

// Start connects and begins caching quotes
func (b *Books) Start() error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.mu.Unlock()

	go b.run()
	go b.resubLoop()
	return nil
}

// Stop closes the connection
func (b *Books) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	b.running = false
	close(b.stopCh)
	if b.conn != nil {
		b.conn.Close()
	}
}

// Watch subscribes to quote updates for the given token IDs
func (b *Books) Watch(tokenIDs ...string) {
	b.mu.Lock()
	added := false
	for _, id := range tokenIDs {
		if id != "" && !b.subscribed[id] {
			b.subscribed[id] = true
			added = true
		}
	}
	b.mu.Unlock()

	if added {
		select {
		case b.resubCh <- struct{}{}:
		default:
		}
	}
}

// BestAsk returns the cached price to buy a token
func (b *Books) BestAsk(tokenID string) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[tokenID]
	if !ok || q.BestAsk.IsZero() {
		return decimal.Zero, false
	}
	return q.BestAsk, true
}

func (b *Books) run() {
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		if err := b.connect(); err != nil {
			log.Error().Err(err).Msg("Polymarket WS connect failed")
			time.Sleep(5 * time.Second)
			continue
		}

		b.readMessages()

		b.mu.RLock()
		running := b.running
		b.mu.RUnlock()
		if !running {
			return
		}
		log.Warn().Msg("Polymarket WS disconnected, reconnecting...")
		time.Sleep(time.Second)
	}
}

func (b *Books) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(b.wsURL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	b.sendSubscription()
	log.Info().Str("url", b.wsURL).Msg("🔌 Polymarket WS connected")
	return nil
}

func (b *Books) sendSubscription() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil || len(b.subscribed) == 0 {
		return
	}
	ids := make([]string, 0, len(b.subscribed))
	for id := range b.subscribed {
		ids = append(ids, id)
	}
	msg := map[string]interface{}{"assets_ids": ids, "type": "market"}
	if err := b.conn.WriteJSON(msg); err != nil {
		log.Warn().Err(err).Msg("Book subscription failed")
		return
	}
	log.Debug().Int("tokens", len(ids)).Msg("Subscribed to token books")
}

func (b *Books) resubLoop() {
	for {
		select {
		case <-b.resubCh:
			b.sendSubscription()
		case <-b.stopCh:
			return
		}
	}
}

// bookEvent covers both the "book" snapshot and "price_change" messages
type bookEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Bids      []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"asks"`
	PriceChanges []struct {
		AssetID string `json:"asset_id"`
		BestBid string `json:"best_bid"`
		BestAsk string `json:"best_ask"`
	} `json:"price_changes"`
}

func (b *Books) readMessages() {
	for {
		b.mu.RLock()
		conn := b.conn
		running := b.running
		b.mu.RUnlock()
		if !running || conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if running {
				log.Error().Err(err).Msg("Polymarket WS read error")
			}
			return
		}

		// Events arrive both singly and batched in an array
		var events []bookEvent
		if err := json.Unmarshal(message, &events); err != nil {
			var single bookEvent
			if err := json.Unmarshal(message, &single); err != nil {
				continue
			}
			events = []bookEvent{single}
		}
		for _, ev := range events {
			b.handleEvent(ev)
		}
	}
}

func (b *Books) handleEvent(ev bookEvent) {
	switch ev.EventType {
	case "book":
		b.applySnapshot(ev)
	case "price_change":
		for _, pc := range ev.PriceChanges {
			b.applyQuote(pc.AssetID, pc.BestBid, pc.BestAsk)
		}
	}
}

func (b *Books) applySnapshot(ev bookEvent) {
	if ev.AssetID == "" {
		return
	}

	// Best bid is the highest bid, best ask the lowest ask
	var bestBid, bestAsk decimal.Decimal
	for _, lvl := range ev.Bids {
		if p, err := decimal.NewFromString(lvl.Price); err == nil && p.GreaterThan(bestBid) {
			bestBid = p
		}
	}
	for _, lvl := range ev.Asks {
		if p, err := decimal.NewFromString(lvl.Price); err == nil && p.GreaterThan(decimal.Zero) {
			if bestAsk.IsZero() || p.LessThan(bestAsk) {
				bestAsk = p
			}
		}
	}

	b.mu.Lock()
	b.quotes[ev.AssetID] = &TokenQuote{
		TokenID:   ev.AssetID,
		BestBid:   bestBid,
		BestAsk:   bestAsk,
		UpdatedAt: time.Now(),
	}
	b.mu.Unlock()
}

func (b *Books) applyQuote(tokenID, bidStr, askStr string) {
	if tokenID == "" {
		return
	}
	bid, _ := decimal.NewFromString(bidStr)
	ask, _ := decimal.NewFromString(askStr)

	b.mu.Lock()
	q, ok := b.quotes[tokenID]
	if !ok {
		q = &TokenQuote{TokenID: tokenID}
		b.quotes[tokenID] = q
	}
	if !bid.IsZero() {
		q.BestBid = bid
	}
	if !ask.IsZero() {
		q.BestAsk = ask
	}
	q.UpdatedAt = time.Now()
	b.mu.Unlock()
}
