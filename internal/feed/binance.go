package feed

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	binanceWSURL   = "wss://stream.binance.com:9443/stream"
	binanceRESTURL = "https://api.binance.com"
)

// BinanceFeed streams spot prices for a set of symbols over one combined
// trade-stream websocket connection.
type BinanceFeed struct {
	symbols []string
	wsURL   string
	restURL string

	mu          sync.RWMutex
	conn        *websocket.Conn
	running     bool
	latest      map[string]PriceSample
	subscribers []chan PriceSample

	stopCh chan struct{}
}

// NewBinanceFeed creates a feed for the given symbols (e.g. BTC, ETH).
func NewBinanceFeed(symbols []string) *BinanceFeed {
	return &BinanceFeed{
		symbols: symbols,
		wsURL:   binanceWSURL,
		restURL: binanceRESTURL,
		latest:  make(map[string]PriceSample),
		stopCh:  make(chan struct{}),
	}
}

// pairFor maps a symbol to its Binance trading pair
func pairFor(symbol string) string {
	return strings.ToUpper(symbol) + "USDT"
}

// Start connects the websocket and begins streaming
func (f *BinanceFeed) Start() error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.mu.Unlock()

	go f.runWebSocket()
	log.Info().Strs("symbols", f.symbols).Msg("📈 Binance feed started")
	return nil
}

// Stop closes the connection and ends the read loop. Subscriber channels
// stay open and simply go quiet.
func (f *BinanceFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
	if f.conn != nil {
		f.conn.Close()
	}
	log.Info().Msg("Binance feed stopped")
}

// Subscribe returns a channel of price samples
func (f *BinanceFeed) Subscribe() <-chan PriceSample {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan PriceSample, 256)
	f.subscribers = append(f.subscribers, ch)
	return ch
}

// Latest returns the most recent sample's price for a symbol
func (f *BinanceFeed) Latest(symbol string) (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s, ok := f.latest[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return s.Price, true
}

func (f *BinanceFeed) runWebSocket() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		if err := f.connect(); err != nil {
			log.Error().Err(err).Msg("WebSocket connection failed")
			time.Sleep(5 * time.Second)
			continue
		}

		f.readMessages()

		f.mu.RLock()
		running := f.running
		f.mu.RUnlock()
		if running {
			log.Warn().Msg("WebSocket disconnected, reconnecting...")
			time.Sleep(time.Second)
		} else {
			return
		}
	}
}

func (f *BinanceFeed) connect() error {
	streams := make([]string, len(f.symbols))
	for i, s := range f.symbols {
		streams[i] = strings.ToLower(pairFor(s)) + "@trade"
	}
	url := fmt.Sprintf("%s?streams=%s", f.wsURL, strings.Join(streams, "/"))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	log.Info().Str("url", url).Msg("🔌 WebSocket connected to Binance")
	return nil
}

// combinedFrame is the envelope of a combined-stream message
type combinedFrame struct {
	Stream string `json:"stream"`
	Data   struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Price     string `json:"p"`
		TradeTime int64  `json:"T"`
	} `json:"data"`
}

func (f *BinanceFeed) readMessages() {
	for {
		f.mu.RLock()
		conn := f.conn
		running := f.running
		f.mu.RUnlock()
		if !running || conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if running {
				log.Error().Err(err).Msg("WebSocket read error")
			}
			return
		}
		f.handleMessage(message)
	}
}

func (f *BinanceFeed) handleMessage(data []byte) {
	var frame combinedFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	if frame.Data.EventType != "trade" {
		return
	}

	symbol := strings.TrimSuffix(frame.Data.Symbol, "USDT")
	price, err := decimal.NewFromString(frame.Data.Price)
	if err != nil || price.IsZero() {
		return
	}

	sample := PriceSample{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.UnixMilli(frame.Data.TradeTime).UTC(),
	}

	f.mu.Lock()
	f.latest[symbol] = sample
	subs := f.subscribers
	f.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- sample:
		default:
			// Channel full, skip
		}
	}
}

// PriceAt fetches the spot price at a specific timestamp using 1-second
// klines. Returns the open price of the 1-second candle at t.
func (f *BinanceFeed) PriceAt(symbol string, t time.Time) (decimal.Decimal, error) {
	startMs := t.Unix() * 1000
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=1s&startTime=%d&endTime=%d&limit=1",
		f.restURL, pairFor(symbol), startMs, startMs+1000)

	resp, err := http.Get(url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch 1s kline: %w", err)
	}
	defer resp.Body.Close()

	var raw [][]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode kline: %w", err)
	}
	if len(raw) == 0 || len(raw[0]) < 2 {
		return decimal.Zero, fmt.Errorf("no kline data for %s at %d", symbol, t.Unix())
	}

	openStr, ok := raw[0][1].(string)
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected kline format for %s", symbol)
	}
	open, err := decimal.NewFromString(openStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse price: %w", err)
	}
	return open, nil
}
