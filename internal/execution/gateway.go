// Package execution places orders against the exchange capability with
// idempotency and bounded retry.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyneko/polyneko/internal/ledger"
)

// Status is the terminal state of an order
type Status string

const (
	StatusFilled          Status = "FILLED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusFailed          Status = "FAILED"
)

// OrderSpec describes one logical order request. ClientKey is the
// idempotency key: a retried network call reuses it and cannot double-submit.
type OrderSpec struct {
	ClientKey  string
	PositionID string
	MarketID   string
	Symbol     string
	Side       string // UP or DOWN
	TokenID    string
	Shares     decimal.Decimal
	Price      decimal.Decimal // limit price, from the book's best ask
	IsHedge    bool
	Reason     string
}

// Cost returns the notional of the spec at its limit price
func (s OrderSpec) Cost() decimal.Decimal {
	return s.Shares.Mul(s.Price)
}

// Fill is the exchange's answer to a placed order
type Fill struct {
	ExchangeID string
	Shares     decimal.Decimal
	Price      decimal.Decimal
	Cost       decimal.Decimal
	Partial    bool
}

// OrderResult is what the position manager decides on. A FAILED status is a
// value, not an error: the caller makes an explicit abort/skip decision.
type OrderResult struct {
	ClientKey    string
	ExchangeID   string
	Status       Status
	FilledShares decimal.Decimal
	FillPrice    decimal.Decimal
	Cost         decimal.Decimal
	Attempts     int
	Err          string
}

// Filled reports whether any quantity was filled
func (r OrderResult) Filled() bool {
	return r.Status == StatusFilled || r.Status == StatusPartiallyFilled
}

// Exchange is the venue capability wrapped by the gateway
type Exchange interface {
	PlaceOrder(ctx context.Context, spec OrderSpec) (Fill, error)
	CancelOrder(ctx context.Context, exchangeID string) error
}

// TransientError marks a failure worth retrying (timeout, 5xx, rate limit)
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable
func Transient(err error) error {
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// OrderLog persists every submit/resolve transition for audit
type OrderLog interface {
	RecordOrder(*ledger.OrderRecord) error
	ResolveOrder(*ledger.OrderRecord) error
}

// Gateway wraps an Exchange with retry, idempotency and order auditing
type Gateway struct {
	exchange    Exchange
	orders      OrderLog
	maxAttempts int
}

// NewGateway creates a gateway capped at maxAttempts per logical order
func NewGateway(exchange Exchange, orders OrderLog, maxAttempts int) *Gateway {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Gateway{exchange: exchange, orders: orders, maxAttempts: maxAttempts}
}

// Submit places one logical order, retrying transient failures with
// exponential backoff. The returned error is non-nil only for persistence
// failures; order rejection comes back as StatusFailed.
func (g *Gateway) Submit(ctx context.Context, spec OrderSpec) (OrderResult, error) {
	if spec.ClientKey == "" {
		spec.ClientKey = uuid.NewString()
	}

	rec := &ledger.OrderRecord{
		ID:          spec.ClientKey,
		PositionID:  spec.PositionID,
		MarketID:    spec.MarketID,
		Symbol:      spec.Symbol,
		Side:        spec.Side,
		TokenID:     spec.TokenID,
		Shares:      spec.Shares,
		Price:       spec.Price,
		Cost:        spec.Cost(),
		Status:      ledger.OrderPending,
		IsHedge:     spec.IsHedge,
		Reason:      spec.Reason,
		SubmittedAt: time.Now().UTC(),
	}
	if err := g.orders.RecordOrder(rec); err != nil {
		return OrderResult{}, fmt.Errorf("order record failed: %w", err)
	}

	bo := &backoff.Backoff{
		Min:    250 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		fill, err := g.exchange.PlaceOrder(ctx, spec)
		if err == nil {
			status := StatusFilled
			if fill.Partial {
				status = StatusPartiallyFilled
			}
			result := OrderResult{
				ClientKey:    spec.ClientKey,
				ExchangeID:   fill.ExchangeID,
				Status:       status,
				FilledShares: fill.Shares,
				FillPrice:    fill.Price,
				Cost:         fill.Cost,
				Attempts:     attempt,
			}
			if err := g.resolve(rec, result); err != nil {
				return OrderResult{}, err
			}
			return result, nil
		}

		lastErr = err
		if !IsTransient(err) || ctx.Err() != nil {
			break
		}
		log.Warn().Err(err).
			Str("order", spec.ClientKey).
			Int("attempt", attempt).
			Msg("Order attempt failed, retrying")

		select {
		case <-ctx.Done():
			attempt = g.maxAttempts // stop retrying
		case <-time.After(bo.Duration()):
		}
	}

	if ctx.Err() != nil && lastErr == nil {
		lastErr = ctx.Err()
	}
	result := OrderResult{
		ClientKey: spec.ClientKey,
		Status:    StatusFailed,
		Attempts:  g.maxAttempts,
		Err:       lastErr.Error(),
	}
	if err := g.resolve(rec, result); err != nil {
		return OrderResult{}, err
	}
	log.Error().Err(lastErr).Str("order", spec.ClientKey).Msg("Order failed")
	return result, nil
}

// Cancel cancels an in-flight order at the exchange
func (g *Gateway) Cancel(ctx context.Context, exchangeID string) bool {
	if exchangeID == "" {
		return false
	}
	if err := g.exchange.CancelOrder(ctx, exchangeID); err != nil {
		log.Warn().Err(err).Str("exchange_id", exchangeID).Msg("Cancel failed")
		return false
	}
	return true
}

func (g *Gateway) resolve(rec *ledger.OrderRecord, res OrderResult) error {
	now := time.Now().UTC()
	rec.Status = string(res.Status)
	rec.ExchangeID = res.ExchangeID
	rec.Attempts = res.Attempts
	rec.Error = res.Err
	rec.ResolvedAt = &now
	if res.Filled() {
		rec.Shares = res.FilledShares
		rec.Price = res.FillPrice
		rec.Cost = res.Cost
	}
	if err := g.orders.ResolveOrder(rec); err != nil {
		return fmt.Errorf("order resolve failed: %w", err)
	}
	return nil
}
