package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyneko/polyneko/internal/ledger"
)

type scriptedExchange struct {
	errs   []error // one per attempt; nil means fill
	calls  int
	fill   Fill
	cancel []string
}

func (s *scriptedExchange) PlaceOrder(_ context.Context, spec OrderSpec) (Fill, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return Fill{}, s.errs[idx]
	}
	if s.fill.ExchangeID == "" {
		return Fill{ExchangeID: "ex-1", Shares: spec.Shares, Price: spec.Price, Cost: spec.Cost()}, nil
	}
	return s.fill, nil
}

func (s *scriptedExchange) CancelOrder(_ context.Context, id string) error {
	s.cancel = append(s.cancel, id)
	return nil
}

type memOrderLog struct {
	recorded []ledger.OrderRecord
	resolved []ledger.OrderRecord
	failOn   error
}

func (m *memOrderLog) RecordOrder(o *ledger.OrderRecord) error {
	if m.failOn != nil {
		return m.failOn
	}
	m.recorded = append(m.recorded, *o)
	return nil
}

func (m *memOrderLog) ResolveOrder(o *ledger.OrderRecord) error {
	m.resolved = append(m.resolved, *o)
	return nil
}

func spec() OrderSpec {
	return OrderSpec{
		PositionID: "pos-1",
		MarketID:   "btc-updown-15m-1000",
		Symbol:     "BTC",
		Side:       "UP",
		TokenID:    "tok-up",
		Shares:     decimal.NewFromInt(10),
		Price:      decimal.NewFromFloat(0.55),
		Reason:     "entry",
	}
}

func TestSubmitFillsFirstTry(t *testing.T) {
	log := &memOrderLog{}
	g := NewGateway(&scriptedExchange{}, log, 3)

	res, err := g.Submit(context.Background(), spec())

	require.NoError(t, err)
	assert.Equal(t, StatusFilled, res.Status)
	assert.True(t, res.Filled())
	assert.Equal(t, 1, res.Attempts)
	assert.NotEmpty(t, res.ClientKey, "idempotency key generated")

	require.Len(t, log.recorded, 1)
	assert.Equal(t, ledger.OrderPending, log.recorded[0].Status)
	require.Len(t, log.resolved, 1)
	assert.Equal(t, ledger.OrderFilled, log.resolved[0].Status)
	assert.NotNil(t, log.resolved[0].ResolvedAt)
}

func TestSubmitRetriesTransientErrors(t *testing.T) {
	ex := &scriptedExchange{errs: []error{
		Transient(errors.New("timeout")),
		Transient(errors.New("502")),
		nil,
	}}
	g := NewGateway(ex, &memOrderLog{}, 5)

	res, err := g.Submit(context.Background(), spec())

	require.NoError(t, err)
	assert.Equal(t, StatusFilled, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, ex.calls)
}

func TestSubmitKeepsClientKeyAcrossRetries(t *testing.T) {
	ex := &scriptedExchange{errs: []error{Transient(errors.New("timeout")), nil}}
	log := &memOrderLog{}
	g := NewGateway(ex, log, 3)

	s := spec()
	s.ClientKey = "client-key-1"
	res, err := g.Submit(context.Background(), s)

	require.NoError(t, err)
	assert.Equal(t, "client-key-1", res.ClientKey)
	assert.Equal(t, "client-key-1", log.recorded[0].ID)
}

func TestSubmitExhaustionReturnsFailedValue(t *testing.T) {
	ex := &scriptedExchange{errs: []error{
		Transient(errors.New("timeout")),
		Transient(errors.New("timeout")),
		Transient(errors.New("timeout")),
	}}
	log := &memOrderLog{}
	g := NewGateway(ex, log, 3)

	res, err := g.Submit(context.Background(), spec())

	// Failure is a value for the caller to decide on, not an error
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.False(t, res.Filled())
	assert.Contains(t, res.Err, "timeout")
	assert.Equal(t, string(StatusFailed), log.resolved[0].Status)
}

func TestSubmitDoesNotRetryPermanentRejection(t *testing.T) {
	ex := &scriptedExchange{errs: []error{errors.New("invalid amounts")}}
	g := NewGateway(ex, &memOrderLog{}, 5)

	res, err := g.Submit(context.Background(), spec())

	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 1, ex.calls, "permanent rejections are not retried")
}

func TestSubmitPersistFailureIsAnError(t *testing.T) {
	log := &memOrderLog{failOn: errors.New("disk full")}
	g := NewGateway(&scriptedExchange{}, log, 3)

	_, err := g.Submit(context.Background(), spec())

	require.Error(t, err)
}

func TestSubmitPartialFill(t *testing.T) {
	ex := &scriptedExchange{fill: Fill{
		ExchangeID: "ex-2",
		Shares:     decimal.NewFromInt(4),
		Price:      decimal.NewFromFloat(0.55),
		Cost:       decimal.NewFromFloat(2.20),
		Partial:    true,
	}}
	log := &memOrderLog{}
	g := NewGateway(ex, log, 3)

	res, err := g.Submit(context.Background(), spec())

	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFilled, res.Status)
	assert.True(t, res.Filled())
	// The resolved order carries fill amounts, not the requested ones
	assert.True(t, log.resolved[0].Shares.Equal(decimal.NewFromInt(4)))
}

func TestSubmitStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := &scriptedExchange{errs: []error{Transient(errors.New("timeout"))}}
	g := NewGateway(ex, &memOrderLog{}, 5)

	res, err := g.Submit(ctx, spec())

	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 1, ex.calls)
}

func TestCancel(t *testing.T) {
	ex := &scriptedExchange{}
	g := NewGateway(ex, &memOrderLog{}, 3)

	assert.True(t, g.Cancel(context.Background(), "ex-1"))
	assert.False(t, g.Cancel(context.Background(), ""))
	assert.Equal(t, []string{"ex-1"}, ex.cancel)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(Transient(errors.New("x"))))
	assert.False(t, IsTransient(errors.New("x")))
}
