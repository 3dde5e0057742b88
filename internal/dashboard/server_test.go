package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyneko/polyneko/internal/ledger"
)

type stubStore struct {
	positions []ledger.PositionRecord
	trades    []ledger.TradeRecord
	err       error
	lastLimit int
}

func (s *stubStore) OpenPositions() ([]ledger.PositionRecord, error) { return s.positions, s.err }

func (s *stubStore) RecentTrades(limit int) ([]ledger.TradeRecord, error) {
	s.lastLimit = limit
	return s.trades, s.err
}

func (s *stubStore) Stats() (map[string]interface{}, error) {
	return map[string]interface{}{"total_trades": 3}, s.err
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rr := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestPositionsEndpoint(t *testing.T) {
	store := &stubStore{positions: []ledger.PositionRecord{
		{ID: "p1", Symbol: "BTC", Side: "UP", Shares: decimal.NewFromInt(10), Status: ledger.StatusEntered},
	}}
	srv := NewServer(store, 0)

	rr := get(t, srv, "/api/positions")

	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}

func TestTradesEndpointLimit(t *testing.T) {
	store := &stubStore{}
	srv := NewServer(store, 0)

	rr := get(t, srv, "/api/trades?limit=7")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 7, store.lastLimit)

	get(t, srv, "/api/trades?limit=9999")
	assert.Equal(t, 50, store.lastLimit, "out-of-range limit falls back to default")
}

func TestStatsEndpoint(t *testing.T) {
	srv := NewServer(&stubStore{}, 0)

	rr := get(t, srv, "/api/stats")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "total_trades")
}

func TestStoreErrorReturns500(t *testing.T) {
	srv := NewServer(&stubStore{err: errors.New("db closed")}, 0)

	rr := get(t, srv, "/api/positions")

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHealth(t *testing.T) {
	srv := NewServer(&stubStore{}, 0)

	rr := get(t, srv, "/health")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ok")
}
