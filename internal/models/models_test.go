package models

import (
	"errors"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBotStateDecode(t *testing.T) {
	payload := `{
		"status": "running",
		"symbol": "BTCUSDT",
		"timeframe": "1m",
		"base_asset": "BTC",
		"quote_asset": "USDT",
		"available_balance": "1000.50",
		"symbol_quantity": "0.25",
		"in_position": true,
		"entry_details": {"order_id": 12345, "side": "BUY", "avg_price": "42000.1", "quantity": "0.25", "timestamp": 1700000000000},
		"config": {"RISK_PER_TRADE_PERCENT": "0.01", "STOP_LOSS_PERCENT": 0.02, "SYMBOL": "BTCUSDT", "EMA_PERIOD": 21},
		"latest_book_ticker": {"s": "BTCUSDT", "b": "42000.00", "B": "1.5", "a": "42001.00", "A": "2.0"},
		"active_session_id": 7,
		"current_price": 42000.5
	}`

	var s BotState
	require.NoError(t, json.Unmarshal([]byte(payload), &s))

	assert.Equal(t, "running", s.Status)
	assert.True(t, s.InPosition)
	assert.Equal(t, "1000.5", s.AvailableBalance.String())
	assert.Equal(t, SessionID(7), s.ActiveSession())
	require.NotNil(t, s.EntryDetails)
	assert.Equal(t, FlexString("12345"), s.EntryDetails.OrderID)
	assert.Equal(t, "BTCUSDT", s.Ticker.Symbol)
	assert.Equal(t, "1", s.Ticker.Spread().String())
	assert.Equal(t, "42000.5", s.CurrentPrice.String())

	params, err := s.DecodeParams()
	require.NoError(t, err)
	assert.Equal(t, "0.01", params.RiskPerTrade.String())
	assert.Equal(t, "0.02", params.StopLoss.String())
	assert.Equal(t, "BTCUSDT", params.Symbol)
	assert.Contains(t, params.Extra, "EMA_PERIOD")
}

func TestBotStateNullActiveSession(t *testing.T) {
	var s BotState
	require.NoError(t, json.Unmarshal([]byte(`{"status":"stopped","active_session_id":null}`), &s))
	assert.Nil(t, s.ActiveSessionID)
	assert.Equal(t, NoSession, s.ActiveSession())
}

func TestDeepCopyIsIndependent(t *testing.T) {
	id := SessionID(3)
	orig := &BotState{
		Status:          "running",
		Config:          map[string]any{"nested": map[string]any{"k": "v"}},
		ActiveSessionID: &id,
		EntryDetails:    &EntryDetails{Side: "BUY"},
	}

	c := orig.DeepCopy()
	c.Config["nested"].(map[string]any)["k"] = "changed"
	*c.ActiveSessionID = 9
	c.EntryDetails.Side = "SELL"

	assert.Equal(t, "v", orig.Config["nested"].(map[string]any)["k"])
	assert.Equal(t, SessionID(3), *orig.ActiveSessionID)
	assert.Equal(t, "BUY", orig.EntryDetails.Side)
}

func TestTickerPatchOnlyPresentFields(t *testing.T) {
	var ticker Ticker
	require.NoError(t, json.Unmarshal([]byte(`{"s":"BTCUSDT","b":"100","B":"1","a":"101","A":"2"}`), &ticker))

	var patch TickerPatch
	require.NoError(t, json.Unmarshal([]byte(`{"b":"100.5"}`), &patch))
	require.NotNil(t, patch.Bid)
	assert.Nil(t, patch.Ask)
	assert.Nil(t, patch.Symbol)

	ticker.Apply(patch)
	assert.Equal(t, "100.5", ticker.Bid.String())
	assert.Equal(t, "101", ticker.Ask.String())
	assert.Equal(t, "BTCUSDT", ticker.Symbol)
	assert.Equal(t, "2", ticker.AskQty.String())
}

func TestTickerRoundTripLongKeys(t *testing.T) {
	in := Ticker{Symbol: "ETHUSDT", Bid: decimal.RequireFromString("10"), Ask: decimal.RequireFromString("11")}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Ticker
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "ETHUSDT", out.Symbol)
	assert.True(t, out.Bid.Equal(in.Bid))
	assert.True(t, out.Ask.Equal(in.Ask))
}

func TestTickerPatchEmpty(t *testing.T) {
	var patch TickerPatch
	require.NoError(t, json.Unmarshal([]byte(`{"unrelated": 1}`), &patch))
	assert.True(t, patch.Empty())
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("connection refused")
	err := &Error{Kind: TransportFailure, Op: "status", Err: base}

	assert.True(t, IsKind(err, TransportFailure))
	assert.False(t, IsKind(err, CommandFailure))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "status: transport failure: connection refused", err.Error())

	guard := &Error{Kind: GuardRejection, Op: "delete session", Err: ErrActiveSession}
	assert.ErrorIs(t, guard, ErrActiveSession)
}

func TestFlexString(t *testing.T) {
	var rec OrderRecord
	require.NoError(t, json.Unmarshal([]byte(`{"orderId":"abc","timestamp":1700000000000,"price":"1.5","performance_pct":null}`), &rec))
	assert.Equal(t, FlexString("abc"), rec.OrderID)
	assert.Equal(t, FlexString("1700000000000"), rec.Timestamp)
	assert.False(t, rec.PerformancePct.Valid)
}

func TestOrderRecordBackendRowShape(t *testing.T) {
	payload := `[
		{"orderId": 9001, "symbol": "BTCUSDT", "side": "SELL", "type": "MARKET", "status": "FILLED",
		 "price": "42100.5", "origQty": "0.01", "executedQty": "0.01", "cummulativeQuoteQty": "421.005",
		 "timestamp": "2024-03-01 10:00:00", "performance_pct": "1.2345%", "strategy": "SCALPING", "session_id": "7"},
		{"orderId": 9002, "side": "SELL", "price": "41000", "performance_pct": -0.5, "session_id": 7},
		{"orderId": 9003, "side": "BUY", "price": "41000", "performance_pct": "", "session_id": ""},
		{"orderId": 9004, "side": "SELL", "price": "41000", "performance_pct": "n/a"}
	]`

	var rows []OrderRecord
	require.NoError(t, json.Unmarshal([]byte(payload), &rows))
	require.Len(t, rows, 4)

	assert.True(t, rows[0].PerformancePct.Valid)
	assert.Equal(t, "1.2345", rows[0].PerformancePct.Decimal.String())
	assert.Equal(t, SessionID(7), rows[0].SessionID)

	assert.Equal(t, "-0.5", rows[1].PerformancePct.Decimal.String())
	assert.Equal(t, SessionID(7), rows[1].SessionID)

	assert.False(t, rows[2].PerformancePct.Valid)
	assert.Equal(t, NoSession, rows[2].SessionID)
	assert.False(t, rows[3].PerformancePct.Valid)
}

func TestSessionIDRejectsText(t *testing.T) {
	var id SessionID
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &id))

	require.NoError(t, json.Unmarshal([]byte(`" 12 "`), &id))
	assert.Equal(t, SessionID(12), id)
}

func TestRegistryStateFind(t *testing.T) {
	rs := RegistryState{Sessions: []Session{{ID: 1, Status: SessionActive}, {ID: 2}}}
	s, ok := rs.Find(1)
	assert.True(t, ok)
	assert.True(t, s.IsActive())
	_, ok = rs.Find(5)
	assert.False(t, ok)

	c := rs.Clone()
	c.Sessions[0].Name = "x"
	assert.Empty(t, rs.Sessions[0].Name)
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "7", SessionID(7).String())
	assert.Equal(t, "none", NoSession.String())
}
