package router

import (
	"sync"
	"testing"

	"bot-dashboard-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recorder collects every event and diagnostic the router emits.
type recorder struct {
	sync.Mutex
	events      []Event
	diagnostics []string
	severities  []models.Severity
}

func (r *recorder) add(ev Event) {
	r.Lock()
	defer r.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		Log:          func(e LogEvent) { r.add(e) },
		Status:       func(e StatusUpdate) { r.add(e) },
		Ticker:       func(e TickerUpdate) { r.add(e) },
		OrderHistory: func(e OrderHistoryUpdate) { r.add(e) },
		Stats:        func(e StatsUpdate) { r.add(e) },
		Signal:       func(e SignalEvent) { r.add(e) },
		Heartbeat:    func(e Heartbeat) { r.add(e) },
		Diagnostic: func(sev models.Severity, msg string) {
			r.Lock()
			defer r.Unlock()
			r.severities = append(r.severities, sev)
			r.diagnostics = append(r.diagnostics, msg)
		},
	}
}

func newRouter() (*Router, *recorder) {
	rec := &recorder{}
	return New(rec.handlers(), zap.NewNop()), rec
}

func TestDispatchKnownVariants(t *testing.T) {
	r, rec := newRouter()

	r.Dispatch([]byte(`{"type":"info","message":"bot started"}`))
	r.Dispatch([]byte(`{"type":"status_update","state":{"status":"RUNNING","active_session_id":7}}`))
	r.Dispatch([]byte(`{"type":"ticker_update","ticker":{"s":"BTCUSDT","b":"100","a":"102"}}`))
	r.Dispatch([]byte(`{"type":"order_history_update","session_id":7}`))
	r.Dispatch([]byte(`{"type":"stats_update","session_id":7,"stats":{"total_trades":2,"wins":1,"losses":1}}`))
	r.Dispatch([]byte(`{"type":"signal_event","signal_type":"entry","direction":"LONG","valid":true,"reason":"ema cross","price":"101.5"}`))
	r.Dispatch([]byte(`{"type":"ping"}`))

	require.Len(t, rec.events, 7)
	assert.Empty(t, rec.diagnostics)

	logEv := rec.events[0].(LogEvent)
	assert.Equal(t, "bot started", logEv.Message)
	assert.Equal(t, models.SeverityInfo, logEv.Severity)

	status := rec.events[1].(StatusUpdate)
	require.NotNil(t, status.State)
	assert.Equal(t, models.SessionID(7), status.State.ActiveSession())

	ticker := rec.events[2].(TickerUpdate)
	require.NotNil(t, ticker.Patch.Bid)
	assert.Equal(t, "100", ticker.Patch.Bid.String())
	assert.Nil(t, ticker.Patch.BidQty)

	history := rec.events[3].(OrderHistoryUpdate)
	assert.Equal(t, models.SessionID(7), history.SessionID)
	assert.Nil(t, history.Rows)

	stats := rec.events[4].(StatsUpdate)
	require.NotNil(t, stats.Stats)
	assert.Equal(t, 2, stats.Stats.TotalTrades)

	sig := rec.events[5].(SignalEvent)
	assert.Equal(t, "entry", sig.SignalType)
	assert.True(t, sig.Valid)
	assert.True(t, sig.Price.Valid)

	assert.IsType(t, Heartbeat{}, rec.events[6])
}

func TestDispatchLogSeverities(t *testing.T) {
	r, rec := newRouter()
	cases := map[string]models.Severity{
		"debug":    models.SeverityDebug,
		"log":      models.SeverityInfo,
		"warning":  models.SeverityWarn,
		"error":    models.SeverityError,
		"critical": models.SeverityCritical,
	}
	for tag, want := range cases {
		r.Dispatch([]byte(`{"type":"` + tag + `","message":"m"}`))
		ev := rec.events[len(rec.events)-1].(LogEvent)
		assert.Equal(t, want, ev.Severity, tag)
	}
}

func TestDispatchMalformedPayload(t *testing.T) {
	r, rec := newRouter()

	assert.NotPanics(t, func() {
		r.Dispatch([]byte(`{not json`))
		r.Dispatch([]byte(`[1,2,3]`))
		r.Dispatch([]byte(`{"message":"no type"}`))
	})

	assert.Empty(t, rec.events)
	require.Len(t, rec.diagnostics, 3)
	for _, sev := range rec.severities {
		assert.Equal(t, models.SeverityError, sev)
	}
}

func TestDispatchUnknownType(t *testing.T) {
	r, rec := newRouter()

	r.Dispatch([]byte(`{"type":"portfolio_rebalance","payload":{"x":1}}`))

	assert.Empty(t, rec.events)
	require.Len(t, rec.diagnostics, 1)
	assert.Equal(t, models.SeverityWarn, rec.severities[0])
	assert.Contains(t, rec.diagnostics[0], "portfolio_rebalance")
	assert.Contains(t, rec.diagnostics[0], `"x":1`)
}

func TestDispatchIgnoresFieldsOfOtherVariants(t *testing.T) {
	r, rec := newRouter()

	r.Dispatch([]byte(`{"type":"position_update","stats":[1,2,3],"state":"x"}`))
	r.Dispatch([]byte(`{"type":"info","message":"hello","session_id":"abc","history":{}}`))

	require.Len(t, rec.events, 1)
	logEv := rec.events[0].(LogEvent)
	assert.Equal(t, "hello", logEv.Message)

	require.Len(t, rec.diagnostics, 1)
	assert.Equal(t, models.SeverityWarn, rec.severities[0])
	assert.Contains(t, rec.diagnostics[0], "position_update")
}

func TestDecodeInlineHistoryRows(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"order_history_update","session_id":7,"history":[` +
		`{"orderId":"5002","side":"SELL","price":"42518.49","performance_pct":"0.8123%","session_id":"7"},` +
		`{"orderId":"5001","side":"BUY","price":"42000","performance_pct":null,"session_id":"7"}]}`))
	require.NoError(t, err)

	history := ev.(OrderHistoryUpdate)
	assert.Equal(t, models.SessionID(7), history.SessionID)
	require.Len(t, history.Rows, 2)
	assert.Equal(t, "0.8123", history.Rows[0].PerformancePct.Decimal.String())
	assert.Equal(t, models.SessionID(7), history.Rows[0].SessionID)
	assert.False(t, history.Rows[1].PerformancePct.Valid)
}

func TestDecodeStringSessionScope(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"stats_update","session_id":"9"}`))
	require.NoError(t, err)
	assert.Equal(t, models.SessionID(9), ev.(StatsUpdate).SessionScope())
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	rec := &recorder{}
	h := rec.handlers()
	h.Status = func(StatusUpdate) { panic("boom") }
	r := New(h, zap.NewNop())

	assert.NotPanics(t, func() {
		r.Dispatch([]byte(`{"type":"status_update","state":{"status":"RUNNING"}}`))
	})
	require.Len(t, rec.diagnostics, 1)
	assert.Contains(t, rec.diagnostics[0], "boom")

	// the router keeps working afterwards
	r.Dispatch([]byte(`{"type":"info","message":"still alive"}`))
	require.Len(t, rec.events, 1)
}

func TestDispatchNilHandlersDrop(t *testing.T) {
	r := New(Handlers{}, zap.NewNop())
	assert.NotPanics(t, func() {
		r.Dispatch([]byte(`{"type":"status_update"}`))
		r.Dispatch([]byte(`{"type":"mystery"}`))
		r.Dispatch([]byte(`garbage`))
	})
}

func TestDispatchPreservesOrder(t *testing.T) {
	r, rec := newRouter()
	for _, msg := range []string{"a", "b", "c", "d"} {
		r.Dispatch([]byte(`{"type":"info","message":"` + msg + `"}`))
	}
	var got []string
	for _, ev := range rec.events {
		got = append(got, ev.(LogEvent).Message)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}
