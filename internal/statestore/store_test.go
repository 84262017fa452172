package statestore

import (
	"errors"
	"sync"
	"testing"
	"time"

	"bot-dashboard-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockSaver records saved snapshots for assertions.
type mockSaver struct {
	sync.Mutex
	saved     []*models.BotState
	saveError error
	saveDone  chan struct{}
}

func newMockSaver() *mockSaver {
	return &mockSaver{saveDone: make(chan struct{}, 16)}
}

func (m *mockSaver) SaveSnapshot(state *models.BotState) error {
	m.Lock()
	m.saved = append(m.saved, state)
	m.Unlock()
	m.saveDone <- struct{}{}
	return m.saveError
}

func (m *mockSaver) last() *models.BotState {
	m.Lock()
	defer m.Unlock()
	if len(m.saved) == 0 {
		return nil
	}
	return m.saved[len(m.saved)-1]
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func runningSnapshot() *models.BotState {
	return &models.BotState{
		Status:           "RUNNING",
		Symbol:           "BTCUSDT",
		Timeframe:        "1m",
		AvailableBalance: dec("1000"),
		InPosition:       true,
		Config:           map[string]any{"SYMBOL": "BTCUSDT", "RISK_PER_TRADE_PERCENT": 0.01},
		Ticker: models.Ticker{
			Symbol: "BTCUSDT",
			Bid:    dec("90"),
			BidQty: dec("3"),
			Ask:    dec("91"),
			AskQty: dec("4"),
		},
	}
}

func TestSnapshotNilBeforeFirstApply(t *testing.T) {
	s := New(nil, zap.NewNop())
	assert.Nil(t, s.Snapshot())
	assert.Equal(t, uint64(0), s.Version())
}

func TestApplyFullReplacesSnapshot(t *testing.T) {
	s := New(nil, zap.NewNop())
	s.ApplyFull(runningSnapshot())

	snap := s.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, "RUNNING", snap.Status)
	assert.False(t, snap.ReceivedAt.IsZero())

	s.ApplyFull(&models.BotState{Status: "STOPPED"})
	snap = s.Snapshot()
	assert.Equal(t, "STOPPED", snap.Status)
	assert.Empty(t, snap.Symbol)
	assert.Equal(t, uint64(2), s.Version())
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New(nil, zap.NewNop())
	s.ApplyFull(runningSnapshot())

	snap := s.Snapshot()
	snap.Status = "MUTATED"
	snap.Config["SYMBOL"] = "ETHUSDT"

	again := s.Snapshot()
	assert.Equal(t, "RUNNING", again.Status)
	assert.Equal(t, "BTCUSDT", again.Config["SYMBOL"])
}

func TestApplyTickerPatchOnlyTouchesPriceFields(t *testing.T) {
	s := New(nil, zap.NewNop())
	s.ApplyFull(runningSnapshot())
	before := s.Snapshot()

	bid, ask := dec("100"), dec("102")
	require.True(t, s.ApplyTickerPatch(models.TickerPatch{Bid: &bid, Ask: &ask}))

	after := s.Snapshot()
	assert.True(t, after.Ticker.Bid.Equal(bid))
	assert.True(t, after.Ticker.Ask.Equal(ask))
	assert.True(t, after.Ticker.BidQty.Equal(before.Ticker.BidQty))
	assert.True(t, after.Ticker.AskQty.Equal(before.Ticker.AskQty))
	assert.Equal(t, before.Ticker.Symbol, after.Ticker.Symbol)

	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Symbol, after.Symbol)
	assert.Equal(t, before.Timeframe, after.Timeframe)
	assert.Equal(t, before.InPosition, after.InPosition)
	assert.Equal(t, before.Config, after.Config)
	assert.True(t, after.AvailableBalance.Equal(before.AvailableBalance))
}

func TestApplyTickerPatchBeforeSnapshotIgnored(t *testing.T) {
	s := New(nil, zap.NewNop())
	bid := dec("100")
	assert.False(t, s.ApplyTickerPatch(models.TickerPatch{Bid: &bid}))
	assert.Nil(t, s.Snapshot())
	assert.Equal(t, uint64(0), s.Version())
}

func TestApplyTickerPatchEmptyIgnored(t *testing.T) {
	s := New(nil, zap.NewNop())
	s.ApplyFull(runningSnapshot())
	assert.False(t, s.ApplyTickerPatch(models.TickerPatch{}))
	assert.Equal(t, uint64(1), s.Version())
}

func TestApplyFetchedDiscardedAfterPush(t *testing.T) {
	s := New(nil, zap.NewNop())

	fence := s.Fence()
	// a push lands while the fetch is in flight
	s.ApplyFull(&models.BotState{Status: "RUNNING"})

	applied := s.ApplyFetched(fence, &models.BotState{Status: "STOPPED"})
	assert.False(t, applied)
	assert.Equal(t, "RUNNING", s.Snapshot().Status)
}

func TestApplyFetchedAppliedWhenNoPushInBetween(t *testing.T) {
	s := New(nil, zap.NewNop())
	s.ApplyFull(&models.BotState{Status: "RUNNING"})

	fence := s.Fence()
	assert.True(t, s.ApplyFetched(fence, &models.BotState{Status: "STOPPED"}))
	assert.Equal(t, "STOPPED", s.Snapshot().Status)

	// the same fence is spent
	assert.False(t, s.ApplyFetched(fence, &models.BotState{Status: "ERROR"}))
}

func TestPersistenceLoopSavesLatest(t *testing.T) {
	repo := newMockSaver()
	s := New(repo, zap.NewNop())
	s.Start()
	defer s.Stop()

	s.ApplyFull(runningSnapshot())

	select {
	case <-repo.saveDone:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot to be saved")
	}
	saved := repo.last()
	require.NotNil(t, saved)
	assert.Equal(t, "RUNNING", saved.Status)
}

func TestPersistenceErrorDoesNotStopStore(t *testing.T) {
	repo := newMockSaver()
	repo.saveError = errors.New("disk full")
	s := New(repo, zap.NewNop())
	s.Start()

	s.ApplyFull(&models.BotState{Status: "RUNNING"})
	select {
	case <-repo.saveDone:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for save attempt")
	}
	s.ApplyFull(&models.BotState{Status: "STOPPED"})
	s.Stop()

	assert.Equal(t, "STOPPED", s.Snapshot().Status)
	s.Stop()
}
