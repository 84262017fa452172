// Package dashboard wires the push connection, the state store, the session
// registry and the REST backend together and exposes the operator commands.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"bot-dashboard-go/internal/api"
	"bot-dashboard-go/internal/connection"
	"bot-dashboard-go/internal/models"
	"bot-dashboard-go/internal/router"
	"bot-dashboard-go/internal/session"
	"bot-dashboard-go/internal/statestore"
	"bot-dashboard-go/internal/telemetry"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

const defaultCallTimeout = 10 * time.Second

// Options configures a Dashboard.
type Options struct {
	Connection        connection.Options
	ConnectionOptions []connection.Option

	// CallTimeout bounds each background REST call.
	CallTimeout time.Duration

	// DefaultStrategy is used by CreateSession when no strategy is given.
	DefaultStrategy string

	// PreferredSelection is the session selected in a previous run.
	PreferredSelection models.SessionID
	SelectionStore     session.SelectionStore
	SnapshotSaver      statestore.Saver

	Metrics *telemetry.Metrics
}

// OptionsFromConfig maps the client configuration onto Options.
func OptionsFromConfig(cfg *models.Config) Options {
	return Options{
		Connection:      connection.OptionsFromConfig(cfg),
		CallTimeout:     time.Duration(cfg.HTTPTimeoutSec) * time.Second,
		DefaultStrategy: cfg.DefaultStrategy,
	}
}

// Dashboard is the client core. Create it with New, call Connect, and Close
// it when done.
type Dashboard struct {
	backend  api.Backend
	store    *statestore.Store
	registry *session.Registry
	router   *router.Router
	conn     *connection.Manager
	view     View

	history sequencer
	stats   sequencer

	opts    Options
	metrics *telemetry.Metrics
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     conc.WaitGroup
}

// New builds a Dashboard in the Disconnected state. The view may be nil.
func New(backend api.Backend, view View, logger *zap.Logger, opts Options) *Dashboard {
	if view == nil {
		view = NopView{}
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dashboard{
		backend: backend,
		view:    view,
		opts:    opts,
		metrics: opts.Metrics,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	d.store = statestore.New(opts.SnapshotSaver, logger.Named("statestore"))

	registryOpts := []session.Option{
		session.WithPreferredSelection(opts.PreferredSelection),
		session.OnChange(d.view.SessionsChanged),
		session.OnSelect(d.selectionChanged),
		session.WithMetrics(opts.Metrics),
	}
	if opts.SelectionStore != nil {
		registryOpts = append(registryOpts, session.WithSelectionStore(opts.SelectionStore))
	}
	d.registry = session.New(backend, logger.Named("session"), registryOpts...)

	d.router = router.New(router.Handlers{
		Log:          d.onLog,
		Status:       d.onStatus,
		Ticker:       d.onTicker,
		OrderHistory: d.onOrderHistory,
		Stats:        d.onStats,
		Signal:       d.onSignal,
		Heartbeat:    d.onHeartbeat,
		Diagnostic:   func(sev models.Severity, msg string) { d.view.LogLine(msg, sev) },
	}, logger.Named("router"), router.WithMetrics(opts.Metrics))

	connOpts := []connection.Option{
		connection.WithStateHandler(d.view.ConnectionStateChanged),
		connection.WithWarningHandler(func(msg string) { d.view.LogLine(msg, models.SeverityWarn) }),
		connection.WithOpenHandler(d.resync),
		connection.WithMetrics(opts.Metrics),
	}
	connOpts = append(connOpts, opts.ConnectionOptions...)
	d.conn = connection.New(opts.Connection, d.router.Dispatch, logger.Named("connection"), connOpts...)

	d.store.Start()
	return d
}

// Close disconnects, waits for background fetches and flushes the store.
func (d *Dashboard) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.conn.Disconnect()
	d.cancel()
	d.wg.Wait()
	d.store.Stop()
}

// Connect opens the push channel. Reconnects are handled internally.
func (d *Dashboard) Connect() { d.conn.Connect() }

// Disconnect closes the push channel and cancels any pending reconnect.
func (d *Dashboard) Disconnect() { d.conn.Disconnect() }

// ConnectionState returns the push channel's state.
func (d *Dashboard) ConnectionState() models.ConnectionState { return d.conn.State() }

// Snapshot returns a copy of the latest bot state, or nil before the first one.
func (d *Dashboard) Snapshot() *models.BotState { return d.store.Snapshot() }

// Sessions returns a copy of the session registry state.
func (d *Dashboard) Sessions() models.RegistryState { return d.registry.State() }

// RefreshSessions re-fetches the session list and active session.
func (d *Dashboard) RefreshSessions(ctx context.Context) models.RegistryState {
	return d.registry.Refresh(ctx)
}

// Start asks the backend to start the bot. Success only means the request
// was accepted; the new status arrives as a push update.
func (d *Dashboard) Start(ctx context.Context) (api.CommandResult, error) {
	res, err := d.backend.Start(ctx)
	d.commandDone(ctx, "start", res, err)
	return res, err
}

// Stop asks the backend to stop the bot.
func (d *Dashboard) Stop(ctx context.Context) (api.CommandResult, error) {
	res, err := d.backend.Stop(ctx)
	d.commandDone(ctx, "stop", res, err)
	return res, err
}

// SaveParameters sends a configuration delta unchanged.
func (d *Dashboard) SaveParameters(ctx context.Context, delta map[string]any) (api.CommandResult, error) {
	res, err := d.backend.SaveParameters(ctx, delta)
	d.commandDone(ctx, "save parameters", res, err)
	if err == nil && res.RestartRecommended {
		d.view.LogLine("parameters saved, restart the bot to apply them", models.SeverityWarn)
	}
	return res, err
}

// SelectSession focuses a listed session and loads its history and stats.
func (d *Dashboard) SelectSession(id models.SessionID) error {
	if !d.registry.Select(id) {
		err := &models.Error{
			Kind: models.GuardRejection,
			Op:   "select session",
			Msg:  fmt.Sprintf("session %s is not listed", id),
		}
		d.view.LogLine(err.Error(), models.SeverityError)
		return err
	}
	return nil
}

// CreateSession creates a session with the given strategy, or the default
// strategy when empty, and refreshes the registry.
func (d *Dashboard) CreateSession(ctx context.Context, strategy string) (api.CommandResult, error) {
	if strings.TrimSpace(strategy) == "" {
		strategy = d.opts.DefaultStrategy
	}
	res, err := d.registry.Create(ctx, strategy)
	d.commandDone(ctx, "create session", res, err)
	return res, err
}

// DeleteSession removes a closed session. Deleting the active session is
// rejected without contacting the backend.
func (d *Dashboard) DeleteSession(ctx context.Context, id models.SessionID) (api.CommandResult, error) {
	res, err := d.registry.Remove(ctx, id)
	d.commandDone(ctx, "delete session", res, err)
	return res, err
}

func (d *Dashboard) commandDone(ctx context.Context, op string, res api.CommandResult, err error) {
	d.metrics.Command(ctx, op, err)
	if err != nil {
		d.logger.Warn("command failed", zap.String("op", op), zap.Error(err))
		d.view.LogLine(err.Error(), models.SeverityError)
		return
	}
	msg := res.Message
	if msg == "" {
		msg = op + " accepted"
	}
	d.view.LogLine(msg, models.SeverityInfo)
}

// resync runs on every open: fetch the snapshot and refresh the sessions,
// independently, off the reader goroutine.
func (d *Dashboard) resync() {
	d.spawn(func(ctx context.Context) {
		var wg conc.WaitGroup
		wg.Go(func() { d.fetchSnapshot(ctx) })
		wg.Go(func() { d.registry.Refresh(ctx) })
		wg.Wait()
	})
}

func (d *Dashboard) fetchSnapshot(ctx context.Context) {
	fence := d.store.Fence()
	state, err := d.backend.Status(ctx)
	if err != nil {
		d.logger.Warn("fetch status failed", zap.Error(err))
		d.view.LogLine("could not load bot status: "+err.Error(), models.SeverityWarn)
		return
	}
	if d.conn.State() != models.Open {
		d.logger.Debug("discarding status fetched for a closed connection")
		d.metrics.StaleDiscarded(ctx, "snapshot")
		return
	}
	if !d.store.ApplyFetched(fence, state) {
		d.metrics.StaleDiscarded(ctx, "snapshot")
		return
	}
	d.view.SnapshotChanged(d.store.Snapshot())
}

func (d *Dashboard) selectionChanged(id models.SessionID) {
	if id == models.NoSession {
		// supersede fetches still in flight for the old selection
		d.history.accept(d.history.next())
		d.stats.accept(d.stats.next())
		d.view.HistoryChanged(models.NoSession, nil)
		d.view.StatsChanged(models.NoSession, nil)
		return
	}
	d.spawn(func(ctx context.Context) { d.fetchHistory(ctx, id) })
	d.spawn(func(ctx context.Context) { d.fetchStats(ctx, id) })
}

func (d *Dashboard) fetchHistory(ctx context.Context, id models.SessionID) {
	seq := d.history.next()
	rows, err := d.backend.OrderHistory(ctx, id)
	if err != nil {
		d.logger.Warn("fetch order history failed", zap.Stringer("session", id), zap.Error(err))
		d.view.LogLine(fmt.Sprintf("could not load order history for session %s: %v", id, err), models.SeverityWarn)
		return
	}
	if d.registry.Selected() != id || !d.history.accept(seq) {
		d.metrics.StaleDiscarded(ctx, "history")
		return
	}
	d.view.HistoryChanged(id, rows)
}

func (d *Dashboard) fetchStats(ctx context.Context, id models.SessionID) {
	seq := d.stats.next()
	stats, err := d.backend.Stats(ctx, id)
	if err != nil {
		d.logger.Warn("fetch stats failed", zap.Stringer("session", id), zap.Error(err))
		d.view.LogLine(fmt.Sprintf("could not load stats for session %s: %v", id, err), models.SeverityWarn)
		return
	}
	if d.registry.Selected() != id || !d.stats.accept(seq) {
		d.metrics.StaleDiscarded(ctx, "stats")
		return
	}
	d.view.StatsChanged(id, stats)
}

func (d *Dashboard) onLog(ev router.LogEvent) {
	d.view.LogLine(ev.Message, ev.Severity)
}

func (d *Dashboard) onStatus(ev router.StatusUpdate) {
	if ev.State == nil {
		d.logger.Debug("status update without state")
		return
	}
	d.store.ApplyFull(ev.State)
	d.view.SnapshotChanged(d.store.Snapshot())

	if ev.State.ActiveSession() != d.registry.ActiveID() {
		d.spawn(func(ctx context.Context) { d.registry.Refresh(ctx) })
	}
}

func (d *Dashboard) onTicker(ev router.TickerUpdate) {
	if d.store.ApplyTickerPatch(ev.Patch) {
		d.view.SnapshotChanged(d.store.Snapshot())
	}
}

func (d *Dashboard) onOrderHistory(ev router.OrderHistoryUpdate) {
	if !router.Applies(ev.SessionID, d.registry.Selected()) {
		return
	}
	id := ev.SessionID
	d.spawn(func(ctx context.Context) { d.fetchHistory(ctx, id) })
}

func (d *Dashboard) onStats(ev router.StatsUpdate) {
	if !router.Applies(ev.SessionID, d.registry.Selected()) {
		return
	}
	id := ev.SessionID
	if ev.Stats != nil {
		d.stats.accept(d.stats.next())
		d.view.StatsChanged(id, ev.Stats)
		return
	}
	d.spawn(func(ctx context.Context) { d.fetchStats(ctx, id) })
}

func (d *Dashboard) onSignal(ev router.SignalEvent) {
	d.view.Signal(ev.SignalEvent)
}

func (d *Dashboard) onHeartbeat(router.Heartbeat) {
	d.logger.Debug("heartbeat")
}

// spawn runs fn on its own goroutine with a bounded context. Nothing is
// started once the dashboard is closed.
func (d *Dashboard) spawn(fn func(ctx context.Context)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.wg.Go(func() {
		ctx, cancel := context.WithTimeout(d.ctx, d.opts.CallTimeout)
		defer cancel()
		fn(ctx)
	})
}

// sequencer orders results of overlapping fetches of the same kind.
type sequencer struct {
	mu      sync.Mutex
	issued  uint64
	applied uint64
}

func (s *sequencer) next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// accept reports whether seq is not older than the last accepted result.
func (s *sequencer) accept(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.applied {
		return false
	}
	s.applied = seq
	return true
}
