package session

import (
	"context"
	"sort"
	"sync"

	"bot-dashboard-go/internal/api"
	"bot-dashboard-go/internal/models"
	"bot-dashboard-go/internal/telemetry"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// Backend is the part of the REST API the registry uses.
type Backend interface {
	ActiveSession(ctx context.Context) (models.SessionID, error)
	Sessions(ctx context.Context) ([]models.Session, error)
	CreateSession(ctx context.Context, strategy string) (api.CommandResult, error)
	DeleteSession(ctx context.Context, id models.SessionID) (api.CommandResult, error)
}

// SelectionStore persists the selected session across restarts.
type SelectionStore interface {
	SaveSelection(id models.SessionID) error
}

// Registry tracks the known sessions, the backend's active one and the one
// selected for display.
type Registry struct {
	mu        sync.Mutex
	state     models.RegistryState
	preferred models.SessionID // selection restored at startup, consumed by the first refresh
	issued    uint64
	applied   uint64

	// notifyMu is held from a merge until its callbacks return, so callbacks
	// see registry states in the order they were applied.
	notifyMu sync.Mutex

	backend  Backend
	store    SelectionStore
	onChange func(models.RegistryState)
	onSelect func(models.SessionID)
	metrics  *telemetry.Metrics
	logger   *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithSelectionStore saves every selection change to s.
func WithSelectionStore(s SelectionStore) Option {
	return func(r *Registry) { r.store = s }
}

// WithPreferredSelection seeds the selection used by the first refresh.
func WithPreferredSelection(id models.SessionID) Option {
	return func(r *Registry) { r.preferred = id }
}

// OnChange is called with a copy of the state after every change.
func OnChange(fn func(models.RegistryState)) Option {
	return func(r *Registry) { r.onChange = fn }
}

// OnSelect is called with the newly selected id (possibly NoSession) whenever
// the selection is set, so dependent data can be re-fetched.
func OnSelect(fn func(models.SessionID)) Option {
	return func(r *Registry) { r.onSelect = fn }
}

// WithMetrics records refresh counters on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates a Registry with no sessions.
func New(backend Backend, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{backend: backend, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns a copy of the current registry state.
func (r *Registry) State() models.RegistryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Selected returns the selected session id.
func (r *Registry) Selected() models.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.SelectedID
}

// ActiveID returns the backend-reported active session id.
func (r *Registry) ActiveID() models.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.ActiveID
}

// Refresh fetches the active session id and the session list concurrently
// and merges them. A failed fetch degrades to "none" or an empty list and is
// logged. A refresh that completes after a newer one was merged is dropped.
func (r *Registry) Refresh(ctx context.Context) models.RegistryState {
	r.mu.Lock()
	r.issued++
	seq := r.issued
	r.mu.Unlock()

	var (
		activeID models.SessionID
		sessions []models.Session
		wg       conc.WaitGroup
	)
	wg.Go(func() {
		id, err := r.backend.ActiveSession(ctx)
		if err != nil {
			r.logger.Warn("fetch active session failed", zap.Error(err))
			return
		}
		activeID = id
	})
	wg.Go(func() {
		list, err := r.backend.Sessions(ctx)
		if err != nil {
			r.logger.Warn("fetch sessions failed", zap.Error(err))
			return
		}
		sessions = list
	})
	wg.Wait()

	sort.SliceStable(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if seq < r.applied {
		current := r.state.Clone()
		r.mu.Unlock()
		r.logger.Debug("discarding stale session refresh", zap.Uint64("seq", seq))
		r.metrics.StaleDiscarded(ctx, "sessions")
		return current
	}
	r.applied = seq

	previous := r.state.SelectedID
	if previous == models.NoSession {
		previous = r.preferred
	}
	r.preferred = models.NoSession

	next := models.RegistryState{Sessions: sessions, ActiveID: activeID}
	next.SelectedID = pickSelection(previous, activeID, next)
	changed := next.SelectedID != r.state.SelectedID
	r.state = next
	out := next.Clone()
	r.mu.Unlock()

	r.metrics.SessionRefreshed(ctx)
	r.logger.Debug("sessions refreshed",
		zap.Int("count", len(sessions)),
		zap.Stringer("active", activeID),
		zap.Stringer("selected", out.SelectedID))

	r.notify(out)
	if changed {
		r.selectionChanged(out.SelectedID)
	}
	return out
}

// pickSelection keeps the previous selection when it is still listed, else
// falls back to the active session, else to none.
func pickSelection(previous, active models.SessionID, state models.RegistryState) models.SessionID {
	if previous != models.NoSession {
		if _, ok := state.Find(previous); ok {
			return previous
		}
	}
	if active != models.NoSession {
		if _, ok := state.Find(active); ok {
			return active
		}
	}
	return models.NoSession
}

// Select focuses id if it is in the current list. It reports whether the
// selection was applied.
func (r *Registry) Select(id models.SessionID) bool {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if _, ok := r.state.Find(id); !ok {
		r.mu.Unlock()
		return false
	}
	changed := r.state.SelectedID != id
	r.state.SelectedID = id
	out := r.state.Clone()
	r.mu.Unlock()

	if changed {
		r.notify(out)
	}
	r.selectionChanged(id)
	return true
}

// Create asks the backend for a new session and refreshes on success.
func (r *Registry) Create(ctx context.Context, strategy string) (api.CommandResult, error) {
	res, err := r.backend.CreateSession(ctx, strategy)
	if err != nil {
		return res, err
	}
	r.Refresh(ctx)
	return res, nil
}

// Remove deletes a session and refreshes on success. Removing the active
// session is rejected locally without any network call.
func (r *Registry) Remove(ctx context.Context, id models.SessionID) (api.CommandResult, error) {
	r.mu.Lock()
	s, ok := r.state.Find(id)
	r.mu.Unlock()
	if ok && s.IsActive() {
		return api.CommandResult{}, &models.Error{
			Kind: models.GuardRejection,
			Op:   "delete session",
			Msg:  "cannot delete session " + id.String() + " while it is active",
			Err:  models.ErrActiveSession,
		}
	}

	res, err := r.backend.DeleteSession(ctx, id)
	if err != nil {
		return res, err
	}
	r.Refresh(ctx)
	return res, nil
}

func (r *Registry) notify(state models.RegistryState) {
	if r.onChange != nil {
		r.onChange(state)
	}
}

func (r *Registry) selectionChanged(id models.SessionID) {
	if r.store != nil {
		if err := r.store.SaveSelection(id); err != nil {
			r.logger.Warn("persist selected session failed", zap.Error(err))
		}
	}
	if r.onSelect != nil {
		r.onSelect(id)
	}
}
