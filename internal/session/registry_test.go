package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bot-dashboard-go/internal/api"
	"bot-dashboard-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockBackend is a hand-written Backend with call counters.
type mockBackend struct {
	sync.Mutex
	active      models.SessionID
	activeErr   error
	sessions    []models.Session
	sessionsErr error
	createErr   error
	deleteErr   error

	activeCalls   int
	sessionsCalls int
	createCalls   int
	deleteCalls   int
	deleted       []models.SessionID
}

func (m *mockBackend) ActiveSession(ctx context.Context) (models.SessionID, error) {
	m.Lock()
	defer m.Unlock()
	m.activeCalls++
	return m.active, m.activeErr
}

func (m *mockBackend) Sessions(ctx context.Context) ([]models.Session, error) {
	m.Lock()
	defer m.Unlock()
	m.sessionsCalls++
	return append([]models.Session(nil), m.sessions...), m.sessionsErr
}

func (m *mockBackend) CreateSession(ctx context.Context, strategy string) (api.CommandResult, error) {
	m.Lock()
	defer m.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return api.CommandResult{}, m.createErr
	}
	id := models.SessionID(len(m.sessions) + 100)
	m.sessions = append(m.sessions, models.Session{ID: id, Strategy: strategy, Status: models.SessionActive})
	m.active = id
	return api.CommandResult{Message: "created"}, nil
}

func (m *mockBackend) DeleteSession(ctx context.Context, id models.SessionID) (api.CommandResult, error) {
	m.Lock()
	defer m.Unlock()
	m.deleteCalls++
	if m.deleteErr != nil {
		return api.CommandResult{}, m.deleteErr
	}
	m.deleted = append(m.deleted, id)
	kept := m.sessions[:0]
	for _, s := range m.sessions {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	m.sessions = kept
	return api.CommandResult{Message: "deleted"}, nil
}

func (m *mockBackend) networkCalls() int {
	m.Lock()
	defer m.Unlock()
	return m.activeCalls + m.sessionsCalls + m.createCalls + m.deleteCalls
}

func (m *mockBackend) set(active models.SessionID, sessions ...models.Session) {
	m.Lock()
	defer m.Unlock()
	m.active = active
	m.sessions = sessions
}

type mockSelectionStore struct {
	sync.Mutex
	saved []models.SessionID
}

func (m *mockSelectionStore) SaveSelection(id models.SessionID) error {
	m.Lock()
	defer m.Unlock()
	m.saved = append(m.saved, id)
	return nil
}

func closed(id models.SessionID) models.Session {
	return models.Session{ID: id, Status: models.SessionClosed}
}

func active(id models.SessionID) models.Session {
	return models.Session{ID: id, Status: models.SessionActive}
}

func TestRefreshSelectsActiveSession(t *testing.T) {
	backend := &mockBackend{}
	backend.set(7, closed(3), active(7))
	r := New(backend, zap.NewNop())

	state := r.Refresh(context.Background())
	assert.Equal(t, models.SessionID(7), state.ActiveID)
	assert.Equal(t, models.SessionID(7), state.SelectedID)
	require.Len(t, state.Sessions, 2)
	assert.Equal(t, models.SessionID(3), state.Sessions[0].ID)
}

func TestRefreshSortsByID(t *testing.T) {
	backend := &mockBackend{}
	backend.set(models.NoSession, closed(9), closed(2), closed(5))
	r := New(backend, zap.NewNop())

	state := r.Refresh(context.Background())
	ids := []models.SessionID{}
	for _, s := range state.Sessions {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []models.SessionID{2, 5, 9}, ids)
}

func TestRefreshSelectionFallback(t *testing.T) {
	backend := &mockBackend{}
	backend.set(7, closed(3), active(7))
	r := New(backend, zap.NewNop())
	r.Refresh(context.Background())

	// previous selection still present: kept
	require.True(t, r.Select(3))
	state := r.Refresh(context.Background())
	assert.Equal(t, models.SessionID(3), state.SelectedID)

	// previous selection gone: falls back to active
	backend.set(7, active(7))
	state = r.Refresh(context.Background())
	assert.Equal(t, models.SessionID(7), state.SelectedID)

	// previous gone and no active: none
	backend.set(models.NoSession, closed(4))
	state = r.Refresh(context.Background())
	assert.Equal(t, models.NoSession, state.SelectedID)
}

func TestRefreshDegradesOnFailure(t *testing.T) {
	backend := &mockBackend{activeErr: errors.New("timeout")}
	backend.set(7, closed(3), active(7))
	r := New(backend, zap.NewNop())

	state := r.Refresh(context.Background())
	assert.Equal(t, models.NoSession, state.ActiveID)
	assert.Len(t, state.Sessions, 2)
	assert.Equal(t, models.NoSession, state.SelectedID)

	backend.Lock()
	backend.activeErr = nil
	backend.sessionsErr = errors.New("500")
	backend.Unlock()

	state = r.Refresh(context.Background())
	assert.Equal(t, models.SessionID(7), state.ActiveID)
	assert.Empty(t, state.Sessions)
	assert.Equal(t, models.NoSession, state.SelectedID)
}

func TestRefreshUsesPreferredSelection(t *testing.T) {
	backend := &mockBackend{}
	backend.set(7, closed(3), active(7))
	r := New(backend, zap.NewNop(), WithPreferredSelection(3))

	state := r.Refresh(context.Background())
	assert.Equal(t, models.SessionID(3), state.SelectedID)
}

func TestRefreshIgnoresMissingPreferredSelection(t *testing.T) {
	backend := &mockBackend{}
	backend.set(7, active(7))
	r := New(backend, zap.NewNop(), WithPreferredSelection(42))

	state := r.Refresh(context.Background())
	assert.Equal(t, models.SessionID(7), state.SelectedID)
}

func TestSelect(t *testing.T) {
	backend := &mockBackend{}
	backend.set(7, closed(3), active(7))
	store := &mockSelectionStore{}
	var selected []models.SessionID
	r := New(backend, zap.NewNop(),
		WithSelectionStore(store),
		OnSelect(func(id models.SessionID) { selected = append(selected, id) }))
	r.Refresh(context.Background())

	assert.False(t, r.Select(99))
	assert.Equal(t, models.SessionID(7), r.Selected())

	assert.True(t, r.Select(3))
	assert.Equal(t, models.SessionID(3), r.Selected())
	assert.Equal(t, []models.SessionID{7, 3}, selected)
	assert.Equal(t, []models.SessionID{7, 3}, store.saved)
}

func TestCreateRefreshes(t *testing.T) {
	backend := &mockBackend{}
	backend.set(models.NoSession, closed(1))
	var changes int
	r := New(backend, zap.NewNop(), OnChange(func(models.RegistryState) { changes++ }))
	r.Refresh(context.Background())

	res, err := r.Create(context.Background(), "SWING")
	require.NoError(t, err)
	assert.Equal(t, "created", res.Message)

	state := r.State()
	assert.Len(t, state.Sessions, 2)
	assert.Equal(t, state.ActiveID, state.SelectedID)
	assert.Equal(t, 2, changes)
}

func TestCreateFailureDoesNotRefresh(t *testing.T) {
	backend := &mockBackend{createErr: &models.Error{Kind: models.CommandFailure, Msg: "nope"}}
	r := New(backend, zap.NewNop())

	_, err := r.Create(context.Background(), "SWING")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.CommandFailure))
	assert.Equal(t, 0, backend.sessionsCalls)
}

func TestRemoveActiveSessionIsRejectedLocally(t *testing.T) {
	backend := &mockBackend{}
	backend.set(7, closed(3), active(7))
	r := New(backend, zap.NewNop())
	r.Refresh(context.Background())
	before := backend.networkCalls()

	_, err := r.Remove(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.GuardRejection))
	assert.ErrorIs(t, err, models.ErrActiveSession)
	assert.Equal(t, before, backend.networkCalls())
}

func TestRemoveClosedSession(t *testing.T) {
	backend := &mockBackend{}
	backend.set(7, closed(3), active(7))
	r := New(backend, zap.NewNop())
	r.Refresh(context.Background())
	require.True(t, r.Select(3))

	_, err := r.Remove(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []models.SessionID{3}, backend.deleted)

	state := r.State()
	assert.Len(t, state.Sessions, 1)
	assert.Equal(t, models.SessionID(7), state.SelectedID)
}

func TestStaleRefreshDiscarded(t *testing.T) {
	backend := &blockingBackend{
		mockBackend: &mockBackend{},
		entered:     make(chan struct{}),
		gate:        make(chan struct{}),
	}
	backend.set(1, active(1))
	r := New(backend, zap.NewNop())

	done := make(chan models.RegistryState)
	go func() { done <- r.Refresh(context.Background()) }()
	<-backend.entered

	// a newer refresh completes while the first one is still in flight
	backend.set(2, closed(1), active(2))
	fresh := r.Refresh(context.Background())
	assert.Equal(t, models.SessionID(2), fresh.ActiveID)

	close(backend.gate)
	stale := <-done
	assert.Equal(t, models.SessionID(2), stale.ActiveID)
	assert.Len(t, stale.Sessions, 2)
	assert.Equal(t, models.SessionID(2), r.ActiveID())
}

func TestRefreshCallbacksFollowApplyOrder(t *testing.T) {
	backend := &mockBackend{}
	backend.set(1, active(1))

	entered := make(chan struct{})
	release := make(chan struct{})
	var (
		once sync.Once
		mu   sync.Mutex
		seen []models.SessionID
	)
	r := New(backend, zap.NewNop(), OnChange(func(s models.RegistryState) {
		once.Do(func() {
			close(entered)
			<-release
		})
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.ActiveID)
	}))

	first := make(chan struct{})
	go func() {
		r.Refresh(context.Background())
		close(first)
	}()
	<-entered

	// the newer refresh merges while the first one's callback is still running
	backend.set(2, closed(1), active(2))
	second := make(chan struct{})
	go func() {
		r.Refresh(context.Background())
		close(second)
	}()
	require.Eventually(t, func() bool {
		backend.Lock()
		defer backend.Unlock()
		return backend.activeCalls == 2
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	close(release)
	<-first
	<-second

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, models.SessionID(2), seen[len(seen)-1])
	assert.Equal(t, models.SessionID(2), r.ActiveID())
}

// blockingBackend holds the first Sessions call until gate is closed.
type blockingBackend struct {
	*mockBackend
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (b *blockingBackend) Sessions(ctx context.Context) ([]models.Session, error) {
	list, err := b.mockBackend.Sessions(ctx)
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.entered)
		<-b.gate
	}
	return list, err
}
