package statestore

import (
	"sync"
	"time"

	"bot-dashboard-go/internal/models"

	"go.uber.org/zap"
)

// Saver is the subset of the persistence layer the store writes to.
type Saver interface {
	SaveSnapshot(state *models.BotState) error
}

// Fence marks the store version observed before a request/response call
// was issued. See ApplyFetched.
type Fence uint64

// Store holds the latest reconciled snapshot of backend state.
// All mutations happen in one critical section, so readers never observe a
// partially applied snapshot.
type Store struct {
	mu      sync.RWMutex
	state   *models.BotState
	version uint64

	repo            Saver
	persistenceChan chan *models.BotState
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	logger          *zap.Logger
}

// New creates a Store. repo may be nil, in which case nothing is persisted.
func New(repo Saver, logger *zap.Logger) *Store {
	return &Store{
		repo:            repo,
		persistenceChan: make(chan *models.BotState, 1),
		stopChan:        make(chan struct{}),
		logger:          logger,
	}
}

// Start begins the persistence loop.
func (s *Store) Start() {
	s.wg.Add(1)
	go s.persistenceLoop()
	s.logger.Sugar().Debug("StateStore started.")
}

// Stop shuts down the persistence loop after flushing the pending snapshot.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		s.logger.Sugar().Debug("StateStore stopped.")
	})
}

// ApplyFull replaces the whole snapshot. Used for pushed status updates.
func (s *Store) ApplyFull(state *models.BotState) {
	if state == nil {
		return
	}
	next := state.DeepCopy()
	if next.ReceivedAt.IsZero() {
		next.ReceivedAt = time.Now()
	}

	s.mu.Lock()
	s.state = next
	s.version++
	s.mu.Unlock()

	s.enqueue(next.DeepCopy())
}

// Fence returns the current version, to be passed to ApplyFetched once the
// request/response call it guards completes.
func (s *Store) Fence() Fence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Fence(s.version)
}

// ApplyFetched applies a snapshot obtained by request/response. It is
// discarded, and false returned, when any push mutation was applied after
// the fence was taken.
func (s *Store) ApplyFetched(fence Fence, state *models.BotState) bool {
	if state == nil {
		return false
	}
	next := state.DeepCopy()
	if next.ReceivedAt.IsZero() {
		next.ReceivedAt = time.Now()
	}

	s.mu.Lock()
	if uint64(fence) != s.version {
		current := s.version
		s.mu.Unlock()
		s.logger.Debug("discarding stale fetched snapshot",
			zap.Uint64("fence", uint64(fence)), zap.Uint64("version", current))
		return false
	}
	s.state = next
	s.version++
	s.mu.Unlock()

	s.enqueue(next.DeepCopy())
	return true
}

// ApplyTickerPatch merges the price fields present in p into the current
// snapshot's ticker. Patches arriving before the first snapshot are ignored.
func (s *Store) ApplyTickerPatch(p models.TickerPatch) bool {
	if p.Empty() {
		return false
	}

	s.mu.Lock()
	if s.state == nil {
		s.mu.Unlock()
		s.logger.Debug("ignoring ticker update before first snapshot")
		return false
	}
	next := s.state.DeepCopy()
	next.Ticker.Apply(p)
	if p.Last != nil {
		next.CurrentPrice = *p.Last
	}
	s.state = next
	s.version++
	s.mu.Unlock()

	s.enqueue(next.DeepCopy())
	return true
}

// Snapshot returns a deep copy of the current snapshot, or nil before the
// first one was applied.
func (s *Store) Snapshot() *models.BotState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.DeepCopy()
}

// Version returns the number of mutations applied so far.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// enqueue hands a copy to the persistence loop, replacing one still waiting.
func (s *Store) enqueue(state *models.BotState) {
	if s.repo == nil {
		return
	}
	for {
		select {
		case s.persistenceChan <- state:
			return
		default:
		}
		select {
		case <-s.persistenceChan:
		default:
		}
	}
}

// persistenceLoop handles the asynchronous saving of snapshots.
func (s *Store) persistenceLoop() {
	defer s.wg.Done()
	for {
		select {
		case state := <-s.persistenceChan:
			s.save(state)
		case <-s.stopChan:
			select {
			case state := <-s.persistenceChan:
				s.save(state)
			default:
			}
			return
		}
	}
}

func (s *Store) save(state *models.BotState) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveSnapshot(state); err != nil {
		s.logger.Sugar().Errorf("Failed to save snapshot: %v", err)
	}
}
