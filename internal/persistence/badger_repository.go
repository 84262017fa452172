package persistence

import (
	"encoding/binary"
	"errors"

	"bot-dashboard-go/internal/models"

	"github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"
)

var (
	snapshotKey  = []byte("dashboard/snapshot")
	selectionKey = []byte("dashboard/selected_session")
)

// badgerRepository is the BadgerDB implementation of SnapshotRepository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository opens (or creates) a BadgerDB database at dbPath.
func NewBadgerRepository(dbPath string) (SnapshotRepository, error) {
	return open(badger.DefaultOptions(dbPath))
}

// NewInMemoryRepository returns a repository that lives only as long as the process.
func NewInMemoryRepository() (SnapshotRepository, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (SnapshotRepository, error) {
	// Badger's own logging is noisy; errors still come back from each call.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerRepository{db: db}, nil
}

// SaveSnapshot marshals the snapshot to JSON and stores it under a single key.
func (r *badgerRepository) SaveSnapshot(state *models.BotState) error {
	if state == nil {
		return errors.New("nil snapshot")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey, data)
	})
}

// LoadSnapshot loads the last stored snapshot.
func (r *badgerRepository) LoadSnapshot() (*models.BotState, error) {
	var state models.BotState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("snapshot value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveSelection stores the selected session id as a big-endian int64.
func (r *badgerRepository) SaveSelection(id models.SessionID) error {
	return r.db.Update(func(txn *badger.Txn) error {
		if id == models.NoSession {
			return txn.Delete(selectionKey)
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(id))
		return txn.Set(selectionKey, buf)
	})
}

// LoadSelection returns the stored selection.
func (r *badgerRepository) LoadSelection() (models.SessionID, error) {
	var id models.SessionID

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(selectionKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return errors.New("corrupt selection value")
			}
			id = models.SessionID(binary.BigEndian.Uint64(val))
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.NoSession, nil
	}
	return id, err
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
