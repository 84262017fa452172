package persistence

import "bot-dashboard-go/internal/models"

// SnapshotRepository stores what the dashboard needs to come back up
// without a backend: the last known bot snapshot and the session the
// operator had selected.
type SnapshotRepository interface {
	// SaveSnapshot overwrites the stored snapshot.
	SaveSnapshot(state *models.BotState) error

	// LoadSnapshot returns (nil, nil) when nothing has been stored yet.
	LoadSnapshot() (*models.BotState, error)

	// SaveSelection records the selected session. NoSession clears it.
	SaveSelection(id models.SessionID) error

	// LoadSelection returns NoSession when nothing has been stored yet.
	LoadSelection() (models.SessionID, error)

	Close() error
}
