package dashboard

import "bot-dashboard-go/internal/models"

// View receives everything the dashboard has to show. Methods are called
// from the connection reader and from background fetch goroutines, so an
// implementation must be safe for concurrent use and must not block.
type View interface {
	ConnectionStateChanged(state models.ConnectionState)
	SnapshotChanged(snapshot *models.BotState)
	SessionsChanged(state models.RegistryState)

	// HistoryChanged and StatsChanged receive NoSession with empty data when
	// the selection is cleared.
	HistoryChanged(id models.SessionID, rows []models.OrderRecord)
	StatsChanged(id models.SessionID, stats *models.Stats)

	LogLine(text string, severity models.Severity)
	Signal(ev models.SignalEvent)
}

// NopView discards every event.
type NopView struct{}

func (NopView) ConnectionStateChanged(models.ConnectionState)         {}
func (NopView) SnapshotChanged(*models.BotState)                      {}
func (NopView) SessionsChanged(models.RegistryState)                  {}
func (NopView) HistoryChanged(models.SessionID, []models.OrderRecord) {}
func (NopView) StatsChanged(models.SessionID, *models.Stats)          {}
func (NopView) LogLine(string, models.Severity)                       {}
func (NopView) Signal(models.SignalEvent)                             {}
