package router

import (
	"bot-dashboard-go/internal/models"

	json "github.com/goccy/go-json"
)

// Kind is the wire discriminant of a pushed message.
type Kind string

const (
	KindLog          Kind = "log"
	KindDebug        Kind = "debug"
	KindInfo         Kind = "info"
	KindWarning      Kind = "warning"
	KindError        Kind = "error"
	KindCritical     Kind = "critical"
	KindStatus       Kind = "status_update"
	KindTicker       Kind = "ticker_update"
	KindOrderHistory Kind = "order_history_update"
	KindStats        Kind = "stats_update"
	KindSignal       Kind = "signal_event"
	KindPing         Kind = "ping"
	KindHeartbeat    Kind = "heartbeat"
)

// Event is one decoded inbound message. The set of implementations is closed.
type Event interface {
	Kind() Kind
	isEvent()
}

// SessionScoped is implemented by events that pertain to one session.
type SessionScoped interface {
	Event
	SessionScope() models.SessionID
}

// LogEvent is a log line pushed by the backend.
type LogEvent struct {
	Tag      Kind
	Message  string
	Severity models.Severity
}

// StatusUpdate carries a full snapshot. State is nil when the push had none.
type StatusUpdate struct {
	State *models.BotState
}

// TickerUpdate carries only the price fields that changed.
type TickerUpdate struct {
	Patch models.TickerPatch
}

// OrderHistoryUpdate notifies that a session's order history changed.
// Rows is nil when the push is a bare notification.
type OrderHistoryUpdate struct {
	SessionID models.SessionID
	Rows      []models.OrderRecord
}

// StatsUpdate carries a session's stats, or nil Stats for a bare notification.
type StatsUpdate struct {
	SessionID models.SessionID
	Stats     *models.Stats
}

// SignalEvent is a strategy signal.
type SignalEvent struct {
	models.SignalEvent
}

// Heartbeat is a keepalive with no payload.
type Heartbeat struct{}

// Unknown is any message whose type is not recognised.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (LogEvent) Kind() Kind           { return KindLog }
func (StatusUpdate) Kind() Kind       { return KindStatus }
func (TickerUpdate) Kind() Kind       { return KindTicker }
func (OrderHistoryUpdate) Kind() Kind { return KindOrderHistory }
func (StatsUpdate) Kind() Kind        { return KindStats }
func (SignalEvent) Kind() Kind        { return KindSignal }
func (Heartbeat) Kind() Kind          { return KindHeartbeat }
func (u Unknown) Kind() Kind          { return Kind(u.Type) }

func (LogEvent) isEvent()           {}
func (StatusUpdate) isEvent()       {}
func (TickerUpdate) isEvent()       {}
func (OrderHistoryUpdate) isEvent() {}
func (StatsUpdate) isEvent()        {}
func (SignalEvent) isEvent()        {}
func (Heartbeat) isEvent()          {}
func (Unknown) isEvent()            {}

func (e OrderHistoryUpdate) SessionScope() models.SessionID { return e.SessionID }
func (e StatsUpdate) SessionScope() models.SessionID        { return e.SessionID }

var logSeverity = map[Kind]models.Severity{
	KindLog:      models.SeverityInfo,
	KindDebug:    models.SeverityDebug,
	KindInfo:     models.SeverityInfo,
	KindWarning:  models.SeverityWarn,
	KindError:    models.SeverityError,
	KindCritical: models.SeverityCritical,
}

// envelope is read first; variant fields are decoded only once the tag is known.
type envelope struct {
	Type *string `json:"type"`
}

type logPayload struct {
	Message json.RawMessage `json:"message"`
}

type statusPayload struct {
	State *models.BotState `json:"state"`
}

type tickerPayload struct {
	Ticker json.RawMessage `json:"ticker"`
}

type historyPayload struct {
	SessionID *models.SessionID    `json:"session_id"`
	History   []models.OrderRecord `json:"history"`
}

type statsPayload struct {
	SessionID *models.SessionID `json:"session_id"`
	Stats     *models.Stats     `json:"stats"`
}

// Decode parses raw into an Event. A payload that is not a JSON object with
// a string "type" field is an error; an unrecognised type is not, whatever
// its other fields hold.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Type == nil {
		return nil, errMissingType
	}
	tag := Kind(*env.Type)

	if sev, ok := logSeverity[tag]; ok {
		var p logPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return LogEvent{Tag: tag, Message: messageText(p.Message), Severity: sev}, nil
	}

	switch tag {
	case KindStatus:
		var p statusPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return StatusUpdate{State: p.State}, nil
	case KindTicker:
		var p tickerPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		var patch models.TickerPatch
		if len(p.Ticker) > 0 && string(p.Ticker) != "null" {
			if err := json.Unmarshal(p.Ticker, &patch); err != nil {
				return nil, err
			}
		}
		return TickerUpdate{Patch: patch}, nil
	case KindOrderHistory:
		var p historyPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return OrderHistoryUpdate{SessionID: sessionOf(p.SessionID), Rows: p.History}, nil
	case KindStats:
		var p statsPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return StatsUpdate{SessionID: sessionOf(p.SessionID), Stats: p.Stats}, nil
	case KindSignal:
		var sig models.SignalEvent
		if err := json.Unmarshal(raw, &sig); err != nil {
			return nil, err
		}
		return SignalEvent{SignalEvent: sig}, nil
	case KindPing, KindHeartbeat:
		return Heartbeat{}, nil
	default:
		return Unknown{Type: *env.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

func sessionOf(id *models.SessionID) models.SessionID {
	if id == nil {
		return models.NoSession
	}
	return *id
}

// messageText renders a message field that is usually, but not always, a string.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
