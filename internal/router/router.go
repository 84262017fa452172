package router

import (
	"context"
	"errors"
	"fmt"

	"bot-dashboard-go/internal/models"
	"bot-dashboard-go/internal/telemetry"

	"go.uber.org/zap"
)

var errMissingType = errors.New("missing type discriminant")

// maxDiagnosticPayload bounds how much of a bad payload is echoed to the view.
const maxDiagnosticPayload = 512

// Handlers holds exactly one handler per event variant. Nil handlers drop
// their events. Diagnostic receives the router's own log lines (malformed
// payloads, unknown types, recovered handler panics).
type Handlers struct {
	Log          func(LogEvent)
	Status       func(StatusUpdate)
	Ticker       func(TickerUpdate)
	OrderHistory func(OrderHistoryUpdate)
	Stats        func(StatsUpdate)
	Signal       func(SignalEvent)
	Heartbeat    func(Heartbeat)
	Diagnostic   func(severity models.Severity, message string)
}

// Router decodes inbound payloads and dispatches them by variant.
type Router struct {
	handlers Handlers
	metrics  *telemetry.Metrics
	logger   *zap.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithMetrics records dispatch counters on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// New creates a Router.
func New(handlers Handlers, logger *zap.Logger, opts ...Option) *Router {
	r := &Router{handlers: handlers, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch decodes raw and invokes the matching handler. It never returns an
// error and never panics: bad payloads become diagnostics.
func (r *Router) Dispatch(raw []byte) {
	ctx := context.Background()

	ev, err := Decode(raw)
	if err != nil {
		r.metrics.ProtocolError(ctx, "malformed")
		perr := &models.Error{Kind: models.ProtocolError, Op: "dispatch", Err: err}
		r.logger.Warn("dropping malformed push payload", zap.Error(perr), zap.ByteString("payload", truncate(raw)))
		r.diagnostic(models.SeverityError, fmt.Sprintf("malformed push payload (%v): %s", err, truncate(raw)))
		return
	}

	r.metrics.MessageReceived(ctx, string(ev.Kind()))
	r.invoke(ev)
}

func (r *Router) invoke(ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("push handler panicked", zap.String("type", string(ev.Kind())), zap.Any("panic", rec))
			r.diagnostic(models.SeverityError, fmt.Sprintf("handler for %s failed: %v", ev.Kind(), rec))
		}
	}()

	switch e := ev.(type) {
	case LogEvent:
		if r.handlers.Log != nil {
			r.handlers.Log(e)
		}
	case StatusUpdate:
		if r.handlers.Status != nil {
			r.handlers.Status(e)
		}
	case TickerUpdate:
		if r.handlers.Ticker != nil {
			r.handlers.Ticker(e)
		}
	case OrderHistoryUpdate:
		if r.handlers.OrderHistory != nil {
			r.handlers.OrderHistory(e)
		}
	case StatsUpdate:
		if r.handlers.Stats != nil {
			r.handlers.Stats(e)
		}
	case SignalEvent:
		if r.handlers.Signal != nil {
			r.handlers.Signal(e)
		}
	case Heartbeat:
		if r.handlers.Heartbeat != nil {
			r.handlers.Heartbeat(e)
		}
	case Unknown:
		r.metrics.ProtocolError(context.Background(), "unknown_type")
		r.logger.Warn("unknown push message type", zap.String("type", e.Type))
		r.diagnostic(models.SeverityWarn, fmt.Sprintf("unknown message type %q: %s", e.Type, truncate(e.Raw)))
	default:
		r.logger.Warn("unhandled event variant", zap.String("type", fmt.Sprintf("%T", ev)))
	}
}

func (r *Router) diagnostic(sev models.Severity, msg string) {
	if r.handlers.Diagnostic != nil {
		r.handlers.Diagnostic(sev, msg)
	}
}

func truncate(raw []byte) []byte {
	if len(raw) <= maxDiagnosticPayload {
		return raw
	}
	return append(append([]byte(nil), raw[:maxDiagnosticPayload]...), "..."...)
}
