package connection

import (
	"time"

	"bot-dashboard-go/internal/models"
	"bot-dashboard-go/internal/telemetry"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultURL is the backend's push endpoint.
	DefaultURL = "ws://localhost:5000/ws_logs"

	// DefaultReconnectDelay is the fixed delay before a reconnect attempt.
	DefaultReconnectDelay = 5 * time.Second

	// DefaultHandshakeTimeout bounds a single dial.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultPongTimeout is how long the read side waits for any frame after a ping.
	DefaultPongTimeout = 60 * time.Second
)

// Options configures a Manager.
type Options struct {
	// URL is the WebSocket endpoint.
	URL string

	// ReconnectDelay is the fixed delay between a failure and the next attempt.
	ReconnectDelay time.Duration

	// MaxReconnectAttempts caps consecutive failed attempts. 0 means unlimited.
	MaxReconnectAttempts int

	// HandshakeTimeout bounds each dial.
	HandshakeTimeout time.Duration

	// PingInterval enables client pings when positive.
	PingInterval time.Duration

	// PongTimeout is the read deadline extended by every pong.
	PongTimeout time.Duration
}

// DefaultOptions returns Options with default values.
func DefaultOptions() Options {
	return Options{
		URL:              DefaultURL,
		ReconnectDelay:   DefaultReconnectDelay,
		HandshakeTimeout: DefaultHandshakeTimeout,
		PongTimeout:      DefaultPongTimeout,
	}
}

// OptionsFromConfig maps the client configuration onto Options.
func OptionsFromConfig(cfg *models.Config) Options {
	opts := DefaultOptions()
	if cfg.WSURL != "" {
		opts.URL = cfg.WSURL
	}
	if cfg.ReconnectDelayMs > 0 {
		opts.ReconnectDelay = time.Duration(cfg.ReconnectDelayMs) * time.Millisecond
	}
	if cfg.HandshakeTimeoutSec > 0 {
		opts.HandshakeTimeout = time.Duration(cfg.HandshakeTimeoutSec) * time.Second
	}
	if cfg.PingIntervalSec > 0 {
		opts.PingInterval = time.Duration(cfg.PingIntervalSec) * time.Second
	}
	if cfg.PongTimeoutSec > 0 {
		opts.PongTimeout = time.Duration(cfg.PongTimeoutSec) * time.Second
	}
	opts.MaxReconnectAttempts = cfg.MaxReconnectAttempts
	return opts
}

// Option is a functional option for configuring a Manager.
type Option func(*Manager)

// WithDialer replaces the gorilla dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithScheduler replaces the time.AfterFunc scheduler.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) { m.scheduler = s }
}

// WithBackOff replaces the constant reconnect delay policy.
func WithBackOff(b backoff.BackOff) Option {
	return func(m *Manager) { m.backoff = b }
}

// WithStateHandler is called on every ConnectionState transition. Calls are
// serialized; fn must not call back into the Manager.
func WithStateHandler(fn func(models.ConnectionState)) Option {
	return func(m *Manager) { m.onState = fn }
}

// WithWarningHandler is called with a human-readable message on every
// unexpected closure, failed dial and abandoned reconnect.
func WithWarningHandler(fn func(string)) Option {
	return func(m *Manager) { m.onWarning = fn }
}

// WithOpenHandler is called after each successful open, before the first
// frame is read. It must not block.
func WithOpenHandler(fn func()) Option {
	return func(m *Manager) { m.onOpen = fn }
}

// WithMetrics records connection counters on m.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}
