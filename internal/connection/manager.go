package connection

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"bot-dashboard-go/internal/models"
	"bot-dashboard-go/internal/telemetry"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Conn is the subset of *websocket.Conn the manager uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens a Conn.
type Dialer interface {
	DialContext(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Scheduler runs fn once after d. The returned cancel stops it if it has
// not fired yet and reports whether it did.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) (cancel func() bool)
}

type gorillaDialer struct {
	dialer *websocket.Dialer
}

func (g gorillaDialer) DialContext(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := g.dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type timerScheduler struct{}

func (timerScheduler) Schedule(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// link is one open connection and the signal that stops its ping loop.
type link struct {
	conn Conn
	done chan struct{}
	once sync.Once
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

// Manager owns the push connection's lifecycle: connect, reconnect after
// unexpected closure, and intentional disconnect. Every frame received is
// handed to the handler on a single goroutine, in arrival order.
type Manager struct {
	mu              sync.Mutex
	state           models.ConnectionState
	link            *link
	gen             uint64 // bumped by Connect and Disconnect; stale dials and readers compare against it
	cancelReconnect func() bool
	failures        int

	emitMu sync.Mutex // orders state reports; held while onState runs

	opts      Options
	handler   func([]byte)
	dialer    Dialer
	scheduler Scheduler
	backoff   backoff.BackOff
	onState   func(models.ConnectionState)
	onWarning func(string)
	onOpen    func()
	metrics   *telemetry.Metrics
	logger    *zap.Logger
}

// New creates a Manager in the Disconnected state.
func New(opts Options, handler func([]byte), logger *zap.Logger, options ...Option) *Manager {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = DefaultPongTimeout
	}

	m := &Manager{
		state:     models.Disconnected,
		opts:      opts,
		handler:   handler,
		dialer:    gorillaDialer{dialer: &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}},
		scheduler: timerScheduler{},
		logger:    logger,
	}
	for _, o := range options {
		o(m)
	}
	if m.backoff == nil {
		m.backoff = backoff.NewConstantBackOff(opts.ReconnectDelay)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts a connection attempt. It is a no-op while Connecting or
// Open. The dial runs in the background; failures schedule a reconnect and
// are never returned to the caller.
func (m *Manager) Connect() {
	m.connect(false)
}

func (m *Manager) connect(retry bool) {
	m.mu.Lock()
	if m.state == models.Connecting || m.state == models.Open {
		state := m.state
		m.mu.Unlock()
		m.logger.Debug("connect skipped, connection already exists", zap.Stringer("state", state))
		return
	}
	m.stopReconnectLocked()
	if !retry {
		m.failures = 0
	}
	m.gen++
	gen := m.gen
	m.state = models.Connecting
	m.mu.Unlock()

	m.logger.Info("connecting to push channel", zap.String("url", m.opts.URL), zap.Bool("retry", retry))
	m.emitState(gen, models.Connecting)
	go m.dial(gen)
}

// Disconnect cancels any pending reconnect and closes the channel with a
// normal closure so no reconnect follows.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopReconnectLocked()
	m.gen++
	gen := m.gen
	l := m.link
	m.link = nil
	prev := m.state
	m.state = models.Disconnected
	m.failures = 0
	m.mu.Unlock()

	if l != nil {
		m.emitState(gen, models.Closing)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		if err := l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
			m.logger.Debug("write close frame failed", zap.Error(err))
		}
		l.close()
	}
	if prev != models.Disconnected {
		m.logger.Info("push channel disconnected")
		m.emitState(gen, models.Disconnected)
	}
}

func (m *Manager) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.HandshakeTimeout)
	conn, err := m.dialer.DialContext(ctx, m.opts.URL, nil)
	cancel()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.state = models.Disconnected
		m.mu.Unlock()

		tErr := &models.Error{Kind: models.TransportFailure, Op: "connect", Err: err}
		m.logger.Warn("push channel dial failed", zap.Error(tErr))
		m.emitState(gen, models.Disconnected)
		m.warn(fmt.Sprintf("connection to %s failed: %v", m.opts.URL, err))
		m.scheduleReconnect(gen)
		return
	}

	l := &link{conn: conn, done: make(chan struct{})}
	m.link = l
	m.state = models.Open
	m.failures = 0
	m.backoff.Reset()
	m.stopReconnectLocked()
	m.mu.Unlock()

	m.logger.Info("push channel open", zap.String("url", m.opts.URL))
	m.emitState(gen, models.Open)

	if m.opts.PingInterval > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(m.opts.PongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(m.opts.PongTimeout))
		})
		go m.pingLoop(l)
	}

	if m.onOpen != nil {
		m.onOpen()
	}
	m.readLoop(gen, l)
}

// readLoop hands every frame to the handler until the connection fails.
func (m *Manager) readLoop(gen uint64, l *link) {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			m.handleClosure(gen, l, err)
			return
		}
		if !m.current(gen) {
			l.close()
			return
		}
		if m.opts.PingInterval > 0 {
			_ = l.conn.SetReadDeadline(time.Now().Add(m.opts.PongTimeout))
		}
		if m.handler != nil {
			m.handler(data)
		}
	}
}

func (m *Manager) pingLoop(l *link) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.opts.PingInterval)); err != nil {
				m.logger.Debug("ping failed", zap.Error(err))
				return
			}
		case <-l.done:
			return
		}
	}
}

func (m *Manager) handleClosure(gen uint64, l *link, err error) {
	l.close()

	m.mu.Lock()
	if gen != m.gen {
		// Disconnect (or a newer Connect) already owns the state.
		m.mu.Unlock()
		return
	}
	m.link = nil
	m.state = models.Disconnected
	m.mu.Unlock()

	m.emitState(gen, models.Disconnected)

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.logger.Info("push channel closed by server", zap.Error(err))
		return
	}

	tErr := &models.Error{Kind: models.TransportFailure, Op: "read", Err: err}
	m.logger.Warn("push channel closed unexpectedly", zap.Error(tErr))
	m.warn(fmt.Sprintf("connection lost: %v", err))
	m.scheduleReconnect(gen)
}

// scheduleReconnect replaces any pending attempt with a new one.
func (m *Manager) scheduleReconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.failures++
	if m.opts.MaxReconnectAttempts > 0 && m.failures > m.opts.MaxReconnectAttempts {
		failures := m.failures - 1
		m.mu.Unlock()
		m.logger.Warn("giving up reconnecting", zap.Int("attempts", failures))
		m.warn(fmt.Sprintf("giving up after %d reconnect attempts", failures))
		return
	}
	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop || delay < 0 {
		delay = m.opts.ReconnectDelay
	}
	m.stopReconnectLocked()
	m.cancelReconnect = m.scheduler.Schedule(delay, func() { m.reconnect(gen) })
	m.mu.Unlock()

	m.metrics.ReconnectScheduled(context.Background())
	m.logger.Info("reconnect scheduled", zap.Duration("delay", delay))
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != models.Disconnected {
		m.mu.Unlock()
		return
	}
	m.cancelReconnect = nil
	m.mu.Unlock()
	m.connect(true)
}

func (m *Manager) stopReconnectLocked() {
	if m.cancelReconnect != nil {
		m.cancelReconnect()
		m.cancelReconnect = nil
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// emitState reports s unless a later Connect or Disconnect has taken over,
// so the last state a handler sees is the manager's own.
func (m *Manager) emitState(gen uint64, s models.ConnectionState) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	if !m.current(gen) {
		return
	}
	m.metrics.ConnectionState(context.Background(), s)
	if m.onState != nil {
		m.onState(s)
	}
}

func (m *Manager) warn(msg string) {
	if m.onWarning != nil {
		m.onWarning(msg)
	}
}
