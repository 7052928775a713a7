// Package conn maintains the websocket to the assistant backend and turns
// its frames into protocol events.
package conn

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/astraavatar/internal/bus"
	"github.com/normanking/astraavatar/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20
)

var (
	// ErrNotConnected is returned by Send while no connection is open
	ErrNotConnected = errors.New("not connected")
	// ErrSendBufferFull is returned by Send when the outbox is full
	ErrSendBufferFull = errors.New("send buffer full")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("connection manager closed")
)

// Config holds connection options
type Config struct {
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	PingInterval     time.Duration // 0 disables pings
	SendBuffer       int
}

// session is one open websocket
type session struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// Manager owns the backend websocket. It reconnects after every drop it
// did not ask for, forever, with one pending reconnect at most.
type Manager struct {
	cfg      Config
	dialer   *websocket.Dialer
	logger   zerolog.Logger
	eventBus *bus.EventBus

	handler func(protocol.Event)

	mu     sync.Mutex
	ctx    context.Context
	sess   *session
	timer  *time.Timer
	gen    uint64 // invalidates timers that fired after being replaced
	closed bool
}

// NewManager creates a manager. Nothing is dialed until Connect.
func NewManager(cfg Config, eventBus *bus.EventBus, logger zerolog.Logger) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 16
	}
	return &Manager{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger:   logger.With().Str("component", "conn").Logger(),
		eventBus: eventBus,
		ctx:      context.Background(),
	}
}

// OnEvent registers the consumer of decoded events. It must be set before
// Connect and is called from the connection's read goroutine.
func (m *Manager) OnEvent(handler func(protocol.Event)) {
	m.handler = handler
}

// Connect dials the backend. A failed dial is returned and a reconnect is
// scheduled. Cancelling ctx closes the manager.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.ctx = ctx
	m.stopTimerLocked()
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.Close()
	}()

	return m.dial()
}

// Send queues one raw text frame. It never blocks on the network.
func (m *Manager) Send(text string) error {
	m.mu.Lock()
	s := m.sess
	m.mu.Unlock()

	if s == nil {
		m.logger.Warn().Int("len", len(text)).Msg("Dropping message, not connected")
		m.publish(bus.EventTypeSendDropped, map[string]any{"reason": "not_connected"})
		return ErrNotConnected
	}

	select {
	case <-s.done:
		m.logger.Warn().Int("len", len(text)).Msg("Dropping message, connection closing")
		m.publish(bus.EventTypeSendDropped, map[string]any{"reason": "not_connected"})
		return ErrNotConnected
	default:
	}

	select {
	case s.send <- []byte(text):
		return nil
	default:
		m.logger.Warn().Int("len", len(text)).Msg("Dropping message, send buffer full")
		m.publish(bus.EventTypeSendDropped, map[string]any{"reason": "buffer_full"})
		return ErrSendBufferFull
	}
}

// Connected reports whether a connection is open
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil
}

// ReconnectPending reports whether a reconnect timer is armed
func (m *Manager) ReconnectPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// Close closes the connection and disables reconnection for good
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopTimerLocked()
	s := m.sess
	m.mu.Unlock()

	if s != nil {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		m.drop(s, nil)
	}
	m.logger.Info().Msg("Connection manager closed")
}

func (m *Manager) dial() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	ctx := m.ctx
	m.mu.Unlock()

	m.logger.Info().Str("url", m.cfg.URL).Msg("Connecting to backend")

	conn, _, err := m.dialer.DialContext(ctx, m.cfg.URL, nil)
	if err != nil {
		m.logger.Warn().Err(err).Str("url", m.cfg.URL).Msg("Connection failed")
		m.scheduleReconnect()
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	if m.sess != nil {
		// lost a race with another dial
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.stopTimerLocked()
	s := &session{
		conn: conn,
		send: make(chan []byte, m.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	m.sess = s
	m.mu.Unlock()

	m.logger.Info().Str("url", m.cfg.URL).Msg("Connected to backend")
	m.publish(bus.EventTypeConnected, map[string]any{"url": m.cfg.URL})

	// baseline to idle before any server frame
	m.emit(protocol.StateEvent{State: "idle"})

	go m.writePump(s)
	go m.readPump(s)
	return nil
}

// drop tears a session down once, whichever side noticed first
func (m *Manager) drop(s *session, err error) {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()

		m.mu.Lock()
		if m.sess == s {
			m.sess = nil
		}
		closed := m.closed
		m.mu.Unlock()

		data := map[string]any{"requested": closed}
		if err != nil {
			data["error"] = err.Error()
		}
		m.publish(bus.EventTypeDisconnected, data)

		if closed {
			return
		}
		m.logger.Warn().Err(err).Msg("Connection lost")
		m.scheduleReconnect()
	})
}

// scheduleReconnect arms the single reconnect timer, replacing any pending one
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.stopTimerLocked()
	gen := m.gen
	m.timer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		if gen != m.gen || m.closed {
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.mu.Unlock()
		_ = m.dial()
	})

	m.logger.Info().Dur("delay", m.cfg.ReconnectDelay).Msg("Reconnect scheduled")
	m.publish(bus.EventTypeReconnectScheduled, map[string]any{"delay_ms": m.cfg.ReconnectDelay.Milliseconds()})
}

func (m *Manager) stopTimerLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) readPump(s *session) {
	s.conn.SetReadLimit(maxMessageSize)
	if m.cfg.PingInterval > 0 {
		pongWait := m.cfg.PingInterval * 10 / 9
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.conn.SetPongHandler(func(string) error {
			s.conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
	}

	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Debug().Err(err).Msg("Read failed")
			}
			m.drop(s, err)
			return
		}
		if messageType != websocket.TextMessage {
			m.logger.Debug().Int("type", messageType).Msg("Ignoring non-text frame")
			continue
		}
		m.handleFrame(message)
	}
}

func (m *Manager) handleFrame(message []byte) {
	ev, err := protocol.Decode(message)
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		m.logger.Debug().Err(err).Msg("Ignoring frame")
		m.publish(bus.EventTypeFrameDropped, map[string]any{"reason": "unknown_type"})
		return
	case err != nil:
		m.logger.Debug().Err(err).Int("len", len(message)).Msg("Dropping malformed frame")
		m.publish(bus.EventTypeFrameDropped, map[string]any{"reason": "malformed"})
		return
	}

	m.publish(bus.EventTypeFrameReceived, map[string]any{"type": ev.Type()})
	m.emit(ev)
}

func (m *Manager) writePump(s *session) {
	var ping <-chan time.Time
	if m.cfg.PingInterval > 0 {
		ticker := time.NewTicker(m.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-s.done:
			return

		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				m.logger.Warn().Err(err).Msg("Failed to write message")
				m.drop(s, err)
				return
			}

		case <-ping:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				m.drop(s, err)
				return
			}
		}
	}
}

func (m *Manager) emit(ev protocol.Event) {
	if m.handler != nil {
		m.handler(ev)
	}
}

func (m *Manager) publish(eventType bus.EventType, data map[string]any) {
	m.eventBus.Publish(bus.Event{Type: eventType, Data: data})
}
