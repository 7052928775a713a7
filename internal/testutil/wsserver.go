// Package testutil provides an in-process assistant backend for tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/normanking/astraavatar/internal/protocol"
)

// WSServer is a websocket backend that records what clients send and lets
// tests push frames or drop connections.
type WSServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader
	upgrades atomic.Int32
	received chan string

	mu          sync.Mutex
	conns       []*websocket.Conn
	onMessage   func(text string)
	ignorePings bool
}

// NewWSServer starts a server that is shut down with the test
func NewWSServer(t *testing.T) *WSServer {
	t.Helper()
	s := &WSServer{
		t:        t,
		received: make(chan string, 64),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// endpoint
func (s *WSServer) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

// Upgrades returns how many connections were accepted
func (s *WSServer) Upgrades() int {
	return int(s.upgrades.Load())
}

// Received returns client frames in arrival order
func (s *WSServer) Received() <-chan string {
	return s.received
}

// SendRaw writes a text frame to every open connection
func (s *WSServer) SendRaw(frame string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.WriteMessage(websocket.TextMessage, []byte(frame))
	}
}

// Send encodes and writes events to every open connection
func (s *WSServer) Send(events ...protocol.Event) {
	for _, ev := range events {
		data, err := protocol.Encode(ev)
		if err != nil {
			s.t.Errorf("encode %T: %v", ev, err)
			return
		}
		s.SendRaw(string(data))
	}
}

// DropAll closes every connection without a close handshake
func (s *WSServer) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

// WaitForConnections blocks until n connections were accepted
func (s *WSServer) WaitForConnections(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		open := len(s.conns)
		s.mu.Unlock()
		if s.Upgrades() >= n && open > 0 {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// OnMessage sets a hook run for every client frame. Replies go through
// Send so writes stay serialized.
func (s *WSServer) OnMessage(fn func(text string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

// IgnorePings stops answering pings on connections accepted afterwards,
// like a backend that hung without closing the socket.
func (s *WSServer) IgnorePings() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignorePings = true
}

// Close stops the server
func (s *WSServer) Close() {
	s.DropAll()
	s.srv.Close()
}

func (s *WSServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/ws" {
		http.NotFound(w, r)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.upgrades.Add(1)

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	if s.ignorePings {
		conn.SetPingHandler(func(string) error { return nil })
	}
	s.mu.Unlock()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		text := string(msg)
		select {
		case s.received <- text:
		default:
		}
		s.mu.Lock()
		fn := s.onMessage
		s.mu.Unlock()
		if fn != nil {
			fn(text)
		}
	}
}
