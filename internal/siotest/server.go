// Package siotest runs an in-process Socket.IO 0.9 server for tests.
package siotest

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// Server answers handshakes and upgrades, records every inbound frame and
// lets tests push frames or drop the transport.
type Server struct {
	*httptest.Server

	// Handshake body fields; change before the client connects.
	Heartbeat  string
	Timeout    string
	Transports string
	// Greet sends 1:: right after the upgrade, as 0.9 servers do.
	Greet bool

	upgrader websocket.Upgrader

	mu                sync.Mutex
	handshakeFailures int
	handshakes        int
	queries           []string
	sessions          map[string]bool
	conns             map[*websocket.Conn]bool
	seq               int

	received  chan string
	connected chan string
}

// New starts a server that is closed when t finishes.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		Heartbeat:  "10",
		Timeout:    "25",
		Transports: "websocket,xhr-polling",
		Greet:      true,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions:  make(map[string]bool),
		conns:     make(map[*websocket.Conn]bool),
		received:  make(chan string, 256),
		connected: make(chan string, 16),
	}

	router := chi.NewRouter()
	router.Post("/socket.io/1", s.handleHandshake)
	router.Get("/socket.io/1/websocket/{sid}", s.handleWebSocket)

	s.Server = httptest.NewServer(router)
	t.Cleanup(func() {
		s.DropConnections()
		s.Server.Close()
	})

	return s
}

// Host returns the listener host
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Listener.Addr().String())
	return host
}

// Port returns the listener port
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// FailHandshakes makes the next n handshakes answer 503
func (s *Server) FailHandshakes(n int) {
	s.mu.Lock()
	s.handshakeFailures = n
	s.mu.Unlock()
}

// Handshakes returns how many handshakes were received
func (s *Server) Handshakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes
}

// Queries returns the raw query of every handshake
func (s *Server) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// Push writes a frame to every open transport
func (s *Server) Push(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.conns) == 0 {
		return fmt.Errorf("no open transport")
	}
	for conn := range s.conns {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return err
		}
	}
	return nil
}

// DropConnections closes every open transport without a disconnect frame
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.conns {
		conn.Close()
		delete(s.conns, conn)
	}
}

// WaitConnected returns the session id of the next upgraded transport
func (s *Server) WaitConnected(t testing.TB, timeout time.Duration) string {
	t.Helper()
	select {
	case sid := <-s.connected:
		return sid
	case <-time.After(timeout):
		t.Fatalf("no websocket connection within %v", timeout)
		return ""
	}
}

// Expect waits for the next inbound frame that is not a heartbeat
func (s *Server) Expect(t testing.TB, timeout time.Duration) string {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case frame := <-s.received:
			if frame == "2::" {
				continue
			}
			return frame
		case <-deadline:
			t.Fatalf("no frame within %v", timeout)
			return ""
		}
	}
}

// ExpectHeartbeat waits for the next inbound heartbeat
func (s *Server) ExpectHeartbeat(t testing.TB, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case frame := <-s.received:
			if frame == "2::" {
				return
			}
		case <-deadline:
			t.Fatalf("no heartbeat within %v", timeout)
		}
	}
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.handshakes++
	s.queries = append(s.queries, r.URL.RawQuery)
	if s.handshakeFailures > 0 {
		s.handshakeFailures--
		s.mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	s.seq++
	sid := "sid" + strconv.Itoa(s.seq)
	s.sessions[sid] = true
	body := strings.Join([]string{sid, s.Heartbeat, s.Timeout, s.Transports}, ":")
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(body))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")

	s.mu.Lock()
	known := s.sessions[sid]
	s.mu.Unlock()
	if !known {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns[conn] = true
	if s.Greet {
		conn.WriteMessage(websocket.TextMessage, []byte("1::"))
	}
	s.mu.Unlock()

	s.connected <- sid

	go s.readLoop(conn)
}

func (s *Server) readLoop(conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case s.received <- string(data):
		default:
		}
	}
}
