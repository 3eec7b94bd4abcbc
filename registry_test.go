package sioclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ramory-l/sioclient/engine"
	"github.com/ramory-l/sioclient/internal/siotest"
	"github.com/rs/zerolog"
)

const waitTimeout = 5 * time.Second

type syncLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *syncLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, string(p))
	return len(p), nil
}

func newTestRegistry(t *testing.T) (*Registry, *siotest.Server) {
	t.Helper()

	server := siotest.New(t)
	config := engine.DefaultConfig()
	config.OpenRetryInterval = 10 * time.Millisecond

	registry := NewRegistry(
		WithEngineConfig(config),
		WithLogger(zerolog.New(&syncLog{}).Level(zerolog.DebugLevel)),
	)
	t.Cleanup(func() { registry.Close() })
	return registry, server
}

func serverURL(server *siotest.Server, endpoint string) string {
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(server.Host(), strconv.Itoa(server.Port())), endpoint)
}

func waitConnected(t *testing.T, client *Client) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for client.Conn().State() != engine.StateConnected {
		if time.Now().After(deadline) {
			t.Fatalf("client %s never connected", client.URI())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestParseTarget(t *testing.T) {
	cases := []struct {
		raw      string
		hostPort string
		endpoint string
		query    string
		secure   bool
	}{
		{raw: "http://localhost:3000", hostPort: "localhost:3000"},
		{raw: "http://localhost:3000/", hostPort: "localhost:3000"},
		{raw: "http://localhost:3000/chat?token=x", hostPort: "localhost:3000", endpoint: "/chat", query: "token=x"},
		{raw: "https://example.com/news", hostPort: "example.com:443", endpoint: "/news", secure: true},
		{raw: "ws://example.com", hostPort: "example.com:80"},
	}
	for _, tc := range cases {
		got, err := parseTarget(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if got.hostPort != tc.hostPort || got.endpoint != tc.endpoint || got.query != tc.query || got.secure != tc.secure {
			t.Fatalf("parse %q got=%+v", tc.raw, got)
		}
	}

	for _, raw := range []string{"ftp://host", "http://", "http://host:port", "::"} {
		if _, err := parseTarget(raw); !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("parse %q expected ErrInvalidURL, got %v", raw, err)
		}
	}
}

func TestConnectSharesConnection(t *testing.T) {
	registry, server := newTestRegistry(t)

	root, err := registry.Connect(serverURL(server, "?token=abc"))
	if err != nil {
		t.Fatalf("connect root: %v", err)
	}
	chat, err := registry.Connect(serverURL(server, "/chat"))
	if err != nil {
		t.Fatalf("connect chat: %v", err)
	}

	if root.Conn() != chat.Conn() {
		t.Fatalf("endpoints on one host:port must share a connection")
	}
	if root.Conn().Refs() != 2 {
		t.Fatalf("refs got=%d", root.Conn().Refs())
	}

	server.WaitConnected(t, waitTimeout)
	if got := server.Expect(t, waitTimeout); got != "1::/chat" {
		t.Fatalf("endpoint join got=%q", got)
	}
	if q := server.Queries(); len(q) != 1 || q[0] != "token=abc" {
		t.Fatalf("handshake queries got=%v", q)
	}

	if _, err := registry.Connect(serverURL(server, "/chat")); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestClientReceivesNotifications(t *testing.T) {
	registry, server := newTestRegistry(t)

	client, err := registry.Connect(serverURL(server, "/chat"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	connected := make(chan struct{}, 1)
	messages := make(chan string, 1)
	jsonMessages := make(chan json.RawMessage, 1)
	news := make(chan json.RawMessage, 1)
	disconnected := make(chan struct{}, 1)

	client.OnConnect(func() { connected <- struct{}{} })
	client.OnMessage(func(text string) { messages <- text })
	client.OnJSON(func(data json.RawMessage) { jsonMessages <- data })
	client.On("news", func(args json.RawMessage) { news <- args })
	client.OnDisconnect(func() { disconnected <- struct{}{} })

	server.WaitConnected(t, waitTimeout)
	waitConnected(t, client)

	server.Push("1::/chat")
	server.Push("3::/chat:hello")
	server.Push(`4::/chat:{"id":1}`)
	server.Push(`5::/chat:{"name":"news","args":["a:b"]}`)
	server.Push("0::/chat")

	select {
	case <-connected:
	case <-time.After(waitTimeout):
		t.Fatalf("no connect notification")
	}
	select {
	case text := <-messages:
		if text != "hello" {
			t.Fatalf("message got=%q", text)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("no message")
	}
	select {
	case data := <-jsonMessages:
		if string(data) != `{"id":1}` {
			t.Fatalf("json got=%s", data)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("no json message")
	}
	select {
	case args := <-news:
		if string(args) != `["a:b"]` {
			t.Fatalf("event args got=%s", args)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("no event")
	}
	select {
	case <-disconnected:
	case <-time.After(waitTimeout):
		t.Fatalf("no disconnect notification")
	}
}

func TestClientSendAndEmit(t *testing.T) {
	registry, server := newTestRegistry(t)

	client, err := registry.Connect(serverURL(server, ""))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	server.WaitConnected(t, waitTimeout)
	waitConnected(t, client)

	if err := client.Send("hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := server.Expect(t, waitTimeout); got != "3:::hello" {
		t.Fatalf("got=%q", got)
	}

	if err := client.Emit("move", 10, "up"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if got := server.Expect(t, waitTimeout); got != `5:::{"name":"move","args":[10,"up"]}` {
		t.Fatalf("got=%q", got)
	}

	if err := client.Emit("ping"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if got := server.Expect(t, waitTimeout); got != `5:::{"name":"ping","args":[]}` {
		t.Fatalf("got=%q", got)
	}

	if err := client.SendJSON(map[string]int{"n": 1}); err != nil {
		t.Fatalf("send json: %v", err)
	}
	if got := server.Expect(t, waitTimeout); got != `4:::{"n":1}` {
		t.Fatalf("got=%q", got)
	}

	if err := client.EmitRaw("raw", `[1,2]`); err != nil {
		t.Fatalf("emit raw: %v", err)
	}
	if got := server.Expect(t, waitTimeout); got != `5:::{"name":"raw","args":[1,2]}` {
		t.Fatalf("got=%q", got)
	}
}

func TestDisconnectReleasesSharedConnection(t *testing.T) {
	registry, server := newTestRegistry(t)

	root, _ := registry.Connect(serverURL(server, ""))
	chat, _ := registry.Connect(serverURL(server, "/chat"))
	server.WaitConnected(t, waitTimeout)
	waitConnected(t, root)
	if got := server.Expect(t, waitTimeout); got != "1::/chat" {
		t.Fatalf("got=%q", got)
	}

	conn := root.Conn()
	hostPort := conn.URI()

	if err := chat.Disconnect(); err != nil {
		t.Fatalf("disconnect chat: %v", err)
	}
	if got := server.Expect(t, waitTimeout); got != "0::/chat" {
		t.Fatalf("got=%q", got)
	}
	if conn.Refs() != 1 {
		t.Fatalf("refs got=%d", conn.Refs())
	}
	if _, ok := registry.Lookup(hostPort + "/chat"); ok {
		t.Fatalf("chat client still registered")
	}
	if err := chat.Disconnect(); err != nil {
		t.Fatalf("second disconnect must be a no-op: %v", err)
	}

	if err := root.Disconnect(); err != nil {
		t.Fatalf("disconnect root: %v", err)
	}
	select {
	case <-conn.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("connection not torn down")
	}
	if got := server.Expect(t, waitTimeout); got != "0::" {
		t.Fatalf("got=%q", got)
	}
	if _, ok := registry.Conn(hostPort); ok {
		t.Fatalf("connection still registered")
	}

	// A fresh connect opens a new physical connection.
	again, err := registry.Connect(serverURL(server, ""))
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if again.Conn() == conn {
		t.Fatalf("reused a torn down connection")
	}
	server.WaitConnected(t, waitTimeout)
}

func TestHandlerPanicDoesNotStopDelivery(t *testing.T) {
	registry, server := newTestRegistry(t)

	client, _ := registry.Connect(serverURL(server, ""))
	got := make(chan string, 2)
	client.OnMessage(func(text string) {
		if text == "boom" {
			panic("handler failure")
		}
		got <- text
	})

	server.WaitConnected(t, waitTimeout)
	waitConnected(t, client)
	server.Push("3:::boom")
	server.Push("3:::fine")

	select {
	case text := <-got:
		if text != "fine" {
			t.Fatalf("got=%q", text)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("delivery stopped after panic")
	}
}

func TestClientDoneAfterDisconnect(t *testing.T) {
	registry, server := newTestRegistry(t)

	client, _ := registry.Connect(serverURL(server, ""))
	if err := client.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	select {
	case <-client.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("pump did not stop")
	}
}
