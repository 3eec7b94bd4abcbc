// Package sioclient provides a Socket.IO 0.9 (pre-1.0 protocol) client in Go.
//
// The client performs the HTTP handshake, upgrades to a WebSocket, keeps the
// link alive with heartbeats and reconnects with exponential backoff when the
// server goes away. Several endpoints (namespaces) share one physical
// connection per host:port.
//
// # Features
//
//   - Socket.IO 0.9 colon-framed protocol over WebSocket
//   - Heartbeat liveness detection
//   - Reconnection with exponential backoff (1s doubling to 240s)
//   - Endpoint multiplexing with automatic rejoin after reconnect
//   - Structured logging with zerolog
//   - Prometheus metrics and OpenTelemetry spans
//
// # Quick Start
//
//	registry := sioclient.NewRegistry(sioclient.WithLogger(logger))
//	defer registry.Close()
//
//	client, err := registry.Connect("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client.OnConnect(func() {
//	    client.Emit("hello", "world")
//	})
//
//	client.On("news", func(args json.RawMessage) {
//	    log.Printf("news: %s", args)
//	})
//
// # Endpoints
//
// The URL path selects the endpoint. Clients for the same host:port share a
// connection, which is closed when the last of them disconnects.
//
//	chat, _ := registry.Connect("http://localhost:8080/chat")
//	news, _ := registry.Connect("http://localhost:8080/news")
//
//	chat.Send("hi")
//	news.Disconnect()
//
// # Messages
//
// Plain text, JSON and event messages are supported:
//
//	client.Send("plain text")
//	client.SendJSON(map[string]interface{}{"id": 1})
//	client.Emit("move", 10, 20)
//
// Sending before the WebSocket is open returns engine.ErrNoTransport.
//
// # Connection engine
//
// Package engine holds the protocol state machine: frame codec, handshake,
// transport upgrade, heartbeat monitor and reconnection scheduler. It can be
// used without the Registry by implementing engine.Registry.
package sioclient
