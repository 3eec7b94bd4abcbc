package sioclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ramory-l/sioclient/engine"
	"github.com/rs/zerolog"
)

// EventHandler handles an event; args is the raw JSON args array
type EventHandler func(args json.RawMessage)

// Client is one logical endpoint multiplexed over a shared connection
type Client struct {
	uri      string
	endpoint string
	conn     *engine.Conn
	registry *Registry
	logger   zerolog.Logger
	mailbox  *mailbox

	handlers   map[string][]EventHandler
	handlersMu sync.RWMutex

	onMessage    []func(string)
	onJSON       []func(json.RawMessage)
	onConnect    []func()
	onDisconnect []func()
	onAny        []func(string, json.RawMessage)
	callbacksMu  sync.RWMutex

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(uri, endpoint string, conn *engine.Conn, registry *Registry, logger zerolog.Logger) *Client {
	c := &Client{
		uri:      uri,
		endpoint: endpoint,
		conn:     conn,
		registry: registry,
		logger:   logger.With().Str("endpoint", endpoint).Logger(),
		mailbox:  newMailbox(),
		handlers: make(map[string][]EventHandler),
		done:     make(chan struct{}),
	}

	go c.pump()

	return c
}

// URI returns host:port followed by the endpoint
func (c *Client) URI() string {
	return c.uri
}

// Endpoint returns the endpoint; empty is the default namespace
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Conn returns the shared physical connection
func (c *Client) Conn() *engine.Conn {
	return c.conn
}

// Publish queues a notification for delivery to the handlers
func (c *Client) Publish(n engine.Notification) {
	if !c.mailbox.push(n) {
		c.logger.Debug().Stringer("type", n.Type).Msg("client closed, dropping notification")
	}
}

// On registers an event handler
func (c *Client) On(event string, handler EventHandler) {
	c.handlersMu.Lock()
	c.handlers[event] = append(c.handlers[event], handler)
	c.handlersMu.Unlock()
}

// Off removes event handlers
func (c *Client) Off(event string) {
	c.handlersMu.Lock()
	delete(c.handlers, event)
	c.handlersMu.Unlock()
}

// OnAny registers a handler called for every event before the named handlers
func (c *Client) OnAny(handler func(event string, args json.RawMessage)) {
	c.callbacksMu.Lock()
	c.onAny = append(c.onAny, handler)
	c.callbacksMu.Unlock()
}

// OnMessage registers a plain text message handler
func (c *Client) OnMessage(handler func(string)) {
	c.callbacksMu.Lock()
	c.onMessage = append(c.onMessage, handler)
	c.callbacksMu.Unlock()
}

// OnJSON registers a JSON message handler
func (c *Client) OnJSON(handler func(json.RawMessage)) {
	c.callbacksMu.Lock()
	c.onJSON = append(c.onJSON, handler)
	c.callbacksMu.Unlock()
}

// OnConnect registers a handler for the server's endpoint connect
func (c *Client) OnConnect(handler func()) {
	c.callbacksMu.Lock()
	c.onConnect = append(c.onConnect, handler)
	c.callbacksMu.Unlock()
}

// OnDisconnect registers a handler for the server closing the endpoint
func (c *Client) OnDisconnect(handler func()) {
	c.callbacksMu.Lock()
	c.onDisconnect = append(c.onDisconnect, handler)
	c.callbacksMu.Unlock()
}

// Send sends a plain text message
func (c *Client) Send(text string) error {
	return c.conn.Send(c.endpoint, text)
}

// SendJSON marshals v and sends it as a JSON message
func (c *Client) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal json message: %w", err)
	}
	return c.conn.SendJSON(c.endpoint, string(data))
}

// Emit sends an event with args marshaled as a JSON array
func (c *Client) Emit(event string, args ...interface{}) error {
	if args == nil {
		args = []interface{}{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to marshal event args: %w", err)
	}
	return c.conn.Emit(c.endpoint, event, string(data))
}

// EmitRaw sends an event whose args are already a JSON array
func (c *Client) EmitRaw(event, args string) error {
	return c.conn.Emit(c.endpoint, event, args)
}

// Disconnect leaves the endpoint and releases this client's reference
// on the shared connection. The connection closes with its last client.
func (c *Client) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		if c.endpoint != "" {
			if err = c.conn.Disconnect(c.endpoint); errors.Is(err, engine.ErrNoTransport) {
				err = nil
			}
		}

		c.registry.removeClient(c.uri, c)
		c.mailbox.close()
		c.conn.Release()
	})
	return err
}

// Done is closed after the last queued notification has been delivered
// following Disconnect.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) pump() {
	defer close(c.done)

	for {
		n, ok := c.mailbox.pop()
		if !ok {
			return
		}
		c.deliver(n)
	}
}

func (c *Client) deliver(n engine.Notification) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Stringer("type", n.Type).Msg("handler panicked")
		}
	}()

	switch n.Type {
	case engine.NotificationConnect:
		c.callbacksMu.RLock()
		handlers := c.onConnect
		c.callbacksMu.RUnlock()
		for _, handler := range handlers {
			handler()
		}
	case engine.NotificationDisconnect:
		c.callbacksMu.RLock()
		handlers := c.onDisconnect
		c.callbacksMu.RUnlock()
		for _, handler := range handlers {
			handler()
		}
	case engine.NotificationMessage:
		c.callbacksMu.RLock()
		handlers := c.onMessage
		c.callbacksMu.RUnlock()
		for _, handler := range handlers {
			handler(n.Data)
		}
	case engine.NotificationJSONMessage:
		c.callbacksMu.RLock()
		handlers := c.onJSON
		c.callbacksMu.RUnlock()
		for _, handler := range handlers {
			handler(json.RawMessage(n.Data))
		}
	case engine.NotificationEvent:
		if n.Event == nil {
			return
		}
		c.callbacksMu.RLock()
		observers := c.onAny
		c.callbacksMu.RUnlock()
		for _, observer := range observers {
			observer(n.Event.Name, n.Event.Args)
		}

		c.handlersMu.RLock()
		handlers := c.handlers[n.Event.Name]
		c.handlersMu.RUnlock()
		if len(handlers) == 0 && len(observers) == 0 {
			c.logger.Debug().Str("event", n.Event.Name).Msg("no handler for event")
		}
		for _, handler := range handlers {
			handler(n.Event.Args)
		}
	}
}
