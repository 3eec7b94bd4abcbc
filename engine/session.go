package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

var (
	ErrNoTransport           = errors.New("no open transport")
	ErrClosed                = errors.New("connection released")
	ErrOpenAttemptsExhausted = errors.New("transport open attempts exhausted")
	ErrDisconnected          = errors.New("connection disconnected by user")
)

// closeFrameTimeout bounds the best-effort disconnect frame on teardown.
const closeFrameTimeout = time.Second

// Conn is one physical client connection to a Socket.IO 0.9 server.
// Logical endpoints are multiplexed over it; it lives until the last
// reference is released.
type Conn struct {
	host     string
	port     int
	query    string
	uri      string
	config   *Config
	logger   zerolog.Logger
	registry Registry

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	state        atomic.Int32
	lastActivity atomic.Int64
	refs         atomic.Int32
	closeOnce    sync.Once

	mu               sync.Mutex
	sid              string
	heartbeatTimeout time.Duration
	closeTimeout     time.Duration
	ws               *websocket.Conn
	heartbeatStop    chan struct{}
	retry            Timer
	backoff          *Backoff
	endpoints        map[string]bool
	closed           bool
	stopped          bool // Disconnect("") ends the connect chain for good

	// gorilla/websocket supports one concurrent writer
	writeMu sync.Mutex
}

// Open returns a new Conn in the disconnected state holding one
// reference, and starts the handshake chain in the background.
func Open(host string, port int, query string, registry Registry, config *Config) *Conn {
	config = config.withDefaults()

	uri := net.JoinHostPort(host, strconv.Itoa(port))
	ctx, cancel := context.WithCancel(context.Background())

	c := &Conn{
		host:      host,
		port:      port,
		query:     query,
		uri:       uri,
		config:    config,
		logger:    config.Logger.With().Str("uri", uri).Logger(),
		registry:  registry,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		backoff:   NewBackoff(config.Backoff),
		endpoints: make(map[string]bool),
	}
	c.refs.Store(1)
	c.setState(StateDisconnected)

	c.logger.Debug().Msg("opening connection")
	c.scheduleAttempt(0)

	return c
}

// URI returns host:port
func (c *Conn) URI() string {
	return c.uri
}

// State returns the lifecycle state
func (c *Conn) State() State {
	return State(c.state.Load())
}

// SessionID returns the last negotiated session id
func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

// HeartbeatTimeout returns the negotiated heartbeat timeout
func (c *Conn) HeartbeatTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heartbeatTimeout
}

// CloseTimeout returns the negotiated connection timeout
func (c *Conn) CloseTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeTimeout
}

// LastActivity returns when the last inbound frame was decoded
func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Refs returns the current reference count
func (c *Conn) Refs() int {
	return int(c.refs.Load())
}

// Done is closed once the Conn has been torn down
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Endpoints returns the endpoints rejoined after every upgrade
func (c *Conn) Endpoints() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	endpoints := make([]string, 0, len(c.endpoints))
	for endpoint := range c.endpoints {
		endpoints = append(endpoints, endpoint)
	}
	sort.Strings(endpoints)
	return endpoints
}

// AddRef takes an additional reference. It returns false once the Conn
// has been torn down.
func (c *Conn) AddRef() bool {
	for {
		n := c.refs.Load()
		if n <= 0 {
			return false
		}
		if c.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference and tears the Conn down when none remain.
// Extra releases are ignored.
func (c *Conn) Release() {
	for {
		n := c.refs.Load()
		if n <= 0 {
			return
		}
		if c.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				c.teardown()
			}
			return
		}
	}
}

// Disconnect sends a disconnect frame for endpoint. An empty endpoint
// disconnects the whole connection: the heartbeat stops, pending and
// in-flight connect attempts are abandoned and the transport is closed.
func (c *Conn) Disconnect(endpoint string) error {
	c.mu.Lock()
	delete(c.endpoints, endpoint)
	if endpoint == "" {
		c.stopped = true
		if c.retry != nil {
			c.retry.Stop()
			c.retry = nil
		}
		c.setState(StateDisconnected)
	}
	c.mu.Unlock()

	if endpoint == "" {
		// Unblocks a handshake or transport open that is already running
		c.cancel()
	}

	err := c.writeFrame(DisconnectFrame(endpoint))

	if endpoint == "" {
		c.closeTransport(false)
		c.logger.Info().Msg("disconnected")
	}
	return err
}

// ConnectToEndpoint joins endpoint over this connection. Without an open
// transport the join is deferred until the next upgrade.
func (c *Conn) ConnectToEndpoint(endpoint string) error {
	c.mu.Lock()
	c.endpoints[endpoint] = true
	open := c.ws != nil
	c.mu.Unlock()

	// openSocket rejoins recorded endpoints in the same critical section
	// that installs the transport, so exactly one side sends the join.
	if !open {
		c.logger.Debug().Str("endpoint", endpoint).Msg("endpoint join deferred until connected")
		return nil
	}
	return c.writeFrame(ConnectFrame(endpoint))
}

// Send sends a plain text message to endpoint
func (c *Conn) Send(endpoint, text string) error {
	return c.writeFrame(MessageFrame(endpoint, text))
}

// SendJSON sends a JSON message to endpoint
func (c *Conn) SendJSON(endpoint, jsonText string) error {
	return c.writeFrame(JSONMessageFrame(endpoint, jsonText))
}

// Emit sends an event; args must be a JSON array
func (c *Conn) Emit(endpoint, name, args string) error {
	frame, err := EventFrame(endpoint, name, args)
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

func (c *Conn) writeFrame(frame *Frame) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		return ErrNoTransport
	}

	encoded := frame.Encode()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte(encoded)); err != nil {
		return fmt.Errorf("write %s frame: %w", frame.Type, err)
	}

	c.config.Metrics.recordFrameSent(c.uri, frame.Type)
	c.logger.Debug().Str("frame", encoded).Msg("sent")
	return nil
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
	c.config.Metrics.setState(c.uri, s)
}

func (c *Conn) touch() {
	c.lastActivity.Store(c.config.Clock.Now().UnixNano())
}

// isClosed reports whether no further connect attempts may run
func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.stopped
}

func (c *Conn) ownsTransport(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws == ws
}

// scheduleAttempt replaces any pending attempt so only one chain runs.
func (c *Conn) scheduleAttempt(delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.stopped {
		return
	}
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = c.config.Scheduler.AfterFunc(delay, c.attempt)
}

// attempt runs one handshake+upgrade and reschedules itself on failure.
func (c *Conn) attempt() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("connect attempt panicked")
			c.retryLater()
		}
	}()

	if c.isClosed() {
		return
	}

	if err := c.connect(); err != nil {
		if c.isClosed() {
			return
		}
		c.logger.Warn().Err(err).Msg("connect failed")
		c.retryLater()
		return
	}

	c.mu.Lock()
	c.backoff.Reset()
	c.retry = nil
	c.mu.Unlock()
	c.config.Metrics.setRetryDelay(c.uri, 0)
}

func (c *Conn) retryLater() {
	c.mu.Lock()
	if c.closed || c.stopped {
		c.mu.Unlock()
		return
	}
	delay := c.backoff.Next()
	c.mu.Unlock()

	c.config.Metrics.setRetryDelay(c.uri, delay.Seconds())
	c.logger.Info().Dur("delay", delay).Msg("waiting before reconnect")
	c.setState(StateReconnectWait)
	c.scheduleAttempt(delay)
}

func (c *Conn) connect() error {
	c.setState(StateHandshaking)
	if err := c.handshake(c.ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.setState(StateUpgrading)
	if err := c.openSocket(c.ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	return nil
}

func (c *Conn) transportURL(sid string) string {
	scheme := "ws"
	if c.config.Secure {
		scheme = "wss"
	}
	return scheme + "://" + net.JoinHostPort(c.host, strconv.Itoa(c.port)) + c.config.HandshakePath + "/websocket/" + sid
}

// openSocket opens the websocket for the negotiated session, retrying at
// a fixed interval. On success it starts the heartbeat and receive loop.
func (c *Conn) openSocket(ctx context.Context) (err error) {
	ctx, span := c.config.Tracer.Start(ctx, "sioclient.open",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("sio.uri", c.uri)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	c.mu.Lock()
	url := c.transportURL(c.sid)
	heartbeat := c.heartbeatTimeout
	c.mu.Unlock()

	limiter := rate.NewLimiter(rate.Every(c.config.OpenRetryInterval), 1)

	var ws *websocket.Conn
	for attempt := 1; ; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("open transport: %w", err)
		}

		ws, _, err = c.config.Dialer.DialContext(ctx, url, nil)
		c.config.Metrics.recordTransportOpen(c.uri, err)
		if err == nil {
			break
		}

		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("transport open failed")
		if c.config.OpenAttempts > 0 && attempt >= c.config.OpenAttempts {
			return fmt.Errorf("%w: %v", ErrOpenAttemptsExhausted, err)
		}
	}
	span.SetAttributes(attribute.String("sio.transport", "websocket"))

	ws.SetReadLimit(c.config.ReadLimit)

	c.touch()

	c.mu.Lock()
	if c.closed || c.stopped {
		abandoned := ErrClosed
		if !c.closed {
			abandoned = ErrDisconnected
		}
		c.mu.Unlock()
		ws.Close()
		return abandoned
	}
	previous := c.ws
	c.ws = ws
	stop := make(chan struct{})
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
	}
	c.heartbeatStop = stop
	endpoints := make([]string, 0, len(c.endpoints))
	for endpoint := range c.endpoints {
		endpoints = append(endpoints, endpoint)
	}
	// Same critical section as the install, so Disconnect("") either sees
	// the transport or stops it from being installed
	c.setState(StateConnected)
	c.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	c.logger.Info().Msg("websocket created")

	if heartbeat > 0 {
		interval := time.Duration(float64(heartbeat) * c.config.HeartbeatRatio)
		go c.heartbeatLoop(stop, interval)
	}
	go c.readLoop(ws)

	sort.Strings(endpoints)
	for _, endpoint := range endpoints {
		if err := c.writeFrame(ConnectFrame(endpoint)); err != nil {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("endpoint rejoin failed")
		}
	}

	return nil
}

// readLoop blocks on the transport until it is closed or replaced.
func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.State() == StateConnected && c.ownsTransport(ws) {
				c.logger.Warn().Err(err).Msg("transport read failed")
				c.reconnect("read error")
			} else {
				c.logger.Debug().Msg("receive loop stopped")
			}
			return
		}

		frame := DecodeFrame(string(data))
		c.touch()
		c.config.Metrics.recordFrameReceived(c.uri, frame.Type)
		c.logger.Debug().Bytes("frame", data).Msg("received")

		c.handleFrame(frame)

		if c.State() != StateConnected || !c.ownsTransport(ws) {
			c.logger.Debug().Msg("receive loop stopped")
			return
		}
	}
}

// reconnect drops the current transport and re-enters the handshake
// chain. Only the caller that moves the Conn out of CONNECTED proceeds.
func (c *Conn) reconnect(reason string) {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) {
		return
	}
	c.config.Metrics.setState(c.uri, StateDisconnected)
	c.config.Metrics.recordReconnect(c.uri)
	c.logger.Info().Str("reason", reason).Msg("connection lost, reconnecting")

	c.closeTransport(true)
	c.scheduleAttempt(0)
}

// closeTransport stops the heartbeat and closes the websocket, which
// unblocks the receive loop.
func (c *Conn) closeTransport(sendDisconnect bool) {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	c.mu.Unlock()

	if ws == nil {
		return
	}

	if sendDisconnect {
		c.writeMu.Lock()
		ws.SetWriteDeadline(time.Now().Add(closeFrameTimeout))
		ws.WriteMessage(websocket.TextMessage, []byte(DisconnectFrame("").Encode()))
		c.writeMu.Unlock()
	}
	ws.Close()
}

func (c *Conn) teardown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.retry != nil {
			c.retry.Stop()
			c.retry = nil
		}
		c.mu.Unlock()

		c.cancel()
		c.setState(StateDisconnected)
		c.closeTransport(true)

		if c.registry != nil {
			c.registry.Remove(c.uri)
		}

		c.logger.Info().Msg("connection released")
		close(c.done)
	})
}
