package sioclient

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"

	"github.com/ramory-l/sioclient/engine"
)

var (
	ErrAlreadyConnected = errors.New("endpoint already connected")
	ErrInvalidURL       = errors.New("invalid socket.io url")
)

// Registry multiplexes endpoint clients over one connection per host:port
type Registry struct {
	config  engine.Config
	conns   map[string]*engine.Conn // host:port -> connection
	clients map[string]*Client      // host:port+endpoint -> client
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	config := engine.DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	return &Registry{
		config:  *config,
		conns:   make(map[string]*engine.Conn),
		clients: make(map[string]*Client),
	}
}

// Connect parses http://host:port/endpoint?query and returns a client for
// the endpoint, opening the physical connection if none exists yet. It
// returns before the handshake completes.
func (r *Registry) Connect(rawURL string) (*Client, error) {
	target, err := parseTarget(rawURL)
	if err != nil {
		return nil, err
	}
	key := target.hostPort + target.endpoint

	r.mu.Lock()
	if _, exists := r.clients[key]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConnected, key)
	}

	conn, ok := r.conns[target.hostPort]
	if !ok || !conn.AddRef() {
		config := r.config
		config.Secure = target.secure
		conn = engine.Open(target.host, target.port, target.query, r, &config)
		r.conns[target.hostPort] = conn
	}

	client := newClient(key, target.endpoint, conn, r, r.config.Logger)
	r.clients[key] = client
	r.mu.Unlock()

	if target.endpoint != "" {
		if err := conn.ConnectToEndpoint(target.endpoint); err != nil {
			client.Disconnect()
			return nil, fmt.Errorf("connect to endpoint %s: %w", target.endpoint, err)
		}
	}

	return client, nil
}

// Lookup returns the client registered for host:port+endpoint
func (r *Registry) Lookup(uri string) (engine.Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[uri]
	if !ok {
		return nil, false
	}
	return client, true
}

// Client returns the client registered for host:port+endpoint
func (r *Registry) Client(uri string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[uri]
	return client, ok
}

// Remove forgets the connection for host:port once it holds no references
func (r *Registry) Remove(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[uri]; ok && conn.Refs() <= 0 {
		delete(r.conns, uri)
	}
}

// Conn returns the connection for host:port
func (r *Registry) Conn(hostPort string) (*engine.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[hostPort]
	return conn, ok
}

// Close disconnects every client
func (r *Registry) Close() error {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	r.mu.RUnlock()

	var errs []error
	for _, client := range clients {
		if err := client.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) removeClient(uri string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clients[uri] == client {
		delete(r.clients, uri)
	}
}

type target struct {
	host     string
	port     int
	hostPort string
	endpoint string
	query    string
	secure   bool
}

func parseTarget(rawURL string) (*target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	t := &target{query: u.RawQuery}
	port := "80"
	switch u.Scheme {
	case "http", "ws":
	case "https", "wss":
		t.secure = true
		port = "443"
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	t.host = u.Hostname()
	if t.host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if p := u.Port(); p != "" {
		port = p
	}
	t.port, err = strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("%w: port %q", ErrInvalidURL, port)
	}
	t.hostPort = net.JoinHostPort(t.host, strconv.Itoa(t.port))

	if u.Path != "/" {
		t.endpoint = u.Path
	}
	return t, nil
}
