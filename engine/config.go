package engine

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// BackoffConfig defines the reconnection backoff policy.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// Config holds connection engine configuration
type Config struct {
	// HandshakePath is the handshake resource; the transport lives at
	// HandshakePath + "/websocket/<sid>".
	HandshakePath string
	// Secure selects https/wss instead of http/ws.
	Secure bool

	// OpenRetryInterval paces the transport upgrader's local retry.
	OpenRetryInterval time.Duration
	// OpenAttempts bounds the local retry; 0 retries until the
	// connection is released.
	OpenAttempts int

	Backoff BackoffConfig

	// HeartbeatRatio is the heartbeat period as a fraction of the
	// negotiated heartbeat timeout.
	HeartbeatRatio float64
	// DeadAfterFactor is the multiple of the heartbeat timeout without
	// inbound frames after which the peer is considered gone.
	DeadAfterFactor float64

	WriteTimeout time.Duration
	ReadLimit    int64

	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	Logger    zerolog.Logger
	Metrics   *Metrics
	Tracer    trace.Tracer
	Clock     Clock
	Scheduler Scheduler
}

// DefaultConfig returns default engine configuration
func DefaultConfig() *Config {
	return &Config{
		HandshakePath:     "/socket.io/1",
		OpenRetryInterval: 2 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: time.Second,
			Multiplier:   2.0,
			MaxDelay:     240 * time.Second,
		},
		HeartbeatRatio:  0.75,
		DeadAfterFactor: 2.0,
		WriteTimeout:    10 * time.Second,
		ReadLimit:       1 << 20,
		HTTPClient:      &http.Client{Timeout: 30 * time.Second},
		Dialer:          websocket.DefaultDialer,
		Logger:          zerolog.Nop(),
		Tracer:          otel.Tracer("github.com/ramory-l/sioclient/engine"),
		Clock:           SystemClock{},
		Scheduler:       SystemScheduler{},
	}
}

// withDefaults fills every zero field from DefaultConfig.
func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		return def
	}

	out := *c
	if out.HandshakePath == "" {
		out.HandshakePath = def.HandshakePath
	}
	if out.OpenRetryInterval <= 0 {
		out.OpenRetryInterval = def.OpenRetryInterval
	}
	if out.Backoff.InitialDelay <= 0 {
		out.Backoff.InitialDelay = def.Backoff.InitialDelay
	}
	if out.Backoff.Multiplier < 1.0 {
		out.Backoff.Multiplier = def.Backoff.Multiplier
	}
	if out.Backoff.MaxDelay <= 0 {
		out.Backoff.MaxDelay = def.Backoff.MaxDelay
	}
	if out.HeartbeatRatio <= 0 {
		out.HeartbeatRatio = def.HeartbeatRatio
	}
	if out.DeadAfterFactor <= 0 {
		out.DeadAfterFactor = def.DeadAfterFactor
	}
	if out.ReadLimit <= 0 {
		out.ReadLimit = def.ReadLimit
	}
	if out.HTTPClient == nil {
		out.HTTPClient = def.HTTPClient
	}
	if out.Dialer == nil {
		out.Dialer = def.Dialer
	}
	if out.Tracer == nil {
		out.Tracer = def.Tracer
	}
	if out.Clock == nil {
		out.Clock = def.Clock
	}
	if out.Scheduler == nil {
		out.Scheduler = def.Scheduler
	}
	return &out
}
