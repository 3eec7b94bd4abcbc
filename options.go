package sioclient

import (
	"github.com/ramory-l/sioclient/engine"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Registry
type Option func(*engine.Config)

// WithEngineConfig replaces the whole engine configuration. Options
// applied after it still take effect.
func WithEngineConfig(config *engine.Config) Option {
	return func(c *engine.Config) {
		if config != nil {
			*c = *config
		}
	}
}

// WithLogger sets the logger handed to every connection
func WithLogger(logger zerolog.Logger) Option {
	return func(c *engine.Config) {
		c.Logger = logger
	}
}

// WithMetrics enables Prometheus metrics
func WithMetrics(metrics *engine.Metrics) Option {
	return func(c *engine.Config) {
		c.Metrics = metrics
	}
}

// WithTracer sets the tracer used for handshake and transport spans
func WithTracer(tracer trace.Tracer) Option {
	return func(c *engine.Config) {
		c.Tracer = tracer
	}
}
