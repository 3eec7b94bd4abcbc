package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrHandshakeStatus    = errors.New("unexpected handshake status")
	ErrMalformedHandshake = errors.New("malformed handshake response")
	ErrNoWebSocket        = errors.New("server does not offer websocket transport")
)

// maxHandshakeBody bounds the handshake response read.
const maxHandshakeBody = 4096

// Handshake is the negotiated session description
type Handshake struct {
	SID              string
	HeartbeatTimeout time.Duration
	CloseTimeout     time.Duration
	Transports       []string
}

// ParseHandshake parses sid:heartbeat:timeout:transports. An empty
// heartbeat field means the server disabled heartbeats.
func ParseHandshake(body string) (*Handshake, error) {
	fields := strings.Split(strings.TrimSpace(body), ":")
	if len(fields) != 4 {
		return nil, fmt.Errorf("%w: %d fields", ErrMalformedHandshake, len(fields))
	}
	if fields[0] == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrMalformedHandshake)
	}

	heartbeat, err := parseSeconds(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: heartbeat timeout: %v", ErrMalformedHandshake, err)
	}
	closeTimeout, err := parseSeconds(fields[2])
	if err != nil {
		return nil, fmt.Errorf("%w: connection timeout: %v", ErrMalformedHandshake, err)
	}

	hs := &Handshake{
		SID:              fields[0],
		HeartbeatTimeout: heartbeat,
		CloseTimeout:     closeTimeout,
	}
	for _, t := range strings.Split(fields[3], ",") {
		if t = strings.TrimSpace(t); t != "" {
			hs.Transports = append(hs.Transports, t)
		}
	}
	return hs, nil
}

// Supports reports whether the server offered the named transport
func (h *Handshake) Supports(transport string) bool {
	for _, t := range h.Transports {
		if t == transport {
			return true
		}
	}
	return false
}

func parseSeconds(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return time.Duration(n) * time.Second, nil
}

func (c *Conn) handshakeURL() string {
	scheme := "http"
	if c.config.Secure {
		scheme = "https"
	}
	url := scheme + "://" + net.JoinHostPort(c.host, strconv.Itoa(c.port)) + c.config.HandshakePath
	if c.query != "" {
		url += "?" + c.query
	}
	return url
}

// handshake performs one POST against the handshake path and stores the
// negotiated session on success. It never retries.
func (c *Conn) handshake(ctx context.Context) (err error) {
	ctx, span := c.config.Tracer.Start(ctx, "sioclient.handshake",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("sio.uri", c.uri)),
	)
	defer func() {
		c.config.Metrics.recordHandshake(c.uri, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	url := c.handshakeURL()
	c.logger.Debug().Str("url", url).Msg("handshake")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("build handshake request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("handshake request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxHandshakeBody))
		return fmt.Errorf("%w: %s", ErrHandshakeStatus, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHandshakeBody))
	if err != nil {
		return fmt.Errorf("read handshake response: %w", err)
	}

	hs, err := ParseHandshake(string(body))
	if err != nil {
		return err
	}
	if !hs.Supports("websocket") {
		return fmt.Errorf("%w: %s", ErrNoWebSocket, strings.Join(hs.Transports, ","))
	}

	span.SetAttributes(
		attribute.String("sio.sid", hs.SID),
		attribute.Int64("sio.heartbeat_timeout_s", int64(hs.HeartbeatTimeout/time.Second)),
	)
	c.logger.Info().
		Str("sid", hs.SID).
		Dur("heartbeat", hs.HeartbeatTimeout).
		Dur("timeout", hs.CloseTimeout).
		Strs("transports", hs.Transports).
		Msg("handshake complete")

	c.mu.Lock()
	c.sid = hs.SID
	c.heartbeatTimeout = hs.HeartbeatTimeout
	c.closeTimeout = hs.CloseTimeout
	c.mu.Unlock()

	return nil
}
