package engine

import "time"

func (c *Conn) heartbeatLoop(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.heartbeat()
		}
	}
}

// heartbeat sends one heartbeat frame and checks peer liveness. A failed
// send or a silent peer drops the connection and starts reconnecting.
func (c *Conn) heartbeat() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("heartbeat panicked")
		}
	}()

	if err := c.writeFrame(HeartbeatFrame()); err != nil {
		c.logger.Warn().Err(err).Msg("heartbeat send failed")
		c.reconnect("heartbeat send failed")
		return
	}

	if c.expired() {
		c.logger.Warn().Time("last_activity", c.LastActivity()).Msg("heartbeat timeout")
		if c.State() == StateConnected {
			c.config.Metrics.recordHeartbeatTimeout(c.uri)
		}
		c.reconnect("heartbeat timeout")
	}
}

// expired reports whether the peer has been silent longer than
// DeadAfterFactor heartbeat timeouts.
func (c *Conn) expired() bool {
	heartbeat := c.HeartbeatTimeout()
	if heartbeat <= 0 {
		return false
	}
	deadAfter := time.Duration(float64(heartbeat) * c.config.DeadAfterFactor)
	return c.config.Clock.Now().Sub(c.LastActivity()) > deadAfter
}
