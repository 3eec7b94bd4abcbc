package engine

// NotificationType identifies what a Notification carries
type NotificationType int

const (
	NotificationConnect NotificationType = iota
	NotificationDisconnect
	NotificationMessage
	NotificationJSONMessage
	NotificationEvent
)

// Notification is published to the subscriber of an endpoint
type Notification struct {
	Type     NotificationType
	Endpoint string
	Data     string
	Event    *Event
}

// Subscriber receives notifications for one endpoint
type Subscriber interface {
	Publish(Notification)
}

// Registry resolves subscribers by host:port + endpoint
type Registry interface {
	// Lookup returns the subscriber registered for uri
	Lookup(uri string) (Subscriber, bool)

	// Remove drops the connection registered for uri
	Remove(uri string)
}

// String returns the notification type as a string
func (nt NotificationType) String() string {
	switch nt {
	case NotificationConnect:
		return "connect"
	case NotificationDisconnect:
		return "disconnect"
	case NotificationMessage:
		return "message"
	case NotificationJSONMessage:
		return "json"
	case NotificationEvent:
		return "event"
	default:
		return "unknown"
	}
}

func (c *Conn) handleFrame(frame *Frame) {
	switch frame.Type {
	case FrameTypeDisconnect:
		if frame.Endpoint == "" {
			c.logger.Info().Msg("server closed the connection")
			c.reconnect("server disconnect")
			return
		}
		c.logger.Info().Str("endpoint", frame.Endpoint).Msg("endpoint disconnected")
		c.publish(frame, Notification{Type: NotificationDisconnect, Endpoint: frame.Endpoint})
	case FrameTypeConnect:
		c.logger.Info().Str("endpoint", frame.Endpoint).Msg("connected to endpoint")
		c.publish(frame, Notification{Type: NotificationConnect, Endpoint: frame.Endpoint})
	case FrameTypeHeartbeat:
		c.logger.Debug().Msg("heartbeat received")
	case FrameTypeMessage:
		c.publish(frame, Notification{Type: NotificationMessage, Endpoint: frame.Endpoint, Data: frame.Data})
	case FrameTypeJSONMessage:
		c.publish(frame, Notification{Type: NotificationJSONMessage, Endpoint: frame.Endpoint, Data: frame.Data})
	case FrameTypeEvent:
		event, err := ParseEvent(frame.Data)
		if err != nil {
			c.logger.Warn().Err(err).Str("endpoint", frame.Endpoint).Msg("dropping malformed event")
			return
		}
		c.publish(frame, Notification{Type: NotificationEvent, Endpoint: frame.Endpoint, Data: frame.Data, Event: event})
	case FrameTypeAck:
		c.logger.Info().Str("id", frame.ID).Str("data", frame.Data).Msg("message ack")
	case FrameTypeError:
		c.logger.Warn().Str("endpoint", frame.Endpoint).Str("reason", frame.Data).Msg("server error")
	case FrameTypeNoop:
		c.logger.Debug().Msg("noop")
	default:
		c.logger.Warn().Int("code", int(frame.Type)).Msg("unknown control code")
	}
}

func (c *Conn) publish(frame *Frame, n Notification) {
	key := c.uri + frame.Endpoint
	if c.registry == nil {
		c.logger.Debug().Str("uri", key).Stringer("type", frame.Type).Msg("no registry, dropping frame")
		return
	}

	sub, ok := c.registry.Lookup(key)
	if !ok || sub == nil {
		c.logger.Debug().Str("uri", key).Stringer("type", frame.Type).Msg("no subscriber, dropping frame")
		return
	}

	sub.Publish(n)
}
