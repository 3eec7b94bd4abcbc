package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FrameType represents Socket.IO 0.9 control codes
type FrameType int

const (
	FrameTypeDisconnect FrameType = iota
	FrameTypeConnect
	FrameTypeHeartbeat
	FrameTypeMessage
	FrameTypeJSONMessage
	FrameTypeEvent
	FrameTypeAck
	FrameTypeError
	FrameTypeNoop
)

// Frame is one decoded unit of the colon-delimited protocol
type Frame struct {
	Type     FrameType
	ID       string
	Endpoint string
	Data     string
}

// Event is the JSON envelope carried by event frames
type Event struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Encode encodes the frame as code:id:endpoint[:data]
func (f *Frame) Encode() string {
	var builder strings.Builder

	builder.WriteString(strconv.Itoa(int(f.Type)))
	builder.WriteByte(':')
	builder.WriteString(f.ID)
	builder.WriteByte(':')
	builder.WriteString(f.Endpoint)

	// Message-bearing frames always carry the payload separator
	switch f.Type {
	case FrameTypeMessage, FrameTypeJSONMessage, FrameTypeEvent:
		builder.WriteByte(':')
		builder.WriteString(f.Data)
	default:
		if f.Data != "" {
			builder.WriteByte(':')
			builder.WriteString(f.Data)
		}
	}

	return builder.String()
}

// DecodeFrame tokenizes a raw frame. It never fails: an unparseable code
// falls back to disconnect and missing tokens are left empty.
func DecodeFrame(data string) *Frame {
	tokens := strings.Split(data, ":")

	frame := &Frame{}
	if code, err := strconv.Atoi(tokens[0]); err == nil {
		frame.Type = FrameType(code)
	}
	if len(tokens) >= 2 {
		frame.ID = tokens[1]
	}
	if len(tokens) >= 3 {
		frame.Endpoint = tokens[2]
	}
	if len(tokens) >= 4 {
		// Event JSON may contain colons; other payloads are the 4th token only
		if frame.Type == FrameTypeEvent {
			frame.Data = strings.Join(tokens[3:], ":")
		} else {
			frame.Data = tokens[3]
		}
	}

	return frame
}

// DisconnectFrame builds 0::<endpoint>
func DisconnectFrame(endpoint string) *Frame {
	return &Frame{Type: FrameTypeDisconnect, Endpoint: endpoint}
}

// ConnectFrame builds 1::<endpoint>
func ConnectFrame(endpoint string) *Frame {
	return &Frame{Type: FrameTypeConnect, Endpoint: endpoint}
}

// HeartbeatFrame builds 2::
func HeartbeatFrame() *Frame {
	return &Frame{Type: FrameTypeHeartbeat}
}

// MessageFrame builds 3::<endpoint>:<text>
func MessageFrame(endpoint, text string) *Frame {
	return &Frame{Type: FrameTypeMessage, Endpoint: endpoint, Data: text}
}

// JSONMessageFrame builds 4::<endpoint>:<json>
func JSONMessageFrame(endpoint, jsonText string) *Frame {
	return &Frame{Type: FrameTypeJSONMessage, Endpoint: endpoint, Data: jsonText}
}

// EventFrame builds 5::<endpoint>:{"name":<name>,"args":<args>}.
// args must already be a JSON array; empty args encode as [].
func EventFrame(endpoint, name, args string) (*Frame, error) {
	if strings.TrimSpace(args) == "" {
		args = "[]"
	}
	if !json.Valid([]byte(args)) {
		return nil, fmt.Errorf("invalid event args for %q", name)
	}

	quoted, err := json.Marshal(name)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event name: %w", err)
	}

	var builder strings.Builder
	builder.WriteString(`{"name":`)
	builder.Write(quoted)
	builder.WriteString(`,"args":`)
	builder.WriteString(args)
	builder.WriteByte('}')

	return &Frame{Type: FrameTypeEvent, Endpoint: endpoint, Data: builder.String()}, nil
}

// ParseEvent decodes the payload of an event frame
func ParseEvent(data string) (*Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if event.Name == "" {
		return nil, fmt.Errorf("event without name")
	}
	if len(event.Args) == 0 {
		event.Args = json.RawMessage("[]")
	}
	return &event, nil
}

// String returns the frame type as a string
func (ft FrameType) String() string {
	switch ft {
	case FrameTypeDisconnect:
		return "disconnect"
	case FrameTypeConnect:
		return "connect"
	case FrameTypeHeartbeat:
		return "heartbeat"
	case FrameTypeMessage:
		return "message"
	case FrameTypeJSONMessage:
		return "json"
	case FrameTypeEvent:
		return "event"
	case FrameTypeAck:
		return "ack"
	case FrameTypeError:
		return "error"
	case FrameTypeNoop:
		return "noop"
	default:
		return "unknown(" + strconv.Itoa(int(ft)) + ")"
	}
}
