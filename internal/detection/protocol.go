// Package detection manages the websocket connection to the sign detection service.
package detection

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType tags every message exchanged with the detection service.
type MessageType string

const (
	TypeFrame     MessageType = "frame"
	TypeCommand   MessageType = "command"
	TypeDetection MessageType = "detection"
	TypeError     MessageType = "error"
)

// Action is a session command understood by the detection service.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
	ActionClear Action = "clear"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionStart, ActionStop, ActionClear:
		return true
	}
	return false
}

// ErrMalformedMessage marks inbound payloads that could not be decoded.
// Such messages are discarded.
var ErrMalformedMessage = errors.New("malformed message")

// Envelope is the framing shared by all messages: one JSON object per
// websocket message.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// FramePayload carries one captured still.
type FramePayload struct {
	Image     string `json:"image"`
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"session_id"`
}

// CommandPayload carries a session command.
type CommandPayload struct {
	Action    Action `json:"action"`
	SessionID string `json:"session_id"`
}

// DetectionPayload is the result of analysing one frame. Every field is optional.
type DetectionPayload struct {
	Sign         *string     `json:"sign,omitempty"`
	Confidence   *float64    `json:"confidence,omitempty"`
	HandDetected *bool       `json:"hand_detected,omitempty"`
	Landmarks    [][]float64 `json:"landmarks,omitempty"`
	Timestamp    *float64    `json:"timestamp,omitempty"`
	SessionID    string      `json:"session_id,omitempty"`
}

// SignValue returns the detected sign or "" when none was recognized.
func (p *DetectionPayload) SignValue() string {
	if p == nil || p.Sign == nil {
		return ""
	}
	return *p.Sign
}

// ConfidenceValue returns the confidence clamped to [0,1].
func (p *DetectionPayload) ConfidenceValue() float64 {
	if p == nil || p.Confidence == nil {
		return 0
	}
	switch c := *p.Confidence; {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// FrameTimestamp returns the echoed frame timestamp in epoch ms, or 0.
func (p *DetectionPayload) FrameTimestamp() int64 {
	if p == nil || p.Timestamp == nil || *p.Timestamp < 0 {
		return 0
	}
	return int64(*p.Timestamp)
}

// StatusPayload is the body of command acknowledgements and error messages.
type StatusPayload struct {
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Inbound is a decoded message from the detection service. Exactly one of
// Detection and Status is set, according to Type.
type Inbound struct {
	Type      MessageType       `json:"type"`
	Detection *DetectionPayload `json:"detection,omitempty"`
	Status    *StatusPayload    `json:"status,omitempty"`
}

// ParseInbound decodes a message from the detection service. Errors wrap
// ErrMalformedMessage.
func ParseInbound(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	payload := env.Payload
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage("{}")
	}

	switch env.Type {
	case TypeDetection:
		var p DetectionPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Inbound{}, fmt.Errorf("%w: detection payload: %v", ErrMalformedMessage, err)
		}
		return Inbound{Type: env.Type, Detection: &p}, nil

	case TypeCommand, TypeError:
		var p StatusPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Inbound{}, fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, env.Type, err)
		}
		return Inbound{Type: env.Type, Status: &p}, nil

	case "":
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)

	default:
		return Inbound{}, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, env.Type)
	}
}

// outbound is the wire form of client messages.
type outbound struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

func frameMessage(image string, timestamp int64, sessionID string) outbound {
	return outbound{Type: TypeFrame, Payload: FramePayload{Image: image, Timestamp: timestamp, SessionID: sessionID}}
}

func commandMessage(action Action, sessionID string) outbound {
	return outbound{Type: TypeCommand, Payload: CommandPayload{Action: action, SessionID: sessionID}}
}
