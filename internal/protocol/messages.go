package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ErDashrath/EchoLearn-sub001/internal/voice"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl MessageType = "client_control"
	TypeStateUpdate   MessageType = "state_update"
	TypeTranscript    MessageType = "transcript"
	TypeErrorEvent    MessageType = "error_event"
)

// Client control actions.
const (
	ActionInitialize     = "initialize"
	ActionStartListening = "start_listening"
	ActionStopListening  = "stop_listening"
	ActionSpeak          = "speak"
	ActionStopSpeaking   = "stop_speaking"
	ActionReset          = "reset"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientControl is the single client-to-server message: a pipeline action
// plus the speak text when the action needs one.
type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
	Text   string      `json:"text,omitempty"`
}

// StateUpdate pushes the authoritative pipeline snapshot to the client.
type StateUpdate struct {
	Type  MessageType `json:"type"`
	State voice.State `json:"state"`
	TSMs  int64       `json:"ts_ms"`
}

// Transcript delivers the resolved text of one stopped capture.
type Transcript struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
	TSMs int64       `json:"ts_ms"`
}

// ErrorEvent reports a pipeline failure the client should surface.
type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func validAction(action string) bool {
	switch action {
	case ActionInitialize, ActionStartListening, ActionStopListening,
		ActionSpeak, ActionStopSpeaking, ActionReset:
		return true
	}
	return false
}

// ParseClientMessage decodes and validates one raw websocket frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if !validAction(msg.Action) {
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		if msg.Action == ActionSpeak && msg.Text == "" {
			return nil, errors.New("speak action requires text")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
