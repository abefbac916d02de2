// ABOUTME: Wire protocol message types for the voice service
// ABOUTME: JSON control messages exchanged as text frames alongside binary PCM frames
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client to server message types
const (
	TypeStartTalking = "start_talking"
	TypeStopTalking  = "stop_talking"
	TypeSetContext   = "set_context"
)

// Server to client message types
const (
	TypeConnected    = "connected"
	TypeReady        = "ready"
	TypeSpeaking     = "speaking"
	TypeSubtitle     = "subtitle"
	TypeTurnComplete = "turn_complete"
	TypeError        = "error"
)

// MaxContextLength is the longest mission context in characters
const MaxContextLength = 2000

var (
	// ErrMissingType is returned for a message without a type field
	ErrMissingType = errors.New("message has no type")

	// ErrMissingField is returned when a type's required payload field is absent
	ErrMissingField = errors.New("message is missing a required field")
)

// ClientMessage is sent by the client as a text frame
type ClientMessage struct {
	Type    string `json:"type"`
	Context string `json:"context,omitempty"`
}

// StartTalking opens a talk turn
func StartTalking() ClientMessage {
	return ClientMessage{Type: TypeStartTalking}
}

// StopTalking closes a talk turn
func StopTalking() ClientMessage {
	return ClientMessage{Type: TypeStopTalking}
}

// SetContext carries the mission context for the next turn
func SetContext(context string) ClientMessage {
	return ClientMessage{Type: TypeSetContext, Context: context}
}

// ServerMessage is received from the service as a text frame. Only the
// fields of the given type are set.
type ServerMessage struct {
	Type    string `json:"type"`
	Value   *bool  `json:"value,omitempty"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// Speaking reports the value of a speaking message
func (m ServerMessage) Speaking() bool {
	return m.Value != nil && *m.Value
}

// Ready signals the connection is usable for sessions
func Ready() ServerMessage {
	return ServerMessage{Type: TypeReady}
}

// Connected is sent by some services on open, before ready
func Connected() ServerMessage {
	return ServerMessage{Type: TypeConnected}
}

// SpeakingMessage reports whether the service is producing speech
func SpeakingMessage(v bool) ServerMessage {
	return ServerMessage{Type: TypeSpeaking, Value: &v}
}

// Subtitle carries transcript text
func Subtitle(text string) ServerMessage {
	return ServerMessage{Type: TypeSubtitle, Text: text}
}

// TurnComplete marks the end of the service's response
func TurnComplete() ServerMessage {
	return ServerMessage{Type: TypeTurnComplete}
}

// Error carries an application error to show the user
func Error(message string) ServerMessage {
	return ServerMessage{Type: TypeError, Message: message}
}

// ParseServer decodes a server text frame. Unknown types are returned
// without error so callers can ignore them.
func ParseServer(data []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("failed to parse server message: %w", err)
	}
	if msg.Type == "" {
		return ServerMessage{}, ErrMissingType
	}
	if msg.Type == TypeSpeaking && msg.Value == nil {
		return ServerMessage{}, fmt.Errorf("%w: speaking.value", ErrMissingField)
	}
	return msg, nil
}

// ParseClient decodes a client text frame
func ParseClient(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("failed to parse client message: %w", err)
	}
	if msg.Type == "" {
		return ClientMessage{}, ErrMissingType
	}
	return msg, nil
}
