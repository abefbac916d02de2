// ABOUTME: Tests for wire protocol messages
// ABOUTME: Tests encoding of client messages and parsing of server messages
package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestClientMessageEncoding(t *testing.T) {
	tests := []struct {
		name string
		msg  ClientMessage
		want string
	}{
		{"start", StartTalking(), `{"type":"start_talking"}`},
		{"stop", StopTalking(), `{"type":"stop_talking"}`},
		{"context", SetContext("find the exit"), `{"type":"set_context","context":"find the exit"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("got %s, want %s", data, tt.want)
			}
		})
	}
}

func TestSpeakingFalseIsEncoded(t *testing.T) {
	data, err := json.Marshal(SpeakingMessage(false))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"speaking","value":false}` {
		t.Errorf("got %s", data)
	}
}

func TestParseServer(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string
		check    func(t *testing.T, m ServerMessage)
		wantErr  error
	}{
		{name: "ready", input: `{"type":"ready"}`, wantType: TypeReady},
		{name: "connected", input: `{"type":"connected"}`, wantType: TypeConnected},
		{
			name: "speaking true", input: `{"type":"speaking","value":true}`, wantType: TypeSpeaking,
			check: func(t *testing.T, m ServerMessage) {
				if !m.Speaking() {
					t.Error("expected speaking true")
				}
			},
		},
		{
			name: "speaking false", input: `{"type":"speaking","value":false}`, wantType: TypeSpeaking,
			check: func(t *testing.T, m ServerMessage) {
				if m.Speaking() {
					t.Error("expected speaking false")
				}
			},
		},
		{
			name: "subtitle", input: `{"type":"subtitle","text":"hello"}`, wantType: TypeSubtitle,
			check: func(t *testing.T, m ServerMessage) {
				if m.Text != "hello" {
					t.Errorf("text = %q", m.Text)
				}
			},
		},
		{
			name: "error", input: `{"type":"error","message":"quota exceeded"}`, wantType: TypeError,
			check: func(t *testing.T, m ServerMessage) {
				if m.Message != "quota exceeded" {
					t.Errorf("message = %q", m.Message)
				}
			},
		},
		{name: "unknown type passes", input: `{"type":"telemetry","x":1}`, wantType: "telemetry"},
		{name: "missing type", input: `{"text":"x"}`, wantErr: ErrMissingType},
		{name: "speaking without value", input: `{"type":"speaking"}`, wantErr: ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseServer([]byte(tt.input))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if m.Type != tt.wantType {
				t.Errorf("type = %q, want %q", m.Type, tt.wantType)
			}
			if tt.check != nil {
				tt.check(t, m)
			}
		})
	}
}

func TestParseServerMalformed(t *testing.T) {
	for _, input := range []string{"", "not json", "{", `["ready"]`} {
		if _, err := ParseServer([]byte(input)); err == nil {
			t.Errorf("expected error for %q", input)
		}
	}
}

func TestParseClient(t *testing.T) {
	m, err := ParseClient([]byte(`{"type":"set_context","context":"abc"}`))
	if err != nil {
		t.Fatal(err)
	}
	if m.Type != TypeSetContext || m.Context != "abc" {
		t.Errorf("unexpected message %+v", m)
	}

	if _, err := ParseClient([]byte(`{}`)); !errors.Is(err, ErrMissingType) {
		t.Errorf("expected ErrMissingType, got %v", err)
	}
}
