package protocol

import (
	"encoding/json"
	"fmt"
)

// WebSocket message types.
const (
	// client -> bridge
	TypeRegister     = "register"
	TypeResponse     = "response"
	TypeReading      = "reading"
	TypeReadingError = "readingError"
	TypePermission   = "permission"

	// bridge -> client
	TypeRegistered   = "registered"
	TypeScan         = "scan"
	TypeWrite        = "write"
	TypeMakeReadOnly = "makeReadOnly"
	TypeAbort        = "abort"
	TypeError        = "error"
)

// Envelope is the generic message frame for WebSocket communication. Commands
// and their responses share the same ID.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope encodes payload into a new envelope. A nil payload is omitted.
func NewEnvelope(id, msgType string, payload any) (Envelope, error) {
	env := Envelope{ID: id, Type: msgType}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	env.Payload = data
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ErrorPayload describes a failure. Name is a host error name such as
// "NotAllowedError" or "AbortError".
type ErrorPayload struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ResponsePayload answers a command. Error is set when Success is false.
type ResponsePayload struct {
	Success bool          `json:"success"`
	Error   *ErrorPayload `json:"error,omitempty"`
}

// WritePayload is the payload of a write command.
type WritePayload struct {
	Message MessagePayload `json:"message"`
}

// ReadingPayload is sent by the client for every tag it reads.
type ReadingPayload struct {
	SerialNumber string         `json:"serialNumber"`
	Message      MessagePayload `json:"message"`
}

// ReadingErrorPayload is sent when the client saw a tag but could not read it.
type ReadingErrorPayload struct {
	Message string `json:"message"`
}

// PermissionPayload reports the client's current permission state
// ("granted", "denied" or "prompt").
type PermissionPayload struct {
	State string `json:"state"`
}

// ClientErrorPayload is sent to a client whose message could not be handled.
type ClientErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
