// Package protocol provides the wire types spoken between the session bridge
// and remote NFC clients (a browser page or phone app exposing Web NFC).
// This package is designed to be importable without pulling in server dependencies.
package protocol

import "time"

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Connected bool      `json:"connected"` // a remote client is registered
	Client    string    `json:"client,omitempty"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// Error codes carried in error envelopes sent to clients.
const (
	ErrCodeParse              = "PARSE_ERROR"
	ErrCodeInvalidMessageType = "INVALID_MESSAGE_TYPE"
	ErrCodeInvalidPayload     = "INVALID_PAYLOAD"
	ErrCodeUnknownType        = "UNKNOWN_TYPE"
	ErrCodeUnknownRequest     = "UNKNOWN_REQUEST"
)
