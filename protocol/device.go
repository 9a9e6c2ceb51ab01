package protocol

// RegisterPayload is sent by a client right after connecting.
type RegisterPayload struct {
	Name            string            `json:"name"`     // e.g., "Kiosk tablet"
	Platform        string            `json:"platform"` // "android", "web", ...
	AppVersion      string            `json:"appVersion,omitempty"`
	CanMakeReadOnly bool              `json:"canMakeReadOnly"`
	Permission      string            `json:"permission,omitempty"` // initial permission state
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// RegisteredPayload is sent by the bridge after a successful registration.
type RegisteredPayload struct {
	ClientID   string     `json:"clientID"` // Unique client identifier (UUID)
	ServerInfo ServerInfo `json:"serverInfo"`
}

// ServerInfo contains information about the bridge.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
