package nfc

import "context"

// Host is the platform capability that scans for and writes to tags.
//
// Every blocking call receives the context of the session's cancellation
// token and must stop when it is cancelled. Readings and read errors are
// pushed through the handlers; a nil handler detaches the sink.
//
// Example:
//
//	host, _ := provider.NewHost()
//	host.SetReadingHandler(func(ev nfc.ReadingEvent) { ... })
//	err := host.Scan(token.Context())
type Host interface {
	Scan(ctx context.Context) error
	Write(ctx context.Context, msg Message) error
	SetReadingHandler(fn func(ReadingEvent))
	SetErrorHandler(fn func(error))
}

// ReadOnlyMaker is optionally implemented by Hosts that can lock a tag.
type ReadOnlyMaker interface {
	MakeReadOnly(ctx context.Context) error
}

// HostProvider creates Hosts. It replaces a global reader constructor so the
// Manager can be wired to any binding, including test doubles.
type HostProvider interface {
	// Available reports whether the capability exists right now.
	Available() bool
	// NewHost returns a fresh reader handle for one session.
	NewHost() (Host, error)
}

// PermissionState is the advisory permission state of the capability.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionPrompt  PermissionState = "prompt"
)

// PermissionQuerier is optionally implemented by HostProviders that can
// report the permission state.
type PermissionQuerier interface {
	QueryPermission(ctx context.Context) (PermissionState, error)
}

// IsSupported reports whether the host exposes the reading capability.
func (m *Manager) IsSupported() bool {
	if m.provider == nil || !m.provider.Available() {
		m.log.Warn().Msg("NFC reader capability is not available on this host")
		return false
	}
	return true
}

// CheckPermission queries the permission state. Any failure to query is
// reported as PermissionDenied.
func (m *Manager) CheckPermission(ctx context.Context) PermissionState {
	if m.provider == nil {
		return PermissionDenied
	}
	querier, ok := m.provider.(PermissionQuerier)
	if !ok {
		m.log.Debug().Msg("host cannot report permission state, assuming denied")
		return PermissionDenied
	}
	state, err := querier.QueryPermission(ctx)
	if err != nil {
		m.log.Debug().Err(err).Msg("permission query failed, assuming denied")
		return PermissionDenied
	}
	switch state {
	case PermissionGranted, PermissionDenied, PermissionPrompt:
		return state
	default:
		return PermissionDenied
	}
}
