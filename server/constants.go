package server

import "github.com/nedpals/davi-nfc-session/buildinfo"

// DefaultPort is the port the bridge listens on when none is configured.
const DefaultPort = 18080

// mDNS service discovery constants
var (
	MDNSServiceType = "_davi-nfc._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// HTTP routes
const (
	RouteWebSocket = "/ws"
	RouteHealth    = "/health"
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)
