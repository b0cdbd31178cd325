package ws

import "github.com/DoyleJ11/clicker-client/pkg/types"

// Close codes the manager reasons about. Anything but CloseNormal triggers a reconnect.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006 // no close frame was received

	CloseTokenRejected = types.CloseTokenRejected
	CloseReplaced      = types.CloseReplaced
)

// Lifecycle events emitted on the bus next to the server's own message types.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventError        = "error"
	EventMessage      = "message"
)

// CloseInfo is the payload of EventDisconnected.
type CloseInfo struct {
	Code   int
	Reason string
}
