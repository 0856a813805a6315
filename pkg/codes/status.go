package codes

// Message lifecycle statuses. Transitions are monotonic:
// queued -> sent -> delivered|failed. A message never returns to queued,
// and delivered/failed are terminal.
const (
	MsgStatusQueued    = "queued"
	MsgStatusSent      = "sent"
	MsgStatusDelivered = "delivered"
	MsgStatusFailed    = "failed"
)

// Gateway session states (runtime only, never persisted).
const (
	SessionDisconnected = "disconnected"
	SessionConnecting   = "connecting"
	SessionBound        = "bound"
	SessionUnbinding    = "unbinding"
)

// Route statuses as stored in configuration rows.
const (
	RouteStatusActive   = "ACTIVE"
	RouteStatusInactive = "INACTIVE"
)

// Bind modes as stored on gateway configuration rows.
const (
	BindModeTransmitter = "TRANSMITTER"
	BindModeReceiver    = "RECEIVER"
	BindModeTransceiver = "TRANSCEIVER"
)

// IsTerminal reports whether a message status admits no further transition.
func IsTerminal(status string) bool {
	return status == MsgStatusDelivered || status == MsgStatusFailed
}
