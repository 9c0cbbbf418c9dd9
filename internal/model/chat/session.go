package chat

import "time"

// State tracks the session lifecycle.
type State string

const (
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateDegraded   State = "degraded"
	StateClosed     State = "closed"
)

// Session captures a connected client conversation. At most one active
// transport is bound to a session at a time.
type Session struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	TenantID      string    `json:"tenantId"`
	TransportKind string    `json:"activeTransportKind"`
	State         State     `json:"state"`
	CreatedAt     time.Time `json:"createdAt"`
}
