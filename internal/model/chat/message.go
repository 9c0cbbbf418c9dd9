package chat

import "time"

// Direction marks which way a message crossed the channel.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Context carries page/source metadata attached by the client.
type Context struct {
	Page      string `json:"page,omitempty"`
	Source    string `json:"source,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Message persists individual turns for history hydration and audit.
// Immutable once written.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	TenantID  string    `json:"tenantId"`
	Direction Direction `json:"direction"`
	Content   string    `json:"content"`
	Context   Context   `json:"context"`
	CreatedAt time.Time `json:"createdAt"`
}
