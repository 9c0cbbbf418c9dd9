package chat

// InboundEvent is the wire shape of a chat message arriving from any
// transport.
type InboundEvent struct {
	Type      string  `json:"type"`
	MessageID string  `json:"messageId,omitempty"`
	UserID    string  `json:"userId"`
	TenantID  string  `json:"tenantId"`
	Text      string  `json:"text"`
	Context   Context `json:"context"`
}

// SentimentSummary is the last known sentiment attached to a reply.
type SentimentSummary struct {
	Label     string  `json:"label"`
	Intensity float64 `json:"intensity"`
}

// OutboundEvent is the wire shape of the reply sent back over the channel
// that delivered the inbound message.
type OutboundEvent struct {
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Sentiment *SentimentSummary `json:"sentiment"`
	ToolsUsed []string          `json:"toolsUsed"`
}
