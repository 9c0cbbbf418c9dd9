package analysis

import "time"

// Label is one step on the fixed ordered sentiment scale.
type Label string

const (
	VeryNegative Label = "very_negative"
	Negative     Label = "negative"
	Neutral      Label = "neutral"
	Positive     Label = "positive"
	VeryPositive Label = "very_positive"
)

// Rank orders labels from very_negative (0) to very_positive (4).
func (l Label) Rank() int {
	switch l {
	case VeryNegative:
		return 0
	case Negative:
		return 1
	case Neutral:
		return 2
	case Positive:
		return 3
	case VeryPositive:
		return 4
	default:
		return 2
	}
}

// ParseLabel maps a raw string onto the fixed scale.
func ParseLabel(raw string) (Label, bool) {
	switch Label(raw) {
	case VeryNegative, Negative, Neutral, Positive, VeryPositive:
		return Label(raw), true
	default:
		return "", false
	}
}

// Level is the urgency classification derived from an annotation.
type Level string

const (
	LevelNormal   Level = "normal"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// SentimentRecord is written exactly once per analyzed message.
type SentimentRecord struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	TenantID        string    `json:"tenantId"`
	Label           Label     `json:"label"`
	Intensity       float64   `json:"intensity"`
	SourceMessageID string    `json:"sourceMessageId"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Annotation marks a message judged noteworthy (strong sentiment or an
// explicit problem report).
type Annotation struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenantId"`
	UserID          string    `json:"userId"`
	SourceMessageID string    `json:"sourceMessageId"`
	Kind            string    `json:"kind"`
	Title           string    `json:"title"`
	Body            string    `json:"body"`
	Label           Label     `json:"sentimentLabel"`
	Intensity       float64   `json:"intensity"`
	Tags            []string  `json:"tags"`
	Relevant        bool      `json:"relevant"`
	CreatedAt       time.Time `json:"createdAt"`
}

// UrgencyEvent exists only for high/critical annotations.
type UrgencyEvent struct {
	ID              string    `json:"id"`
	AnnotationID    string    `json:"annotationId"`
	Level           Level     `json:"level"`
	Category        string    `json:"category"`
	SuggestedAction string    `json:"suggestedAction"`
	CreatedAt       time.Time `json:"createdAt"`
}

// NotificationPayload is pushed to operator channels as-is.
type NotificationPayload struct {
	Type            string `json:"type"`
	UrgencyLevel    Level  `json:"urgencyLevel"`
	Title           string `json:"title"`
	Body            string `json:"body"`
	ColaboradorName string `json:"colaboradorName"`
	SuggestedAction string `json:"suggestedAction"`
	AnnotationID    string `json:"annotationId"`
}

// Notification is one operator's copy of an urgency event. Mutated only by
// marking read.
type Notification struct {
	ID             string              `json:"id"`
	TenantID       string              `json:"tenantId"`
	OperatorID     string              `json:"operatorId"`
	UrgencyEventID string              `json:"urgencyEventId"`
	Payload        NotificationPayload `json:"payload"`
	Read           bool                `json:"read"`
	CreatedAt      time.Time           `json:"createdAt"`
}
