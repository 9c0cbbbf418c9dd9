// Package store defines the durable store surface consumed by the session
// router, analyzer, and escalation dispatcher. Writes are append-only or
// insert-with-uniqueness so concurrent sessions never need cross-session
// locking.
package store

import (
	"context"
	"errors"

	"github.com/converso-ai/converso/backend/internal/model/analysis"
	"github.com/converso-ai/converso/backend/internal/model/chat"
)

// ErrNotFound signals a lookup miss.
var ErrNotFound = errors.New("store: not found")

// HistoryStore persists the conversation transcript.
type HistoryStore interface {
	// AppendMessage writes one immutable message row.
	AppendMessage(ctx context.Context, msg chat.Message) error
	// RecentMessages returns the newest limit messages for the user in
	// chronological order, for context hydration.
	RecentMessages(ctx context.Context, userID, tenantID string, limit int) ([]chat.Message, error)
	// SessionMessages returns the full transcript of one session.
	SessionMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
}

// AnalysisStore persists slow-path artifacts. The Insert methods report
// false without error when the uniqueness key already exists, which is how
// analyzer idempotence reaches the database.
type AnalysisStore interface {
	InsertSentimentRecord(ctx context.Context, rec analysis.SentimentRecord) (bool, error)
	InsertAnnotation(ctx context.Context, ann analysis.Annotation) (bool, error)
	InsertUrgencyEvent(ctx context.Context, ev analysis.UrgencyEvent) (bool, error)
}

// NotificationStore persists operator notifications. Insert is idempotent
// on (urgencyEventId, operatorId).
type NotificationStore interface {
	InsertNotification(ctx context.Context, n analysis.Notification) (bool, error)
	UnreadNotifications(ctx context.Context, tenantID, operatorID string) ([]analysis.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}
