package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/converso-ai/converso/backend/internal/model/analysis"
	"github.com/converso-ai/converso/backend/internal/model/chat"
	"github.com/converso-ai/converso/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "converso.db"))
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndRecentMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, content := range []string{"primeira", "segunda", "terceira"} {
		msg := chat.Message{
			ID:        "m" + content,
			SessionID: "s1",
			UserID:    "u-1001",
			TenantID:  "acme",
			Direction: chat.DirectionInbound,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage err: %v", err)
		}
	}

	recent, err := s.RecentMessages(ctx, "u-1001", "acme", 2)
	if err != nil {
		t.Fatalf("RecentMessages err: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(recent))
	}
	if recent[0].Content != "segunda" || recent[1].Content != "terceira" {
		t.Fatalf("unexpected hydration order: %s, %s", recent[0].Content, recent[1].Content)
	}

	transcript, err := s.SessionMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("SessionMessages err: %v", err)
	}
	if len(transcript) != 3 {
		t.Fatalf("expected 3 transcript messages, got %d", len(transcript))
	}
}

func TestSentimentRecordDedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := analysis.SentimentRecord{
		ID:              "sr1",
		UserID:          "u-1001",
		TenantID:        "acme",
		Label:           analysis.VeryNegative,
		Intensity:       0.8,
		SourceMessageID: "m1",
	}

	inserted, err := s.InsertSentimentRecord(ctx, rec)
	if err != nil {
		t.Fatalf("first insert err: %v", err)
	}
	if !inserted {
		t.Fatal("expected first insert to land")
	}

	rec.ID = "sr2"
	inserted, err = s.InsertSentimentRecord(ctx, rec)
	if err != nil {
		t.Fatalf("second insert err: %v", err)
	}
	if inserted {
		t.Fatal("expected dedup on source message id")
	}
}

func TestNotificationIdempotencePerOperator(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n := analysis.Notification{
		ID:             "n1",
		TenantID:       "acme",
		OperatorID:     "op1",
		UrgencyEventID: "ue1",
		Payload:        analysis.NotificationPayload{Type: "notification", UrgencyLevel: analysis.LevelCritical, Title: "Acesso bloqueado"},
	}

	if inserted, err := s.InsertNotification(ctx, n); err != nil || !inserted {
		t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
	}

	n.ID = "n2"
	if inserted, err := s.InsertNotification(ctx, n); err != nil || inserted {
		t.Fatalf("duplicate per operator should be ignored: inserted=%v err=%v", inserted, err)
	}

	n.ID = "n3"
	n.OperatorID = "op2"
	if inserted, err := s.InsertNotification(ctx, n); err != nil || !inserted {
		t.Fatalf("second operator gets own row: inserted=%v err=%v", inserted, err)
	}

	unread, err := s.UnreadNotifications(ctx, "acme", "op1")
	if err != nil {
		t.Fatalf("UnreadNotifications err: %v", err)
	}
	if len(unread) != 1 {
		t.Fatalf("expected 1 unread, got %d", len(unread))
	}
	if unread[0].Payload.Title != "Acesso bloqueado" {
		t.Fatalf("payload lost in round trip: %+v", unread[0].Payload)
	}

	if err := s.MarkNotificationRead(ctx, unread[0].ID); err != nil {
		t.Fatalf("MarkNotificationRead err: %v", err)
	}
	unread, err = s.UnreadNotifications(ctx, "acme", "op1")
	if err != nil {
		t.Fatalf("UnreadNotifications after read err: %v", err)
	}
	if len(unread) != 0 {
		t.Fatalf("expected 0 unread after marking, got %d", len(unread))
	}
}

func TestMarkNotificationReadMissing(t *testing.T) {
	s := openTestStore(t)
	if err := s.MarkNotificationRead(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAnnotationAndUrgencyDedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ann := analysis.Annotation{
		ID: "a1", SourceMessageID: "m1", TenantID: "acme", UserID: "u-1001",
		Kind: "problem_report", Title: "Acesso bloqueado", Label: analysis.VeryNegative,
		Intensity: 0.8, Tags: []string{"acesso"}, Relevant: true,
	}
	if inserted, err := s.InsertAnnotation(ctx, ann); err != nil || !inserted {
		t.Fatalf("annotation insert: inserted=%v err=%v", inserted, err)
	}
	ann.ID = "a2"
	if inserted, err := s.InsertAnnotation(ctx, ann); err != nil || inserted {
		t.Fatalf("annotation dedup: inserted=%v err=%v", inserted, err)
	}

	ev := analysis.UrgencyEvent{ID: "ue1", AnnotationID: "a1", Level: analysis.LevelCritical, Category: "acesso"}
	if inserted, err := s.InsertUrgencyEvent(ctx, ev); err != nil || !inserted {
		t.Fatalf("urgency insert: inserted=%v err=%v", inserted, err)
	}
	ev.ID = "ue2"
	if inserted, err := s.InsertUrgencyEvent(ctx, ev); err != nil || inserted {
		t.Fatalf("urgency dedup: inserted=%v err=%v", inserted, err)
	}
}
