// Package sqlite is the SQLite-backed durable store. Uniqueness
// constraints plus ON CONFLICT DO NOTHING carry the pipeline's dedup
// semantics into the schema.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/converso-ai/converso/backend/internal/model/analysis"
	"github.com/converso-ai/converso/backend/internal/model/chat"
	"github.com/converso-ai/converso/backend/internal/store"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationTable = "schema_migrations"

// Store implements the store interfaces over one SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{db: db}
	if err := s.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) applyMigrations() error {
	if _, err := s.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);`, migrationTable)); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		var applied int
		err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE name = ?", migrationTable), file).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied > 0 {
			continue
		}

		content, err := fs.ReadFile(migrationFS, "migrations/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("INSERT INTO %s (name, applied_at) VALUES (?, ?)", migrationTable), file, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		value = time.Now()
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// AppendMessage writes one immutable message row.
func (s *Store) AppendMessage(ctx context.Context, msg chat.Message) error {
	contextJSON, err := json.Marshal(msg.Context)
	if err != nil {
		return fmt.Errorf("marshal message context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO messages
    (id, session_id, user_id, tenant_id, direction, content, context_json, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.SessionID, msg.UserID, msg.TenantID, string(msg.Direction),
		msg.Content, string(contextJSON), toMillis(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// RecentMessages returns the newest limit messages for the user in
// chronological order.
func (s *Store) RecentMessages(ctx context.Context, userID, tenantID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, user_id, tenant_id, direction, content, context_json, created_at
    FROM messages WHERE tenant_id = ? AND user_id = ?
    ORDER BY created_at DESC, id DESC LIMIT ?`, tenantID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Rows came newest-first; hydration wants chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// SessionMessages returns the full transcript of one session.
func (s *Store) SessionMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, user_id, tenant_id, direction, content, context_json, created_at
    FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]chat.Message, error) {
	var messages []chat.Message
	for rows.Next() {
		var (
			msg         chat.Message
			direction   string
			contextJSON string
			createdAt   int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.UserID, &msg.TenantID,
			&direction, &msg.Content, &contextJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Direction = chat.Direction(direction)
		msg.CreatedAt = fromMillis(createdAt)
		if err := json.Unmarshal([]byte(contextJSON), &msg.Context); err != nil {
			return nil, fmt.Errorf("unmarshal message context: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// InsertSentimentRecord writes the record unless the source message was
// already analyzed.
func (s *Store) InsertSentimentRecord(ctx context.Context, rec analysis.SentimentRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO sentiment_records
    (id, source_message_id, user_id, tenant_id, label, intensity, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT (source_message_id) DO NOTHING`,
		rec.ID, rec.SourceMessageID, rec.UserID, rec.TenantID,
		string(rec.Label), rec.Intensity, toMillis(rec.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert sentiment record: %w", err)
	}
	return inserted(res)
}

// InsertAnnotation writes the annotation unless the source message already
// has one.
func (s *Store) InsertAnnotation(ctx context.Context, ann analysis.Annotation) (bool, error) {
	tagsJSON, err := json.Marshal(ann.Tags)
	if err != nil {
		return false, fmt.Errorf("marshal annotation tags: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO annotations
    (id, source_message_id, tenant_id, user_id, kind, title, body, label, intensity, tags_json, relevant, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT (source_message_id) DO NOTHING`,
		ann.ID, ann.SourceMessageID, ann.TenantID, ann.UserID, ann.Kind, ann.Title, ann.Body,
		string(ann.Label), ann.Intensity, string(tagsJSON), boolToInt(ann.Relevant), toMillis(ann.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert annotation: %w", err)
	}
	return inserted(res)
}

// InsertUrgencyEvent writes the event unless its annotation already has one.
func (s *Store) InsertUrgencyEvent(ctx context.Context, ev analysis.UrgencyEvent) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO urgency_events
    (id, annotation_id, level, category, suggested_action, created_at)
    VALUES (?, ?, ?, ?, ?, ?)
    ON CONFLICT (annotation_id) DO NOTHING`,
		ev.ID, ev.AnnotationID, string(ev.Level), ev.Category, ev.SuggestedAction, toMillis(ev.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert urgency event: %w", err)
	}
	return inserted(res)
}

// InsertNotification writes one operator's copy, idempotent on
// (urgency_event_id, operator_id).
func (s *Store) InsertNotification(ctx context.Context, n analysis.Notification) (bool, error) {
	payloadJSON, err := json.Marshal(n.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal notification payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO notifications
    (id, urgency_event_id, operator_id, tenant_id, payload_json, read, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT (urgency_event_id, operator_id) DO NOTHING`,
		n.ID, n.UrgencyEventID, n.OperatorID, n.TenantID, string(payloadJSON), boolToInt(n.Read), toMillis(n.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return inserted(res)
}

// UnreadNotifications lists the operator's unread rows, oldest first.
func (s *Store) UnreadNotifications(ctx context.Context, tenantID, operatorID string) ([]analysis.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, urgency_event_id, operator_id, tenant_id, payload_json, read, created_at
    FROM notifications WHERE tenant_id = ? AND operator_id = ? AND read = 0
    ORDER BY created_at ASC`, tenantID, operatorID)
	if err != nil {
		return nil, fmt.Errorf("query unread notifications: %w", err)
	}
	defer rows.Close()

	var notifications []analysis.Notification
	for rows.Next() {
		var (
			n           analysis.Notification
			payloadJSON string
			read        int
			createdAt   int64
		)
		if err := rows.Scan(&n.ID, &n.UrgencyEventID, &n.OperatorID, &n.TenantID, &payloadJSON, &read, &createdAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Read = read != 0
		n.CreatedAt = fromMillis(createdAt)
		if err := json.Unmarshal([]byte(payloadJSON), &n.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal notification payload: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead flips the read flag, the only mutation notifications
// allow.
func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func inserted(res sql.Result) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
