// Package router is the server-side entry point for inbound messages from
// any transport. It owns session lifecycle, hydrates context, persists the
// inbound message before acknowledging it, and fans out to the fast path
// (synchronously) and the analyzer (fire-and-accept).
package router

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	analysismodel "github.com/converso-ai/converso/backend/internal/model/analysis"
	"github.com/converso-ai/converso/backend/internal/model/chat"
	"github.com/converso-ai/converso/backend/internal/model/directory"
	"github.com/converso-ai/converso/backend/internal/service/analyzer"
	"github.com/converso-ai/converso/backend/internal/service/reply"
	"github.com/converso-ai/converso/backend/internal/store"
	"github.com/converso-ai/converso/backend/internal/transport"
)

var (
	// ErrValidation marks malformed inbound payloads; they are rejected
	// with no side effects.
	ErrValidation = errors.New("router: invalid message")
	// ErrSessionNotFound marks unknown or closed sessions.
	ErrSessionNotFound = errors.New("router: session not found")
)

// Config tunes the router.
type Config struct {
	// HydrateLimit bounds how much history is loaded on session start.
	HydrateLimit int
	// MaxReprobeAttempts bounds how many failed re-probes a degraded
	// session survives before closing.
	MaxReprobeAttempts int
	// DegradedGrace bounds how long a session may sit degraded without a
	// successful re-attach.
	DegradedGrace time.Duration
	// IdleTimeout bounds how long an active session may go without any
	// inbound message or poll before it is treated as abandoned. Pull
	// transports have no socket to break, so this is their liveness
	// signal.
	IdleTimeout time.Duration
	// PersistAttempts and PersistRetryDelay bound the inbound write retry.
	PersistAttempts   int
	PersistRetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.HydrateLimit <= 0 {
		c.HydrateLimit = 20
	}
	if c.MaxReprobeAttempts <= 0 {
		c.MaxReprobeAttempts = 3
	}
	if c.DegradedGrace <= 0 {
		c.DegradedGrace = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.PersistAttempts <= 0 {
		c.PersistAttempts = 3
	}
	if c.PersistRetryDelay <= 0 {
		c.PersistRetryDelay = 200 * time.Millisecond
	}
	return c
}

type session struct {
	mu            sync.Mutex
	model         chat.Session
	channel       transport.Channel
	context       []chat.Message
	lastSentiment *chat.SentimentSummary
	reprobes      int
	degradeTimer  *time.Timer
	idleTimer     *time.Timer
}

// Service routes inbound messages and owns every live session.
type Service struct {
	history   store.HistoryStore
	responder *reply.Service
	analyzer  *analyzer.Service
	directory directory.Store
	cfg       Config

	mu       sync.RWMutex
	sessions map[string]*session
	byUser   map[string]string

	hookMu     sync.Mutex
	closeHooks []func(sessionID string)
}

// OnSessionClosed registers fn to run after a session is torn down. The
// handler layer uses this to drop the session's queue channel from its
// registry.
func (s *Service) OnSessionClosed(fn func(sessionID string)) {
	s.hookMu.Lock()
	s.closeHooks = append(s.closeHooks, fn)
	s.hookMu.Unlock()
}

// NewService wires the router.
func NewService(history store.HistoryStore, responder *reply.Service, analyzerSvc *analyzer.Service, profiles directory.Store, cfg Config) *Service {
	return &Service{
		history:   history,
		responder: responder,
		analyzer:  analyzerSvc,
		directory: profiles,
		cfg:       cfg.withDefaults(),
		sessions:  make(map[string]*session),
		byUser:    make(map[string]string),
	}
}

func userKey(userID, tenantID string) string { return tenantID + "|" + userID }

// Attach binds a connected channel to the (userID, tenantID) session,
// creating and hydrating it on first contact. Re-attaching an existing
// session tears down the old transport first and returns the session to
// Active, preserving identity and hydrated context.
func (s *Service) Attach(ctx context.Context, userID, tenantID string, kind transport.Kind, ch transport.Channel) (chat.Session, error) {
	userID = strings.TrimSpace(userID)
	tenantID = strings.TrimSpace(tenantID)
	if userID == "" || tenantID == "" {
		return chat.Session{}, ErrValidation
	}

	s.mu.Lock()
	sessionID, exists := s.byUser[userKey(userID, tenantID)]
	var sess *session
	if exists {
		sess = s.sessions[sessionID]
	}
	if sess == nil {
		sess = &session{
			model: chat.Session{
				ID:        uuid.NewString(),
				UserID:    userID,
				TenantID:  tenantID,
				State:     chat.StateConnecting,
				CreatedAt: time.Now().UTC(),
			},
		}
		s.sessions[sess.model.ID] = sess
		s.byUser[userKey(userID, tenantID)] = sess.model.ID
	}
	s.mu.Unlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.model.State == chat.StateConnecting {
		hydrated, err := s.history.RecentMessages(ctx, userID, tenantID, s.cfg.HydrateLimit)
		if err != nil {
			log.Printf("[router] context hydration failed for user=%s: %v", userID, err)
		} else {
			sess.context = hydrated
		}
	}

	// One active transport per session: the old channel goes down before
	// the new one binds.
	if sess.channel != nil && sess.channel != ch {
		_ = sess.channel.Close()
	}
	if sess.degradeTimer != nil {
		sess.degradeTimer.Stop()
		sess.degradeTimer = nil
	}
	sess.channel = ch
	sess.reprobes = 0
	sess.model.TransportKind = string(kind)
	sess.model.State = chat.StateActive
	s.resetIdleLocked(sess)

	log.Printf("[router] session=%s user=%s attached transport=%s", sess.model.ID, userID, kind)
	return sess.model, nil
}

// Session returns the current session snapshot.
func (s *Service) Session(sessionID string) (chat.Session, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.model, nil
}

// resetIdleLocked restarts the abandonment timer. Caller holds sess.mu.
// Only polling sessions carry the timer: the standing transports detect a
// vanished client through the connection itself.
func (s *Service) resetIdleLocked(sess *session) {
	if sess.idleTimer != nil {
		sess.idleTimer.Stop()
		sess.idleTimer = nil
	}
	if sess.model.TransportKind != string(transport.KindHTTPPolling) {
		return
	}
	sessionID := sess.model.ID
	sess.idleTimer = time.AfterFunc(s.cfg.IdleTimeout, func() {
		log.Printf("[router] session=%s idle past %s", sessionID, s.cfg.IdleTimeout)
		s.MarkDegraded(sessionID)
	})
}

// Touch records client liveness for sessions with no standing connection
// to break. The polling handler calls it on every drain.
func (s *Service) Touch(sessionID string) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.model.State != chat.StateActive {
		return
	}
	s.resetIdleLocked(sess)
}

func (s *Service) lookup(sessionID string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// HandleInbound processes one inbound event: validate, persist before
// returning control to the transport, schedule analysis, produce the
// fast-path reply, and send it back over the arrival channel. The slow
// path never delays the reply; a fast-path failure never blocks analysis.
func (s *Service) HandleInbound(ctx context.Context, sessionID string, ev chat.InboundEvent) (chat.OutboundEvent, error) {
	if strings.TrimSpace(ev.Text) == "" {
		return chat.OutboundEvent{}, ErrValidation
	}
	if ev.Type != "" && ev.Type != "chat" {
		return chat.OutboundEvent{}, ErrValidation
	}

	sess, err := s.lookup(sessionID)
	if err != nil {
		return chat.OutboundEvent{}, err
	}

	// Per-session serialization preserves arrival order for persistence
	// and replies.
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.model.State == chat.StateClosed {
		return chat.OutboundEvent{}, ErrSessionNotFound
	}
	if ev.UserID != "" && ev.UserID != sess.model.UserID {
		return chat.OutboundEvent{}, ErrValidation
	}
	if ev.TenantID != "" && ev.TenantID != sess.model.TenantID {
		return chat.OutboundEvent{}, ErrValidation
	}

	inbound := chat.Message{
		ID:        ev.MessageID,
		SessionID: sess.model.ID,
		UserID:    sess.model.UserID,
		TenantID:  sess.model.TenantID,
		Direction: chat.DirectionInbound,
		Content:   ev.Text,
		Context:   ev.Context,
		CreatedAt: time.Now().UTC(),
	}
	if inbound.ID == "" {
		inbound.ID = uuid.NewString()
	}

	// The message row must exist before control returns to the transport
	// layer; acknowledged-then-lost is not acceptable.
	if err := s.persistWithRetry(ctx, inbound); err != nil {
		return chat.OutboundEvent{}, err
	}
	history := append([]chat.Message(nil), sess.context...)
	sess.context = append(sess.context, inbound)
	s.resetIdleLocked(sess)

	// Slow path: accepted here, completes regardless of what the fast
	// path or the session does next. The task carries the conversation
	// as it stood before this message so the classifier sees the same
	// context the responder does.
	colaborador := ""
	if profile, ok := s.directory.FindByUser(sess.model.UserID, sess.model.TenantID); ok {
		colaborador = profile.Name
	}
	if s.analyzer != nil {
		s.analyzer.Enqueue(analyzer.Task{Message: inbound, Context: history, ColaboradorName: colaborador})
	}

	out, err := s.responder.Respond(ctx, sess.model, inbound, sess.context)
	if err != nil {
		log.Printf("[router] fast path persist failed session=%s: %v", sess.model.ID, err)
		return chat.OutboundEvent{}, err
	}
	sess.context = append(sess.context, out.Message)

	event := chat.OutboundEvent{
		Type:      "response",
		Message:   out.Message.Content,
		Sentiment: sess.lastSentiment,
		ToolsUsed: out.ToolsUsed,
	}

	if sess.channel != nil {
		frame, err := transport.EncodeFrame("response", sess.model.ID, event)
		if err == nil {
			frame.MessageID = out.Message.ID
			err = sess.channel.Send(frame)
		}
		if errors.Is(err, transport.ErrDisconnected) || errors.Is(err, transport.ErrClosed) {
			s.degradeLocked(sess)
		} else if err != nil {
			log.Printf("[router] reply send failed session=%s: %v", sess.model.ID, err)
		}
	}

	return event, nil
}

// HandleBackground accepts a message for analysis only, for callers whose
// originating transport cannot carry background work. The message is
// persisted (idempotently) before the task is accepted.
func (s *Service) HandleBackground(ctx context.Context, ev chat.InboundEvent) error {
	if strings.TrimSpace(ev.Text) == "" || strings.TrimSpace(ev.UserID) == "" || strings.TrimSpace(ev.TenantID) == "" {
		return ErrValidation
	}

	msg := chat.Message{
		ID:        ev.MessageID,
		UserID:    ev.UserID,
		TenantID:  ev.TenantID,
		Direction: chat.DirectionInbound,
		Content:   ev.Text,
		Context:   ev.Context,
		CreatedAt: time.Now().UTC(),
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if err := s.persistWithRetry(ctx, msg); err != nil {
		return err
	}

	colaborador := ""
	if profile, ok := s.directory.FindByUser(ev.UserID, ev.TenantID); ok {
		colaborador = profile.Name
	}
	if s.analyzer != nil {
		s.analyzer.Enqueue(analyzer.Task{Message: msg, ColaboradorName: colaborador})
	}
	return nil
}

// MarkDegraded records a transport loss. The session keeps its identity
// and context while the client re-probes; the grace timer closes it if no
// transport comes back.
func (s *Service) MarkDegraded(sessionID string) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	s.degradeLocked(sess)
}

func (s *Service) degradeLocked(sess *session) {
	if sess.model.State == chat.StateClosed || sess.model.State == chat.StateDegraded {
		return
	}
	sess.model.State = chat.StateDegraded
	if sess.idleTimer != nil {
		sess.idleTimer.Stop()
		sess.idleTimer = nil
	}
	if sess.channel != nil {
		_ = sess.channel.Close()
		sess.channel = nil
	}
	sessionID := sess.model.ID
	sess.degradeTimer = time.AfterFunc(s.cfg.DegradedGrace, func() {
		s.CloseSession(sessionID)
	})
	log.Printf("[router] session=%s degraded, awaiting re-probe", sessionID)
}

// ReprobeFailed counts one failed re-probe attempt and reports whether the
// session was closed as a result.
func (s *Service) ReprobeFailed(sessionID string) bool {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return true
	}
	sess.mu.Lock()
	sess.reprobes++
	exhausted := sess.reprobes >= s.cfg.MaxReprobeAttempts
	sess.mu.Unlock()
	if exhausted {
		s.CloseSession(sessionID)
	}
	return exhausted
}

// CloseSession tears the session down. In-flight re-probe grace is
// cancelled; analyzer tasks already accepted are unaffected.
func (s *Service) CloseSession(sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
		delete(s.byUser, userKey(sess.model.UserID, sess.model.TenantID))
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	if sess.degradeTimer != nil {
		sess.degradeTimer.Stop()
		sess.degradeTimer = nil
	}
	if sess.idleTimer != nil {
		sess.idleTimer.Stop()
		sess.idleTimer = nil
	}
	if sess.channel != nil {
		_ = sess.channel.Close()
		sess.channel = nil
	}
	sess.model.State = chat.StateClosed
	sess.mu.Unlock()
	log.Printf("[router] session=%s closed", sessionID)

	s.hookMu.Lock()
	hooks := append([]func(string){}, s.closeHooks...)
	s.hookMu.Unlock()
	for _, fn := range hooks {
		fn(sessionID)
	}
}

// RecordSentiment stores the latest analyzed sentiment so subsequent
// replies can carry it. Wired as the analyzer's observer.
func (s *Service) RecordSentiment(userID, tenantID string, label analysismodel.Label, intensity float64) {
	s.mu.RLock()
	sessionID, ok := s.byUser[userKey(userID, tenantID)]
	sess := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok || sess == nil {
		return
	}
	sess.mu.Lock()
	sess.lastSentiment = &chat.SentimentSummary{Label: string(label), Intensity: intensity}
	sess.mu.Unlock()
}

// Transcript returns the persisted transcript of one session.
func (s *Service) Transcript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return s.history.SessionMessages(ctx, sessionID)
}

func (s *Service) persistWithRetry(ctx context.Context, msg chat.Message) error {
	var lastErr error
	for attempt := 0; attempt < s.cfg.PersistAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * s.cfg.PersistRetryDelay)
		}
		if err := s.history.AppendMessage(ctx, msg); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
