// Package reply is the fast path: the answer the user sees immediately.
// Known-sensitive facts come straight from the profile through a
// configurable rule table; everything else goes to the gateway, and
// gateway trouble degrades to a static apology instead of an error.
package reply

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/converso-ai/converso/backend/internal/model/chat"
	"github.com/converso-ai/converso/backend/internal/model/directory"
	"github.com/converso-ai/converso/backend/internal/store"
)

// FallbackMessage is sent whenever the gateway cannot answer. It is
// user-visible and intentionally non-alarming.
const FallbackMessage = "Desculpe, estou com dificuldade para responder agora. Pode tentar novamente em instantes?"

// Generator is the slice of the gateway the responder needs.
type Generator interface {
	Enabled() bool
	Reply(ctx context.Context, profile directory.Profile, history []chat.Message, userMessage string) (string, error)
}

// DirectRule answers a high-confidence pattern from already-known profile
// fields, bypassing the gateway.
type DirectRule struct {
	Name     string
	Patterns []string
	Answer   func(p directory.Profile) (string, bool)
}

// DefaultDirectRules is the shipped policy table. Matching is normalized
// lowercase substring; the first matching rule with an answerable profile
// field wins.
func DefaultDirectRules() []DirectRule {
	return []DirectRule{
		{
			Name:     "manager",
			Patterns: []string{"quem é meu gestor", "quem e meu gestor", "meu gestor", "minha gestora", "quem é meu chefe", "who is my manager", "my manager"},
			Answer: func(p directory.Profile) (string, bool) {
				if p.ManagerName == "" {
					return "", false
				}
				return "Seu gestor é " + p.ManagerName + ".", true
			},
		},
		{
			Name:     "department",
			Patterns: []string{"qual meu departamento", "meu departamento", "qual minha área", "qual minha area", "my department"},
			Answer: func(p directory.Profile) (string, bool) {
				if p.Department == "" {
					return "", false
				}
				return "Você faz parte do departamento " + p.Department + ".", true
			},
		},
		{
			Name:     "admission",
			Patterns: []string{"quando fui admitido", "quando fui admitida", "minha data de admissão", "minha data de admissao", "admission date"},
			Answer: func(p directory.Profile) (string, bool) {
				if p.AdmissionDate == "" {
					return "", false
				}
				return "Sua data de admissão é " + p.AdmissionDate + ".", true
			},
		},
		{
			Name:     "email",
			Patterns: []string{"qual meu email", "qual meu e-mail", "meu email corporativo", "my work email"},
			Answer: func(p directory.Profile) (string, bool) {
				if p.Email == "" {
					return "", false
				}
				return "Seu e-mail corporativo é " + p.Email + ".", true
			},
		},
	}
}

// Reply is the fast-path output: the persisted outbound message plus the
// tools marker for the wire event.
type Reply struct {
	Message   chat.Message
	ToolsUsed []string
}

// Service produces the immediate reply.
type Service struct {
	generator Generator
	directory directory.Store
	history   store.HistoryStore
	rules     []DirectRule
}

// Option adjusts the responder.
type Option func(*Service)

// WithRules replaces the direct-answer policy table.
func WithRules(rules []DirectRule) Option {
	return func(s *Service) { s.rules = rules }
}

// NewService wires the responder.
func NewService(generator Generator, profiles directory.Store, history store.HistoryStore, opts ...Option) *Service {
	s := &Service{
		generator: generator,
		directory: profiles,
		history:   history,
		rules:     DefaultDirectRules(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Respond builds, persists, and returns the outbound reply for one inbound
// message. Gateway failures are logged and downgraded to FallbackMessage;
// Respond itself only errors when persisting the outbound message fails.
func (s *Service) Respond(ctx context.Context, session chat.Session, inbound chat.Message, history []chat.Message) (Reply, error) {
	profile, _ := s.directory.FindByUser(session.UserID, session.TenantID)

	content, tool := s.answer(ctx, profile, history, inbound.Content)

	outbound := chat.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		UserID:    session.UserID,
		TenantID:  session.TenantID,
		Direction: chat.DirectionOutbound,
		Content:   content,
		Context:   inbound.Context,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.history.AppendMessage(ctx, outbound); err != nil {
		return Reply{}, err
	}

	return Reply{Message: outbound, ToolsUsed: []string{tool}}, nil
}

func (s *Service) answer(ctx context.Context, profile directory.Profile, history []chat.Message, text string) (content, tool string) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, rule := range s.rules {
		for _, pattern := range rule.Patterns {
			if !strings.Contains(normalized, pattern) {
				continue
			}
			if answer, ok := rule.Answer(profile); ok {
				return answer, "direct_answer"
			}
		}
	}

	if s.generator == nil || !s.generator.Enabled() {
		return FallbackMessage, "fallback"
	}

	answer, err := s.generator.Reply(ctx, profile, history, text)
	if err != nil {
		log.Printf("[reply] gateway failed, using fallback: %v", err)
		return FallbackMessage, "fallback"
	}
	return answer, "llm"
}
