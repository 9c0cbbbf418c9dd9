// Package gateway wraps the language model behind two prompt chains: one
// producing end-user replies, one producing structured sentiment
// judgments. Both are bounded by the configured timeout; callers downgrade
// on ErrUnavailable.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/converso-ai/converso/backend/internal/model/chat"
	"github.com/converso-ai/converso/backend/internal/model/directory"
)

// ErrUnavailable covers every gateway failure mode the caller can downgrade
// from: model not configured, timeout, transport error, unparseable output.
var ErrUnavailable = fmt.Errorf("gateway: unavailable")

const defaultTimeout = 10 * time.Second

const historyLimit = 10

// Classification is the structured sentiment judgment returned by the
// classifier chain.
type Classification struct {
	Label           string  `json:"label"`
	Intensity       float64 `json:"intensity"`
	Category        string  `json:"category"`
	Blocking        bool    `json:"blocking"`
	SuggestedAction string  `json:"suggestedAction"`
	Reason          string  `json:"reason"`
}

// Service holds the compiled chains.
type Service struct {
	chatModel     model.ChatModel
	replyChain    compose.Runnable[map[string]any, *schema.Message]
	classifyChain compose.Runnable[map[string]any, *schema.Message]
	timeout       time.Duration
}

// NewService compiles both chains over the supplied chat model. A nil
// model yields a disabled service whose calls report ErrUnavailable.
func NewService(ctx context.Context, chatModel model.ChatModel, timeout time.Duration) (*Service, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	svc := &Service{chatModel: chatModel, timeout: timeout}
	if chatModel == nil {
		return svc, nil
	}

	replyTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(replySystemPrompt),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)
	replyChain := compose.NewChain[map[string]any, *schema.Message]()
	replyChain.AppendChatTemplate(replyTemplate)
	replyChain.AppendChatModel(chatModel)
	reply, err := replyChain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile reply chain: %w", err)
	}

	classifyTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(classifySystemPrompt),
		schema.UserMessage(classifyUserPrompt),
	)
	classifyChain := compose.NewChain[map[string]any, *schema.Message]()
	classifyChain.AppendChatTemplate(classifyTemplate)
	classifyChain.AppendChatModel(chatModel)
	classify, err := classifyChain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile classifier chain: %w", err)
	}

	svc.replyChain = reply
	svc.classifyChain = classify
	return svc, nil
}

// Enabled reports whether a chat model is wired in.
func (s *Service) Enabled() bool {
	return s != nil && s.replyChain != nil
}

// Reply generates the conversational answer for the fast path.
func (s *Service) Reply(ctx context.Context, profile directory.Profile, history []chat.Message, userMessage string) (string, error) {
	if !s.Enabled() {
		return "", ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	input := map[string]any{
		"profile": summarizeProfile(profile),
		"history": historyMessages(history),
		"query":   userMessage,
	}

	msg, err := s.replyChain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	return msg.Content, nil
}

// ClassifySentiment asks the model for a structured judgment on one
// message. Invalid labels and malformed JSON both surface as
// ErrUnavailable so the caller falls back to the heuristic table.
func (s *Service) ClassifySentiment(ctx context.Context, history []chat.Message, text string) (Classification, error) {
	if !s.Enabled() {
		return Classification{}, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	input := map[string]any{
		"history":      formatHistory(history),
		"user_message": strings.TrimSpace(text),
	}

	msg, err := s.classifyChain.Invoke(ctx, input)
	if err != nil {
		return Classification{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return Classification{}, fmt.Errorf("%w: empty classification", ErrUnavailable)
	}

	result, err := parseClassification(msg.Content)
	if err != nil {
		return Classification{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result, nil
}

// parseClassification extracts the first JSON object from the completion.
func parseClassification(content string) (Classification, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return Classification{}, fmt.Errorf("missing json object")
	}

	var result Classification
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &result); err != nil {
		return Classification{}, err
	}

	if result.Intensity < 0 {
		result.Intensity = 0
	}
	if result.Intensity > 1 {
		result.Intensity = 1
	}
	return result, nil
}

func summarizeProfile(p directory.Profile) string {
	sections := []string{
		fmt.Sprintf("Nome: %s", strings.TrimSpace(p.Name)),
		fmt.Sprintf("Departamento: %s", strings.TrimSpace(p.Department)),
	}
	if role := strings.TrimSpace(p.Role); role != "" {
		sections = append(sections, fmt.Sprintf("Cargo: %s", role))
	}
	if manager := strings.TrimSpace(p.ManagerName); manager != "" {
		sections = append(sections, fmt.Sprintf("Gestor: %s", manager))
	}
	return strings.Join(sections, " | ")
}

func historyMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	start := 0
	if len(messages) > historyLimit {
		start = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		switch msg.Direction {
		case chat.DirectionInbound:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.DirectionOutbound:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}

func formatHistory(messages []chat.Message) string {
	if len(messages) == 0 {
		return "Sem histórico de conversa."
	}

	start := 0
	if len(messages) > historyLimit {
		start = len(messages) - historyLimit
	}

	var builder strings.Builder
	for i, msg := range messages[start:] {
		role := "Usuário"
		if msg.Direction == chat.DirectionOutbound {
			role = "Assistente"
		}
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(role)
		builder.WriteString(": ")
		builder.WriteString(content)
	}
	if builder.Len() == 0 {
		return "Sem histórico de conversa."
	}
	return builder.String()
}

const replySystemPrompt = "Você é um assistente corporativo que responde colaboradores de forma clara, empática e objetiva, em português. Dados do colaborador: {profile}. Nunca invente dados pessoais que não estejam no perfil; quando não souber, diga que vai verificar."

const classifySystemPrompt = "Você é um analista de sentimento e urgência de mensagens de colaboradores. Leia o histórico e a mensagem mais recente e devolva apenas um objeto JSON com os campos: label (um de very_negative/negative/neutral/positive/very_positive), intensity (número entre 0 e 1), category (curta, ex.: acesso, pagamento, elogio), blocking (true quando o problema impede o colaborador de trabalhar), suggestedAction (uma frase com a ação recomendada) e reason (justificativa breve). Não escreva nada além do JSON."

const classifyUserPrompt = "Histórico recente:\n{history}\n\nMensagem do colaborador:\n{user_message}\n\nResponda com o JSON."
