package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/converso-ai/converso/backend/internal/handler/channels"
	chatmodel "github.com/converso-ai/converso/backend/internal/model/chat"
	"github.com/converso-ai/converso/backend/internal/model/directory"
	"github.com/converso-ai/converso/backend/internal/service/reply"
	routerService "github.com/converso-ai/converso/backend/internal/service/router"
	"github.com/converso-ai/converso/backend/internal/transport"
)

type memoryHistory struct {
	mu       sync.Mutex
	messages []chatmodel.Message
}

func (h *memoryHistory) AppendMessage(_ context.Context, msg chatmodel.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	return nil
}

func (h *memoryHistory) RecentMessages(_ context.Context, userID, tenantID string, limit int) ([]chatmodel.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []chatmodel.Message
	for _, msg := range h.messages {
		if msg.UserID == userID && msg.TenantID == tenantID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (h *memoryHistory) SessionMessages(_ context.Context, sessionID string) ([]chatmodel.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []chatmodel.Message
	for _, msg := range h.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	return out, nil
}

type staticGenerator struct{ answer string }

func (g *staticGenerator) Enabled() bool { return true }

func (g *staticGenerator) Reply(context.Context, directory.Profile, []chatmodel.Message, string) (string, error) {
	return g.answer, nil
}

func setupRouter() *chi.Mux {
	r, _ := setupRouterWithService()
	return r
}

func setupRouterWithService() (*chi.Mux, *routerService.Service) {
	history := &memoryHistory{}
	profiles := directory.NewMemoryStore(directory.Seed())
	responder := reply.NewService(&staticGenerator{answer: "certo"}, profiles, history)
	routerSvc := routerService.NewService(history, responder, nil, profiles, routerService.Config{})
	registry := channels.NewRegistry()
	routerSvc.OnSessionClosed(registry.Remove)
	handler := New(routerSvc, registry)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, routerSvc
}

func postJSON(t *testing.T, r http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func createSession(t *testing.T, r http.Handler, kind string) chatmodel.Session {
	t.Helper()
	resp := postJSON(t, r, "/session", map[string]string{
		"userId": "u-1001", "tenantId": "acme", "transport": kind,
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var session chatmodel.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return session
}

func TestCreateSessionPolling(t *testing.T) {
	r := setupRouter()
	session := createSession(t, r, "http_polling")

	if session.State != chatmodel.StateActive {
		t.Fatalf("expected active session, got %s", session.State)
	}
	if session.TransportKind != string(transport.KindHTTPPolling) {
		t.Fatalf("unexpected transport kind %s", session.TransportKind)
	}
}

func TestCreateSessionRejectsDuplexSocket(t *testing.T) {
	r := setupRouter()
	resp := postJSON(t, r, "/session", map[string]string{
		"userId": "u-1001", "tenantId": "acme", "transport": "duplex_socket",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCreateSessionUnknownTransport(t *testing.T) {
	r := setupRouter()
	resp := postJSON(t, r, "/session", map[string]string{
		"userId": "u-1001", "tenantId": "acme", "transport": "carrier-pigeon",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCreateSessionMissingUser(t *testing.T) {
	r := setupRouter()
	resp := postJSON(t, r, "/session", map[string]string{"tenantId": "acme"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestMessageRoundTripViaPoll(t *testing.T) {
	r := setupRouter()
	session := createSession(t, r, "http_polling")

	frame, err := transport.EncodeFrame("chat", session.ID, chatmodel.InboundEvent{Text: "oi, tudo bem?"})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	resp := postJSON(t, r, "/messages", frame)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/poll/"+session.ID, nil)
	pollResp := httptest.NewRecorder()
	r.ServeHTTP(pollResp, req)
	if pollResp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", pollResp.Code)
	}

	var frames []transport.Frame
	if err := json.Unmarshal(pollResp.Body.Bytes(), &frames); err != nil {
		t.Fatalf("decode frames: %v", err)
	}
	if len(frames) != 1 || frames[0].Type != "response" {
		t.Fatalf("expected one response frame, got %+v", frames)
	}

	var event chatmodel.OutboundEvent
	if err := json.Unmarshal(frames[0].Data, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Message != "certo" {
		t.Fatalf("unexpected reply %q", event.Message)
	}
}

func TestMessageUnknownSession(t *testing.T) {
	r := setupRouter()
	frame, _ := transport.EncodeFrame("chat", "missing", chatmodel.InboundEvent{Text: "oi"})
	resp := postJSON(t, r, "/messages", frame)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestMessageValidationError(t *testing.T) {
	r := setupRouter()
	session := createSession(t, r, "http_polling")

	frame, _ := transport.EncodeFrame("chat", session.ID, chatmodel.InboundEvent{Text: "   "})
	resp := postJSON(t, r, "/messages", frame)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestPollClosedSession(t *testing.T) {
	r, routerSvc := setupRouterWithService()
	session := createSession(t, r, "http_polling")

	routerSvc.CloseSession(session.ID)

	// A closed session must disappear from the poll surface, not keep
	// answering from a leaked channel.
	req := httptest.NewRequest(http.MethodGet, "/poll/"+session.ID, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after close, got %d", resp.Code)
	}
}

func TestPollUnknownSession(t *testing.T) {
	r := setupRouter()
	req := httptest.NewRequest(http.MethodGet, "/poll/missing", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestTranscript(t *testing.T) {
	r := setupRouter()
	session := createSession(t, r, "http_polling")

	frame, _ := transport.EncodeFrame("chat", session.ID, chatmodel.InboundEvent{Text: "primeira mensagem"})
	if resp := postJSON(t, r, "/messages", frame); resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/transcript/"+session.ID, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var messages []chatmodel.Message
	if err := json.Unmarshal(resp.Body.Bytes(), &messages); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	// Inbound plus the generated reply.
	if len(messages) != 2 {
		t.Fatalf("expected 2 transcript entries, got %d", len(messages))
	}
}

func TestAnalyzeBackground(t *testing.T) {
	r := setupRouter()

	resp := postJSON(t, r, "/analyze-background", chatmodel.InboundEvent{
		UserID: "u-1001", TenantID: "acme", Text: "Obrigado pela ajuda!",
	})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = postJSON(t, r, "/analyze-background", chatmodel.InboundEvent{Text: "sem identidade"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
