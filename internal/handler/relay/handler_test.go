package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

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

func (h *memoryHistory) RecentMessages(context.Context, string, string, int) ([]chatmodel.Message, error) {
	return nil, nil
}

func (h *memoryHistory) SessionMessages(context.Context, string) ([]chatmodel.Message, error) {
	return nil, nil
}

type staticGenerator struct{ answer string }

func (g *staticGenerator) Enabled() bool { return true }

func (g *staticGenerator) Reply(context.Context, directory.Profile, []chatmodel.Message, string) (string, error) {
	return g.answer, nil
}

type fixture struct {
	handler  *Handler
	router   *routerService.Service
	registry *channels.Registry
	mux      *chi.Mux
}

func setup(t *testing.T) *fixture {
	t.Helper()
	history := &memoryHistory{}
	profiles := directory.NewMemoryStore(directory.Seed())
	responder := reply.NewService(&staticGenerator{answer: "resolvido"}, profiles, history)
	routerSvc := routerService.NewService(history, responder, nil, profiles, routerService.Config{})
	registry := channels.NewRegistry()
	handler := New(routerSvc, registry)

	mux := chi.NewRouter()
	handler.RegisterRoutes(mux)
	return &fixture{handler: handler, router: routerSvc, registry: registry, mux: mux}
}

func attachSession(t *testing.T, f *fixture) chatmodel.Session {
	t.Helper()
	ch := transport.NewQueueChannel(transport.KindRealtimePubSub, 0)
	session, err := f.router.Attach(context.Background(), "u-1001", "acme", transport.KindRealtimePubSub, ch)
	if err != nil {
		t.Fatalf("Attach err: %v", err)
	}
	f.registry.Put(session.ID, ch)
	return session
}

func TestPublishQueuesReply(t *testing.T) {
	f := setup(t)
	session := attachSession(t, f)

	frame, err := transport.EncodeFrame("chat", session.ID, chatmodel.InboundEvent{Text: "preciso de ajuda"})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	body, _ := json.Marshal(frame)

	req := httptest.NewRequest(http.MethodPost, "/publish/"+session.ID, bytes.NewReader(body))
	resp := httptest.NewRecorder()
	f.mux.ServeHTTP(resp, req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}

	ch, _ := f.registry.Get(session.ID)
	frames := ch.Drain()
	if len(frames) != 1 || frames[0].Type != "response" {
		t.Fatalf("expected queued response frame, got %+v", frames)
	}
}

func TestPublishUnknownSession(t *testing.T) {
	f := setup(t)
	frame, _ := transport.EncodeFrame("chat", "missing", chatmodel.InboundEvent{Text: "oi"})
	body, _ := json.Marshal(frame)

	req := httptest.NewRequest(http.MethodPost, "/publish/missing", bytes.NewReader(body))
	resp := httptest.NewRecorder()
	f.mux.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestSubscribeStreamsQueuedFrames(t *testing.T) {
	f := setup(t)
	session := attachSession(t, f)

	ch, _ := f.registry.Get(session.ID)
	queued, err := transport.EncodeFrame("response", session.ID, chatmodel.OutboundEvent{Type: "response", Message: "resolvido"})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if err := ch.Send(queued); err != nil {
		t.Fatalf("queue frame: %v", err)
	}

	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/subscribe/"+session.ID, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame transport.Frame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if frame.Type != "response" {
			t.Fatalf("unexpected frame type %s", frame.Type)
		}
		return
	}
	t.Fatal("stream ended without a data frame")
}

func TestSubscribeUnknownSession(t *testing.T) {
	f := setup(t)
	req := httptest.NewRequest(http.MethodGet, "/subscribe/missing", nil)
	resp := httptest.NewRecorder()
	f.mux.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
