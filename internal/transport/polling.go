package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/converso-ai/converso/backend/internal/model/chat"
)

const defaultPollInterval = 2 * time.Second

// PollingTransport is the terminal fallback: plain request/response against
// the chat API. Available is always true; Connect only fails when the
// session endpoint itself is unreachable.
type PollingTransport struct {
	BaseURL      string
	UserID       string
	TenantID     string
	Client       *http.Client
	PollInterval time.Duration
}

func (t *PollingTransport) Kind() Kind { return KindHTTPPolling }

// Available always reports true; request/response needs no environment
// support beyond an HTTP client.
func (t *PollingTransport) Available() bool { return true }

// Connect provisions a session and starts the poll loop.
func (t *PollingTransport) Connect(ctx context.Context) (Channel, error) {
	session, err := createSession(ctx, t.httpClient(), t.BaseURL, t.UserID, t.TenantID, KindHTTPPolling)
	if err != nil {
		return nil, err
	}

	interval := t.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	ch := &pollingChannel{
		baseURL: t.BaseURL,
		client:  t.httpClient(),
		session: session,
		cancel:  cancel,
	}
	go ch.pollLoop(loopCtx, interval)
	return ch, nil
}

func (t *PollingTransport) httpClient() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

type pollingChannel struct {
	baseURL string
	client  *http.Client
	session chat.Session
	cancel  context.CancelFunc

	mu      sync.Mutex
	handler func(Frame)
	closed  bool
}

func (c *pollingChannel) Kind() Kind { return KindHTTPPolling }

func (c *pollingChannel) Send(frame Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	frame.SessionID = c.session.ID
	body, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFatal, err)
	}

	resp, err := c.client.Post(c.baseURL+"/api/chat/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return ErrFatal
	case resp.StatusCode >= 500:
		return ErrTimeout
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: status %d", ErrDisconnected, resp.StatusCode)
	}
	return nil
}

func (c *pollingChannel) OnMessage(handler func(Frame)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

func (c *pollingChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	return nil
}

func (c *pollingChannel) pollLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

func (c *pollingChannel) pollOnce(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/chat/poll/"+c.session.ID, nil)
	if err != nil {
		return
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	var frames []Frame
	if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil {
		return
	}

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		return
	}
	for _, frame := range frames {
		handler(frame)
	}
}

// createSession provisions a server session bound to the given transport
// kind. Shared by the polling and pub/sub clients.
func createSession(ctx context.Context, client *http.Client, baseURL, userID, tenantID string, kind Kind) (chat.Session, error) {
	payload, err := json.Marshal(map[string]string{
		"userId":    userID,
		"tenantId":  tenantID,
		"transport": string(kind),
	})
	if err != nil {
		return chat.Session{}, fmt.Errorf("%w: %v", ErrFatal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/chat/session", bytes.NewReader(payload))
	if err != nil {
		return chat.Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return chat.Session{}, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return chat.Session{}, fmt.Errorf("%w: session create status %d", ErrDisconnected, resp.StatusCode)
	}

	var session chat.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return chat.Session{}, fmt.Errorf("%w: %v", ErrFatal, err)
	}
	return session, nil
}
