package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/converso-ai/converso/backend/internal/model/chat"
)

// PubSubTransport is the managed relay leg: the server pushes frames over
// a long-lived SSE subscription and the client publishes over HTTP.
type PubSubTransport struct {
	BaseURL  string
	UserID   string
	TenantID string
	Client   *http.Client
}

func (t *PubSubTransport) Kind() Kind { return KindRealtimePubSub }

// Available checks the relay endpoint is configured.
func (t *PubSubTransport) Available() bool {
	return strings.HasPrefix(t.BaseURL, "http://") || strings.HasPrefix(t.BaseURL, "https://")
}

// Connect provisions a session and opens the subscription stream. The
// connect context bounds session creation and the stream handshake only;
// the stream itself lives until Close.
func (t *PubSubTransport) Connect(ctx context.Context) (Channel, error) {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	session, err := createSession(ctx, client, t.BaseURL, t.UserID, t.TenantID, KindRealtimePubSub)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.BaseURL+"/api/relay/subscribe/"+session.ID, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: subscribe status %d", ErrDisconnected, resp.StatusCode)
	}

	ch := &pubsubChannel{
		baseURL: t.BaseURL,
		client:  client,
		session: session,
		cancel:  cancel,
	}
	go ch.readStream(resp)
	return ch, nil
}

type pubsubChannel struct {
	baseURL string
	client  *http.Client
	session chat.Session
	cancel  context.CancelFunc

	mu      sync.Mutex
	handler func(Frame)
	closed  bool
}

func (c *pubsubChannel) Kind() Kind { return KindRealtimePubSub }

func (c *pubsubChannel) Send(frame Frame) error {
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

	resp, err := c.client.Post(c.baseURL+"/api/relay/publish/"+c.session.ID, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return ErrFatal
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: publish status %d", ErrDisconnected, resp.StatusCode)
	}
	return nil
}

func (c *pubsubChannel) OnMessage(handler func(Frame)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

func (c *pubsubChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	return nil
}

// readStream parses "data: {...}" SSE lines into frames. Heartbeat events
// keep the connection warm and are dropped here.
func (c *pubsubChannel) readStream(resp *http.Response) {
	defer resp.Body.Close()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var frame Frame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			continue
		}
		if frame.Type == "heartbeat" {
			continue
		}

		c.mu.Lock()
		handler := c.handler
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		if handler != nil {
			handler(frame)
		}
	}
}
