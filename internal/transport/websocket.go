package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

// WebSocketTransport connects the persistent duplex socket leg.
type WebSocketTransport struct {
	// URL is the ws:// or wss:// endpoint, e.g. ws://host/api/ws.
	URL      string
	UserID   string
	TenantID string
	Dialer   *websocket.Dialer
}

func (t *WebSocketTransport) Kind() Kind { return KindDuplexSocket }

// Available checks the endpoint is configured with a websocket scheme.
func (t *WebSocketTransport) Available() bool {
	return strings.HasPrefix(t.URL, "ws://") || strings.HasPrefix(t.URL, "wss://")
}

// Connect dials the socket and starts the read pump.
func (t *WebSocketTransport) Connect(ctx context.Context) (Channel, error) {
	endpoint, err := url.Parse(t.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatal, err)
	}
	query := endpoint.Query()
	query.Set("userId", t.UserID)
	query.Set("tenantId", t.TenantID)
	endpoint.RawQuery = query.Encode()

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	ch := &wsChannel{conn: conn}
	go ch.readPump()
	return ch, nil
}

type wsChannel struct {
	conn *websocket.Conn

	mu      sync.Mutex
	handler func(Frame)
	closed  bool
}

func (c *wsChannel) Kind() Kind { return KindDuplexSocket }

func (c *wsChannel) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

func (c *wsChannel) OnMessage(handler func(Frame)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

func (c *wsChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *wsChannel) readPump() {
	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			_ = c.Close()
			return
		}
		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()
		if handler != nil {
			handler(frame)
		}
	}
}
