// Package ws serves the duplex socket leg for end users and the push
// socket operators receive urgency alerts on.
package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/converso-ai/converso/backend/internal/model/chat"
	"github.com/converso-ai/converso/backend/internal/service/escalation"
	"github.com/converso-ai/converso/backend/internal/service/router"
	"github.com/converso-ai/converso/backend/internal/transport"
	"github.com/converso-ai/converso/backend/pkg/utils"
)

const writeTimeout = 5 * time.Second

// Handler serves the websocket endpoints.
type Handler struct {
	router     *router.Service
	dispatcher *escalation.Dispatcher
	upgrader   websocket.Upgrader
}

// New creates the websocket handler.
func New(routerSvc *router.Service, dispatcher *escalation.Dispatcher) *Handler {
	return &Handler{
		router:     routerSvc,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes registers the websocket routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleUserSocket)
	r.Get("/ws/operator/{tenantID}/{operatorID}", h.handleOperatorSocket)
}

func (h *Handler) handleUserSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	tenantID := r.URL.Query().Get("tenantId")
	if userID == "" || tenantID == "" {
		utils.RespondError(w, http.StatusBadRequest, "userId and tenantId are required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	ch := newConnChannel(conn)
	session, err := h.router.Attach(r.Context(), userID, tenantID, transport.KindDuplexSocket, ch)
	if err != nil {
		_ = ch.Close()
		return
	}

	// The first frame hands the client its session identity.
	if frame, err := transport.EncodeFrame("session", session.ID, session); err == nil {
		_ = ch.Send(frame)
	}

	// Reads happen here; the router writes replies through the channel.
	for {
		var frame transport.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}

		var event chat.InboundEvent
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &event); err != nil {
				h.sendError(ch, session.ID, "invalid message payload")
				continue
			}
		}
		if event.MessageID == "" {
			event.MessageID = frame.MessageID
		}

		if _, err := h.router.HandleInbound(r.Context(), session.ID, event); err != nil {
			h.sendError(ch, session.ID, err.Error())
		}
	}

	// A read failure on a live channel is a transport loss; a channel the
	// router already closed means the session moved on without us.
	if !ch.closed() {
		h.router.MarkDegraded(session.ID)
	}
}

func (h *Handler) sendError(ch transport.Channel, sessionID, message string) {
	frame, err := transport.EncodeFrame("error", sessionID, map[string]string{"error": message})
	if err != nil {
		return
	}
	_ = ch.Send(frame)
}

func (h *Handler) handleOperatorSocket(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	operatorID := chi.URLParam(r, "operatorID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] operator upgrade failed: %v", err)
		return
	}

	ch := newConnChannel(conn)
	h.dispatcher.RegisterOperator(tenantID, operatorID)
	h.dispatcher.Attach(tenantID, operatorID, ch)
	log.Printf("[ws] operator connected tenant=%s operator=%s", tenantID, operatorID)

	// Operators only receive; the read loop just detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.dispatcher.Detach(tenantID, operatorID)
	log.Printf("[ws] operator disconnected tenant=%s operator=%s", tenantID, operatorID)
}

// connChannel adapts a server-side websocket connection to the channel
// surface the router and dispatcher write through. Reads stay with the
// HTTP handler that owns the connection.
type connChannel struct {
	conn *websocket.Conn

	mu       sync.Mutex
	isClosed bool
}

func newConnChannel(conn *websocket.Conn) *connChannel {
	return &connChannel{conn: conn}
}

func (c *connChannel) Kind() transport.Kind { return transport.KindDuplexSocket }

func (c *connChannel) Send(frame transport.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed {
		return transport.ErrClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrDisconnected, err)
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrDisconnected, err)
	}
	return nil
}

// OnMessage is unused on the server side; inbound frames flow through the
// handler's read loop.
func (c *connChannel) OnMessage(func(transport.Frame)) {}

func (c *connChannel) Close() error {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return nil
	}
	c.isClosed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *connChannel) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isClosed
}
