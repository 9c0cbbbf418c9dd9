// Package relay serves the managed pub/sub leg: a long-lived SSE stream
// carries frames server-to-client, and a publish endpoint carries them
// client-to-server.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/converso-ai/converso/backend/internal/handler/channels"
	"github.com/converso-ai/converso/backend/internal/model/chat"
	"github.com/converso-ai/converso/backend/internal/service/router"
	"github.com/converso-ai/converso/backend/internal/transport"
	"github.com/converso-ai/converso/backend/pkg/utils"
)

const heartbeatInterval = 15 * time.Second

// Handler serves the relay endpoints.
type Handler struct {
	router   *router.Service
	channels *channels.Registry
}

// New creates the relay handler.
func New(routerSvc *router.Service, registry *channels.Registry) *Handler {
	return &Handler{router: routerSvc, channels: registry}
}

// RegisterRoutes registers the relay routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/subscribe/{sessionID}", h.handleSubscribe)
	r.Post("/publish/{sessionID}", h.handlePublish)
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ch, ok := h.channels.Get(sessionID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	flusher.Flush()

	ctx := r.Context()
	log.Printf("[relay] stream opened session=%s", sessionID)
	defer log.Printf("[relay] stream closed session=%s", sessionID)

	for {
		waitCtx, cancel := context.WithTimeout(ctx, heartbeatInterval)
		ready := ch.Wait(waitCtx)
		cancel()

		select {
		case <-ctx.Done():
			// Subscriber gone means the transport is down; the session
			// keeps its identity for the re-probe grace window.
			h.router.MarkDegraded(sessionID)
			return
		default:
		}

		if !ready {
			if ch.Closed() {
				// Channel replaced or session closed by the router; this
				// stream is stale, not the session.
				return
			}
			// Nothing queued within the interval; keep the stream warm.
			utils.SendSSEHeartbeat(w, flusher)
			continue
		}
		for _, frame := range ch.Drain() {
			utils.SendSSEChunk(w, flusher, frame)
		}
	}
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var frame transport.Frame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var event chat.InboundEvent
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &event); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid message payload")
			return
		}
	}
	if event.MessageID == "" {
		event.MessageID = frame.MessageID
	}

	if _, err := h.router.HandleInbound(r.Context(), sessionID, event); err != nil {
		switch {
		case errors.Is(err, router.ErrValidation):
			utils.RespondError(w, http.StatusBadRequest, "invalid message")
		case errors.Is(err, router.ErrSessionNotFound):
			utils.RespondError(w, http.StatusNotFound, "session not found")
		default:
			utils.RespondError(w, http.StatusInternalServerError, "failed to process message")
		}
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
