package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/converso-ai/converso/backend/internal/handler/channels"
	"github.com/converso-ai/converso/backend/internal/model/chat"
	"github.com/converso-ai/converso/backend/internal/service/router"
	"github.com/converso-ai/converso/backend/internal/transport"
	"github.com/converso-ai/converso/backend/pkg/utils"
)

// Handler serves the request/response surface of the channel: session
// provisioning for the pull-based transports, message ingestion, the poll
// drain, transcripts, and background-only analysis.
type Handler struct {
	router   *router.Service
	channels *channels.Registry
}

// New creates the chat handler.
func New(routerSvc *router.Service, registry *channels.Registry) *Handler {
	return &Handler{router: routerSvc, channels: registry}
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Post("/messages", h.handleInboundMessage)
	r.Get("/poll/{sessionID}", h.handlePoll)
	r.Get("/transcript/{sessionID}", h.handleTranscript)
	r.Post("/analyze-background", h.handleAnalyzeBackground)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID    string `json:"userId"`
		TenantID  string `json:"tenantId"`
		Transport string `json:"transport"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind := transport.KindHTTPPolling
	if payload.Transport != "" {
		parsed, ok := transport.ParseKind(payload.Transport)
		if !ok {
			utils.RespondError(w, http.StatusBadRequest, "unknown transport kind")
			return
		}
		kind = parsed
	}
	// The duplex socket binds its session during the websocket handshake.
	if kind == transport.KindDuplexSocket {
		utils.RespondError(w, http.StatusBadRequest, "duplex socket sessions attach via /api/ws")
		return
	}

	ch := transport.NewQueueChannel(kind, 0)
	session, err := h.router.Attach(r.Context(), payload.UserID, payload.TenantID, kind, ch)
	if err != nil {
		if errors.Is(err, router.ErrValidation) {
			utils.RespondError(w, http.StatusBadRequest, "userId and tenantId are required")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.channels.Put(session.ID, ch)

	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleInboundMessage(w http.ResponseWriter, r *http.Request) {
	var frame transport.Frame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if frame.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId is required")
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

	if _, err := h.router.HandleInbound(r.Context(), frame.SessionID, event); err != nil {
		respondRouterError(w, err)
		return
	}

	// The reply travels over the session's channel, not this response.
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ch, ok := h.channels.Get(sessionID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	// Each drain is the polling client's heartbeat.
	h.router.Touch(sessionID)

	frames := ch.Drain()
	if frames == nil {
		frames = []transport.Frame{}
	}
	utils.RespondJSON(w, http.StatusOK, frames)
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	messages, err := h.router.Transcript(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) handleAnalyzeBackground(w http.ResponseWriter, r *http.Request) {
	var event chat.InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.router.HandleBackground(r.Context(), event); err != nil {
		respondRouterError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func respondRouterError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, router.ErrValidation):
		utils.RespondError(w, http.StatusBadRequest, "invalid message")
	case errors.Is(err, router.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	default:
		utils.RespondError(w, http.StatusInternalServerError, "failed to process message")
	}
}
