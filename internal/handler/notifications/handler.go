// Package notifications serves the operator inbox: unread urgency alerts
// and read acknowledgements.
package notifications

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/converso-ai/converso/backend/internal/model/analysis"
	"github.com/converso-ai/converso/backend/internal/store"
	"github.com/converso-ai/converso/backend/pkg/utils"
)

// Handler serves the notification routes.
type Handler struct {
	store store.NotificationStore
}

// New creates the notifications handler.
func New(notifStore store.NotificationStore) *Handler {
	return &Handler{store: notifStore}
}

// RegisterRoutes registers the notification routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/{tenantID}/{operatorID}", h.handleUnread)
	r.Post("/{notificationID}/read", h.handleMarkRead)
}

func (h *Handler) handleUnread(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	operatorID := chi.URLParam(r, "operatorID")

	items, err := h.store.UnreadNotifications(r.Context(), tenantID, operatorID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load notifications")
		return
	}
	if items == nil {
		items = []analysis.Notification{}
	}
	utils.RespondJSON(w, http.StatusOK, items)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "notificationID")

	if err := h.store.MarkNotificationRead(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "notification not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to mark notification read")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "read"})
}
