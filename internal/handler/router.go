package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/converso-ai/converso/backend/internal/handler/channels"
	chatHandler "github.com/converso-ai/converso/backend/internal/handler/chat"
	notificationsHandler "github.com/converso-ai/converso/backend/internal/handler/notifications"
	relayHandler "github.com/converso-ai/converso/backend/internal/handler/relay"
	wsHandler "github.com/converso-ai/converso/backend/internal/handler/ws"
	middlewarePkg "github.com/converso-ai/converso/backend/internal/middleware"
	"github.com/converso-ai/converso/backend/internal/service/escalation"
	"github.com/converso-ai/converso/backend/internal/service/router"
	"github.com/converso-ai/converso/backend/internal/store"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(routerSvc *router.Service, dispatcher *escalation.Dispatcher, notifStore store.NotificationStore) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	registry := channels.NewRegistry()
	// Closed sessions take their queue channel with them; otherwise the
	// poll endpoint keeps answering for sessions the router already tore
	// down.
	routerSvc.OnSessionClosed(registry.Remove)

	chatH := chatHandler.New(routerSvc, registry)
	relayH := relayHandler.New(routerSvc, registry)
	wsH := wsHandler.New(routerSvc, dispatcher)
	notifH := notificationsHandler.New(notifStore)

	r.Route("/api", func(api chi.Router) {
		api.Route("/chat", chatH.RegisterRoutes)
		api.Route("/relay", relayH.RegisterRoutes)
		api.Route("/notifications", notifH.RegisterRoutes)
		wsH.RegisterRoutes(api)
	})

	return r
}
