package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/opentavern/tavern/internal/handler"
	"github.com/opentavern/tavern/internal/middleware"
	"github.com/opentavern/tavern/internal/store"
	ws "github.com/opentavern/tavern/internal/websocket"
)

type Server struct {
	db           *sql.DB
	hub          *ws.Hub
	authH        *handler.AuthHandler
	groupH       *handler.GroupHandler
	eventH       *handler.EventHandler
	userStore    *store.UserStore
	sessionStore *store.SessionStore
	logger       *slog.Logger
}

func New(db *sql.DB, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	sessionStore := store.NewSessionStore(db)
	groupStore := store.NewGroupStore(db)
	eventStore := store.NewEventStore(db)
	permStore := store.NewPermissionStore(db)

	return &Server{
		db:           db,
		hub:          hub,
		authH:        handler.NewAuthHandler(userStore, sessionStore, logger.With("component", "auth")),
		groupH:       handler.NewGroupHandler(groupStore, eventStore, permStore, hub, logger.With("component", "group")),
		eventH:       handler.NewEventHandler(eventStore, groupStore, permStore, hub, logger.With("component", "event")),
		userStore:    userStore,
		sessionStore: sessionStore,
		logger:       logger,
	}
}

// Hub returns the websocket hub so callers can run it.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("POST /register", s.authH.Register)
	outerMux.HandleFunc("POST /login", s.authH.Login)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("GET /api/groups", s.groupH.List)
	outerMux.HandleFunc("GET /api/groups/{slug}", s.groupH.Get)
	outerMux.HandleFunc("GET /api/events/upcoming", s.eventH.Upcoming)
	outerMux.HandleFunc("GET /api/events/past", s.eventH.Past)

	// Protected routes — wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessionStore, s.userStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /logout", s.authH.Logout)

	// Group API routes
	mux.HandleFunc("POST /api/groups", s.groupH.Create)
	mux.HandleFunc("PUT /api/groups/{id}", s.groupH.Update)
	mux.HandleFunc("DELETE /api/groups/{id}", s.groupH.Delete)
	mux.HandleFunc("GET /api/me/groups", s.groupH.Joined)
	mux.HandleFunc("GET /api/me/groups/unjoined", s.groupH.Unjoined)
	mux.HandleFunc("POST /api/groups/{id}/membership", s.groupH.ToggleMembership)
	mux.HandleFunc("POST /api/groups/{id}/organizers", s.groupH.AddOrganizers)
	mux.HandleFunc("DELETE /api/groups/{id}/organizers", s.groupH.RemoveOrganizers)

	// Event API routes
	mux.HandleFunc("POST /api/groups/{id}/events", s.eventH.Create)
	mux.HandleFunc("GET /api/events/{id}", s.eventH.Get)
	mux.HandleFunc("PUT /api/events/{id}", s.eventH.Update)
	mux.HandleFunc("DELETE /api/events/{id}", s.eventH.Delete)
	mux.HandleFunc("GET /api/me/events", s.eventH.RSVPed)

	// RSVP API routes
	mux.HandleFunc("POST /api/events/{id}/rsvp", s.eventH.SetRSVP)
	mux.HandleFunc("GET /api/events/{id}/attendees", s.eventH.Attendees)
	mux.HandleFunc("DELETE /api/rsvps/{id}", s.eventH.DeleteRSVP)

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))
}
