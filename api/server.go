package api

import (
	"context"
	"encoding/json"
	"net/http"
	"qerplunk/ride-share/auth"
	"qerplunk/ride-share/middleware"
	"qerplunk/ride-share/store"
	"qerplunk/ride-share/types"

	"github.com/gorilla/mux"
)

// LocationReader looks up the last known positions of a ride's participants.
type LocationReader interface {
	Locations(ctx context.Context, room string) ([]types.LocationRecord, error)
}

// PresenceStats reports the live presence counters shown by /healthz.
type PresenceStats interface {
	Rooms() int
	Sessions() int
}

// Server serves the REST API for accounts and rides.
type Server struct {
	db        *store.Database
	tokens    *auth.TokenManager
	presence  PresenceStats
	locations LocationReader
}

// Creates the REST API server.
// locations may be nil, the locations endpoint then answers 503.
func NewServer(db *store.Database, tokens *auth.TokenManager, presence PresenceStats, locations LocationReader) *Server {
	return &Server{
		db:        db,
		tokens:    tokens,
		presence:  presence,
		locations: locations,
	}
}

// RegisterRoutes adds /healthz and every /api route to the router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	requireAuth := middleware.CreateStack(middleware.JWTCheck(s.tokens))
	optionalAuth := middleware.CreateStack(middleware.OptionalJWT(s.tokens))

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	// Auth endpoints
	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)

	// Rides
	api.HandleFunc("/rides", s.handleListRides).Methods(http.MethodGet)
	api.HandleFunc("/rides/active", requireAuth(s.handleListRides)).Methods(http.MethodGet)
	api.HandleFunc("/rides/search", requireAuth(s.handleSearchRides)).Methods(http.MethodGet)
	api.HandleFunc("/rides/host", requireAuth(s.handleHostRide)).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/join", requireAuth(s.handleJoinRide)).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/complete", requireAuth(s.handleCompleteRide)).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/locations", requireAuth(s.handleRideLocations)).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}", requireAuth(s.handleUpdateRide)).Methods(http.MethodPut)
	api.HandleFunc("/rides/{id}", requireAuth(s.handleDeleteRide)).Methods(http.MethodDelete)

	// History
	api.HandleFunc("/user/history", optionalAuth(s.handleHistory)).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"rooms":    s.presence.Rooms(),
		"sessions": s.presence.Sessions(),
	})
}

func respondJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, code int) {
	respondJSON(w, code, map[string]string{"message": message})
}
