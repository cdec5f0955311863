package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"qerplunk/ride-share/middleware"
	"qerplunk/ride-share/store"
	"qerplunk/ride-share/types"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

var secretCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{4,8}$`)

type rideRequest struct {
	Pickup     string  `json:"pickup"`
	Drop       string  `json:"drop"`
	Fare       float64 `json:"fare"`
	Seats      int     `json:"seats"`
	SecretCode string  `json:"secretCode"`
}

func (req rideRequest) details() (store.RideDetails, string) {
	details := store.RideDetails{
		Pickup:     strings.TrimSpace(req.Pickup),
		Drop:       strings.TrimSpace(req.Drop),
		Fare:       req.Fare,
		Seats:      req.Seats,
		SecretCode: req.SecretCode,
	}

	switch {
	case details.Pickup == "" || details.Drop == "":
		return details, "Pickup and drop are required"
	case details.Seats < 1:
		return details, "Seats must be at least 1"
	case details.Fare < 0 || math.IsNaN(details.Fare) || math.IsInf(details.Fare, 0):
		return details, "Fare must be a positive number"
	case details.SecretCode != "" && !secretCodePattern.MatchString(details.SecretCode):
		return details, "Secret code must be 4-8 letters or numbers"
	}
	return details, ""
}

// Hides the secret code from everyone but the host
func visibleTo(viewer int64, rides ...store.Ride) []store.Ride {
	for i := range rides {
		if rides[i].Host.ID != viewer {
			rides[i].SecretCode = ""
		}
	}
	return rides
}

func viewerID(r *http.Request) int64 {
	userID, _ := middleware.UserIDFromContext(r.Context())
	return userID
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	rides, err := s.db.ActiveRides(r.Context())
	if err != nil {
		slog.Error("listing rides failed", slog.String("error", err.Error()))
		respondError(w, "Error fetching rides", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, visibleTo(viewerID(r), rides...))
}

func (s *Server) handleSearchRides(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	rides, err := s.db.SearchRides(r.Context(), query.Get("pickup"), query.Get("drop"))
	if err != nil {
		slog.Error("searching rides failed", slog.String("error", err.Error()))
		respondError(w, "Search failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, visibleTo(viewerID(r), rides...))
}

func (s *Server) handleHostRide(w http.ResponseWriter, r *http.Request) {
	var req rideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	details, msg := req.details()
	if msg != "" {
		respondError(w, msg, http.StatusBadRequest)
		return
	}

	ride, err := s.db.CreateRide(r.Context(), viewerID(r), details)
	if err != nil {
		slog.Error("hosting ride failed", slog.String("error", err.Error()))
		respondError(w, "Error hosting ride", http.StatusInternalServerError)
		return
	}

	slog.Info("ride hosted", slog.String("ride", ride.ID), slog.Int64("host", ride.Host.ID))
	respondJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleJoinRide(w http.ResponseWriter, r *http.Request) {
	userID := viewerID(r)
	ride, err := s.db.JoinRide(r.Context(), mux.Vars(r)["id"], userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, "Ride not found", http.StatusNotFound)
		return
	case errors.Is(err, store.ErrAlreadyJoined):
		respondError(w, "Already joined this ride", http.StatusBadRequest)
		return
	case errors.Is(err, store.ErrNoSeats):
		respondError(w, "No seats available", http.StatusBadRequest)
		return
	case errors.Is(err, store.ErrRideInactive):
		respondError(w, "Ride is no longer active", http.StatusBadRequest)
		return
	case err != nil:
		slog.Error("joining ride failed", slog.String("error", err.Error()))
		respondError(w, "Error joining ride", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, visibleTo(userID, *ride)[0])
}

func (s *Server) handleUpdateRide(w http.ResponseWriter, r *http.Request) {
	var req rideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	// The secret code is fixed once the ride is hosted
	req.SecretCode = ""
	details, msg := req.details()
	if msg != "" {
		respondError(w, msg, http.StatusBadRequest)
		return
	}

	ride, err := s.db.UpdateRide(r.Context(), mux.Vars(r)["id"], viewerID(r), details)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, "Ride not found", http.StatusNotFound)
		return
	case errors.Is(err, store.ErrNotHost):
		respondError(w, "Not authorized to update this ride", http.StatusForbidden)
		return
	case err != nil:
		slog.Error("updating ride failed", slog.String("error", err.Error()))
		respondError(w, "Error updating ride", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["id"]
	ride, err := s.db.CompleteRide(r.Context(), rideID, viewerID(r))
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, "Ride not found", http.StatusNotFound)
		return
	case errors.Is(err, store.ErrNotHost):
		respondError(w, "Not authorized to complete this ride", http.StatusForbidden)
		return
	case err != nil:
		slog.Error("completing ride failed", slog.String("ride", rideID), slog.String("error", err.Error()))
		respondError(w, "Error completing ride", http.StatusInternalServerError)
		return
	}

	slog.Info("ride completed", slog.String("ride", rideID))
	respondJSON(w, http.StatusOK, ride)
}

func (s *Server) handleDeleteRide(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["id"]
	if _, err := uuid.Parse(rideID); err != nil {
		respondError(w, "Invalid ride ID format", http.StatusBadRequest)
		return
	}

	err := s.db.DeleteRide(r.Context(), rideID, viewerID(r))
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, "Ride not found", http.StatusNotFound)
		return
	case errors.Is(err, store.ErrNotHost):
		respondError(w, "Not authorized to delete this ride", http.StatusForbidden)
		return
	case err != nil:
		slog.Error("deleting ride failed", slog.String("ride", rideID), slog.String("error", err.Error()))
		respondError(w, "Error deleting ride", http.StatusInternalServerError)
		return
	}

	slog.Info("ride deleted", slog.String("ride", rideID))
	respondJSON(w, http.StatusOK, map[string]string{"message": "Ride deleted successfully"})
}

// Anonymous or unknown users get an empty history rather than an error
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := struct {
		Hosted []store.Ride `json:"hosted"`
		Joined []store.Ride `json:"joined"`
	}{
		Hosted: []store.Ride{},
		Joined: []store.Ride{},
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondJSON(w, http.StatusOK, history)
		return
	}

	hosted, err := s.db.HostedRides(r.Context(), userID)
	if err != nil {
		slog.Error("fetching history failed", slog.String("error", err.Error()))
		respondError(w, "Error fetching history", http.StatusInternalServerError)
		return
	}
	joined, err := s.db.JoinedRides(r.Context(), userID)
	if err != nil {
		slog.Error("fetching history failed", slog.String("error", err.Error()))
		respondError(w, "Error fetching history", http.StatusInternalServerError)
		return
	}

	history.Hosted = hosted
	history.Joined = visibleTo(userID, joined...)
	respondJSON(w, http.StatusOK, history)
}

// Only the host and passengers of a ride may see where its participants are
func (s *Server) handleRideLocations(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["id"]
	ride, err := s.db.GetRide(r.Context(), rideID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, "Ride not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("reading ride failed", slog.String("ride", rideID), slog.String("error", err.Error()))
		respondError(w, "Error fetching locations", http.StatusInternalServerError)
		return
	}

	if !isMember(*ride, viewerID(r)) {
		respondError(w, "Not a member of this ride", http.StatusForbidden)
		return
	}

	if s.locations == nil {
		respondError(w, "Location history unavailable", http.StatusServiceUnavailable)
		return
	}

	records, err := s.locations.Locations(r.Context(), rideID)
	if err != nil {
		slog.Error("reading locations failed", slog.String("ride", rideID), slog.String("error", err.Error()))
		respondError(w, "Error fetching locations", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []types.LocationRecord{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rideId":    rideID,
		"locations": records,
	})
}

func isMember(ride store.Ride, userID int64) bool {
	if ride.Host.ID == userID {
		return true
	}
	for _, p := range ride.Passengers {
		if p.ID == userID {
			return true
		}
	}
	return false
}
