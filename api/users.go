package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"qerplunk/ride-share/store"
	"regexp"
	"strings"
)

var (
	emailPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	mobilePattern = regexp.MustCompile(`^[0-9]{10}$`)
)

type registerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Mobile    string `json:"mobile"`
	Address   string `json:"address"`
	Password  string `json:"password"`
}

// Returns a user facing message for the first invalid field, "" when valid
func (req registerRequest) validate() string {
	switch {
	case strings.TrimSpace(req.FirstName) == "",
		strings.TrimSpace(req.LastName) == "",
		strings.TrimSpace(req.Address) == "",
		req.Email == "", req.Mobile == "", req.Password == "":
		return "All fields are required"
	case !emailPattern.MatchString(strings.TrimSpace(req.Email)):
		return "Invalid email format"
	case !mobilePattern.MatchString(req.Mobile):
		return "Mobile must be 10 digits"
	}
	return ""
}

type authResponse struct {
	Message string      `json:"message,omitempty"`
	Token   string      `json:"token"`
	User    *store.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if msg := req.validate(); msg != "" {
		respondError(w, msg, http.StatusBadRequest)
		return
	}

	user, err := s.db.CreateUser(r.Context(), store.NewUser{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Mobile:    req.Mobile,
		Address:   req.Address,
		Password:  req.Password,
	})
	if errors.Is(err, store.ErrDuplicateEmail) {
		respondError(w, "User already exists with this email", http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("registration failed", slog.String("error", err.Error()))
		respondError(w, "Registration failed. Please try again.", http.StatusInternalServerError)
		return
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		slog.Error("issuing token failed", slog.String("error", err.Error()))
		respondError(w, "Registration failed. Please try again.", http.StatusInternalServerError)
		return
	}

	slog.Info("user registered", slog.Int64("user", user.ID))
	respondJSON(w, http.StatusCreated, authResponse{
		Message: "Registration successful",
		Token:   token,
		User:    user,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	user, err := s.db.AuthenticateUser(r.Context(), req.Email, req.Password)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}
	if err != nil {
		slog.Error("login failed", slog.String("error", err.Error()))
		respondError(w, "Login failed", http.StatusInternalServerError)
		return
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		slog.Error("issuing token failed", slog.String("error", err.Error()))
		respondError(w, "Login failed", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}
