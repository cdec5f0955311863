package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"qerplunk/ride-share/auth"
	"strings"
)

// Middleware wraps a handler with an extra check.
type Middleware func(http.HandlerFunc) http.HandlerFunc

type contextKey string

const userIDKey contextKey = "userID"

/*
Creates a middleware stack out of Middlewares located in this file.
Useful for reusing middleware stacks.
The first middleware given is the innermost one.

Example:
stack := middleware.CreateStack(middleware.JWTCheck(tokens), middleware.OriginCheck(origins))
*/
func CreateStack(middlewares ...Middleware) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		for _, middleware := range middlewares {
			next = middleware(next)
		}
		return next
	}
}

/*
Checks the "Authorization: Bearer <token>" header against the token manager.
Requests without a valid token get a 401, valid ones carry the user id in their context.
*/
func JWTCheck(tokens *auth.TokenManager) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r)
			if tokenStr == "" {
				unauthorized(w, "Access token required")
				return
			}

			userID, err := tokens.Verify(tokenStr)
			if err != nil {
				slog.Debug("rejected token", slog.String("error", err.Error()))
				unauthorized(w, "Invalid or expired token")
				return
			}

			next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
		}
	}
}

// Like JWTCheck, but lets anonymous requests through without a user id
func OptionalJWT(tokens *auth.TokenManager) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if tokenStr := bearerToken(r); tokenStr != "" {
				if userID, err := tokens.Verify(tokenStr); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
				}
			}
			next(w, r)
		}
	}
}

/*
Checks if the request origin is allowed.
Allowed origins come from ALLOWED_ORIGINS, an empty list allows every origin.
*/
func OriginCheck(allowedOrigins []string) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if len(allowedOrigins) == 0 {
				next(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			for _, allowedOrigin := range allowedOrigins {
				if origin == allowedOrigin {
					next(w, r)
					return
				}
			}

			slog.Info("origin not allowed", slog.String("origin", origin))
			http.Error(w, "Origin not allowed", http.StatusForbidden)
		}
	}
}

// UserIDFromContext returns the user id stored by JWTCheck or OptionalJWT.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDKey).(int64)
	return userID, ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
