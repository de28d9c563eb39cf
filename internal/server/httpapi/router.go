// Package httpapi exposes the row-store service over HTTP: the versioned
// row API consumed by sync engines and the hosted sign-in flow.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/timewell/syncengine/internal/errs"
	"github.com/timewell/syncengine/internal/service"
)

// Server wires services into HTTP handlers.
type Server struct {
	auth service.AuthService
	rows service.RowsService
	log  *zap.Logger
}

// New constructs the HTTP server.
func New(auth service.AuthService, rows service.RowsService, log *zap.Logger) *Server {
	return &Server{auth: auth, rows: rows, log: log}
}

// Router builds the chi router with middleware and all routes mounted.
func (s *Server) Router(signKey []byte, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(Recover(s.log))
	r.Use(Logging(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Get("/authorize", s.handleSignInPage)
		r.Post("/authorize", s.handleAuthorize)
		r.Post("/token", s.handleToken)
		r.Post("/logout", s.handleLogout)
		r.With(RequireAuth(signKey)).Get("/user", s.handleUser)
	})

	r.Route("/v1/rows/{collection}", func(r chi.Router) {
		r.Use(RequireAuth(signKey))
		r.Post("/", s.handleUpsertRows)
		r.Get("/", s.handleQueryRows)
		r.Delete("/", s.handleDeleteRows)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeSentinel maps service errors onto HTTP statuses. Unrecognized
// errors are infrastructure failures and stay opaque.
func (s *Server) writeSentinel(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, errs.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, errs.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	case errors.Is(err, errs.ErrExpired):
		writeError(w, http.StatusGone, "expired")
	case errors.Is(err, errs.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	default:
		s.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
	}
}
