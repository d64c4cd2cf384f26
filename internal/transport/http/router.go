package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"quiz-live-service/internal/app"
	"quiz-live-service/internal/domain"
)

// NewRouter mounts the health check, the lobby lookup and the websocket endpoint.
func NewRouter(service *app.GameService, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	ws := NewWSHandler(service, originChecker(allowedOrigins))
	r.Get("/healthz", Healthz)
	r.Get("/lobbies/{pin}", GetLobby(service))
	r.Get("/ws", ws.ServeWS)

	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins(allowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// GetLobby returns the public snapshot of a live session.
func GetLobby(service *app.GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := service.Lookup(chi.URLParam(r, "pin"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		view, err := session.View(r.Context())
		if errors.Is(err, domain.ErrSessionClosed) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorPayload{Message: err.Error()})
}

func corsOrigins(allowed []string) []string {
	if len(allowed) == 0 {
		return []string{"*"}
	}
	return allowed
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
