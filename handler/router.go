package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"executor/runtime"
)

// Routes builds the authenticated API surface. Everything lives under
// /v1 behind the shared bearer secret; /v1/health and the WebSocket
// upgrade are exempt.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(bearerAuth(h.cfg.ExecutorSecret))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Post("/runtimes", h.CreateRuntime)
		r.Get("/runtimes", h.ListRuntimes)
		r.Route("/runtimes/{id}", func(r chi.Router) {
			r.Get("/", h.GetRuntime)
			r.Delete("/", h.DeleteRuntime)
			r.Post("/executions", h.Execute)
			r.Post("/execution", h.Execute) // legacy alias
			r.Post("/commands", h.RunCommand)
			r.Get("/logs", h.StreamLogs)
		})
	})

	if h.ws != nil {
		r.Get("/ws", h.ws.HandleConnect)
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, runtime.NewError(runtime.GeneralRouteNotFound, "Route not found"))
	})

	return r
}

func bearerAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/v1/health" || r.URL.Path == "/ws" {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") ||
				subtle.ConstantTimeCompare([]byte(auth[7:]), []byte(secret)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"Missing executor key"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
