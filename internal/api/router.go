// Package api exposes the HTTP surface: live previews, operator settings,
// manual notification triggers and the violation websocket.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Deps collects the wired handlers. VideoFeed and Hub stream for the
// lifetime of the client, so they sit outside the request timeout group.
type Deps struct {
	Settings  *SettingsHandler
	Ops       *OpsHandler
	Hub       *ViolationHub
	VideoFeed http.HandlerFunc
	Metrics   http.Handler
}

func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	if deps.VideoFeed != nil {
		r.Get("/api/video-feed", deps.VideoFeed)
	}
	if deps.Hub != nil {
		r.Get("/api/ws/violations", deps.Hub.ServeWS)
	}

	r.Group(func(g chi.Router) {
		g.Use(chimiddleware.Timeout(60 * time.Second))

		g.Get("/api/settings", deps.Settings.GetEmailSettings)
		g.Post("/api/settings", deps.Settings.UpdateEmailSettings)
		g.Get("/api/detection-settings", deps.Settings.ListDetectionSettings)
		g.Post("/api/detection-settings", deps.Settings.UpdateDetectionSettings)

		g.Post("/api/refresh-config", deps.Ops.RefreshConfig)
		g.Post("/api/send-recap", deps.Ops.SendRecap)
		g.Post("/api/send-email/{id}", deps.Ops.SendViolationEmail)
	})

	return r
}

// cors allows the dashboard origin through. Kept permissive: deployments sit
// behind a reverse proxy that owns the real policy.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
