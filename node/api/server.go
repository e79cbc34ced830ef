// Package api is the node's HTTP surface: claim submission, the Discord
// guard endpoint, receipt and config lookups, and health probes.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dispenser.dev/node/node"
)

const maxBodyBytes = 1 << 20

type Options struct {
	// TrustProxy rewrites RemoteAddr from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
	BanFor     time.Duration
}

type Server struct {
	app     *node.App
	logger  *slog.Logger
	router  *chi.Mux
	limiter *RateLimiter
	abuse   *AbuseTracker
}

func New(app *node.App, opts Options) *Server {
	s := &Server{
		app:    app,
		logger: app.Logger.With("component", "api"),
		router: chi.NewRouter(),
		abuse:  NewAbuseTracker(opts.BanFor),
	}
	if app.Config.RateLimit > 0 {
		s.limiter = NewRateLimiter(app.Config.RateLimit, app.Config.RateBurst, 0)
	}

	if opts.TrustProxy {
		s.router.Use(middleware.RealIP)
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(app.Metrics.Middleware(routePattern))
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.abuse.Middleware)
	if s.limiter != nil {
		s.router.Use(s.limiter.Middleware)
	}
	s.router.Use(middleware.RequestSize(maxBodyBytes))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/claims", s.handleClaim)
		r.Post("/discord/signed-message", s.handleDiscordSign)
		r.Get("/receipts/{leafHash}", s.handleReceipt)
		r.Get("/config", s.handleConfig)
		r.Get("/events", s.handleEvents)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops the rate limiter's cleanup loop.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

type errorResponse struct {
	OK      bool   `json:"ok"`
	Err     string `json:"err"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{OK: false, Err: code, Message: msg})
}
