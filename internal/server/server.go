// Package server is the engine's HTTP and websocket API surface: the public
// cycle and slip endpoints, the authenticated admin triggers, the metrics
// scrape endpoint, and the live event stream.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bitredict/oddyssey-engine/internal/domain"
	"github.com/bitredict/oddyssey-engine/internal/server/handler"
	"github.com/bitredict/oddyssey-engine/internal/server/middleware"
	"github.com/bitredict/oddyssey-engine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards the admin routes; empty disables authentication.
	APIKey string
	// RateLimit is requests per client per RateWindow on public routes.
	// Zero disables rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates everything the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Cycles *handler.CycleHandler
	Slips  *handler.SlipHandler
	Admin  *handler.AdminHandler
}

// Server is the engine's API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New registers all routes and builds the middleware chain. Public routes
// get rate limiting; admin routes get API key auth; metrics comes through
// the provided scrape handler.
func New(
	cfg Config,
	handlers Handlers,
	hub *ws.Hub,
	metricsHandler http.Handler,
	limiter domain.RateLimiter,
	observe middleware.Observer,
	logger *slog.Logger,
) *Server {
	public := http.NewServeMux()
	public.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	public.HandleFunc("GET /api/cycles", handlers.Cycles.ListCycles)
	public.HandleFunc("GET /api/cycles/current", handlers.Cycles.GetCurrentCycle)
	public.HandleFunc("GET /api/cycles/{id}", handlers.Cycles.GetCycle)
	public.HandleFunc("GET /api/cycles/{id}/leaderboard", handlers.Cycles.GetLeaderboard)
	public.HandleFunc("GET /api/cycles/{id}/stats", handlers.Cycles.GetCycleStats)
	public.HandleFunc("GET /api/cycles/{id}/slips", handlers.Slips.ListCycleSlips)
	public.HandleFunc("POST /api/slips", handlers.Slips.PlaceSlip)
	public.HandleFunc("GET /api/slips/{id}", handlers.Slips.GetSlip)
	if hub != nil {
		public.HandleFunc("GET /ws", hub.HandleWS)
	}

	admin := http.NewServeMux()
	admin.HandleFunc("POST /api/admin/cycles/open", handlers.Admin.OpenCycle)
	admin.HandleFunc("POST /api/admin/cycles/{id}/cancel", handlers.Admin.CancelCycle)
	admin.HandleFunc("POST /api/admin/cycles/{id}/evaluate", handlers.Admin.TriggerEvaluation)
	admin.HandleFunc("POST /api/admin/cycles/{id}/unpark", handlers.Admin.UnparkCycle)
	admin.HandleFunc("GET /api/admin/parked", handlers.Admin.ListParked)
	admin.HandleFunc("POST /api/admin/resolution/sweep", handlers.Admin.TriggerResolutionSweep)
	admin.HandleFunc("POST /api/admin/fixtures/sync", handlers.Admin.TriggerFixtureSync)
	admin.HandleFunc("POST /api/admin/fixtures/{id}/refetch", handlers.Admin.RefetchFixture)
	admin.HandleFunc("POST /api/admin/results/ingest", handlers.Admin.TriggerResultsIngest)

	var publicChain http.Handler = public
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		publicChain = middleware.RateLimit(limiter, cfg.RateLimit, window)(publicChain)
	}

	root := http.NewServeMux()
	root.Handle("/api/admin/", middleware.Auth(cfg.APIKey)(admin))
	if metricsHandler != nil {
		root.Handle("GET /metrics", metricsHandler)
	}
	root.Handle("/", publicChain)

	var h http.Handler = root
	h = middleware.Logging(logger, observe)(h)
	h = cors(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Start listens until the server errors or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// cors sets the CORS headers for allowed origins; no configured origins
// allows all.
func cors(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				allowed := len(allowedOrigins) == 0
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}
				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
