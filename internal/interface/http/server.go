// Package http implements the REST API of the extension tracker.
// It serves the enriched student lists, the decision store, the dashboard
// summary and the cache administration endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/coachlab/extension-tracker/config"
	"github.com/coachlab/extension-tracker/internal/application/command"
	"github.com/coachlab/extension-tracker/internal/application/query"
	"github.com/coachlab/extension-tracker/internal/application/refresh"
	"github.com/coachlab/extension-tracker/internal/domain/decision"
	"github.com/coachlab/extension-tracker/internal/domain/milestone"
	"github.com/coachlab/extension-tracker/internal/domain/student"
	"github.com/coachlab/extension-tracker/internal/infrastructure/cache"
	"github.com/coachlab/extension-tracker/internal/infrastructure/scheduler"
	"github.com/coachlab/extension-tracker/internal/interface/http/handlers"
	"github.com/coachlab/extension-tracker/pkg/logger"
)

// Config is the listener and middleware setup of the API.
type Config struct {
	Host string
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodyBytes   int64

	// AllowedOrigins lists CORS origins; empty allows any.
	AllowedOrigins []string

	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit      int
	RateLimitBurst int

	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that overwrites those headers; otherwise any
	// client can pick its own rate limit key.
	TrustProxyHeaders bool

	// Version is reported by the health endpoints.
	Version string
}

// DefaultConfig listens on :3001, the port the dashboard frontend expects.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           3001,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
		MaxBodyBytes:   1 << 20,
		RateLimit:      20,
		RateLimitBurst: 40,
	}
}

// FromAppConfig builds the server configuration from the loaded settings.
func FromAppConfig(cfg config.HTTPConfig, version string) Config {
	c := DefaultConfig()
	c.Host = cfg.Host
	c.Port = cfg.Port
	if cfg.ReadTimeout > 0 {
		c.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		c.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.IdleTimeout > 0 {
		c.IdleTimeout = cfg.IdleTimeout
	}
	c.AllowedOrigins = cfg.AllowedOrigins
	c.RateLimit = cfg.RateLimit
	c.RateLimitBurst = cfg.RateLimitBurst
	c.TrustProxyHeaders = cfg.TrustProxy
	c.Version = version
	return c
}

// Address is host:port, IPv6 hosts bracketed.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// StudentQueries serves the enriched student lists.
type StudentQueries interface {
	ListAllEnriched(ctx context.Context, monthOffset int) ([]student.EnrichedView, error)
	ListHearingMilestones(ctx context.Context, monthOffset int) ([]student.EnrichedView, error)
	ListExaminationMilestones(ctx context.Context, monthOffset int) ([]student.EnrichedView, error)
	ListSuspensionHistory(ctx context.Context, monthOffset int) ([]student.EnrichedView, error)
}

// DecisionQueries reads stored decisions.
type DecisionQueries interface {
	Get(ctx context.Context, studentID string, cycle milestone.Cycle) (*decision.Decision, error)
	BulkGet(ctx context.Context, studentIDs []string, cycle milestone.Cycle) (map[string]*decision.Decision, error)
}

// DecisionCommands writes decisions.
type DecisionCommands interface {
	Handle(ctx context.Context, cmd command.UpsertDecisionCommand) (*decision.Decision, error)
}

// DashboardQueries computes the dashboard summary.
type DashboardQueries interface {
	Handle(ctx context.Context, q query.DashboardQuery) (*query.DashboardResult, error)
}

// CacheAdmin refreshes and inspects the source cache.
type CacheAdmin interface {
	ManualRefresh(ctx context.Context) refresh.Summary
	ClearCache()
	CacheStats() cache.Stats
	LastSummary() (refresh.Summary, bool)
}

// JobLister reports the background jobs.
type JobLister interface {
	ListJobs() []scheduler.JobInfo
	IsRunning() bool
	Metrics() scheduler.MetricsSnapshot
}

// FeatureToggles exposes the runtime feature flags.
type FeatureToggles interface {
	IsEnabled(name string) bool
	SetEnabled(name string, enabled bool) error
	GetAllFeatures() []config.Feature
}

// Dependencies are the application services behind the routes.
// Jobs, Features, Health and Logger may be nil.
type Dependencies struct {
	Students  StudentQueries
	Decisions DecisionQueries
	Upsert    DecisionCommands
	Dashboard DashboardQueries
	Cache     CacheAdmin

	Jobs     JobLister
	Features FeatureToggles
	Health   handlers.HealthChecker

	Logger *logger.Logger
}

// Server serves the API on a single listener.
type Server struct {
	config Config
	deps   Dependencies
	router chi.Router
	logger *logger.Logger
	srv    *http.Server

	limiter *handlers.ClientRateLimiter

	// startedAt holds the unix nanos of the current Start, zero when stopped.
	startedAt atomic.Int64
}

func NewServer(config Config, deps Dependencies) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}

	s := &Server{
		config: config,
		deps:   deps,
		router: chi.NewRouter(),
		logger: log.With(logger.Component("http")),
	}
	if config.RateLimit > 0 {
		s.limiter = handlers.NewClientRateLimiter(config.RateLimit, config.RateLimitBurst)
	}

	s.routes()

	s.srv = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(s.logger.Slog().Handler(), slog.LevelWarn),
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.recoverer)
	if s.config.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(s.requestID)
	r.Use(s.accessLog)
	r.Use(handlers.CORS(s.config.AllowedOrigins))
	r.Use(handlers.SecurityHeaders)
	if s.config.MaxBodyBytes > 0 {
		r.Use(middleware.RequestSize(s.config.MaxBodyBytes))
	}

	// Liveness and readiness bypass the rate limiter.
	r.Get("/health/live", s.handleLive)
	r.Get("/health/ready", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}

		r.Get("/health", s.handleHealth)
		r.Get("/dashboard", s.handleDashboard)

		r.Route("/notion", func(r chi.Router) {
			r.Get("/students", s.handleListStudents)
			r.Get("/hearing", s.handleListHearing)
			r.Get("/examination", s.handleListExamination)
			r.Get("/suspensions", s.handleListSuspensions)
		})

		r.Route("/students", func(r chi.Router) {
			r.Post("/bulk", s.handleBulkDecisions)
			r.Get("/{studentId}", s.handleGetDecision)
			r.Post("/{studentId}", s.handleUpsertDecision)
		})

		r.Route("/features", func(r chi.Router) {
			r.Use(middleware.NoCache)
			r.Get("/", s.handleListFeatures)
			r.Put("/{name}", s.handleSetFeature)
		})

		r.Route("/cache", func(r chi.Router) {
			r.Use(middleware.NoCache)
			r.Post("/refresh", s.handleRefreshCache)
			r.Delete("/", s.handleClearCache)
			r.Get("/stats", s.handleCacheStats)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "API endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// Start binds the listener and serves until Shutdown. A clean shutdown
// returns nil.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("http: listen on %s: %w", s.srv.Addr, err)
	}
	if !s.startedAt.CompareAndSwap(0, time.Now().UnixNano()) {
		_ = ln.Close()
		return errors.New("http: server already running")
	}

	s.logger.Info("listening", logger.String("address", ln.Addr().String()))

	if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		s.startedAt.Store(0)
		return fmt.Errorf("http: serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.startedAt.Swap(0) == 0 {
		return nil
	}
	s.logger.Info("shutting down")
	return s.srv.Shutdown(ctx)
}

// Uptime is zero while the server is stopped.
func (s *Server) Uptime() time.Duration {
	started := s.startedAt.Load()
	if started == 0 {
		return 0
	}
	return time.Since(time.Unix(0, started))
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// Envelope is the body of every API response.
type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data"`
	Error     string `json:"error,omitempty"`
	Count     *int   `json:"count,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, env Envelope) {
	env.RequestID = requestIDFrom(r.Context())

	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		logger.FromContext(r.Context()).Debug("write response", logger.Err(err))
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeEnvelope(w, r, status, Envelope{Success: true, Data: data})
}

// writeList always encodes an array and sets count.
func writeList[T any](w http.ResponseWriter, r *http.Request, items []T) {
	if items == nil {
		items = []T{}
	}
	n := len(items)
	writeEnvelope(w, r, http.StatusOK, Envelope{Success: true, Data: items, Count: &n})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeEnvelope(w, r, status, Envelope{Error: message})
}
