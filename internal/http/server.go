package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"ricorrenti/internal/core"
	applog "ricorrenti/internal/log"
	"ricorrenti/internal/services"
)

type (
	// JobRunner runs a batch job by name.
	JobRunner interface {
		RunJob(ctx context.Context, name string, now time.Time) (core.JobSummary, error)
	}

	// RuleManager is the rule-creation flow.
	RuleManager interface {
		CreateRule(ctx context.Context, rule core.RecurrenceRule, now time.Time) (core.RecurrenceRule, services.BackfillResult, error)
		DeactivateRule(ctx context.Context, id string) error
		SetEndDate(ctx context.Context, id string, end core.Date) error
	}

	// InstanceLister reads a rule and its instances.
	InstanceLister interface {
		GetRule(ctx context.Context, id string) (core.RecurrenceRule, error)
		ListInstances(ctx context.Context, ruleID string) ([]core.OccurrenceInstance, error)
	}

	// Pinger reports backend reachability for /readyz.
	Pinger interface {
		Ping(ctx context.Context) error
	}
)

// Options configures NewServer. Health may be nil.
type Options struct {
	Addr       string
	CronSecret string
	Location   *time.Location
	RateLimit  int

	Jobs      JobRunner
	Rules     RuleManager
	Instances InstanceLister
	Health    Pinger
	Logger    *applog.Logger
}

// Server exposes the batch jobs and the rule-creation flow over HTTP. Every
// route except the health checks requires the cron bearer secret.
type Server struct {
	http.Server
	opts        Options
	structured  *applog.StructuredLogger
	rateLimiter *rateLimiter
	clock       func() time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes, returning a ready-to-run server.
func NewServer(opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.DefaultConfig())
	}
	logger := opts.Logger.WithComponent(applog.ComponentHTTP)

	s := &Server{
		opts:        opts,
		structured:  applog.NewStructuredLogger(logger),
		rateLimiter: newRateLimiter(opts.RateLimit),
		clock:       time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("POST /jobs/monthly-expansion", s.requireCronSecret(s.handleRunJob(core.JobMonthlyExpansion)))
	mux.HandleFunc("POST /jobs/due-sweep", s.requireCronSecret(s.handleRunJob(core.JobDueSweep)))
	mux.HandleFunc("POST /rules", s.requireCronSecret(s.handleCreateRule))
	mux.HandleFunc("POST /rules/{id}/deactivate", s.requireCronSecret(s.handleDeactivateRule))
	mux.HandleFunc("PUT /rules/{id}/end-date", s.requireCronSecret(s.handleSetEndDate))
	mux.HandleFunc("GET /rules/{id}/instances", s.requireCronSecret(s.handleListInstances))

	var handler http.Handler = mux
	handler = applog.RequestIDMiddleware(func(r *http.Request) string {
		return r.Header.Get("X-Request-ID")
	})(handler)
	handler = applog.Middleware(logger)(handler)
	handler = s.withSecurityHeaders(handler)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Job runs can take a while on a large rule set.
		WriteTimeout: 5 * time.Minute,
	}

	if opts.CronSecret == "" {
		slog.Warn("CRON_SECRET not set, job and rule endpoints will reject every request")
	}
	return s
}

// withSecurityHeaders adds the request ID, rate limiting on POST, security
// headers and request logging.
func (s *Server) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
			r.Header.Set("X-Request-ID", requestID)
		}
		w.Header().Set("X-Request-ID", requestID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		defer func() {
			s.structured.LogHTTPEnd(r.Context(), r, rw.statusCode, time.Since(start).Milliseconds(), clientIP)
		}()

		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP) {
			rw.Header().Set("Retry-After", "60")
			ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded").Write(rw)
			return
		}

		rw.Header().Set("X-Content-Type-Options", "nosniff")
		rw.Header().Set("X-Frame-Options", "DENY")
		rw.Header().Set("Cache-Control", "no-store")
		rw.Header().Set("Referrer-Policy", "no-referrer")

		next.ServeHTTP(rw, r)
	})
}

// requireCronSecret rejects requests without the configured bearer secret.
func (s *Server) requireCronSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || !validSecret(s.opts.CronSecret, token) {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Rejected unauthenticated request",
				applog.FieldPath, r.URL.Path)
			UnauthorizedError().Write(w)
			return
		}
		next(w, r)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Shutdown gracefully shuts down the server and the rate limiter cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
