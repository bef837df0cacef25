package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/middleware"
	"github.com/JakeFAU/savecodenow/internal/policy/ratelimit"
	"github.com/JakeFAU/savecodenow/internal/savecode"
	"github.com/JakeFAU/savecodenow/internal/telemetry"
	"github.com/JakeFAU/savecodenow/internal/webhook"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultListLimit      = 50
	maxListLimit          = 1000
	maxWebhookBody        = 1 << 20
)

// Service is the lifecycle surface the handlers drive. The manager satisfies it.
type Service interface {
	SavableVisitTypes(ctx context.Context) ([]string, error)
	Create(ctx context.Context, visitType, originURL string, sub savecode.Submitter) (savecode.SaveRequest, error)
	Get(ctx context.Context, id int64) (savecode.SaveRequest, error)
	Refresh(ctx context.Context, id int64) (savecode.SaveRequest, error)
	RefreshPending(ctx context.Context) ([]savecode.SaveRequest, error)
	ListForOrigin(ctx context.Context, visitType, originURL string) ([]savecode.SaveRequest, error)
	List(ctx context.Context, filter savecode.ListFilter, page savecode.Page) ([]savecode.SaveRequest, error)
	Accept(ctx context.Context, id int64, note string) (savecode.SaveRequest, error)
	Reject(ctx context.Context, id int64, note string) (savecode.SaveRequest, error)
	Delete(ctx context.Context, id int64) error
	ListOrigins(ctx context.Context, kind savecode.OriginListKind) ([]string, error)
	AddOrigin(ctx context.Context, kind savecode.OriginListKind, prefix string) error
	RemoveOrigin(ctx context.Context, kind savecode.OriginListKind, prefix string) error
	Ping(ctx context.Context) error
}

// WebhookIngestor turns webhook deliveries into save requests.
type WebhookIngestor interface {
	Ingest(ctx context.Context, adapterName string, headers http.Header, body []byte) (webhook.Result, error)
}

// Options wires a Server. Webhooks, Events and Limiter are optional.
type Options struct {
	Service  Service
	Webhooks WebhookIngestor
	// Events serves the lifecycle event websocket.
	Events         http.Handler
	Limiter        *ratelimit.Limiter
	APIKey         string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the lifecycle manager.
type Server struct {
	router   chi.Router
	service  Service
	webhooks WebhookIngestor
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	s := &Server{
		service:  opts.Service,
		webhooks: opts.Webhooks,
		logger:   logger,
	}

	throttle := func(next http.Handler) http.Handler { return next }
	if opts.Limiter != nil {
		throttle = opts.Limiter.Middleware(ratelimit.ClientIP, middleware.IsPrivileged)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(telemetry.Middleware)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Privilege(opts.APIKey))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/api/1/origin/save", func(r chi.Router) {
		// Websocket upgrades need the raw connection, so they skip the timeout.
		if opts.Events != nil {
			r.Get("/events", opts.Events.ServeHTTP)
		}
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(timeout))
			r.Get("/visit-types/", s.visitTypes)
			r.Get("/requests/", s.listRequests)
			r.Post("/webhook/{adapter}/", s.receiveWebhook)
			r.Get("/{request_id:[0-9]+}/", s.getRequest)
			r.Get("/url/*", s.listForOrigin)
			r.Get("/{visit_type}/url/*", s.listForOrigin)
			r.With(throttle).Post("/{visit_type}/url/*", s.createForOrigin)
		})
	})

	r.Route("/admin/origin/save", func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(opts.APIKey))
		r.Use(timeoutMiddleware(timeout))
		r.Post("/refresh", s.refreshPending)
		r.Route("/requests/{request_id:[0-9]+}", func(r chi.Router) {
			r.Post("/accept", s.acceptRequest)
			r.Post("/reject", s.rejectRequest)
			r.Delete("/", s.deleteRequest)
		})
		for _, kind := range []savecode.OriginListKind{savecode.AuthorizedOrigins, savecode.UnauthorizedOrigins} {
			r.Route("/"+string(kind), func(r chi.Router) {
				r.Get("/", s.listOrigins(kind))
				r.Post("/", s.addOrigin(kind))
				r.Delete("/", s.removeOrigin(kind))
			})
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
