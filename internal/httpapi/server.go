// Package httpapi is the internal ops surface: health, metrics, scheduler
// control, escalation release and sandbox runs.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgard/inboxpilot/internal/bot"
	"github.com/edgard/inboxpilot/internal/sandbox"
)

// Pinger checks that storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Jobs is the scheduler as seen by the API.
type Jobs interface {
	Status() bot.SchedulerStatus
	TriggerFollowupProcessing(ctx context.Context) error
}

// EscalationResolver releases a conversation back to the assistant.
type EscalationResolver interface {
	ResolveEscalation(ctx context.Context, conversationID string) (int, error)
}

// SandboxRunner replays scenarios.
type SandboxRunner interface {
	Run(ctx context.Context, req sandbox.Request) (*sandbox.Result, error)
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Store    Pinger
	Jobs     Jobs
	Resolver EscalationResolver
	Sandbox  SandboxRunner
}

// NewRouter builds the chi router with every route.
func NewRouter(deps Deps, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &handler{deps: deps, log: log.With("component", "httpapi")}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(logging(h.log))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/scheduler", func(r chi.Router) {
		r.Get("/status", h.schedulerStatus)
		r.Post("/followups/trigger", h.triggerFollowUps)
	})
	r.Post("/conversations/{id}/escalation/resolve", h.resolveEscalation)
	r.Post("/sandbox/run", h.runSandbox)

	return r
}

// NewServer wraps the router in an http.Server listening on addr.
func NewServer(addr string, deps Deps, log *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(deps, log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
}
