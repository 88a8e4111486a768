// Package httpapi exposes the sandbox's run-control and log surfaces over
// HTTP and WebSocket: submitting a run to the Conductor, reading back its
// status/state, and tailing the event log live or as a filtered snapshot.
//
// The router and middleware follow go-chi/chi; the WebSocket live-tail uses
// coder/websocket. Neither library is used by the code-generator teacher
// repo itself (it has no running HTTP surface of its own), so this package
// is grounded on the one pack example that runs a chi-based gateway.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sandboxrun/core/runtime/agent/actor"
	"github.com/sandboxrun/core/runtime/agent/conductor"
	"github.com/sandboxrun/core/runtime/agent/eventstore"
	"github.com/sandboxrun/core/runtime/agent/policy"
	"github.com/sandboxrun/core/runtime/agent/runwriter"
	"github.com/sandboxrun/core/runtime/agent/session"
	"github.com/sandboxrun/core/runtime/agent/telemetry"
)

// DefaultCallTimeout bounds a Conductor/Writer actor.Ref.Call made on behalf
// of an HTTP request.
const DefaultCallTimeout = 30 * time.Second

// Server is the composed HTTP+WS surface over one sandbox's Conductor runs
// and event log.
type Server struct {
	httpServer *http.Server
	router     chi.Router

	store      eventstore.Store
	policy     policy.ConductorPolicy
	dispatcher conductor.Dispatcher
	logger     telemetry.Logger
	registry   *actor.Registry
	sessions   session.Store

	runs *runRegistry

	host string
	port int

	wakeCancel context.CancelFunc
}

// Config collects the dependencies a Server is built from.
type Config struct {
	Store      eventstore.Store
	Policy     policy.ConductorPolicy
	Dispatcher conductor.Dispatcher
	Logger     telemetry.Logger
	// Registry, when set, has each run's Writer actor registered into it
	// under actor.Ident{Kind: runwriter.Kind, ID: runID} as it is spawned,
	// so long-lived capability supervisors (which outlive any single run)
	// can resolve the right run's writer per call instead of one bound at
	// their own construction time. Nil disables this — runs still work,
	// but capability workers fall back to whatever static Writer they were
	// individually configured with.
	Registry *actor.Registry
	// Sessions, when set, is attached to every spawned run's Conductor via
	// Conductor.SetSessionStore so run state survives an actor restart
	// within the process. Nil disables this (the default) — runs still
	// work, just without restart-surviving metadata.
	Sessions session.Store
	Host     string
	Port     int
}

// NewServer builds a Server and registers its routes. It does not bind a
// listener; call Start for that.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}

	s := &Server{
		store:      cfg.Store,
		policy:     cfg.Policy,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
		registry:   cfg.Registry,
		sessions:   cfg.Sessions,
		runs:       newRunRegistry(),
		host:       cfg.Host,
		port:       cfg.Port,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Post("/conductor/execute", s.handleExecute)
	r.Get("/conductor/runs/{run_id}", s.handleRunStatus)
	r.Get("/conductor/runs/{run_id}/state", s.handleRunState)
	r.Get("/logs/events", s.handleLogsEvents)
	r.Get("/logs/events.jsonl", s.handleLogsEventsJSONL)
	r.Get("/ws/logs/events", s.handleLogsWS)

	s.router = r
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: r,
	}
	return s
}

// ServeHTTP lets Server itself be mounted as a handler (e.g. in tests via
// httptest.NewServer(srv)).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start binds the configured host:port and serves until Shutdown is called
// or Serve returns a non-Shutdown error.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen: %w", err)
	}

	wakeCtx, cancel := context.WithCancel(context.Background())
	s.wakeCancel = cancel
	go s.pumpWakeEvents(wakeCtx)

	s.logger.Info(context.Background(), "httpapi listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the wake pump, stops every registered run's actors, and
// gracefully shuts down the HTTP server. Hijacked WS connections are not
// tracked by http.Server and are not closed by it.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.wakeCancel != nil {
		s.wakeCancel()
	}
	s.runs.closeAll()
	return s.httpServer.Shutdown(ctx)
}

// registerRun spawns a fresh Writer actor and Conductor actor for runID and
// registers both clients so subsequent requests for this run_id can reach
// them without re-spawning.
func (s *Server) registerRun(ctx context.Context, runID string) (*conductor.Client, *runwriter.Client, error) {
	writerRef, err := actor.Spawn(ctx, actor.Ident{Kind: runwriter.Kind, ID: runID}, runwriter.NewActor(runID, s.store), actor.SpawnOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("httpapi: spawn writer: %w", err)
	}
	writerClient := runwriter.NewClient(writerRef, DefaultCallTimeout)
	if s.registry != nil {
		// A stale entry from a previous run reusing this run_id (unlikely,
		// since handleExecute mints a fresh ULID per run) would fail Register; unregister
		// first so this run's writer always wins the lookup.
		s.registry.Unregister(writerRef.Ident())
		_ = s.registry.Register(writerRef)
	}

	cond := conductor.New(runID, s.policy, s.dispatcher, writerClient, s.store)
	if s.sessions != nil {
		cond.SetSessionStore(s.sessions)
	}
	condRef, err := cond.Start(ctx, actor.SpawnOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("httpapi: spawn conductor: %w", err)
	}
	condClient := conductor.NewClient(condRef, DefaultCallTimeout)

	s.runs.put(runID, condClient, writerRef, condRef)
	return condClient, writerClient, nil
}
