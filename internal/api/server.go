// Package api exposes the engine over HTTP for the widget frontend.
//
// Each widget instance gets its own module bundle, keyed by a session id
// header. The frontend posts commands and polls the state snapshot; all
// temporal behavior stays server-side.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/careloop/engageflow/internal/auth"
	"github.com/careloop/engageflow/internal/chat"
	"github.com/careloop/engageflow/internal/controller"
	"github.com/careloop/engageflow/internal/suggest"
)

// SessionHeader carries the widget instance id. Responses echo it back so
// the frontend can persist an id minted by the server.
const SessionHeader = "X-Session-Id"

// DefaultInstanceTTL is how long an idle widget session keeps its module
// bundle before eviction.
const DefaultInstanceTTL = 30 * time.Minute

// Instance bundles the per-widget modules the handlers drive.
type Instance struct {
	Controller *controller.StepController
	Auth       *auth.Session
	Chat       *chat.Session
	Suggest    *suggest.Engine
	Pharmacy   *controller.PharmacyRun
}

// InstanceFactory builds a fresh module bundle for a new widget session.
type InstanceFactory func(sessionID string) *Instance

// Opts holds configuration options for the API server.
type Opts struct {
	Addr        string
	InstanceTTL time.Duration
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithInstanceTTL overrides the idle window after which a widget session's
// bundle is evicted.
func WithInstanceTTL(d time.Duration) Option {
	return func(o *Opts) { o.InstanceTTL = d }
}

// instanceEntry pairs a bundle with its last access time for eviction.
type instanceEntry struct {
	inst     *Instance
	lastSeen time.Time
}

// Server routes widget requests to per-session module bundles.
type Server struct {
	mu        sync.Mutex
	instances map[string]*instanceEntry
	factory   InstanceFactory
	router    chi.Router
	addr      string
	ttl       time.Duration
	now       func() time.Time
	httpSrv   *http.Server
}

// NewServer creates the API server. factory is invoked once per new
// session id.
func NewServer(factory InstanceFactory, opts ...Option) *Server {
	cfg := Opts{Addr: ":8080", InstanceTTL: DefaultInstanceTTL}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		instances: make(map[string]*instanceEntry),
		factory:   factory,
		addr:      cfg.Addr,
		ttl:       cfg.InstanceTTL,
		now:       time.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthHandler)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/commands", s.commandHandler)
		r.Get("/state", s.stateHandler)
		r.Post("/auth/otp", s.authOTPHandler)
		r.Post("/auth/verify", s.authVerifyHandler)
		r.Post("/auth/profile", s.authProfileHandler)
		r.Post("/auth/restore", s.authRestoreHandler)
		r.Post("/chat/messages", s.chatMessageHandler)
		r.Post("/chat/stream/begin", s.streamBeginHandler)
		r.Post("/chat/stream/chunk", s.streamChunkHandler)
		r.Post("/chat/stream/end", s.streamEndHandler)
		r.Post("/suggestions/search", s.suggestionSearchHandler)
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts serving and blocks until the listener fails or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()
	slog.Info("Server running", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// instance returns the bundle for the request's session id, minting a new
// id when the header is absent. The id used is echoed on the response.
func (s *Server) instance(w http.ResponseWriter, r *http.Request) *Instance {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		id = uuid.NewString()
		slog.Debug("Server minted widget session", "sessionID", id)
	}
	w.Header().Set(SessionHeader, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.evictIdleLocked(now)
	ent, ok := s.instances[id]
	if !ok {
		ent = &instanceEntry{inst: s.factory(id)}
		s.instances[id] = ent
	}
	ent.lastSeen = now
	return ent.inst
}

// evictIdleLocked drops bundles whose widget has gone quiet, stopping any
// live pharmacy run so its timers are released.
func (s *Server) evictIdleLocked(now time.Time) {
	for id, ent := range s.instances {
		if now.Sub(ent.lastSeen) <= s.ttl {
			continue
		}
		if ent.inst.Pharmacy != nil && ent.inst.Pharmacy.Runner != nil {
			ent.inst.Pharmacy.Runner.Stop()
		}
		delete(s.instances, id)
		slog.Debug("Server evicted idle widget session", "sessionID", id)
	}
}
