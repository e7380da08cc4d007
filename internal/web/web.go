package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"parkcal/internal/config"
	"parkcal/internal/feed"
	appLog "parkcal/internal/log"
	"parkcal/internal/status"
	"parkcal/internal/tz"
)

// Refresher runs one synchronous feed refresh.
type Refresher interface {
	Refresh(ctx context.Context) (int, error)
}

// budgeter is implemented by refreshers that know how long a refresh can
// take in the worst case.
type budgeter interface {
	Budget() time.Duration
}

const (
	// refreshSlack covers parsing and cache writes on top of the fetch budget.
	refreshSlack = 5 * time.Second
	// minWriteTimeout applies when no refresh runs inside a request.
	minWriteTimeout = 30 * time.Second
)

// Server provides the parking HTTP API on top of a feed.Store.
type Server struct {
	cfg       *config.Config
	store     *feed.Store
	refresher Refresher
	engine    *status.Engine
	loc       *time.Location
	now       func() time.Time
	router    chi.Router

	// refreshTimeout bounds refreshes run inside a request; zero means none.
	refreshTimeout time.Duration
}

// Option customizes a Server.
type Option func(*Server)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, store *feed.Store, refresher Refresher, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		refresher: refresher,
		engine:    &status.Engine{Zone: cfg.Timezone, Resolver: tz.NewResolver()},
		loc:       resolveLocationOrLocal(cfg.Timezone),
		now:       time.Now,
	}
	if b, ok := refresher.(budgeter); ok && b.Budget() > 0 {
		s.refreshTimeout = b.Budget() + refreshSlack
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsHandler(s.cfg.CORSOrigins))
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		r.Use(s.basicAuthMiddleware)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/calendar.ics", s.handleCalendar)
	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleEvents)
		r.Get("/events.ics", s.handleEventsICS)
		r.Post("/refresh", s.handleRefresh)
	})
	s.router = r
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="parkcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down,
// giving in-flight requests up to 15 seconds.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.writeTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

// writeTimeout leaves room for a synchronous refresh to end with its own
// error response before the connection is cut.
func (s *Server) writeTimeout() time.Duration {
	if d := s.refreshTimeout + 10*time.Second; d > minWriteTimeout {
		return d
	}
	return minWriteTimeout
}

// refreshContext bounds a refresh started by a request.
func (s *Server) refreshContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.refreshTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.refreshTimeout)
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}
