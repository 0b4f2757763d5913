package web

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cjeanneret/SteerGo/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr      string
	inputPath string
	handlers  *Handlers
}

// NewServer creates a server configured for the given address and dependencies.
// Directives are accepted on POST inputPath and on the websocket /ws<inputPath>.
func NewServer(addr, inputPath string, broadcaster *StatusBroadcaster, dispatcher Dispatcher, status StatusSource) *Server {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("web: failed to sub static fs: %v", err)
	}

	return &Server{
		addr:      addr,
		inputPath: inputPath,
		handlers:  NewHandlers(broadcaster, dispatcher, status, subFS),
	}
}

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if debug.IsEnabled(debug.LevelVerbose) {
		// one line per request; directives arrive at the control rate
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer) // make sure this is last

	r.Get("/", s.handlers.ServeIndex)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	r.Get("/status/stream", s.handlers.HandleStatusStream)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handlers.HandleStatus)
		r.Get("/diagnostics", s.handlers.HandleDiagnostics)
		r.Get("/diagnostics/codes", s.handlers.HandleDiagnosticCodes)
	})

	r.Post(s.inputPath, s.handlers.HandleDirective)
	r.Get("/ws"+s.inputPath, s.handlers.HandleDirectiveStream)

	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
