// Package httpapi exposes the question-answering service over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"podcastrag/internal/domain"
	"podcastrag/internal/logger"
	"podcastrag/internal/service"
	"podcastrag/internal/session"
)

// Factory builds the query service of a new session.
type Factory func() *service.QueryService

// Stats is the body of GET /stats.
type Stats struct {
	Episodes       int    `json:"episodes"`
	Guests         int    `json:"guests"`
	Chunks         int    `json:"chunks"`
	Embedder       string `json:"embedder"`
	Model          string `json:"model"`
	ActiveSessions int    `json:"active_sessions"`
}

// GuestLister is the part of the episode store /stats needs.
type GuestLister interface {
	ListEpisodes(ctx context.Context) ([]domain.Episode, error)
}

type Deps struct {
	NewSession Factory
	// Sessions persists conversations when set.
	Sessions *session.Store
	Episodes GuestLister
	Vectors  domain.VectorStore
	Embedder string
	Model    string
	Logger   *logger.Logger
}

type Server struct {
	deps     Deps
	router   *mux.Router
	sessions *registry
	log      *logger.Logger
}

func New(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		deps:     deps,
		router:   mux.NewRouter(),
		sessions: newRegistry(deps.NewSession, deps.Sessions),
		log:      log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(loggingMiddleware(s.log))
	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.stats).Methods(http.MethodGet)
	s.router.HandleFunc("/query", s.query).Methods(http.MethodPost)
	s.router.HandleFunc("/query/stream", s.queryStream).Methods(http.MethodPost)
	s.router.HandleFunc("/sessions/{id}/history", s.history).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/{id}/history", s.clearHistory).Methods(http.MethodDelete)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logrus.Fields{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			log.Info("request", logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"status": rw.status,
				"took":   time.Since(start).String(),
			})
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
