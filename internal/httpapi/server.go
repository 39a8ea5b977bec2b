package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/agentkit/internal/service"
)

const defaultMaxBodyBytes = 1 << 20

type Server struct {
	app          *service.App
	maxBodyBytes int64

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithMaxBodyBytes limits the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

func NewServer(app *service.App, opts ...Option) *Server {
	s := &Server{
		app:          app,
		maxBodyBytes: defaultMaxBodyBytes,
		mux:          http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/chat", s.handleChat)
	s.mux.HandleFunc("/api/dispatch", s.handleDispatch)
	s.mux.HandleFunc("/api/tools", s.handleListTools)
	s.mux.HandleFunc("/api/memories", s.handleMemories)
	s.mux.HandleFunc("/api/memories/", s.handleMemoryByID)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}
