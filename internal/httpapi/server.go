// Package httpapi exposes the job pipeline over HTTP: uploads, job intake,
// review, lifecycle control and artifact download.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/lingodoc/lingodoc/internal/blob"
	"github.com/lingodoc/lingodoc/internal/pipeline"
	"github.com/lingodoc/lingodoc/internal/store"
)

const defaultMaxUploadBytes = 64 << 20

type Server struct {
	orchestrator *pipeline.Orchestrator
	store        *store.Store
	blobs        *blob.Store

	maxUploadBytes int64

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithMaxUploadBytes caps the accepted upload size.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

func NewServer(orch *pipeline.Orchestrator, st *store.Store, blobs *blob.Store, opts ...Option) *Server {
	s := &Server{
		orchestrator:   orch,
		store:          st,
		blobs:          blobs,
		maxUploadBytes: defaultMaxUploadBytes,
		mux:            http.NewServeMux(),
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
	s.mux.HandleFunc("/api/uploads", s.handleUpload)
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/", s.handleJobByID)
	s.mux.HandleFunc("/api/ingest", s.handleIngestJobs)
	s.mux.HandleFunc("/api/ingest/", s.handleIngestJobByID)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
