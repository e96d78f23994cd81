package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lingodoc/lingodoc/internal/store"
)

type createIngestRequest struct {
	OwnerID   string `json:"owner_id"`
	SourceKey string `json:"source_key"`
}

// handleIngestJobs registers and lists retrieval ingestion jobs. These are
// single-step tasks with no chunk fan-out; the health monitor applies the
// same staleness policy to them as to translation jobs.
func (s *Server) handleIngestJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status := store.JobStatus(r.URL.Query().Get("status"))
		if status == "" {
			status = store.JobProcessing
		}
		jobs, err := s.store.ListIngestJobsByStatus(r.Context(), status)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, jobs)
	case http.MethodPost:
		var req createIngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if req.SourceKey == "" {
			writeError(w, http.StatusBadRequest, "source_key is required")
			return
		}
		exists, err := s.blobs.Has(req.SourceKey)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !exists {
			writeError(w, http.StatusConflict, "source file not found")
			return
		}

		now := time.Now()
		job := &store.IngestJob{
			ID:        uuid.NewString(),
			OwnerID:   req.OwnerID,
			SourceKey: req.SourceKey,
			Status:    store.JobProcessing,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.UpsertIngestJob(r.Context(), job); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, job)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleIngestJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/ingest/")
	id = strings.TrimSuffix(id, "/")
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing ingest job id")
		return
	}

	job, found, err := s.store.GetIngestJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "ingest job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}
