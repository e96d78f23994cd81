package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/lingodoc/lingodoc/internal/pipeline"
)

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ownerID := r.URL.Query().Get("owner")
		if ownerID == "" {
			writeError(w, http.StatusBadRequest, "owner query parameter is required")
			return
		}
		jobs, err := s.store.ListJobsByOwner(r.Context(), ownerID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, jobs)
	case http.MethodPost:
		var req pipeline.CreateJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		job, err := s.orchestrator.CreateJob(r.Context(), req)
		if err != nil {
			writePipelineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, job)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJobByID dispatches /api/jobs/{id} and its subresources.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	jobID, action, _ := strings.Cut(rest, "/")
	if decoded, err := url.PathUnescape(jobID); err == nil {
		jobID = decoded
	}
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}
	action = strings.TrimSuffix(action, "/")

	switch action {
	case "":
		s.handleGetJob(w, r, jobID)
	case "chunks":
		s.handleChunks(w, r, jobID)
	case "approve":
		s.handleApprove(w, r, jobID)
	case "pause":
		s.handlePause(w, r, jobID)
	case "resume":
		s.handleResume(w, r, jobID)
	case "cancel":
		s.handleCancel(w, r, jobID)
	case "download":
		s.handleDownload(w, r, jobID)
	case "logs":
		s.handleLogs(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	job, found, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type reviewRequest struct {
	Reviewer string               `json:"reviewer"`
	Edits    []pipeline.ChunkEdit `json:"edits"`
}

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request, jobID string) {
	switch r.Method {
	case http.MethodGet:
		chunks, err := s.store.ListChunks(r.Context(), jobID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, chunks)
	case http.MethodPut:
		var req reviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if req.Reviewer == "" {
			writeError(w, http.StatusBadRequest, "reviewer is required")
			return
		}
		if err := s.orchestrator.SaveReview(r.Context(), jobID, req.Edits, req.Reviewer); err != nil {
			writePipelineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"saved": len(req.Edits)})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type actorRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func decodeActor(r *http.Request) actorRequest {
	var req actorRequest
	// Body is optional on control endpoints.
	_ = json.NewDecoder(r.Body).Decode(&req)
	return req
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	req := decodeActor(r)
	if req.Actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required")
		return
	}
	job, err := s.orchestrator.Approve(r.Context(), jobID, req.Actor)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	req := decodeActor(r)
	job, err := s.orchestrator.Pause(r.Context(), jobID, req.Actor)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	req := decodeActor(r)
	job, err := s.orchestrator.Resume(r.Context(), jobID, req.Actor)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	req := decodeActor(r)
	job, err := s.orchestrator.Cancel(r.Context(), jobID, req.Reason)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	logs, err := s.store.ListJobLogs(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

// writePipelineError maps the pipeline error taxonomy onto HTTP status
// codes.
func writePipelineError(w http.ResponseWriter, err error) {
	var perr *pipeline.PipelineError
	if !errors.As(err, &perr) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	switch perr.Type {
	case pipeline.ErrJobNotFound:
		writeError(w, http.StatusNotFound, perr.Message)
	case pipeline.ErrState, pipeline.ErrUploadMissing:
		writeError(w, http.StatusConflict, perr.Error())
	case pipeline.ErrUnsupportedFormat, pipeline.ErrEmptyDocument:
		writeError(w, http.StatusUnprocessableEntity, perr.Error())
	default:
		writeError(w, http.StatusInternalServerError, perr.Error())
	}
}
