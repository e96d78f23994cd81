package httpapi

import (
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/google/uuid"

	"github.com/lingodoc/lingodoc/internal/blob"
)

type uploadResponse struct {
	UploadID    string `json:"upload_id"`
	FileKey     string `json:"file_key"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
}

// handleUpload accepts a multipart form with a single "file" part and stores
// it under a fresh upload key. The returned file key goes into the job
// creation request.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file part: "+err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	filename := path.Base(header.Filename)
	uploadID := uuid.NewString()
	key := blob.UploadKey(uploadID, filename)
	if err := s.blobs.Put(key, data); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The part's declared type rides along to job creation so format
	// detection still works for extensionless file names.
	contentType := header.Header.Get("Content-Type")
	if contentType == "application/octet-stream" {
		contentType = ""
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		UploadID:    uploadID,
		FileKey:     key,
		FileName:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
	})
}

// handleDownload streams one of the job's documents, selected by the kind
// query parameter: original, machine (the assembled machine translation),
// translated (approved when present, machine otherwise) or bundle.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, jobID string) {
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

	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = "translated"
	}

	var key, contentType, filename string
	switch kind {
	case "original":
		key = job.FileKey
		contentType = "application/octet-stream"
		filename = job.FileName
	case "machine":
		key = job.AssembledKey
		contentType = "text/html; charset=utf-8"
		filename = job.FileName + ".machine.html"
	case "translated", "translatedHtml":
		key = job.ApprovedKey
		if key == "" {
			key = job.AssembledKey
		}
		contentType = "text/html; charset=utf-8"
		filename = job.FileName + ".translated.html"
	case "bundle":
		key = job.BundleKey
		contentType = "application/json"
		filename = job.FileName + ".bundle.json"
	default:
		writeError(w, http.StatusBadRequest, "unknown download kind "+strconv.Quote(kind))
		return
	}
	if key == "" {
		writeError(w, http.StatusConflict, "artifact not available in job state "+string(job.Status))
		return
	}

	data, exists, err := s.blobs.Get(key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "artifact is gone")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename=`+strconv.Quote(filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
