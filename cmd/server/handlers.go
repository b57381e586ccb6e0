package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lukeponga-dev/rotorwise/engine/attachment"
	"github.com/lukeponga-dev/rotorwise/engine/controller"
	"github.com/lukeponga-dev/rotorwise/engine/diagnose"
	"github.com/lukeponga-dev/rotorwise/engine/domain"
	"github.com/lukeponga-dev/rotorwise/engine/history"
	"github.com/lukeponga-dev/rotorwise/pkg/fn"
	"github.com/lukeponga-dev/rotorwise/pkg/metrics"
)

// maxUploadBytes bounds a whole multipart upload request.
const maxUploadBytes = attachment.MaxAttachments * attachment.MaxFileBytes

type server struct {
	logger      *slog.Logger
	sessions    *sessionManager
	history     *history.Store
	credentials *controller.Credentials
	reg         *metrics.Registry
}

func newServer(logger *slog.Logger, sessions *sessionManager, historyStore *history.Store, credentials *controller.Credentials, reg *metrics.Registry) *server {
	return &server{
		logger:      logger,
		sessions:    sessions,
		history:     historyStore,
		credentials: credentials,
		reg:         reg,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/diagnose", s.handleDiagnose)
	mux.HandleFunc("POST /api/new", s.handleNew)

	mux.HandleFunc("POST /api/attachments", s.handleAttachmentUpload)
	mux.HandleFunc("DELETE /api/attachments/{id}", s.handleAttachmentRemove)
	mux.HandleFunc("GET /api/attachments/{id}/preview", s.handleAttachmentPreview)

	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/history/select", s.handleHistorySelect)
	mux.HandleFunc("POST /api/history/clear", s.handleHistoryClear)

	mux.HandleFunc("GET /api/credential", s.handleCredentialGet)
	mux.HandleFunc("POST /api/credential", s.handleCredentialSet)
	mux.HandleFunc("DELETE /api/credential", s.handleCredentialClear)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", s.reg.Handler())

	mux.Handle("GET /", http.FileServerFS(staticFS()))

	return mux
}

func (s *server) controller(r *http.Request) *controller.Controller {
	return s.sessions.GetOrCreate(sessionIDFrom(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller(r).State())
}

// diagnoseRequest is the JSON body for POST /api/diagnose.
type diagnoseRequest struct {
	UserInput string `json:"userInput"`
	VIN       string `json:"vin"`
}

func (s *server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	var req diagnoseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctrl := s.controller(r)
	ctrl.SetInput(req.UserInput, req.VIN)

	start := time.Now()
	err := ctrl.Submit(r.Context())
	s.reg.Histogram("rotorwise_diagnose_duration_seconds",
		"Diagnosis request duration in seconds.", nil).Since(start)
	s.reg.Counter(metrics.WithLabels("rotorwise_diagnose_requests_total", "outcome", outcomeOf(err)),
		"Diagnosis requests by outcome.").Inc()

	// Gate failures leave the session untouched and map to HTTP errors;
	// diagnosis failures are view state and come back with the snapshot.
	switch {
	case errors.Is(err, controller.ErrBusy):
		writeError(w, http.StatusConflict, "a diagnosis is already in flight")
		return
	case errors.Is(err, controller.ErrUploadsPending):
		writeError(w, http.StatusConflict, "attachments are still uploading")
		return
	case errors.Is(err, diagnose.ErrNoCredential):
		writeError(w, http.StatusBadRequest, "no API key configured")
		return
	case errors.Is(err, domain.ErrEmptyDescription), errors.Is(err, domain.ErrInvalidVIN):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ctrl.State())
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, controller.ErrBusy),
		errors.Is(err, controller.ErrUploadsPending),
		errors.Is(err, domain.ErrEmptyDescription),
		errors.Is(err, domain.ErrInvalidVIN),
		errors.Is(err, diagnose.ErrNoCredential):
		return "rejected"
	case errors.Is(err, diagnose.ErrInvalidAPIKey):
		return "invalid_key"
	case errors.Is(err, diagnose.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, diagnose.ErrNetwork):
		return "network"
	case errors.Is(err, diagnose.ErrService):
		return "service"
	default:
		return "unknown"
	}
}

func (s *server) handleNew(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controller(r)
	if err := ctrl.NewDiagnosis(); err != nil {
		writeError(w, http.StatusConflict, "a diagnosis is in flight")
		return
	}
	writeJSON(w, http.StatusOK, ctrl.State())
}

// uploadResponse is the JSON response for POST /api/attachments.
type uploadResponse struct {
	Added     []attachment.Attachment `json:"added"`
	Truncated bool                    `json:"truncated"`
}

func (s *server) handleAttachmentUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	var files []attachment.File
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			s.logger.Warn("could not open uploaded file", "name", fh.Filename, "error", err)
			continue
		}
		// Buffer now: the multipart temp files are removed when this
		// handler returns, but encoding runs after that.
		data, err := io.ReadAll(io.LimitReader(f, attachment.MaxFileBytes+1))
		f.Close()
		if err != nil {
			s.logger.Warn("could not read uploaded file", "name", fh.Filename, "error", err)
			continue
		}
		files = append(files, attachment.File{
			Name:     fh.Filename,
			MIMEType: fh.Header.Get("Content-Type"),
			Content:  bytes.NewReader(data),
		})
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files provided")
		return
	}

	added, truncated := s.controller(r).Attachments().Add(files)
	writeJSON(w, http.StatusOK, uploadResponse{Added: added, Truncated: truncated})
}

func (s *server) handleAttachmentRemove(w http.ResponseWriter, r *http.Request) {
	if !s.controller(r).Attachments().Remove(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "attachment not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleAttachmentPreview(w http.ResponseWriter, r *http.Request) {
	data, mimeType, ok := s.controller(r).Attachments().Preview(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "preview not available")
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Write(data)
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	// Stored chronologically; presented most recent first.
	writeJSON(w, http.StatusOK, fn.Reverse(s.history.Entries()))
}

// selectRequest is the JSON body for POST /api/history/select.
type selectRequest struct {
	ID string `json:"id"`
}

func (s *server) handleHistorySelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctrl := s.controller(r)
	if err := ctrl.SelectEntry(req.ID); err != nil {
		switch {
		case errors.Is(err, controller.ErrBusy):
			writeError(w, http.StatusConflict, "a diagnosis is in flight")
		case errors.Is(err, history.ErrNotFound):
			writeError(w, http.StatusNotFound, "entry not found")
		default:
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, ctrl.State())
}

func (s *server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controller(r)
	if err := ctrl.ClearHistory(r.Context()); err != nil {
		writeError(w, http.StatusConflict, "a diagnosis is in flight")
		return
	}
	writeJSON(w, http.StatusOK, ctrl.State())
}

func (s *server) handleCredentialGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"present": s.credentials.Present()})
}

// credentialRequest is the JSON body for POST /api/credential.
type credentialRequest struct {
	Key string `json:"key"`
}

func (s *server) handleCredentialSet(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.credentials.Set(req.Key); err != nil {
		if errors.Is(err, controller.ErrEmptyCredential) {
			writeError(w, http.StatusBadRequest, "key is required")
			return
		}
		s.logger.Error("could not save credential", "error", err)
		writeError(w, http.StatusInternalServerError, "could not save credential")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"present": true})
}

func (s *server) handleCredentialClear(w http.ResponseWriter, r *http.Request) {
	if err := s.credentials.Clear(); err != nil {
		s.logger.Error("could not clear credential", "error", err)
		writeError(w, http.StatusInternalServerError, "could not clear credential")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
