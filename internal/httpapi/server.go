package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ytget/fetchd/internal/engine"
	"github.com/ytget/fetchd/internal/model"
)

// ownerHeader carries the caller's owner key on every request
const ownerHeader = "X-API-Key"

// JobService is the engine surface the transport needs
type JobService interface {
	CreateJob(ctx context.Context, req engine.CreateRequest) (model.Job, error)
	GetJob(id string) (model.Job, error)
	ListJobs() []model.Job
	CancelJob(id string) (model.Job, error)
	SubscribeLogs(id string) (<-chan model.LogEvent, func(), error)
}

// JobHistory is the optional store surface for listing past jobs. The
// in-memory registry only knows jobs created since the last restart.
type JobHistory interface {
	ListJobs(ctx context.Context, status *model.JobStatus, limit int) ([]model.Job, error)
	LoadJob(ctx context.Context, id string) (model.Job, error)
}

// Server is the HTTP transport over the job engine
type Server struct {
	Jobs    JobService
	History JobHistory // optional
	Logger  *slog.Logger
}

// Router assembles the chi handler tree
func (s *Server) Router() http.Handler {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)
		r.Get("/jobs/{id}/logs", s.handleStreamLogs)
		r.Get("/jobs/{id}/logs/ws", s.handleStreamLogsWS)
		r.Get("/jobs/{id}/archive", s.handleDownloadArchive)
	})

	return r
}

type createJobRequest struct {
	Target   string `json:"target"`
	SaveRoot string `json:"saveRoot,omitempty"`
	Archive  bool   `json:"archive,omitempty"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.Header.Get(ownerHeader))
	if owner == "" {
		writeErr(w, http.StatusUnauthorized, fmt.Errorf("missing %s header", ownerHeader))
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	job, err := s.Jobs.CreateJob(r.Context(), engine.CreateRequest{
		Target:   req.Target,
		OwnerKey: owner,
		SaveRoot: req.SaveRoot,
		Archive:  req.Archive,
	})
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.Jobs.GetJob(id)
	if errors.Is(err, model.ErrNotFound) && s.History != nil {
		// Evicted from memory but possibly still on disk
		job, err = s.History.LoadJob(r.Context(), id)
	}
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var status *model.JobStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed := model.JobStatus(raw)
		switch parsed {
		case model.JobStatusQueued, model.JobStatusRunning, model.JobStatusSuccess,
			model.JobStatusFailed, model.JobStatusCanceled:
			status = &parsed
		default:
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid status: %s", raw))
			return
		}
	}

	limit := 25
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", raw))
			return
		}
		if value > 100 {
			value = 100
		}
		limit = value
	}

	if s.History != nil {
		jobs, err := s.History.ListJobs(r.Context(), status, limit)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, jobs)
		return
	}

	jobs := make([]model.Job, 0, limit)
	for _, job := range s.Jobs.ListJobs() {
		if status != nil && job.Status != *status {
			continue
		}
		jobs = append(jobs, job)
		if len(jobs) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Jobs.CancelJob(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

// handleDownloadArchive serves the finished archive file. Only the owner that
// created the job may fetch it.
func (s *Server) handleDownloadArchive(w http.ResponseWriter, r *http.Request) {
	job, err := s.Jobs.GetJob(chi.URLParam(r, "id"))
	if errors.Is(err, model.ErrNotFound) && s.History != nil {
		job, err = s.History.LoadJob(r.Context(), chi.URLParam(r, "id"))
	}
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}

	owner := strings.TrimSpace(r.Header.Get(ownerHeader))
	if owner == "" || owner != job.OwnerKey {
		writeErr(w, http.StatusForbidden, fmt.Errorf("archive access denied"))
		return
	}
	if job.Status != model.JobStatusSuccess || job.ArchivePath == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("archive not available"))
		return
	}

	f, err := os.Open(job.ArchivePath)
	if err != nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("archive not available"))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(job.ArchivePath)))
	_, _ = io.Copy(w, f)
}

// statusFor maps engine errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
