package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/veranemoloko/model-downloader/internal/domain"
)

// FetchServiceI defines the model fetch operations served over HTTP.
type FetchServiceI interface {
	Fetch(ctx context.Context, req *domain.FetchRequest) (*domain.FetchJob, error)
	GetJob(ctx context.Context, id uuid.UUID) (*domain.FetchJob, error)
	ListJobs(ctx context.Context) ([]*domain.FetchJob, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID) error
}

// ModelHandler handles HTTP requests for model fetch jobs.
type ModelHandler struct {
	fetchService FetchServiceI
	validator    *validator.Validate
	logger       *slog.Logger
}

// NewModelHandler creates a new ModelHandler with the provided service, validator and logger.
func NewModelHandler(fetchService FetchServiceI, v *validator.Validate, logger *slog.Logger) *ModelHandler {
	return &ModelHandler{
		fetchService: fetchService,
		validator:    v,
		logger:       logger,
	}
}

// CreateFetch handles the HTTP POST /models request.
func (h *ModelHandler) CreateFetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	job, err := h.fetchService.Fetch(ctx, &req)
	if err != nil {
		h.logger.Error("failed to queue fetch", "error", err)
		writeServiceError(w, err)
		return
	}

	h.logger.Info("fetch created", "job_id", job.ID, "file_name", job.FileName)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
	})
}

// ListFetches handles the HTTP GET /models request.
func (h *ModelHandler) ListFetches(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.fetchService.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		writeServiceError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*domain.FetchJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// GetFetch handles the HTTP GET /models/{jobID} request.
func (h *ModelHandler) GetFetch(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	job, err := h.fetchService.GetJob(r.Context(), jobID)
	if err != nil {
		h.logger.Warn("failed to get job", "job_id", jobID, "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// DeleteFetch handles the HTTP DELETE /models/{jobID} request.
func (h *ModelHandler) DeleteFetch(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	if err := h.fetchService.Delete(r.Context(), jobID); err != nil {
		h.logger.Warn("failed to delete model", "job_id", jobID, "error", err)
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CancelFetch handles the HTTP POST /models/{jobID}/cancel request.
func (h *ModelHandler) CancelFetch(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	if err := h.fetchService.Cancel(r.Context(), jobID); err != nil {
		h.logger.Warn("failed to cancel fetch", "job_id", jobID, "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": jobID,
	})
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid job ID")
		return uuid.Nil, false
	}
	return jobID, true
}
