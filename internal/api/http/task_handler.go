package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/veranemoloko/model-downloader/internal/domain"
	"github.com/veranemoloko/model-downloader/internal/service"
)

// TaskControllerI is the background task surface exposed over HTTP.
type TaskControllerI interface {
	Start() error
	Stop() error
	ReportProgress(value int) error
	Snapshot() service.ControllerStatus
}

// NotificationLister lists the status surfaces currently shown by the host.
type NotificationLister interface {
	Active() []domain.Notification
}

// TaskHandler handles HTTP requests for the background task.
type TaskHandler struct {
	controller    TaskControllerI
	notifications NotificationLister
	logger        *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(controller TaskControllerI, notifications NotificationLister, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		controller:    controller,
		notifications: notifications,
		logger:        logger,
	}
}

type progressRequest struct {
	Progress *int `json:"progress"`
}

// Start handles POST /task/start.
func (h *TaskHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Start(); err != nil {
		h.logger.Error("failed to start background task", "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

// Stop handles POST /task/stop.
func (h *TaskHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Stop(); err != nil {
		// Stop always reaches a resting state, the error only reports cleanup failures.
		h.logger.Warn("background task stopped with cleanup errors", "error", err)
	}
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

// ReportProgress handles POST /task/progress.
func (h *TaskHandler) ReportProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Progress == nil {
		writeError(w, http.StatusBadRequest, "validation", "request body must be {\"progress\": <int>}")
		return
	}

	if err := h.controller.ReportProgress(*req.Progress); err != nil {
		h.logger.Warn("progress rejected", "progress", *req.Progress, "error", err)
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Status handles GET /task.
func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

// Notifications handles GET /notifications.
func (h *TaskHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	active := h.notifications.Active()
	if active == nil {
		active = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, active)
}
