package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	errpkg "github.com/veranemoloko/model-downloader/internal/errors"
	"github.com/veranemoloko/model-downloader/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

// writeServiceError maps err onto a status code by its kind.
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), errpkg.KindOf(err), err.Error())
}

func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, errpkg.ErrNotFound), errors.Is(err, errpkg.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, errpkg.ErrAlgorithmUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, errpkg.ErrResourceAcquisitionFailed),
		errors.Is(err, errpkg.ErrSurfaceRegistrationFailed),
		errors.Is(err, service.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, errpkg.ErrTaskNotRunning),
		errors.Is(err, errpkg.ErrJobInProgress),
		errors.Is(err, errpkg.ErrJobFinished):
		return http.StatusConflict
	case errors.Is(err, errpkg.ErrInsufficientStorage):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}
