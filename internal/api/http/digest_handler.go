package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/veranemoloko/model-downloader/internal/digest"
	errpkg "github.com/veranemoloko/model-downloader/internal/errors"
)

// DigestComputer computes file digests.
type DigestComputer interface {
	ComputeDigest(ctx context.Context, path string) (digest.Result, error)
}

// DigestHandler exposes digest computation for files under a base directory.
type DigestHandler struct {
	computer DigestComputer
	baseDir  string
	logger   *slog.Logger
}

// NewDigestHandler creates a DigestHandler. Relative paths are resolved
// against baseDir and paths outside it, after following symlinks, are
// reported as not found.
func NewDigestHandler(computer DigestComputer, baseDir string, logger *slog.Logger) *DigestHandler {
	if abs, err := filepath.Abs(baseDir); err == nil {
		baseDir = abs
	}
	if resolved, err := filepath.EvalSymlinks(baseDir); err == nil {
		baseDir = resolved
	}
	return &DigestHandler{
		computer: computer,
		baseDir:  baseDir,
		logger:   logger,
	}
}

type digestRequest struct {
	Path string `json:"path"`
}

type digestResponse struct {
	Algorithm string `json:"algorithm"`
	Digest    string `json:"digest"`
}

// Compute handles POST /digest.
func (h *DigestHandler) Compute(w http.ResponseWriter, r *http.Request) {
	var req digestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "validation", "request body must be {\"path\": \"...\"}")
		return
	}

	path, err := h.resolve(req.Path)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	res, err := h.computer.ComputeDigest(r.Context(), path)
	if err != nil {
		h.logger.Error("digest computation failed", "path", path, "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, digestResponse{Algorithm: res.Algorithm, Digest: res.Hex()})
}

func (h *DigestHandler) resolve(p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(h.baseDir, p)
	}
	p = filepath.Clean(p)

	// Containment is checked on the link target. Missing files keep their
	// cleaned path and are reported by the digest itself.
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	if !h.contains(p) {
		return "", errpkg.New(errpkg.ErrNotFound, "path outside download directory", nil)
	}
	return p, nil
}

func (h *DigestHandler) contains(p string) bool {
	rel, err := filepath.Rel(h.baseDir, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
