package domain

import (
	"time"

	"github.com/google/uuid"
)

// FetchStatus represents the current state of a model fetch job.
type FetchStatus string

const (
	FetchStatusPending     FetchStatus = "pending"
	FetchStatusDownloading FetchStatus = "downloading"
	FetchStatusVerifying   FetchStatus = "verifying"
	FetchStatusCompleted   FetchStatus = "completed"
	FetchStatusSkipped     FetchStatus = "skipped"
	FetchStatusFailed      FetchStatus = "failed"
	FetchStatusCancelled   FetchStatus = "cancelled"
)

// Done reports whether the job reached a final status.
func (s FetchStatus) Done() bool {
	switch s {
	case FetchStatusCompleted, FetchStatusSkipped, FetchStatusFailed, FetchStatusCancelled:
		return true
	}
	return false
}

// FetchRequest represents the request body for fetching a model file.
type FetchRequest struct {
	URL      string `json:"url" validate:"required,url,safe_url"`
	FileName string `json:"file_name" validate:"required,file_name"`
	SHA256   string `json:"sha256" validate:"omitempty,sha256hex"`
	Size     int64  `json:"size" validate:"gte=0"`
}

// FetchJob tracks one model fetch from transfer through verification.
type FetchJob struct {
	ID          uuid.UUID   `json:"job_id"`
	URL         string      `json:"url"`
	FileName    string      `json:"file_name"`
	Path        string      `json:"path,omitempty"`
	Status      FetchStatus `json:"status"`
	Expected    string      `json:"expected_sha256,omitempty"`
	Digest      string      `json:"sha256,omitempty"`
	BytesRead   int64       `json:"bytes_read"`
	TotalBytes  int64       `json:"total_bytes"`
	Progress    int         `json:"progress"`
	Attempts    int         `json:"attempts"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}
