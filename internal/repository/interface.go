package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/veranemoloko/model-downloader/internal/domain"
)

// JobRepo defines the interface for fetch job storage operations.
type JobRepo interface {
	CreateJob(ctx context.Context, job *domain.FetchJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*domain.FetchJob, error)
	UpdateJob(ctx context.Context, job *domain.FetchJob) error
	ListJobs(ctx context.Context) ([]*domain.FetchJob, error)
}
