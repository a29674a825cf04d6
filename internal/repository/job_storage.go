package repository

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veranemoloko/model-downloader/internal/domain"
	errpkg "github.com/veranemoloko/model-downloader/internal/errors"
)

// JobStorage keeps fetch jobs in memory. Jobs are copied on the way in and
// out so callers never share a job with a concurrent reader.
type JobStorage struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]domain.FetchJob
}

// NewJobStorage creates an empty JobStorage.
func NewJobStorage() *JobStorage {
	return &JobStorage{jobs: make(map[uuid.UUID]domain.FetchJob)}
}

// CreateJob adds a new job.
func (r *JobStorage) CreateJob(ctx context.Context, job *domain.FetchJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.jobs[job.ID] = *job
	r.mu.Unlock()

	slog.Debug("job created", "job_id", job.ID)
	return nil
}

// GetJob retrieves a job by ID.
func (r *JobStorage) GetJob(ctx context.Context, id uuid.UUID) (*domain.FetchJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	job, exists := r.jobs[id]
	r.mu.RUnlock()

	if !exists {
		return nil, errpkg.ErrJobNotFound
	}
	return &job, nil
}

// UpdateJob replaces a stored job and stamps its update time.
func (r *JobStorage) UpdateJob(ctx context.Context, job *domain.FetchJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; !exists {
		return errpkg.ErrJobNotFound
	}
	job.UpdatedAt = time.Now()
	r.jobs[job.ID] = *job

	slog.Debug("job updated", "job_id", job.ID, "status", job.Status)
	return nil
}

// ListJobs returns all jobs, oldest first.
func (r *JobStorage) ListJobs(ctx context.Context) ([]*domain.FetchJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	list := make([]*domain.FetchJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		job := job
		list = append(list, &job)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}
