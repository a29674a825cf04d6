package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/veranemoloko/model-downloader/internal/domain"
	errpkg "github.com/veranemoloko/model-downloader/internal/errors"
)

func TestJobStorage_CRUD(t *testing.T) {
	repo := NewJobStorage()

	job := &domain.FetchJob{
		ID:       uuid.New(),
		Status:   domain.FetchStatusPending,
		URL:      "https://example.com/model.gguf",
		FileName: "model.gguf",
	}

	err := repo.CreateJob(context.Background(), job)
	assert.NoError(t, err)

	got, err := repo.GetJob(context.Background(), job.ID)
	assert.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	got.Status = domain.FetchStatusDownloading
	stored, _ := repo.GetJob(context.Background(), job.ID)
	assert.Equal(t, domain.FetchStatusPending, stored.Status)

	job.Status = domain.FetchStatusCompleted
	err = repo.UpdateJob(context.Background(), job)
	assert.NoError(t, err)

	got2, err := repo.GetJob(context.Background(), job.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.FetchStatusCompleted, got2.Status)
	assert.False(t, got2.UpdatedAt.IsZero())
}

func TestJobStorage_NotFound(t *testing.T) {
	repo := NewJobStorage()

	_, err := repo.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errpkg.ErrJobNotFound)

	err = repo.UpdateJob(context.Background(), &domain.FetchJob{ID: uuid.New()})
	assert.ErrorIs(t, err, errpkg.ErrJobNotFound)
}

func TestJobStorage_ListJobs(t *testing.T) {
	repo := NewJobStorage()
	now := time.Now()

	older := &domain.FetchJob{ID: uuid.New(), CreatedAt: now.Add(-time.Minute)}
	newer := &domain.FetchJob{ID: uuid.New(), CreatedAt: now}

	_ = repo.CreateJob(context.Background(), newer)
	_ = repo.CreateJob(context.Background(), older)

	jobs, err := repo.ListJobs(context.Background())
	assert.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.Equal(t, older.ID, jobs[0].ID)
	assert.Equal(t, newer.ID, jobs[1].ID)
}
