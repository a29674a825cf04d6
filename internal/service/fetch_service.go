package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/veranemoloko/model-downloader/internal/digest"
	"github.com/veranemoloko/model-downloader/internal/domain"
	errpkg "github.com/veranemoloko/model-downloader/internal/errors"
	"github.com/veranemoloko/model-downloader/internal/metrics"
	repo "github.com/veranemoloko/model-downloader/internal/repository"
	"github.com/veranemoloko/model-downloader/internal/storage"
	"github.com/veranemoloko/model-downloader/internal/worker"
)

var (
	// ErrShuttingDown is returned for fetches submitted after Shutdown and
	// recorded on queued jobs the worker never started.
	ErrShuttingDown = errors.New("service is shutting down")

	// ErrFetchCancelled is the cause recorded on jobs stopped by Cancel.
	ErrFetchCancelled = errors.New("fetch cancelled")
)

// TaskController is the part of BackgroundController a fetch drives.
type TaskController interface {
	Start() error
	Stop() error
	ReportProgress(value int) error
}

// Transferer moves a remote file onto local storage.
type Transferer interface {
	Download(ctx context.Context, url, fileName string, progress worker.ProgressFunc) (worker.Result, error)
}

// DigestVerifier checks downloaded files.
type DigestVerifier interface {
	ComputeDigest(ctx context.Context, path string) (digest.Result, error)
	Verify(ctx context.Context, path, expected string) (digest.Result, error)
}

// FetchConfig tunes the fetch pipeline.
type FetchConfig struct {
	MaxRetries         int
	RetryDelay         time.Duration
	StorageBufferRatio float64
	SkipExisting       bool
	ProgressRate       float64
	QueueSize          int
}

// FetchService downloads model files one at a time while the background
// controller keeps the host awake, then verifies them.
type FetchService struct {
	jobs       repo.JobRepo
	files      *storage.FileStorage
	transfer   Transferer
	verifier   DigestVerifier
	controller TaskController
	cfg        FetchConfig
	logger     *slog.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	queue        chan uuid.UUID
	mu           sync.RWMutex
	shuttingDown bool
	wg           sync.WaitGroup

	jobMu     sync.Mutex
	running   map[uuid.UUID]context.CancelCauseFunc
	cancelled map[uuid.UUID]struct{}
}

// NewFetchService creates a FetchService and starts its worker.
func NewFetchService(
	jobs repo.JobRepo,
	files *storage.FileStorage,
	transfer Transferer,
	verifier DigestVerifier,
	controller TaskController,
	cfg FetchConfig,
	logger *slog.Logger,
) *FetchService {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.ProgressRate <= 0 {
		cfg.ProgressRate = 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FetchService{
		jobs:       jobs,
		files:      files,
		transfer:   transfer,
		verifier:   verifier,
		controller: controller,
		cfg:        cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		queue:      make(chan uuid.UUID, cfg.QueueSize),
		running:    make(map[uuid.UUID]context.CancelCauseFunc),
		cancelled:  make(map[uuid.UUID]struct{}),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for id := range s.queue {
			if err := s.process(id); err != nil && !errors.Is(err, ErrFetchCancelled) {
				s.logger.Error("fetch failed", "job_id", id, "error", err)
			}
		}
	}()

	logger.Info("fetch service started", "queue_size", cfg.QueueSize)
	return s
}

// Fetch registers a job for req and queues it.
func (s *FetchService) Fetch(ctx context.Context, req *domain.FetchRequest) (*domain.FetchJob, error) {
	now := time.Now()
	job := &domain.FetchJob{
		ID:         uuid.New(),
		URL:        req.URL,
		FileName:   req.FileName,
		Path:       s.files.Path(req.FileName),
		Status:     domain.FetchStatusPending,
		Expected:   req.SHA256,
		TotalBytes: req.Size,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.shuttingDown {
		return nil, ErrShuttingDown
	}

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	select {
	case s.queue <- job.ID:
	case <-ctx.Done():
		s.finish(job, ctx.Err())
		return nil, ctx.Err()
	}

	metrics.FetchesTotal.Inc()
	s.logger.Info("fetch queued", "job_id", job.ID, "url", job.URL, "file_name", job.FileName)
	return job, nil
}

// GetJob returns the job with the given ID.
func (s *FetchService) GetJob(ctx context.Context, id uuid.UUID) (*domain.FetchJob, error) {
	return s.jobs.GetJob(ctx, id)
}

// ListJobs returns all known jobs.
func (s *FetchService) ListJobs(ctx context.Context) ([]*domain.FetchJob, error) {
	return s.jobs.ListJobs(ctx)
}

// Delete removes the file a finished job produced.
func (s *FetchService) Delete(ctx context.Context, id uuid.UUID) error {
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.Done() {
		return fmt.Errorf("delete %s: %w", id, errpkg.ErrJobInProgress)
	}

	if err := s.files.Remove(job.FileName); err != nil {
		return fmt.Errorf("remove model file: %w", err)
	}
	s.logger.Info("model file deleted", "job_id", id, "file_name", job.FileName)
	return nil
}

// Cancel stops the job with the given ID. A running transfer is aborted and
// its temporary file removed; a queued job is finished without starting.
// The job ends in the cancelled status and the background task is stopped.
func (s *FetchService) Cancel(ctx context.Context, id uuid.UUID) error {
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Done() {
		return fmt.Errorf("cancel %s: %w", id, errpkg.ErrJobFinished)
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if cancel, ok := s.running[id]; ok {
		cancel(ErrFetchCancelled)
	} else {
		s.cancelled[id] = struct{}{}
	}

	s.logger.Info("fetch cancellation requested", "job_id", id, "status", job.Status)
	return nil
}

// Shutdown stops accepting jobs, cancels the running one and waits for the worker.
func (s *FetchService) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down fetch service")

	s.mu.Lock()
	if !s.shuttingDown {
		s.shuttingDown = true
		close(s.queue)
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("fetch service shutdown completed")
		return nil
	case <-ctx.Done():
		s.logger.Warn("fetch service shutdown timed out")
		return ctx.Err()
	}
}

func (s *FetchService) process(id uuid.UUID) error {
	job, err := s.jobs.GetJob(context.Background(), id)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	if s.ctx.Err() != nil {
		s.forget(id)
		return s.finish(job, ErrShuttingDown)
	}

	ctx, ok := s.track(id)
	defer s.forget(id)
	if !ok {
		return s.finish(job, ErrFetchCancelled)
	}

	if err := s.run(ctx, job); err != nil {
		if errors.Is(context.Cause(ctx), ErrFetchCancelled) {
			err = fmt.Errorf("%w: %w", ErrFetchCancelled, err)
		}
		return s.finish(job, err)
	}
	return s.finish(job, nil)
}

// track registers a cancellable context for a job about to run. It reports
// false when the job was cancelled while still queued.
func (s *FetchService) track(id uuid.UUID) (context.Context, bool) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, ok := s.cancelled[id]; ok {
		return nil, false
	}
	ctx, cancel := context.WithCancelCause(s.ctx)
	s.running[id] = cancel
	return ctx, true
}

func (s *FetchService) forget(id uuid.UUID) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if cancel, ok := s.running[id]; ok {
		cancel(nil)
		delete(s.running, id)
	}
	delete(s.cancelled, id)
}

// run takes one job from existence check to verification. A nil error with
// the job marked skipped means the local copy was kept.
func (s *FetchService) run(ctx context.Context, job *domain.FetchJob) error {
	if s.cfg.SkipExisting && s.files.FileExists(job.FileName) {
		skipped, err := s.checkExisting(ctx, job)
		if err != nil || skipped {
			return err
		}
	}

	if err := s.checkSpace(job); err != nil {
		return err
	}

	if err := s.controller.Start(); err != nil {
		return fmt.Errorf("start background task: %w", err)
	}
	defer func() {
		if err := s.controller.Stop(); err != nil {
			s.logger.Error("background task stop reported errors", "job_id", job.ID, "error", err)
		}
	}()

	job.Status = domain.FetchStatusDownloading
	s.save(job)

	res, err := s.transferWithRetry(ctx, job)
	if err != nil {
		return err
	}
	job.BytesRead = res.BytesRead
	if res.TotalBytes >= 0 {
		job.TotalBytes = res.TotalBytes
	}
	job.Progress = 100
	if err := s.controller.ReportProgress(100); err != nil {
		s.logger.Warn("final progress not reported", "job_id", job.ID, "error", err)
	}

	job.Status = domain.FetchStatusVerifying
	s.save(job)

	if err := s.verify(ctx, job); err != nil {
		if errors.Is(err, errpkg.ErrChecksumMismatch) {
			if rmErr := s.files.Remove(job.FileName); rmErr != nil {
				s.logger.Error("failed to remove corrupt file", "job_id", job.ID, "error", rmErr)
			}
		}
		return err
	}

	return nil
}

func (s *FetchService) checkExisting(ctx context.Context, job *domain.FetchJob) (bool, error) {
	if job.Expected == "" {
		size, err := s.files.GetFileSize(job.FileName)
		if err != nil {
			return false, fmt.Errorf("stat existing file: %w", err)
		}
		if job.TotalBytes > 0 && size != job.TotalBytes {
			s.logger.Warn("existing file size differs, downloading again", "job_id", job.ID, "size", size, "expected", job.TotalBytes)
			return false, nil
		}
		job.BytesRead = size
		job.Status = domain.FetchStatusSkipped
		s.logger.Info("skipping existing file", "job_id", job.ID, "path", job.Path)
		return true, nil
	}

	res, err := s.verifier.Verify(ctx, job.Path, job.Expected)
	if errors.Is(err, errpkg.ErrChecksumMismatch) {
		s.logger.Warn("existing file failed verification, downloading again", "job_id", job.ID, "error", err)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	job.Digest = res.Hex()
	job.Status = domain.FetchStatusSkipped
	s.logger.Info("existing file verified, skipping download", "job_id", job.ID, "path", job.Path)
	return true, nil
}

func (s *FetchService) checkSpace(job *domain.FetchJob) error {
	if job.TotalBytes <= 0 {
		return nil
	}

	free, err := s.files.FreeSpace()
	if err != nil {
		s.logger.Warn("free space check skipped", "error", err)
		return nil
	}

	need := storage.RequiredSpace(job.TotalBytes, s.cfg.StorageBufferRatio)
	if free < need {
		return errpkg.New(errpkg.ErrInsufficientStorage, fmt.Sprintf("need %d bytes, %d available", need, free), nil)
	}
	return nil
}

func (s *FetchService) transferWithRetry(ctx context.Context, job *domain.FetchJob) (worker.Result, error) {
	for attempt := 0; ; attempt++ {
		job.Attempts = attempt + 1
		res, err := s.transferOnce(ctx, job)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, worker.ErrTransient) || attempt >= s.cfg.MaxRetries {
			return res, err
		}

		s.logger.Warn("transfer failed, retrying", "job_id", job.ID, "attempt", job.Attempts, "error", err)
		select {
		case <-time.After(s.cfg.RetryDelay):
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}
}

// transferOnce runs the download and a progress pump side by side. The
// download publishes the latest percentage; the pump rate-limits it into the
// controller.
func (s *FetchService) transferOnce(ctx context.Context, job *domain.FetchJob) (worker.Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	latest := make(chan int, 1)
	var written atomic.Int64

	var res worker.Result
	g.Go(func() error {
		defer close(latest)
		var err error
		res, err = s.transfer.Download(gctx, job.URL, job.FileName, func(n, total int64) {
			written.Store(n)
			if total <= 0 {
				total = job.TotalBytes
			}
			if total <= 0 {
				return
			}
			pct := domain.ClampProgress(int(n * 100 / total))
			select {
			case <-latest:
			default:
			}
			latest <- pct
		})
		return err
	})

	g.Go(func() error {
		limiter := rate.NewLimiter(rate.Limit(s.cfg.ProgressRate), 1)
		last := -1
		for pct := range latest {
			if pct == last || !limiter.Allow() {
				continue
			}
			last = pct
			if err := s.controller.ReportProgress(pct); err != nil {
				s.logger.Warn("progress not reported", "job_id", job.ID, "progress", pct, "error", err)
			}
			job.Progress = pct
			job.BytesRead = written.Load()
			s.save(job)
		}
		return nil
	})

	err := g.Wait()
	return res, err
}

func (s *FetchService) verify(ctx context.Context, job *domain.FetchJob) error {
	var (
		res digest.Result
		err error
	)
	if job.Expected != "" {
		res, err = s.verifier.Verify(ctx, job.Path, job.Expected)
	} else {
		res, err = s.verifier.ComputeDigest(ctx, job.Path)
	}
	if err != nil {
		return fmt.Errorf("verify %s: %w", job.FileName, err)
	}
	job.Digest = res.Hex()
	return nil
}

func (s *FetchService) finish(job *domain.FetchJob, err error) error {
	now := time.Now()
	job.CompletedAt = &now
	switch {
	case errors.Is(err, ErrFetchCancelled):
		job.Status = domain.FetchStatusCancelled
		job.Error = err.Error()
		s.logger.Info("fetch cancelled", "job_id", job.ID, "bytes_read", job.BytesRead)
	case err != nil:
		job.Status = domain.FetchStatusFailed
		job.Error = err.Error()
		metrics.FetchesFailed.Inc()
	case job.Status != domain.FetchStatusSkipped:
		job.Status = domain.FetchStatusCompleted
		s.logger.Info("fetch completed", "job_id", job.ID, "path", job.Path, "sha256", job.Digest)
	}
	s.save(job)
	return err
}

func (s *FetchService) save(job *domain.FetchJob) {
	if err := s.jobs.UpdateJob(context.Background(), job); err != nil {
		s.logger.Error("failed to update job", "job_id", job.ID, "error", err)
	}
}
