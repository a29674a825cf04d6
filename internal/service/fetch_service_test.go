package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/model-downloader/internal/digest"
	"github.com/veranemoloko/model-downloader/internal/domain"
	errpkg "github.com/veranemoloko/model-downloader/internal/errors"
	"github.com/veranemoloko/model-downloader/internal/events"
	"github.com/veranemoloko/model-downloader/internal/keepalive"
	"github.com/veranemoloko/model-downloader/internal/notify"
	"github.com/veranemoloko/model-downloader/internal/repository"
	"github.com/veranemoloko/model-downloader/internal/storage"
	"github.com/veranemoloko/model-downloader/internal/worker"
)

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timeout waiting condition")
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

type fetchFixture struct {
	svc      *FetchService
	dir      string
	locker   *keepalive.MemoryLocker
	board    *notify.Board
	ctrl     *BackgroundController
	recorder *progressRecorder
}

func newFetchFixture(t *testing.T, cfg FetchConfig) *fetchFixture {
	t.Helper()
	logger := newTestLogger()
	f := &fetchFixture{
		dir:      t.TempDir(),
		locker:   keepalive.NewMemoryLocker(),
		board:    notify.NewBoard(),
		recorder: &progressRecorder{},
	}

	bridge := events.NewBridge(logger)
	bridge.Subscribe(f.recorder)
	t.Cleanup(bridge.Close)

	f.ctrl = NewBackgroundController(context.Background(), f.locker, f.board, bridge, ControllerConfig{}, logger)

	files := storage.NewFileStorage(f.dir)
	f.svc = NewFetchService(
		repository.NewJobStorage(),
		files,
		worker.NewDownloadWorker(files, nil, logger),
		digest.New(digest.SHA256, digest.WithChunkSize(1024)),
		f.ctrl,
		cfg,
		logger,
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = f.svc.Shutdown(ctx)
	})
	return f
}

func (f *fetchFixture) waitDone(t *testing.T, id uuid.UUID) *domain.FetchJob {
	t.Helper()
	var job *domain.FetchJob
	waitFor(t, 5*time.Second, func() bool {
		got, err := f.svc.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = got
		return got.Status.Done()
	})
	waitFor(t, 2*time.Second, func() bool {
		return f.ctrl.State().Resting()
	})
	return job
}

func newModelServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.WriteString(w, body); err != nil {
			t.Errorf("failed to write response: %v", err)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

// newStallingServer announces size bytes, sends head and then holds the
// response open until the client goes away.
func newStallingServer(t *testing.T, head string, size int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Length", strconv.Itoa(size))
		_, _ = io.WriteString(w, head)
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })
	return server, &hits
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestFetchService_FetchVerifies(t *testing.T) {
	f := newFetchFixture(t, FetchConfig{ProgressRate: 1000})
	body := strings.Repeat("model-weights-", 50000)
	server := newModelServer(t, body)

	job, err := f.svc.Fetch(context.Background(), &domain.FetchRequest{
		URL:      server.URL + "/model.gguf",
		FileName: "model.gguf",
		SHA256:   sha256Hex(body),
	})
	require.NoError(t, err)

	final := f.waitDone(t, job.ID)
	require.Equal(t, domain.FetchStatusCompleted, final.Status, final.Error)
	assert.Equal(t, sha256Hex(body), final.Digest)
	assert.Equal(t, int64(len(body)), final.BytesRead)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, 1, final.Attempts)

	data, err := os.ReadFile(filepath.Join(f.dir, "model.gguf"))
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	assert.Equal(t, 1, f.locker.Acquisitions())
	assert.False(t, f.locker.Held())
	assert.Empty(t, f.board.Active())
	assert.Equal(t, domain.TaskStateDestroyed, f.ctrl.State())

	waitFor(t, 2*time.Second, func() bool {
		v := f.recorder.Values()
		return len(v) > 0 && v[len(v)-1] == 100
	})
}

func TestFetchService_ChecksumMismatchRemovesFile(t *testing.T) {
	f := newFetchFixture(t, FetchConfig{})
	server := newModelServer(t, "tampered")

	job, err := f.svc.Fetch(context.Background(), &domain.FetchRequest{
		URL:      server.URL,
		FileName: "model.gguf",
		SHA256:   sha256Hex("original"),
	})
	require.NoError(t, err)

	final := f.waitDone(t, job.ID)
	assert.Equal(t, domain.FetchStatusFailed, final.Status)
	assert.Contains(t, final.Error, "checksum mismatch")

	_, err = os.Stat(filepath.Join(f.dir, "model.gguf"))
	assert.True(t, os.IsNotExist(err))
	assert.False(t, f.locker.Held())
}

func TestFetchService_RetriesTransientFailures(t *testing.T) {
	f := newFetchFixture(t, FetchConfig{MaxRetries: 2, RetryDelay: 10 * time.Millisecond})

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "abc")
	}))
	defer server.Close()

	job, err := f.svc.Fetch(context.Background(), &domain.FetchRequest{URL: server.URL, FileName: "abc.bin"})
	require.NoError(t, err)

	final := f.waitDone(t, job.ID)
	require.Equal(t, domain.FetchStatusCompleted, final.Status, final.Error)
	assert.Equal(t, 3, final.Attempts)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", final.Digest)
}

func TestFetchService_GivesUpAfterRetries(t *testing.T) {
	f := newFetchFixture(t, FetchConfig{MaxRetries: 1, RetryDelay: time.Millisecond})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	job, err := f.svc.Fetch(context.Background(), &domain.FetchRequest{URL: server.URL, FileName: "x.bin"})
	require.NoError(t, err)

	final := f.waitDone(t, job.ID)
	assert.Equal(t, domain.FetchStatusFailed, final.Status)
	assert.Equal(t, 2, final.Attempts)
	assert.False(t, f.locker.Held())
	assert.Empty(t, f.board.Active())
}

func TestFetchService_InsufficientStorage(t *testing.T) {
	f := newFetchFixture(t, FetchConfig{StorageBufferRatio: 1.2})
	server := newModelServer(t, "abc")

	job, err := f.svc.Fetch(context.Background(), &domain.FetchRequest{
		URL:      server.URL,
		FileName: "huge.gguf",
		Size:     1 << 60,
	})
	require.NoError(t, err)

	final := f.waitDone(t, job.ID)
	assert.Equal(t, domain.FetchStatusFailed, final.Status)
	assert.Contains(t, final.Error, errpkg.ErrInsufficientStorage.Error())
	assert.Equal(t, 0, f.locker.Acquisitions())
}

func TestFetchService_SkipExisting(t *testing.T) {
	f := newFetchFixture(t, FetchConfig{SkipExisting: true})
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, "fresh")
	}))
	defer server.Close()

	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "model.gguf"), []byte("fresh"), 0o644))

	job, err := f.svc.Fetch(context.Background(), &domain.FetchRequest{
		URL:      server.URL,
		FileName: "model.gguf",
		SHA256:   sha256Hex("fresh"),
	})
	require.NoError(t, err)

	final := f.waitDone(t, job.ID)
	assert.Equal(t, domain.FetchStatusSkipped, final.Status)
	assert.Equal(t, sha256Hex("fresh"), final.Digest)
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 0, f.locker.Acquisitions())

	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "model.gguf"), []byte("stale"), 0o644))
	job, err = f.svc.Fetch(context.Background(), &domain.FetchRequest{
		URL:      server.URL,
		FileName: "model.gguf",
		SHA256:   sha256Hex("fresh"),
	})
	require.NoError(t, err)

	final = f.waitDone(t, job.ID)
	assert.Equal(t, domain.FetchStatusCompleted, final.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchService_Delete(t *testing.T) {
	f := newFetchFixture(t, FetchConfig{})
	server := newModelServer(t, "abc")

	job, err := f.svc.Fetch(context.Background(), &domain.FetchRequest{URL: server.URL, FileName: "abc.bin"})
	require.NoError(t, err)
	f.waitDone(t, job.ID)

	require.NoError(t, f.svc.Delete(context.Background(), job.ID))
	_, err = os.Stat(filepath.Join(f.dir, "abc.bin"))
	assert.True(t, os.IsNotExist(err))

	err = f.svc.Delete(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errpkg.ErrJobNotFound)
}

func TestFetchService_RejectsAfterShutdown(t *testing.T) {
	f := newFetchFixture(t, FetchConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.svc.Shutdown(ctx))

	_, err := f.svc.Fetch(context.Background(), &domain.FetchRequest{URL: "https://example.com/m", FileName: "m"})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestFetchService_CancelRunningTransfer(t *testing.T) {
	f := newFetchFixture(t, FetchConfig{MaxRetries: 3, RetryDelay: time.Millisecond})
	server, hits := newStallingServer(t, strings.Repeat("w", 4096), 1<<20)

	job, err := f.svc.Fetch(context.Background(), &domain.FetchRequest{URL: server.URL, FileName: "model.gguf"})
	require.NoError(t, err)

	waitFor(t, 5*time.Second, func() bool {
		return len(tempFiles(t, f.dir)) == 1 && f.ctrl.State() == domain.TaskStateRunning
	})
	require.NoError(t, f.svc.Cancel(context.Background(), job.ID))

	final := f.waitDone(t, job.ID)
	assert.Equal(t, domain.FetchStatusCancelled, final.Status)
	assert.Contains(t, final.Error, ErrFetchCancelled.Error())
	assert.Equal(t, 1, final.Attempts)
	assert.Equal(t, int32(1), hits.Load())

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Equal(t, domain.TaskStateDestroyed, f.ctrl.State())
	assert.False(t, f.locker.Held())
	assert.Empty(t, f.board.Active())

	err = f.svc.Cancel(context.Background(), job.ID)
	assert.ErrorIs(t, err, errpkg.ErrJobFinished)

	err = f.svc.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errpkg.ErrJobNotFound)
}

func TestFetchService_CancelQueuedJob(t *testing.T) {
	f := newFetchFixture(t, FetchConfig{})
	server, hits := newStallingServer(t, "w", 1024)

	first, err := f.svc.Fetch(context.Background(), &domain.FetchRequest{URL: server.URL, FileName: "first.bin"})
	require.NoError(t, err)
	waitFor(t, 5*time.Second, func() bool { return len(tempFiles(t, f.dir)) == 1 })

	second, err := f.svc.Fetch(context.Background(), &domain.FetchRequest{URL: server.URL, FileName: "second.bin"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(context.Background(), second.ID))
	require.NoError(t, f.svc.Cancel(context.Background(), first.ID))

	assert.Equal(t, domain.FetchStatusCancelled, f.waitDone(t, first.ID).Status)
	assert.Equal(t, domain.FetchStatusCancelled, f.waitDone(t, second.ID).Status)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 1, f.locker.Acquisitions())
}

func TestFetchService_ShutdownFinishesQueuedJobs(t *testing.T) {
	f := newFetchFixture(t, FetchConfig{})
	server, _ := newStallingServer(t, "w", 1024)

	running, err := f.svc.Fetch(context.Background(), &domain.FetchRequest{URL: server.URL, FileName: "a.bin"})
	require.NoError(t, err)
	waitFor(t, 5*time.Second, func() bool { return len(tempFiles(t, f.dir)) == 1 })

	queued, err := f.svc.Fetch(context.Background(), &domain.FetchRequest{URL: server.URL, FileName: "b.bin"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Shutdown(ctx))

	a := f.waitDone(t, running.ID)
	b := f.waitDone(t, queued.ID)
	assert.Equal(t, domain.FetchStatusFailed, a.Status)
	assert.Equal(t, domain.FetchStatusFailed, b.Status)
	assert.Contains(t, b.Error, ErrShuttingDown.Error())
	assert.NotNil(t, b.CompletedAt)
	assert.Empty(t, tempFiles(t, f.dir))
	assert.False(t, f.locker.Held())
}

func TestFetchService_SkipExistingChecksSize(t *testing.T) {
	f := newFetchFixture(t, FetchConfig{SkipExisting: true})
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, "fresh!")
	}))
	defer server.Close()

	path := filepath.Join(f.dir, "model.bin")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	job, err := f.svc.Fetch(context.Background(), &domain.FetchRequest{URL: server.URL, FileName: "model.bin", Size: 3})
	require.NoError(t, err)
	final := f.waitDone(t, job.ID)
	assert.Equal(t, domain.FetchStatusSkipped, final.Status)
	assert.Equal(t, int64(3), final.BytesRead)
	assert.Equal(t, int32(0), calls.Load())

	job, err = f.svc.Fetch(context.Background(), &domain.FetchRequest{URL: server.URL, FileName: "model.bin", Size: 6})
	require.NoError(t, err)
	final = f.waitDone(t, job.ID)
	require.Equal(t, domain.FetchStatusCompleted, final.Status, final.Error)
	assert.Equal(t, int32(1), calls.Load())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fresh!", string(data))
}
