package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/veranemoloko/model-downloader/internal/metrics"
	"github.com/veranemoloko/model-downloader/internal/storage"
)

// ErrTransient marks failures worth retrying: transport errors and 5xx responses.
var ErrTransient = errors.New("transient transfer failure")

var errLocalWrite = errors.New("write to disk")

// ProgressFunc receives the bytes written so far and the expected total,
// which is -1 when the server did not announce a length.
type ProgressFunc func(written, total int64)

// Result describes a finished transfer.
type Result struct {
	FileName   string `json:"file_name"`
	Path       string `json:"path"`
	BytesRead  int64  `json:"bytes_read"`
	TotalBytes int64  `json:"total_bytes"`
}

// DownloadWorker is responsible for downloading files from URLs and storing them in FileStorage.
type DownloadWorker struct {
	fileStorage *storage.FileStorage
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewDownloadWorker creates a new DownloadWorker with the provided FileStorage, client and logger.
func NewDownloadWorker(fileStorage *storage.FileStorage, client *http.Client, logger *slog.Logger) *DownloadWorker {
	if client == nil {
		client = http.DefaultClient
	}
	return &DownloadWorker{
		fileStorage: fileStorage,
		httpClient:  client,
		logger:      logger,
	}
}

// Download fetches url into fileName. The body is streamed into a temporary
// file that is renamed into place only after the whole body arrived.
func (w *DownloadWorker) Download(ctx context.Context, url, fileName string, progress ProgressFunc) (Result, error) {
	result := Result{FileName: fileName, Path: w.fileStorage.Path(fileName), TotalBytes: -1}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return result, fmt.Errorf("create request: %w", err)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.logger.Error("download request failed", "url", url, "error", err)
		return result, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.logger.Error("download failed", "url", url, "status", resp.Status)
		if resp.StatusCode >= 500 {
			return result, fmt.Errorf("%w: bad status: %s", ErrTransient, resp.Status)
		}
		return result, fmt.Errorf("bad status: %s", resp.Status)
	}
	result.TotalBytes = resp.ContentLength

	file, err := w.fileStorage.CreateTemp(fileName)
	if err != nil {
		return result, fmt.Errorf("create temp file: %w", err)
	}

	var committed bool
	defer func() {
		if committed {
			return
		}
		if err := w.fileStorage.Discard(file); err != nil {
			w.logger.Error("failed to remove temp file", "path", file.Name(), "error", err)
		}
	}()

	bytesRead, err := w.copyWithContext(ctx, file, resp.Body, result.TotalBytes, progress)
	result.BytesRead = bytesRead
	metrics.DownloadBytes.Add(float64(bytesRead))
	if err != nil {
		w.logger.Error("download failed", "url", url, "bytes_read", bytesRead, "error", err)
		if ctx.Err() != nil || errors.Is(err, errLocalWrite) {
			return result, fmt.Errorf("copy data: %w", err)
		}
		return result, fmt.Errorf("%w: copy data: %w", ErrTransient, err)
	}

	if result.TotalBytes >= 0 && bytesRead != result.TotalBytes {
		return result, fmt.Errorf("%w: content length mismatch: expected %d bytes, got %d", ErrTransient, result.TotalBytes, bytesRead)
	}

	if err := w.fileStorage.Commit(file, fileName); err != nil {
		return result, err
	}
	committed = true

	w.logger.Debug("file downloaded successfully", "url", url, "bytes", bytesRead, "file_path", result.Path)
	return result, nil
}

func (w *DownloadWorker) copyWithContext(ctx context.Context, dst *os.File, src io.Reader, total int64, progress ProgressFunc) (int64, error) {
	buf := make([]byte, 256*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
			nr, err := src.Read(buf)
			if nr > 0 {
				nw, werr := dst.Write(buf[0:nr])
				if nw > 0 {
					written += int64(nw)
					if progress != nil {
						progress(written, total)
					}
				}
				if werr != nil {
					return written, fmt.Errorf("%w: %w", errLocalWrite, werr)
				}
				if nr != nw {
					return written, fmt.Errorf("%w: %w", errLocalWrite, io.ErrShortWrite)
				}
			}
			if err != nil {
				if err == io.EOF {
					return written, nil
				}
				return written, err
			}
		}
	}
}
