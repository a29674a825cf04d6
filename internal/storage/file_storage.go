package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStorage provides methods to manage files in a specific directory.
type FileStorage struct {
	dir string
}

// NewFileStorage creates a new FileStorage instance with the given directory.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: dir}
}

// Dir returns the storage directory.
func (s *FileStorage) Dir() string {
	return s.dir
}

// Path returns the absolute location of filename inside the storage directory.
func (s *FileStorage) Path(filename string) string {
	return filepath.Join(s.dir, filepath.Base(filename))
}

// EnsureDir creates the storage directory if it does not exist.
func (s *FileStorage) EnsureDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create storage dir %s: %w", s.dir, err)
	}
	return nil
}

// FileExists checks whether a file exists in the storage directory.
func (s *FileStorage) FileExists(filename string) bool {
	info, err := os.Stat(s.Path(filename))
	return err == nil && info.Mode().IsRegular()
}

// GetFileSize returns the size of the file in bytes.
func (s *FileStorage) GetFileSize(filename string) (int64, error) {
	info, err := os.Stat(s.Path(filename))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// CreateTemp creates a hidden temporary file next to filename's final location.
func (s *FileStorage) CreateTemp(filename string) (*os.File, error) {
	return os.CreateTemp(s.dir, "."+filepath.Base(filename)+".*.tmp")
}

// Commit syncs and closes tmp, then renames it to filename.
func (s *FileStorage) Commit(tmp *os.File, filename string) error {
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(filename)); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Discard closes and removes a temporary file.
func (s *FileStorage) Discard(tmp *os.File) error {
	if err := tmp.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove temp file: %w", err)
	}
	return nil
}

// Remove deletes filename and any leftover temporary files for it.
func (s *FileStorage) Remove(filename string) error {
	var errs []error
	if err := os.Remove(s.Path(filename)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}

	leftovers, err := filepath.Glob(filepath.Join(s.dir, "."+filepath.Base(filename)+".*.tmp"))
	if err != nil {
		errs = append(errs, err)
	}
	for _, tmp := range leftovers {
		if err := os.Remove(tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RequiredSpace returns size scaled by ratio, the free space a download needs.
func RequiredSpace(size int64, ratio float64) int64 {
	if ratio < 1 {
		ratio = 1
	}
	return int64(float64(size) * ratio)
}

// ValidFileName reports whether name is a plain file name without path elements.
func ValidFileName(name string) bool {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}
