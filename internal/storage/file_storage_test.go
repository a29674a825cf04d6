package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "filestorage_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return dir
}

func TestFileStorage_CommitTemp(t *testing.T) {
	dir := makeTempDir(t)
	fs := NewFileStorage(dir)

	tmp, err := fs.CreateTemp("model.gguf")
	if err != nil {
		t.Fatalf("CreateTemp error: %v", err)
	}
	if _, err := tmp.WriteString("weights"); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if fs.FileExists("model.gguf") {
		t.Errorf("expected final file to be absent before commit")
	}

	if err := fs.Commit(tmp, "model.gguf"); err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "model.gguf"))
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(content) != "weights" {
		t.Errorf("expected 'weights', got %q", string(content))
	}

	size, err := fs.GetFileSize("model.gguf")
	if err != nil {
		t.Fatalf("GetFileSize error: %v", err)
	}
	if size != 7 {
		t.Errorf("expected size 7, got %d", size)
	}
}

func TestFileStorage_DiscardTemp(t *testing.T) {
	dir := makeTempDir(t)
	fs := NewFileStorage(dir)

	tmp, err := fs.CreateTemp("model.gguf")
	require.NoError(t, err)
	require.NoError(t, fs.Discard(tmp))
	require.NoError(t, fs.Discard(tmp))

	_, err = os.Stat(tmp.Name())
	assert.True(t, os.IsNotExist(err))
}

func TestFileStorage_RemoveDeletesLeftovers(t *testing.T) {
	dir := makeTempDir(t)
	fs := NewFileStorage(dir)

	require.NoError(t, os.WriteFile(fs.Path("model.gguf"), []byte("x"), 0o644))
	tmp, err := fs.CreateTemp("model.gguf")
	require.NoError(t, err)
	require.NoError(t, tmp.Close())

	require.NoError(t, fs.Remove("model.gguf"))
	require.NoError(t, fs.Remove("model.gguf"))

	assert.False(t, fs.FileExists("model.gguf"))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileStorage_FileExistsFalse(t *testing.T) {
	dir := makeTempDir(t)
	fs := NewFileStorage(dir)

	if fs.FileExists("no_such_file.txt") {
		t.Errorf("expected FileExists to return false for non-existing file")
	}
}

func TestFileStorage_PathStaysInside(t *testing.T) {
	fs := NewFileStorage("/data/models")
	assert.Equal(t, "/data/models/passwd", fs.Path("../../etc/passwd"))
}

func TestFileStorage_FreeSpace(t *testing.T) {
	fs := NewFileStorage(makeTempDir(t))

	free, err := fs.FreeSpace()
	require.NoError(t, err)
	assert.Greater(t, free, int64(0))
}

func TestRequiredSpace(t *testing.T) {
	assert.Equal(t, int64(1200), RequiredSpace(1000, 1.2))
	assert.Equal(t, int64(1000), RequiredSpace(1000, 0.5))
}

func TestValidFileName(t *testing.T) {
	assert.True(t, ValidFileName("Llama-3.2-3B-Instruct-Q4_K_M.gguf"))
	assert.False(t, ValidFileName(""))
	assert.False(t, ValidFileName("../model.gguf"))
	assert.False(t, ValidFileName("dir/model.gguf"))
	assert.False(t, ValidFileName(".hidden"))
}
