//go:build linux || darwin || freebsd

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FreeSpace returns the number of bytes available to unprivileged users
// on the filesystem holding the storage directory.
func (s *FileStorage) FreeSpace() (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(s.dir, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", s.dir, err)
	}
	return int64(uint64(st.Bavail) * uint64(st.Bsize)), nil
}
