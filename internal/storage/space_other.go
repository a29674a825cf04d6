//go:build !(linux || darwin || freebsd)

package storage

import "errors"

// ErrFreeSpaceUnknown is returned where free space cannot be queried.
var ErrFreeSpaceUnknown = errors.New("free space unknown on this platform")

func (s *FileStorage) FreeSpace() (int64, error) {
	return 0, ErrFreeSpaceUnknown
}
