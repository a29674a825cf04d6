//go:build !linux

package keepalive

import (
	"runtime"
	"time"

	errpkg "github.com/veranemoloko/model-downloader/internal/errors"
)

// Kernel wake lock control files; there are none outside Linux.
const (
	DefaultLockPath   = ""
	DefaultUnlockPath = ""
)

// SysfsLocker is unavailable outside Linux; every Acquire fails.
type SysfsLocker struct{}

// NewSysfsLocker returns a locker whose acquisitions always fail.
func NewSysfsLocker(lockPath, unlockPath string) *SysfsLocker {
	return &SysfsLocker{}
}

// Acquire reports ResourceAcquisitionFailed.
func (l *SysfsLocker) Acquire(tag string, timeout time.Duration) (Lock, error) {
	return nil, errpkg.New(errpkg.ErrResourceAcquisitionFailed, "sysfs wake locks are not supported on "+runtime.GOOS, nil)
}
