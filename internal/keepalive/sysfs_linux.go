package keepalive

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	errpkg "github.com/veranemoloko/model-downloader/internal/errors"
)

// Kernel wake lock control files.
const (
	DefaultLockPath   = "/sys/power/wake_lock"
	DefaultUnlockPath = "/sys/power/wake_unlock"
)

// SysfsLocker takes kernel wake locks through the PM wakelocks sysfs
// interface. The kernel drops the lock by itself once its timeout elapses.
type SysfsLocker struct {
	lockPath   string
	unlockPath string

	mu      sync.Mutex
	now     func() time.Time
	current *sysfsLock
}

// NewSysfsLocker creates a SysfsLocker. Empty paths select the defaults.
func NewSysfsLocker(lockPath, unlockPath string) *SysfsLocker {
	if lockPath == "" {
		lockPath = DefaultLockPath
	}
	if unlockPath == "" {
		unlockPath = DefaultUnlockPath
	}
	return &SysfsLocker{lockPath: lockPath, unlockPath: unlockPath, now: time.Now}
}

// Acquire writes "<tag> <timeout-ns>" to the wake_lock file.
func (l *SysfsLocker) Acquire(tag string, timeout time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current != nil && l.current.heldLocked() {
		return nil, errpkg.New(errpkg.ErrResourceAcquisitionFailed, fmt.Sprintf("wake lock %q already held", l.current.tag), nil)
	}

	if err := unix.Access(l.lockPath, unix.W_OK); err != nil {
		return nil, errpkg.New(errpkg.ErrResourceAcquisitionFailed, "wake lock interface unavailable at "+l.lockPath, err)
	}

	timeout = BoundTimeout(timeout)
	if err := writeSysfs(l.lockPath, tag+" "+strconv.FormatInt(timeout.Nanoseconds(), 10)); err != nil {
		return nil, errpkg.New(errpkg.ErrResourceAcquisitionFailed, "write "+l.lockPath, err)
	}

	l.current = &sysfsLock{owner: l, tag: tag, expiresAt: l.now().Add(timeout)}
	return l.current, nil
}

type sysfsLock struct {
	owner     *SysfsLocker
	tag       string
	expiresAt time.Time
	released  bool
}

func (s *sysfsLock) Release() error {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()

	if s.released {
		return nil
	}
	expired := !s.owner.now().Before(s.expiresAt)
	s.released = true
	if s.owner.current == s {
		s.owner.current = nil
	}
	if expired {
		return nil
	}

	if err := writeSysfs(s.owner.unlockPath, s.tag); err != nil {
		return fmt.Errorf("write %s: %w", s.owner.unlockPath, err)
	}
	return nil
}

func (s *sysfsLock) Held() bool {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	return s.heldLocked()
}

func (s *sysfsLock) heldLocked() bool {
	return !s.released && s.owner.now().Before(s.expiresAt)
}

func (s *sysfsLock) ExpiresAt() time.Time {
	return s.expiresAt
}

func writeSysfs(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
