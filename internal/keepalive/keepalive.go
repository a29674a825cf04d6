package keepalive

import (
	"fmt"
	"sync"
	"time"

	errpkg "github.com/veranemoloko/model-downloader/internal/errors"
)

// MaxHold is the longest a wake lock may be held before the host reclaims it.
const MaxHold = 24 * time.Hour

// Lock is a held wake lock. Release is idempotent.
type Lock interface {
	Release() error
	Held() bool
	ExpiresAt() time.Time
}

// Locker grants exclusive wake locks that keep the host from suspending.
type Locker interface {
	Acquire(tag string, timeout time.Duration) (Lock, error)
}

// BoundTimeout clamps timeout to (0, MaxHold].
func BoundTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 || timeout > MaxHold {
		return MaxHold
	}
	return timeout
}

// MemoryLocker is a process-local Locker for hosts without a wake lock
// interface. Only one lock may be held at a time.
type MemoryLocker struct {
	mu           sync.Mutex
	now          func() time.Time
	current      *memoryLock
	acquisitions int
}

// NewMemoryLocker creates a MemoryLocker using the wall clock.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{now: time.Now}
}

// Acquire takes the lock for at most timeout, bounded by MaxHold.
func (l *MemoryLocker) Acquire(tag string, timeout time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current != nil && l.current.heldLocked() {
		return nil, errpkg.New(errpkg.ErrResourceAcquisitionFailed, fmt.Sprintf("wake lock %q already held", l.current.tag), nil)
	}

	l.current = &memoryLock{
		owner:     l,
		tag:       tag,
		expiresAt: l.now().Add(BoundTimeout(timeout)),
	}
	l.acquisitions++
	return l.current, nil
}

// Acquisitions returns how many locks were granted so far.
func (l *MemoryLocker) Acquisitions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquisitions
}

// Held reports whether a granted lock is still in force.
func (l *MemoryLocker) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current != nil && l.current.heldLocked()
}

type memoryLock struct {
	owner     *MemoryLocker
	tag       string
	expiresAt time.Time
	released  bool
}

func (m *memoryLock) Release() error {
	m.owner.mu.Lock()
	defer m.owner.mu.Unlock()

	m.released = true
	if m.owner.current == m {
		m.owner.current = nil
	}
	return nil
}

func (m *memoryLock) Held() bool {
	m.owner.mu.Lock()
	defer m.owner.mu.Unlock()
	return m.heldLocked()
}

func (m *memoryLock) heldLocked() bool {
	return !m.released && m.owner.now().Before(m.expiresAt)
}

func (m *memoryLock) ExpiresAt() time.Time {
	return m.expiresAt
}
