package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veranemoloko/model-downloader/internal/domain"
	errpkg "github.com/veranemoloko/model-downloader/internal/errors"
	"github.com/veranemoloko/model-downloader/internal/keepalive"
	"github.com/veranemoloko/model-downloader/internal/metrics"
	"github.com/veranemoloko/model-downloader/internal/notify"
)

// Publisher forwards progress values to observers.
type Publisher interface {
	Publish(value int) bool
}

// ControllerConfig holds the static settings of a BackgroundController.
type ControllerConfig struct {
	WakeLockTag     string
	WakeLockTimeout time.Duration
	Notification    notify.Template
}

// ControllerStatus is a point-in-time view of the controller.
type ControllerStatus struct {
	State             domain.TaskState `json:"state"`
	Progress          int              `json:"progress"`
	WakeLockHeld      bool             `json:"wake_lock_held"`
	WakeLockExpiresAt *time.Time       `json:"wake_lock_expires_at,omitempty"`
	StartedAt         *time.Time       `json:"started_at,omitempty"`
}

// BackgroundController owns the lifecycle of the long-running background task:
// the wake lock that keeps the host awake, the status notification and the
// progress events. All transitions happen under one mutex.
//
// The wake lock never outlives hostCtx: Start registers a teardown hook on it
// that releases everything when the host tears the execution context down.
type BackgroundController struct {
	hostCtx   context.Context
	locker    keepalive.Locker
	surface   notify.Surface
	publisher Publisher
	cfg       ControllerConfig
	logger    *slog.Logger

	mu        sync.Mutex
	state     domain.TaskState
	progress  int
	lock      keepalive.Lock
	posted    bool
	stopHook  func() bool
	startedAt time.Time
}

// NewBackgroundController creates an idle controller bound to hostCtx.
func NewBackgroundController(
	hostCtx context.Context,
	locker keepalive.Locker,
	surface notify.Surface,
	publisher Publisher,
	cfg ControllerConfig,
	logger *slog.Logger,
) *BackgroundController {
	if cfg.WakeLockTag == "" {
		cfg.WakeLockTag = "model-downloader"
	}
	if cfg.Notification.ID == "" {
		cfg.Notification.ID = "model-download"
	}
	cfg.WakeLockTimeout = keepalive.BoundTimeout(cfg.WakeLockTimeout)

	return &BackgroundController{
		hostCtx:   hostCtx,
		locker:    locker,
		surface:   surface,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		state:     domain.TaskStateIdle,
	}
}

// Start acquires the wake lock, posts the notification at 0% and moves the
// task to Running. Calling it while the task is active does nothing.
func (c *BackgroundController) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Active() {
		c.logger.Debug("start ignored, task already active", "state", c.state)
		return nil
	}

	if err := c.hostCtx.Err(); err != nil {
		return errpkg.New(errpkg.ErrResourceAcquisitionFailed, "execution context is closed", err)
	}

	prev := c.state
	c.setState(domain.TaskStateStarting)

	lock, err := c.locker.Acquire(c.cfg.WakeLockTag, c.cfg.WakeLockTimeout)
	if err != nil {
		metrics.WakeLockFailures.Inc()
		c.setState(prev)
		c.logger.Error("failed to acquire wake lock", "tag", c.cfg.WakeLockTag, "error", err)
		if errors.Is(err, errpkg.ErrResourceAcquisitionFailed) {
			return err
		}
		return errpkg.New(errpkg.ErrResourceAcquisitionFailed, "acquire wake lock "+c.cfg.WakeLockTag, err)
	}
	metrics.WakeLockAcquired.Inc()

	if err := c.surface.Post(c.cfg.Notification.Render(0)); err != nil {
		metrics.SurfaceErrors.Inc()
		if relErr := lock.Release(); relErr != nil {
			metrics.WakeLockFailures.Inc()
			c.logger.Error("failed to release wake lock after surface failure", "error", relErr)
		}
		c.setState(prev)
		c.logger.Error("failed to register status surface", "id", c.cfg.Notification.ID, "error", err)
		return errpkg.New(errpkg.ErrSurfaceRegistrationFailed, "post notification "+c.cfg.Notification.ID, err)
	}

	c.lock = lock
	c.posted = true
	c.progress = 0
	c.startedAt = time.Now()
	c.stopHook = context.AfterFunc(c.hostCtx, c.teardown)
	metrics.WakeLockHeld.Set(1)
	metrics.TaskProgress.Set(0)
	c.setState(domain.TaskStateRunning)

	c.logger.Info("background task started", "wake_lock_expires_at", lock.ExpiresAt())
	return nil
}

// ReportProgress clamps value to [0,100], re-renders the notification and
// forwards the value to observers. Any caller may report while the task runs.
func (c *BackgroundController) ReportProgress(value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != domain.TaskStateRunning {
		return fmt.Errorf("report progress in state %s: %w", c.state, errpkg.ErrTaskNotRunning)
	}

	value = domain.ClampProgress(value)
	c.progress = value

	if err := c.surface.Post(c.cfg.Notification.Render(value)); err != nil {
		metrics.SurfaceErrors.Inc()
		c.logger.Warn("failed to update status surface", "progress", value, "error", err)
	}

	if !c.publisher.Publish(value) {
		c.logger.Warn("progress event dropped, bridge closed", "progress", value)
	}
	return nil
}

// Stop removes the notification, releases the wake lock and moves the task to
// Destroyed. Every step runs even if an earlier one fails. Stopping an idle or
// destroyed task does nothing.
func (c *BackgroundController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Resting() {
		return nil
	}

	if c.stopHook != nil {
		c.stopHook()
	}

	err := c.shutdownLocked()
	c.logger.Info("background task stopped")
	return err
}

// Snapshot returns the current controller status.
func (c *BackgroundController) Snapshot() ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := ControllerStatus{
		State:    c.state,
		Progress: c.progress,
	}
	if c.lock != nil {
		st.WakeLockHeld = c.lock.Held()
		expires := c.lock.ExpiresAt()
		st.WakeLockExpiresAt = &expires
	}
	if c.state.Active() {
		started := c.startedAt
		st.StartedAt = &started
	}
	return st
}

// State returns the current task state.
func (c *BackgroundController) State() domain.TaskState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *BackgroundController) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Resting() {
		return
	}

	c.logger.Warn("execution context torn down, releasing background task resources", "cause", context.Cause(c.hostCtx))
	_ = c.shutdownLocked()
}

func (c *BackgroundController) shutdownLocked() error {
	c.setState(domain.TaskStateStopping)

	var errs []error
	if c.posted {
		if err := c.surface.Cancel(c.cfg.Notification.ID); err != nil {
			metrics.SurfaceErrors.Inc()
			c.logger.Error("failed to remove status surface", "id", c.cfg.Notification.ID, "error", err)
			errs = append(errs, fmt.Errorf("cancel notification: %w", err))
		}
		c.posted = false
	}

	if c.lock != nil {
		if err := c.lock.Release(); err != nil {
			metrics.WakeLockFailures.Inc()
			c.logger.Error("failed to release wake lock", "tag", c.cfg.WakeLockTag, "error", err)
			errs = append(errs, fmt.Errorf("release wake lock: %w", err))
		}
		c.lock = nil
		metrics.WakeLockHeld.Set(0)
	}

	c.stopHook = nil
	c.setState(domain.TaskStateDestroyed)
	return errors.Join(errs...)
}

func (c *BackgroundController) setState(s domain.TaskState) {
	c.logger.Debug("task state transition", "from", c.state, "to", s)
	c.state = s
	metrics.TaskState.Set(s.Ordinal())
}
