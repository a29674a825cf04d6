package domain

// TaskState represents the lifecycle state of the background task.
type TaskState string

const (
	TaskStateIdle      TaskState = "idle"
	TaskStateStarting  TaskState = "starting"
	TaskStateRunning   TaskState = "running"
	TaskStateStopping  TaskState = "stopping"
	TaskStateDestroyed TaskState = "destroyed"
)

// Active reports whether the task holds its resources in this state.
func (s TaskState) Active() bool {
	return s == TaskStateStarting || s == TaskStateRunning
}

// Resting reports whether a new start cycle may begin from this state.
func (s TaskState) Resting() bool {
	return s == TaskStateIdle || s == TaskStateDestroyed
}

// Ordinal maps the state to a number for the state gauge.
func (s TaskState) Ordinal() float64 {
	switch s {
	case TaskStateStarting:
		return 1
	case TaskStateRunning:
		return 2
	case TaskStateStopping:
		return 3
	case TaskStateDestroyed:
		return 4
	default:
		return 0
	}
}

// ClampProgress bounds a completion percentage to [0,100].
func ClampProgress(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
