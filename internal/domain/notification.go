package domain

// Notification is the persistent status surface handed to the host.
// It is always supplied whole, never as a delta.
type Notification struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Progress int    `json:"progress"`
	Ongoing  bool   `json:"ongoing"`
}

// ProgressEvent is the payload delivered to progress observers.
type ProgressEvent struct {
	Event    string `json:"event"`
	Progress int    `json:"progress"`
}
