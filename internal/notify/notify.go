package notify

import (
	"sort"
	"sync"

	"github.com/veranemoloko/model-downloader/internal/domain"
)

const (
	DefaultTitle = "Downloading Model"
	DefaultBody  = "Download in progress"
)

// Surface is the host's persistent notification mechanism.
type Surface interface {
	Post(n domain.Notification) error
	Cancel(id string) error
}

// Template holds the static parts of a rendered notification.
type Template struct {
	ID    string
	Title string
	Body  string
}

// Render builds the full notification for the given progress.
func (t Template) Render(progress int) domain.Notification {
	title, body := t.Title, t.Body
	if title == "" {
		title = DefaultTitle
	}
	if body == "" {
		body = DefaultBody
	}
	return domain.Notification{
		ID:       t.ID,
		Title:    title,
		Body:     body,
		Progress: domain.ClampProgress(progress),
		Ongoing:  true,
	}
}

// Board keeps the set of active notifications in memory.
type Board struct {
	mu     sync.RWMutex
	active map[string]domain.Notification
	posts  int
}

// NewBoard creates an empty Board.
func NewBoard() *Board {
	return &Board{active: make(map[string]domain.Notification)}
}

// Post registers n, replacing any notification with the same ID.
func (b *Board) Post(n domain.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.active[n.ID] = n
	b.posts++
	return nil
}

// Cancel removes the notification. Unknown IDs are ignored.
func (b *Board) Cancel(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.active, id)
	return nil
}

// Get returns the active notification with the given ID.
func (b *Board) Get(id string) (domain.Notification, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n, ok := b.active[id]
	return n, ok
}

// Active returns all active notifications ordered by ID.
func (b *Board) Active() []domain.Notification {
	b.mu.RLock()
	defer b.mu.RUnlock()

	list := make([]domain.Notification, 0, len(b.active))
	for _, n := range b.active {
		list = append(list, n)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Posts returns how many times a notification was posted.
func (b *Board) Posts() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.posts
}
