package events

import (
	"log/slog"
	"sync"
)

// ProgressEventName is the name under which progress is emitted to the application layer.
const ProgressEventName = "downloadProgress"

// Observer receives progress values in publish order.
type Observer interface {
	OnProgress(value int)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(value int)

// OnProgress calls f(value).
func (f ObserverFunc) OnProgress(value int) { f(value) }

type subscription struct {
	id       uint64
	observer Observer
}

// Bridge fans progress values out to observers from a single dispatcher
// goroutine. Publish never blocks on observers.
type Bridge struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []int
	observers []subscription
	nextID    uint64
	closed    bool
	done      chan struct{}
	logger    *slog.Logger
}

// NewBridge creates a Bridge and starts its dispatcher.
func NewBridge(logger *slog.Logger) *Bridge {
	b := &Bridge{
		done:   make(chan struct{}),
		logger: logger,
	}
	b.cond = sync.NewCond(&b.mu)

	go b.dispatch()
	return b
}

// Subscribe registers o and returns a function that removes it.
func (b *Bridge) Subscribe(o Observer) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.observers = append(b.observers, subscription{id: id, observer: o})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.observers {
			if s.id == id {
				b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
				return
			}
		}
	}
}

// Publish queues value for delivery. It returns false once the bridge is closed.
func (b *Bridge) Publish(value int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	b.queue = append(b.queue, value)
	b.cond.Signal()
	return true
}

// Close delivers everything already queued and stops the dispatcher.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()

	<-b.done
}

func (b *Bridge) dispatch() {
	defer close(b.done)

	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		batch := b.queue
		b.queue = nil
		observers := append([]subscription(nil), b.observers...)
		b.mu.Unlock()

		for _, v := range batch {
			for _, s := range observers {
				b.deliver(s.observer, v)
			}
		}
	}
}

func (b *Bridge) deliver(o Observer, value int) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("progress observer panicked", "progress", value, "panic", r)
		}
	}()
	o.OnProgress(value)
}

// LogObserver writes every progress value to a logger.
type LogObserver struct {
	Logger *slog.Logger
}

// OnProgress logs value at debug level.
func (l LogObserver) OnProgress(value int) {
	l.Logger.Debug("progress event", "event", ProgressEventName, "progress", value)
}
