package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veranemoloko/model-downloader/internal/domain"
	"github.com/veranemoloko/model-downloader/internal/events"
)

const (
	eventBuffer = 64
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = pongWait * 9 / 10
)

// Subscriber registers progress observers.
type Subscriber interface {
	Subscribe(o events.Observer) func()
}

// EventsHandler streams progress events to websocket clients.
type EventsHandler struct {
	subscriber Subscriber
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(subscriber Subscriber, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		subscriber: subscriber,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// Stream handles GET /events. Every progress value is sent as a
// {"event":"downloadProgress","progress":n} text frame.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	values := make(chan int, eventBuffer)
	unsubscribe := h.subscriber.Subscribe(events.ObserverFunc(func(v int) {
		select {
		case values <- v:
		default:
			h.logger.Warn("slow event client, progress value dropped", "remote", r.RemoteAddr, "progress", v)
		}
	}))
	defer unsubscribe()

	closed := make(chan struct{})
	go h.readLoop(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	h.logger.Debug("event client connected", "remote", r.RemoteAddr)
	for {
		select {
		case v := <-values:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			ev := domain.ProgressEvent{Event: events.ProgressEventName, Progress: v}
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("event client write failed", "remote", r.RemoteAddr, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			h.logger.Debug("event client disconnected", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		}
	}
}

// readLoop consumes control frames until the client goes away.
func (h *EventsHandler) readLoop(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
