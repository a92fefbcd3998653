package handlers

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/developers-live/live-session/internal/events"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// EventSubscriber streams a room's lifecycle events.
type EventSubscriber interface {
	Subscribe(ctx context.Context, room string) (<-chan events.Event, func() error, error)
}

// WebSocketMessage is the envelope of every frame sent or received on the stream.
type WebSocketMessage struct {
	Type    string `json:"type"` // event type, "ping" or "pong"
	Payload any    `json:"payload,omitempty"`
}

// EventStreamHandler pushes a room's events to websocket clients.
type EventStreamHandler struct {
	bus      EventSubscriber
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewEventStreamHandler accepts upgrades from allowedOrigins; "*" accepts any origin.
func NewEventStreamHandler(bus EventSubscriber, allowedOrigins []string, log *zap.Logger) *EventStreamHandler {
	return &EventStreamHandler{
		bus: bus,
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// client serializes writes; gorilla connections allow a single concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(msg WebSocketMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *client) close(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

// HandleWebSocket subscribes to the room, upgrades the connection and forwards events until
// the client goes away or the room is removed.
func (h *EventStreamHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomName := normalizeName(chi.URLParam(r, "roomName"))
	if err := validateRoomName(roomName); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// subscribe before upgrading so the client never misses an event published after connect
	stream, unsubscribe, err := h.bus.Subscribe(ctx, roomName)
	if err != nil {
		h.log.Error("Event subscription failed", zap.String("room", roomName), zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error())
		return
	}
	defer func() {
		if err := unsubscribe(); err != nil {
			h.log.Warn("Failed to close event subscription", zap.String("room", roomName), zap.Error(err))
		}
	}()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", zap.String("room", roomName), zap.Error(err))
		return
	}
	defer conn.Close()
	c := &client{conn: conn}

	h.log.Info("WebSocket connected", zap.String("room", roomName), zap.String("remote", r.RemoteAddr))

	disconnected := make(chan struct{})
	go h.readLoop(c, roomName, disconnected)

	for {
		select {
		case <-disconnected:
			h.log.Info("WebSocket disconnected", zap.String("room", roomName))
			return
		case ev, ok := <-stream:
			if !ok {
				c.close(websocket.CloseGoingAway, "event stream closed")
				return
			}
			if err := c.send(WebSocketMessage{Type: string(ev.Type), Payload: ev}); err != nil {
				h.log.Warn("Failed to forward room event", zap.String("room", roomName), zap.Error(err))
				return
			}
			if ev.Type == events.RoomRemoved {
				c.close(websocket.CloseNormalClosure, "room removed")
				return
			}
		}
	}
}

// readLoop answers pings and reports when the client goes away.
func (h *EventStreamHandler) readLoop(c *client, roomName string, disconnected chan<- struct{}) {
	defer close(disconnected)
	for {
		var msg WebSocketMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("WebSocket read failed", zap.String("room", roomName), zap.Error(err))
			}
			return
		}
		switch msg.Type {
		case "ping":
			if err := c.send(WebSocketMessage{Type: "pong"}); err != nil {
				return
			}
		default:
			h.log.Debug("Ignoring client message", zap.String("room", roomName), zap.String("type", msg.Type))
		}
	}
}
