package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client control events and their acknowledgements.
const (
	eventJoinRoom   = "joinRoom"
	eventLeaveRoom  = "leaveRoom"
	eventJoinedRoom = "joinedRoom"
	eventLeftRoom   = "leftRoom"
)

// HubConfig configures a Hub.
type HubConfig struct {
	// SendBuffer is the per-client outbound queue length. A client whose
	// queue is full is disconnected.
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
	// MaxRoomsPerClient caps joined rooms. Zero means unlimited.
	MaxRoomsPerClient int
}

// DefaultHubConfig returns default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBuffer:        256,
		WriteTimeout:      10 * time.Second,
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		MaxRoomsPerClient: 64,
	}
}

// Hub is a websocket Broadcaster. Clients join and leave rooms by sending
// {"event":"joinRoom","data":"room:<pool>"} frames. The hub answers with
// joinedRoom or leftRoom carrying the room name. A join over the room cap
// gets no answer.
type Hub struct {
	config   HubConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	rooms   map[string]map[*hubClient]struct{}
	closed  bool
}

// NewHub creates a hub. A nil config uses DefaultHubConfig.
func NewHub(config *HubConfig, logger *slog.Logger) *Hub {
	cfg := DefaultHubConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		config: cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
		rooms:   make(map[string]map[*hubClient]struct{}),
	}
}

var _ Broadcaster = (*Hub)(nil)

type hubClient struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	rooms map[string]struct{} // guarded by hub.mu

	mu     sync.Mutex
	closed bool
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &hubClient{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, h.config.SendBuffer),
		rooms: make(map[string]struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop()
	c.readLoop()
}

// EmitToRoom sends event to every client in room.
func (h *Hub) EmitToRoom(room, event string, payload any) {
	msg, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error("encode frame", slog.String("event", event), slog.Any("error", err))
		return
	}

	h.mu.RLock()
	members := make([]*hubClient, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	h.deliver(members, msg)
}

// EmitGlobal sends event to every connected client.
func (h *Hub) EmitGlobal(event string, payload any) {
	msg, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error("encode frame", slog.String("event", event), slog.Any("error", err))
		return
	}

	h.mu.RLock()
	all := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	h.deliver(all, msg)
}

// roomSize returns the number of clients in room.
func (h *Hub) roomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.Unlock()

	for _, c := range all {
		c.close()
	}
}

func (h *Hub) deliver(clients []*hubClient, msg []byte) {
	for _, c := range clients {
		if !c.enqueue(msg) {
			h.logger.Warn("dropping slow websocket client", slog.String("remote", c.conn.RemoteAddr().String()))
			c.close()
		}
	}
}

// join adds c to room. It reports whether c is a member afterwards.
func (h *Hub) join(c *hubClient, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return false
	}
	if _, ok := c.rooms[room]; ok {
		return true
	}
	if h.config.MaxRoomsPerClient > 0 && len(c.rooms) >= h.config.MaxRoomsPerClient {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*hubClient]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
	return true
}

func (h *Hub) leave(c *hubClient, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *hubClient, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	delete(c.rooms, room)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	delete(h.clients, c)
}

// enqueue queues msg without blocking. It returns false if the queue is full.
func (c *hubClient) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *hubClient) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.hub.remove(c)
}

func (c *hubClient) readLoop() {
	defer func() {
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.config.PongTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame struct {
			Event string `json:"event"`
			Data  string `json:"data"`
		}
		if err := json.Unmarshal(message, &frame); err != nil || frame.Data == "" {
			continue
		}

		switch frame.Event {
		case eventJoinRoom:
			if !c.hub.join(c, frame.Data) {
				c.hub.logger.Debug("join rejected",
					slog.String("room", frame.Data),
					slog.Int("max_rooms", c.hub.config.MaxRoomsPerClient))
				continue
			}
			c.ack(eventJoinedRoom, frame.Data)
		case eventLeaveRoom:
			c.hub.leave(c, frame.Data)
			c.ack(eventLeftRoom, frame.Data)
		}
	}
}

// ack confirms a control event to the client alone.
func (c *hubClient) ack(event, room string) {
	msg, err := encodeFrame(event, room)
	if err != nil {
		return
	}
	if !c.enqueue(msg) {
		c.hub.logger.Warn("dropping slow websocket client", slog.String("remote", c.conn.RemoteAddr().String()))
		c.close()
	}
}

func (c *hubClient) writeLoop() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
