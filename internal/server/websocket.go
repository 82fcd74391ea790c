package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/patchscan/internal/engine"
	"github.com/muurk/patchscan/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Clients only send control frames.
	maxMessageSize = 512

	// Events buffered per client before it is considered too slow
	sendBuffer = 256
)

// EventType names an event on the /events stream.
type EventType string

const (
	EventRunStarted  EventType = "run_started"
	EventResult      EventType = "result"
	EventRunFinished EventType = "run_finished"
)

// Event is one JSON message on the /events stream.
type Event struct {
	Type    EventType       `json:"type"`
	Time    time.Time       `json:"time"`
	RunID   string          `json:"runId,omitempty"`
	Device  *engine.Device  `json:"device,omitempty"`
	Total   int             `json:"total,omitempty"`
	Result  *engine.Result  `json:"result,omitempty"`
	Summary *engine.Summary `json:"summary,omitempty"`
}

// Hub fans classification events out to WebSocket clients. Events of the
// current run are kept so a client connecting mid-run receives them all.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	history []Event
	closed  bool
}

type client struct {
	conn       *websocket.Conn
	send       chan Event
	remoteAddr string
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// RunStarted resets the history and announces a run.
func (h *Hub) RunStarted(runID string, device engine.Device, total int) {
	h.mu.Lock()
	h.history = h.history[:0]
	h.mu.Unlock()
	h.Publish(Event{Type: EventRunStarted, RunID: runID, Device: &device, Total: total})
}

// Result publishes one classification. It matches engine.Options.OnResult.
func (h *Hub) Result(res engine.Result) {
	h.Publish(Event{Type: EventResult, Result: &res})
}

// RunFinished publishes the final summary of report.
func (h *Hub) RunFinished(report *engine.Report) {
	summary := report.Summary
	h.Publish(Event{Type: EventRunFinished, RunID: report.RunID, Total: len(report.Results), Summary: &summary})
}

// Publish records ev and queues it for every client. Clients whose buffer
// is full are disconnected.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.history = append(h.history, ev)
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("Dropping slow events client", zap.String("remote_addr", c.remoteAddr))
			h.removeLocked(c)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and stops accepting new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// ServeHTTP upgrades the request and streams events until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an error status.
		h.logger.Debug("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan Event, sendBuffer), remoteAddr: r.RemoteAddr}
	backlog, ok := h.register(c)
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	h.logger.Info("Events client connected",
		zap.String("remote_addr", c.remoteAddr),
		zap.Int("backlog", len(backlog)))

	go h.writePump(c, backlog)
	h.readPump(c)
}

// register adds c and returns the events it missed. Both happen under one
// lock so no event is lost or sent twice.
func (h *Hub) register(c *client) ([]Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	h.clients[c] = struct{}{}
	return append([]Event(nil), h.history...), true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump consumes control frames so pongs and close frames are handled.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
		h.logger.Info("Events client disconnected", zap.String("remote_addr", c.remoteAddr))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Events client read error",
					zap.String("remote_addr", c.remoteAddr),
					zap.Error(err))
			}
			return
		}
		logging.LogWebSocketMessage(c.remoteAddr, "received", msgType, data)
	}
}

func (h *Hub) writePump(c *client, backlog []Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for _, ev := range backlog {
		if err := h.write(c, ev); err != nil {
			return
		}
	}

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := h.write(c, ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(c *client, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err))
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Debug("Events client write failed",
			zap.String("remote_addr", c.remoteAddr),
			zap.Error(err))
		return err
	}
	logging.LogWebSocketMessage(c.remoteAddr, "sent", websocket.TextMessage, data)
	return nil
}
