package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendQueue  = 16
)

// frame is what WebSocket clients receive.
type frame struct {
	Type string    `json:"type"` // "state" | "log"
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

type hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func newHub() *hub { return &hub{clients: map[*wsClient]struct{}{}} }

func (h *hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast drops the frame for clients whose queue is full.
func (h *hub) broadcast(kind string, data any) {
	b, err := json.Marshal(frame{Type: kind, At: time.Now(), Data: data})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// handleWS upgrades and streams. Sleep is held off until the upgrade
// completes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.holdSleep(true)
	conn, err := upgrader.Upgrade(w, r, nil)
	s.holdSleep(false)
	if err != nil {
		s.log.Debug("ws upgrade failed", "err", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, sendQueue)}

	// Current state first, then live updates.
	if snap, ok := s.snapshot(); ok {
		if b, err := json.Marshal(frame{Type: "state", At: s.opts.Now(), Data: snap}); err == nil {
			c.send <- b
		}
	}
	if b, err := json.Marshal(frame{Type: "log", At: s.opts.Now(), Data: renderLog(s.logEntries())}); err == nil {
		c.send <- b
	}
	s.hub.add(c)
	s.log.Debug("ws client connected", "clients", s.hub.count())

	go s.wsWriter(c)
	s.wsReader(c)
}

// wsReader only handles control frames; it returns when the peer goes away.
func (s *Server) wsReader(c *wsClient) {
	defer func() {
		s.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) wsWriter(c *wsClient) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case b, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
