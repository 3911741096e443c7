package live

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hazard-alert-service/internal/logging"
	"hazard-alert-service/internal/models"
)

const (
	allZones        = "*"
	sendBuffer      = 32
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = pongWait * 9 / 10
	defaultMaxConns = 10
)

// ErrTooManyConnections is returned when a feed already has its maximum
// number of subscribers.
var ErrTooManyConnections = errors.New("too many live feed connections")

// Event is one message on the live feed.
type Event struct {
	Type  string       `json:"type"`
	Alert models.Alert `json:"alert"`
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *conn) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans alert changes out to websocket subscribers, keyed by the zone
// they follow. Subscribers of "*" receive every zone.
type Hub struct {
	mu       sync.Mutex
	conns    map[string]map[*conn]bool
	maxConns int
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

func NewHub(logger *logging.Logger, maxConnsPerZone int) *Hub {
	if maxConnsPerZone <= 0 {
		maxConnsPerZone = defaultMaxConns
	}
	return &Hub{
		conns:    make(map[string]map[*conn]bool),
		maxConns: maxConnsPerZone,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// PublishAlert queues the alert for every subscriber of its zone. It never
// blocks: a subscriber whose buffer is full is disconnected.
func (h *Hub) PublishAlert(a models.Alert) {
	payload, err := json.Marshal(Event{Type: "alert", Alert: a})
	if err != nil {
		h.logger.Errorf("Failed to encode live event for alert %s: %v", a.ID, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, key := range []string{a.ZoneID, allZones} {
		conns, ok := h.conns[key]
		if !ok {
			continue
		}
		for c := range conns {
			select {
			case c.send <- payload:
			default:
				h.logger.Warnf("Live feed subscriber of %s too slow, dropping", key)
				h.removeLocked(key, c)
			}
		}
	}
}

// Serve upgrades the request and streams events for zone until the client
// goes away. An empty zone follows all zones.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, zone string) error {
	if zone == "" {
		zone = allZones
	}
	if h.Count(zone) >= h.maxConns {
		return ErrTooManyConnections
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &conn{ws: ws, send: make(chan []byte, sendBuffer)}
	if !h.add(zone, c) {
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
		ws.Close()
		return ErrTooManyConnections
	}
	go h.writer(zone, c)
	h.reader(zone, c)
	return nil
}

func (h *Hub) add(zone string, c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[zone]; !ok {
		h.conns[zone] = make(map[*conn]bool)
	}
	if len(h.conns[zone]) >= h.maxConns {
		h.logger.Warnf("Max live feed connections reached for %s", zone)
		return false
	}
	h.conns[zone][c] = true
	h.logger.Infof("Added live feed connection for %s (total: %d)", zone, len(h.conns[zone]))
	return true
}

func (h *Hub) remove(zone string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(zone, c)
}

func (h *Hub) removeLocked(zone string, c *conn) {
	conns, ok := h.conns[zone]
	if !ok || !conns[c] {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.conns, zone)
	}
	c.close()
	h.logger.Infof("Removed live feed connection for %s (remaining: %d)", zone, len(conns))
}

// reader drains client frames so pongs and close frames are processed.
func (h *Hub) reader(zone string, c *conn) {
	defer h.remove(zone, c)
	c.ws.SetReadLimit(512)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writer(zone string, c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Errorf("Failed to send live event to %s subscriber: %v", zone, err)
				h.remove(zone, c)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(zone, c)
				return
			}
		}
	}
}

// Count returns the number of subscribers following zone.
func (h *Hub) Count(zone string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[zone])
}

// Total returns the number of open subscriptions across all zones.
func (h *Hub) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, conns := range h.conns {
		n += len(conns)
	}
	return n
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for zone, conns := range h.conns {
		for c := range conns {
			c.close()
		}
		delete(h.conns, zone)
	}
}
