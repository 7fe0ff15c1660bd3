package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
	sendBuffer     = 256
)

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helpdesk_ws_clients",
		Help: "Number of connected console websocket clients",
	})
	droppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_ws_dropped_total",
		Help: "Events not delivered to a console client",
	}, []string{"reason"})
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub keeps the set of connected consoles and fans events out to them.
// Run must be running for registrations and broadcasts to be processed.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}

	logger *log.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger overrides the hub logger.
func WithLogger(l *log.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

var _ Broadcaster = (*Hub)(nil)

// NewHub creates an idle hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		logger:     log.New(os.Stdout, "[HUB] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run processes registrations and broadcasts until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			connectedClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			connectedClients.Inc()
			h.logger.Printf("client %s connected", c.id)

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer; it reconnects and refetches state.
					delete(h.clients, c)
					close(c.send)
					connectedClients.Dec()
					droppedEvents.WithLabelValues("slow_client").Inc()
					h.logger.Printf("client %s dropped: send buffer full", c.id)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	connectedClients.Dec()
	h.logger.Printf("client %s disconnected", c.id)
}

// Broadcast implements Broadcaster. It never blocks: when the hub is
// saturated the event is dropped.
func (h *Hub) Broadcast(event string, payload any) {
	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		h.logger.Printf("encode %s: %v", event, err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		droppedEvents.WithLabelValues("hub_full").Inc()
		h.logger.Printf("event %s dropped: hub saturated", event)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and attaches the connection to the hub.
// Authentication happens before this handler.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed: %v", err)
		return
	}
	c := &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}
