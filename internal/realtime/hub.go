// Package realtime pushes payment confirmations over WebSocket.
//
// It is the push complement to the confirmation poller: a browser returning
// from checkout may listen for its store or order while it polls, and stops
// polling as soon as a matching event arrives. Clients only receive events
// for the store and order they name.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tuckshop-za/tuckshop/internal/metrics"
	"github.com/tuckshop-za/tuckshop/internal/orders"
	"github.com/tuckshop-za/tuckshop/internal/payment"
	"github.com/tuckshop-za/tuckshop/internal/validation"
)

// EventType for pushed events
type EventType string

const (
	EventPlanActivated EventType = "plan_activated"
	EventPlanCancelled EventType = "plan_cancelled"
	EventOrderPaid     EventType = "order_paid"
	EventPaymentFailed EventType = "payment_failed"
)

// Event is one pushed message.
type Event struct {
	Type        EventType      `json:"type"`
	StoreID     string         `json:"storeId,omitempty"`
	OrderNumber string         `json:"orderNumber,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
}

// Subscription names what a client listens for. An empty subscription
// receives nothing.
type Subscription struct {
	StoreID     string `json:"storeId"`
	OrderNumber string `json:"orderNumber"`
}

// matches reports whether an event belongs to the subscription. An order
// subscription sees only that order; a store subscription sees store-level
// events but not per-order traffic.
func (s Subscription) matches(e *Event) bool {
	if s.OrderNumber != "" {
		if e.OrderNumber != s.OrderNumber {
			return false
		}
		return s.StoreID == "" || s.StoreID == e.StoreID
	}
	if s.StoreID != "" {
		return e.OrderNumber == "" && e.StoreID == s.StoreID
	}
	return false
}

// Limits for connected listeners.
const (
	MaxClients     = 10000
	clientQueueLen = 16
	eventQueueLen  = 256
)

// Hub fans checkout events out to subscribed listeners. All membership
// changes go through Run so the client set has a single writer.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	limit   int

	register   chan *Client
	unregister chan *Client
	events     chan *Event
	done       chan struct{}

	delivered atomic.Int64
	accepted  atomic.Int64
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]struct{}),
		limit:      MaxClients,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan *Event, eventQueueLen),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.logger.Info("realtime hub running")

	for {
		select {
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case e := <-h.events:
			h.fanOut(e)
		case <-ctx.Done():
			h.disconnectAll()
			h.logger.Info("realtime hub stopped")
			return
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.accepted.Add(1)
	metrics.ActiveWebSocketClients.Set(float64(n))
}

func (h *Hub) remove(cs ...*Client) {
	h.mu.Lock()
	for _, c := range cs {
		if _, ok := h.clients[c]; !ok {
			continue
		}
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(n))
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
	}
	clear(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(0)
}

// fanOut delivers to every matching listener. A listener whose queue is full
// is dropped; its page falls back to polling.
func (h *Hub) fanOut(e *Event) {
	h.delivered.Add(1)
	payload, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("encode realtime event", "type", e.Type, "error", err)
		return
	}

	var lagging []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !shouldSend(c, e) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			lagging = append(lagging, c)
		}
	}
	h.mu.RUnlock()

	if len(lagging) > 0 {
		h.logger.Debug("dropping lagging realtime listeners", "count", len(lagging))
		h.remove(lagging...)
	}
}

func shouldSend(c *Client, e *Event) bool {
	return c.subscription().matches(e)
}

// Broadcast queues an event. It never blocks; a full queue drops the event
// and the listener's poller picks up the state instead.
func (h *Hub) Broadcast(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case h.events <- event:
	default:
		h.logger.Warn("realtime queue full, event dropped", "type", event.Type, "store", event.StoreID)
	}
}

// Stats is served on the admin surface.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return map[string]any{
		"connectedClients": n,
		"totalEvents":      h.delivered.Load(),
		"totalClients":     h.accepted.Load(),
	}
}

// HandleWebSocket upgrades GET /v1/realtime?store=...&order=...
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	sub := Subscription{
		StoreID:     r.URL.Query().Get("store"),
		OrderNumber: orders.NormalizeNumber(r.URL.Query().Get("order")),
	}
	if sub.StoreID == "" && sub.OrderNumber == "" {
		http.Error(w, "store or order required", http.StatusBadRequest)
		return
	}
	if sub.StoreID != "" && !validation.IsValidStoreID(sub.StoreID) {
		http.Error(w, "invalid store", http.StatusBadRequest)
		return
	}
	// A signup return page only knows the synthetic checkout id.
	sub.StoreID = payment.TenantID(sub.StoreID)

	h.mu.RLock()
	full := len(h.clients) >= h.limit
	h.mu.RUnlock()
	if full {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, clientQueueLen), sub: sub}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.writeLoop()
	go c.readLoop()
}
