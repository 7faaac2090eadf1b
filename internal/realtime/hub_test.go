package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for h.Stats()["connectedClients"].(int) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connected clients, got %v", n, h.Stats()["connectedClients"])
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_StoreSubscription(t *testing.T) {
	client := &Client{sub: Subscription{StoreID: "store-1"}}

	if !shouldSend(client, &Event{Type: EventPlanActivated, StoreID: "store-1"}) {
		t.Error("store listener should receive its plan events")
	}
	if shouldSend(client, &Event{Type: EventPlanActivated, StoreID: "store-2"}) {
		t.Error("store listener should NOT receive other stores' events")
	}
	if shouldSend(client, &Event{Type: EventOrderPaid, StoreID: "store-1", OrderNumber: "TS-1001"}) {
		t.Error("store listener should NOT receive order events")
	}
}

func TestShouldSend_OrderSubscription(t *testing.T) {
	client := &Client{sub: Subscription{OrderNumber: "TS-1001"}}

	if !shouldSend(client, &Event{Type: EventOrderPaid, StoreID: "store-1", OrderNumber: "TS-1001"}) {
		t.Error("order listener should receive its order")
	}
	if shouldSend(client, &Event{Type: EventOrderPaid, StoreID: "store-1", OrderNumber: "TS-1002"}) {
		t.Error("order listener should NOT receive other orders")
	}

	scoped := &Client{sub: Subscription{StoreID: "store-1", OrderNumber: "TS-1001"}}
	if shouldSend(scoped, &Event{Type: EventOrderPaid, StoreID: "store-9", OrderNumber: "TS-1001"}) {
		t.Error("store-scoped order listener should NOT receive another store's order")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	client := &Client{sub: Subscription{}}
	if shouldSend(client, &Event{Type: EventPlanActivated, StoreID: "store-1"}) {
		t.Error("empty subscription should receive nothing")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 16), sub: Subscription{StoreID: "store-1"}}
	h.register <- client
	h.register <- &Client{hub: h, send: make(chan []byte, 16)}
	waitForClients(t, h, 2)

	h.unregister <- client
	h.unregister <- client // second unregister is a no-op
	waitForClients(t, h, 1)

	if _, ok := <-client.send; ok {
		t.Error("send channel should be closed on unregister")
	}
}

func TestHub_BroadcastToSubscriber(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	listener := &Client{hub: h, send: make(chan []byte, 16), sub: Subscription{StoreID: "store-1"}}
	other := &Client{hub: h, send: make(chan []byte, 16), sub: Subscription{StoreID: "store-2"}}
	h.register <- listener
	h.register <- other

	h.Broadcast(&Event{Type: EventPlanActivated, StoreID: "store-1", Data: map[string]any{"plan": "pro"}})

	select {
	case msg := <-listener.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Type != EventPlanActivated || ev.StoreID != "store-1" {
			t.Errorf("unexpected event %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Error("Broadcast should stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for broadcast")
	}

	select {
	case <-other.send:
		t.Error("other store should NOT receive the event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest(http.MethodGet, "/v1/realtime?store=store-1", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 after shutdown, got %d", w.Code)
	}
}

func TestHandleWebSocket_RequiresSubscription(t *testing.T) {
	h := testHub()

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest(http.MethodGet, "/v1/realtime", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleWebSocket_EndToEnd(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?order=ts-1001"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForClients(t, h, 1)

	h.Broadcast(&Event{Type: EventOrderPaid, StoreID: "store-1", OrderNumber: "TS-1001"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != EventOrderPaid || ev.OrderNumber != "TS-1001" {
		t.Errorf("unexpected event %+v", ev)
	}
}
