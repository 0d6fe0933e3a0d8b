package websocket

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(id string) *Client {
	return &Client{
		ID:          id,
		Send:        make(chan Event, 8),
		ConnectedAt: time.Now(),
		IP:          "127.0.0.1",
	}
}

// waitForConnectionEvent drains the client's channel until a connection
// event for the given client ID arrives.
func waitForConnectionEvent(t *testing.T, c *Client, action, clientID string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-c.Send:
			if event.Type != EventTypeConnection {
				continue
			}
			data, ok := event.Data.(ConnectionEvent)
			if !ok {
				t.Fatalf("connection event data is %T", event.Data)
			}
			if data.Action == action && data.ClientID == clientID {
				return
			}
		case <-deadline:
			t.Fatalf("no %s event for client %s", action, clientID)
		}
	}
}

func TestRegisterAnnouncesConnection(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	first := newTestClient("client-1")
	second := newTestClient("client-2")

	hub.register <- first
	hub.register <- second

	waitForConnectionEvent(t, first, "connected", "client-2")
}

func TestUnregisterAnnouncesDisconnection(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	first := newTestClient("client-1")
	second := newTestClient("client-2")

	hub.register <- first
	hub.register <- second
	hub.unregister <- second

	waitForConnectionEvent(t, first, "disconnected", "client-2")
}

func TestBroadcastRespectsSubscription(t *testing.T) {
	hub := NewHub(zap.NewNop())

	subscribed := newTestClient("subscribed")
	subscribed.Subscription = &SubscriptionRequest{
		Events: []EventType{EventTypeBatchSummary},
	}
	unfiltered := newTestClient("unfiltered")

	hub.clients[subscribed] = true
	hub.clients[unfiltered] = true

	hub.broadcastEvent(Event{Type: EventTypeFileProcessed, Timestamp: time.Now()})
	hub.broadcastEvent(Event{
		Type:      EventTypeBatchSummary,
		Timestamp: time.Now(),
		Data:      BatchSummaryEvent{Discovered: 3, Succeeded: 2, Failed: 1},
	})

	if got := len(unfiltered.Send); got != 2 {
		t.Errorf("unfiltered client got %d events, want 2", got)
	}
	if got := len(subscribed.Send); got != 1 {
		t.Fatalf("subscribed client got %d events, want 1", got)
	}
	event := <-subscribed.Send
	if event.Type != EventTypeBatchSummary {
		t.Errorf("event type = %q, want %q", event.Type, EventTypeBatchSummary)
	}
	summary, ok := event.Data.(BatchSummaryEvent)
	if !ok || summary.Discovered != 3 {
		t.Errorf("summary data = %+v", event.Data)
	}
}
