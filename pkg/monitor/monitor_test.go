package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	fws "github.com/gofiber/websocket/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-callbridge/pkg/conversation"
)

func TestNewEventMessageCopiesError(t *testing.T) {
	msg, err := NewEventMessage(conversation.Event{
		Type:    conversation.EventError,
		CallSid: "CA1",
		Err:     errors.New("voice service down"),
	})
	if err != nil {
		t.Fatalf("NewEventMessage: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["error"] != "voice service down" {
		t.Errorf("error = %v", decoded["error"])
	}
	if decoded["type"] != "error" || decoded["call_sid"] != "CA1" {
		t.Errorf("unexpected payload: %s", msg.Data)
	}
}

func TestStats(t *testing.T) {
	s := NewStats()
	s.Record(conversation.Event{Type: conversation.EventStarted, CallSid: "CA2"})
	s.Record(conversation.Event{Type: conversation.EventStarted, CallSid: "CA1"})
	s.Record(conversation.Event{Type: conversation.EventFragment, CallSid: "CA1"})
	s.Record(conversation.Event{Type: conversation.EventFragment, CallSid: "CA1"})
	s.Record(conversation.Event{Type: conversation.EventEnded, CallSid: "CA2"})

	if s.Active() != 1 {
		t.Errorf("Active = %d, want 1", s.Active())
	}
	snap := s.Snapshot()
	if len(snap.ActiveCalls) != 1 || snap.ActiveCalls[0] != "CA1" {
		t.Errorf("ActiveCalls = %v", snap.ActiveCalls)
	}
	if snap.Events[conversation.EventFragment] != 2 || snap.Events[conversation.EventStarted] != 2 {
		t.Errorf("Events = %v", snap.Events)
	}
}

func TestBroadcastWithoutRunDoesNotBlock(t *testing.T) {
	h := New(nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Observe(conversation.Event{Type: conversation.EventFragment})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Observe blocked with a full queue")
	}
	if h.Stats().Snapshot().Events[conversation.EventFragment] != 1000 {
		t.Error("every event should be counted even when dropped")
	}
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()

	h := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws/monitor", fws.New(func(c *fws.Conn) {
		NewClient(h, c).Run()
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)

	t.Cleanup(func() {
		cancel()
		app.Shutdown()
	})
	return h, "ws://" + ln.Addr().String() + "/ws/monitor"
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubBroadcastsEvents(t *testing.T) {
	h, url := startHub(t)

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()
	waitClients(t, h, 1)

	if !h.IsRunning() {
		t.Error("hub should be running")
	}

	h.Observe(conversation.Event{
		Type:    conversation.EventFragment,
		CallSid: "CA1",
		Index:   3,
		Text:    "Let me check",
	})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}

	var ev conversation.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != conversation.EventFragment || ev.Index != 3 || ev.Text != "Let me check" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestHubUnregistersOnClose(t *testing.T) {
	h, url := startHub(t)

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	waitClients(t, h, 1)

	ws.Close()
	waitClients(t, h, 0)
}
