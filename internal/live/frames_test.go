package live

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smazurov/camlog/internal/events"
)

func frameURL(serverURL, query string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws/frames" + query
}

func waitForClients(t *testing.T, hub *frameHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.count() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d frame clients, got %d", n, hub.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFramesWebSocket(t *testing.T) {
	bus := events.New()
	server, ts := newTestServer(t, Options{Bus: bus})

	conn, _, err := websocket.DefaultDialer.Dial(frameURL(ts.URL, "?topic=/camera/0/image/compressed"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	waitForClients(t, server.hub, 1)

	bus.Publish(events.FrameLoggedEvent{
		Camera:  1,
		Topic:   "/camera/1/image/compressed",
		FrameID: "seq:1",
		Payload: []byte("other"),
	})
	bus.Publish(events.FrameLoggedEvent{
		Camera:    0,
		Topic:     "/camera/0/image/compressed",
		FrameID:   "pts:1000",
		Format:    "h264",
		Keyframe:  true,
		Timestamp: "2025-01-27T10:30:00Z",
		Payload:   []byte{0, 0, 0, 1, 0x65},
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read header: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("Expected text header, got message type %d", msgType)
	}
	var header FrameHeader
	if err := json.Unmarshal(data, &header); err != nil {
		t.Fatal(err)
	}
	if header.Topic != "/camera/0/image/compressed" || header.FrameID != "pts:1000" || header.Size != 5 || !header.Keyframe {
		t.Errorf("Unexpected header: %+v", header)
	}

	msgType, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read payload: %v", err)
	}
	if msgType != websocket.BinaryMessage || !bytes.Equal(data, []byte{0, 0, 0, 1, 0x65}) {
		t.Errorf("Unexpected payload %v (type %d)", data, msgType)
	}
}

func TestFramesRequiresTopic(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	_, resp, err := websocket.DefaultDialer.Dial(frameURL(ts.URL, ""), nil)
	if err == nil {
		t.Fatal("Expected dial to fail without topic")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %v", resp)
	}
}

func TestFramesAuth(t *testing.T) {
	server, ts := newTestServer(t, Options{AuthUsername: "admin", AuthPassword: "secret"})

	_, resp, err := websocket.DefaultDialer.Dial(frameURL(ts.URL, "?topic=t"), nil)
	if err == nil {
		t.Fatal("Expected dial to fail without credentials")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(frameURL(ts.URL, "?topic=t&auth="+basicAuth("admin", "secret")), nil)
	if err != nil {
		t.Fatalf("Dial with credentials: %v", err)
	}
	defer conn.Close()
	waitForClients(t, server.hub, 1)
}

func TestFramesClientLeaves(t *testing.T) {
	server, ts := newTestServer(t, Options{})

	conn, _, err := websocket.DefaultDialer.Dial(frameURL(ts.URL, "?topic=t"), nil)
	if err != nil {
		t.Fatal(err)
	}
	waitForClients(t, server.hub, 1)

	conn.Close()
	waitForClients(t, server.hub, 0)
}

func TestFrameHubDropsWhenFull(t *testing.T) {
	hub := newFrameHub(2)
	slow := hub.add("t")
	other := hub.add("u")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.publish(events.FrameLoggedEvent{Topic: "t", FrameID: "seq"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full client queue")
	}

	if len(slow.send) != 2 {
		t.Errorf("Expected 2 queued frames, got %d", len(slow.send))
	}
	if len(other.send) != 0 {
		t.Errorf("Expected no frames for another topic, got %d", len(other.send))
	}
}

func TestFrameHubClose(t *testing.T) {
	hub := newFrameHub(1)
	c := hub.add("t")

	hub.close()

	select {
	case <-c.done:
	default:
		t.Error("Expected client to be closed")
	}
	if hub.count() != 0 {
		t.Errorf("Expected no clients after close, got %d", hub.count())
	}

	late := hub.add("t")
	select {
	case <-late.done:
	default:
		t.Error("Expected client added after close to be closed")
	}

	// remove after close must not panic
	hub.remove(c)
	hub.remove(late)
}
