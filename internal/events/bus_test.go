package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan WorkerStateChangedEvent, 1)

	unsub := bus.Subscribe(func(e WorkerStateChangedEvent) {
		received <- e
	})
	defer unsub()

	event := WorkerStateChangedEvent{
		Camera:    1,
		Topic:     "/camera/1/image/compressed",
		From:      "starting",
		To:        "running",
		Timestamp: "2025-01-27T10:30:00Z",
	}
	bus.Publish(event)

	got := <-received
	if got.Camera != event.Camera || got.To != "running" {
		t.Errorf("Expected %+v, got %+v", event, got)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan SessionStartedEvent, 1)
	received2 := make(chan SessionStartedEvent, 1)

	unsub1 := bus.Subscribe(func(e SessionStartedEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e SessionStartedEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(SessionStartedEvent{SessionID: "s1", Cameras: []int{0, 1}})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan CameraStartupFailedEvent, 1)

	unsub := bus.Subscribe(func(e CameraStartupFailedEvent) {
		received <- e
	})

	bus.Publish(CameraStartupFailedEvent{Camera: 0})
	<-received

	unsub()

	bus.Publish(CameraStartupFailedEvent{Camera: 1})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	frameReceived := make(chan bool, 1)
	stopReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ FrameLoggedEvent) {
		frameReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ SessionStoppedEvent) {
		stopReceived <- true
	})
	defer unsub2()

	bus.Publish(FrameLoggedEvent{Topic: "/camera/0/image/compressed"})
	<-frameReceived

	select {
	case <-stopReceived:
		t.Fatal("Stop subscriber should NOT have received FrameLoggedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}

	bus.Publish(SessionStoppedEvent{Reason: "shutdown"})
	<-stopReceived

	select {
	case <-frameReceived:
		t.Fatal("Frame subscriber should NOT have received SessionStoppedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ FrameLoggedEvent) {
		receivedCh <- true
	})
	defer unsub()

	for i := range numGoroutines {
		wg.Add(1)
		go func(camera int) {
			defer wg.Done()
			for range eventsPerGoroutine {
				bus.Publish(FrameLoggedEvent{
					Camera:    camera,
					Timestamp: time.Now().Format(time.RFC3339Nano),
				})
			}
		}(i)
	}

	wg.Wait()

	// Read all expected events
	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"WorkerStateChanged", WorkerStateChangedEvent{To: "draining"}},
		{"FrameLogged", FrameLoggedEvent{FrameID: "seq:1"}},
		{"SessionStarted", SessionStartedEvent{SessionID: "s"}},
		{"SessionStopped", SessionStoppedEvent{SessionID: "s"}},
		{"CameraStartupFailed", CameraStartupFailedEvent{Camera: 2}},
		{"LogEntry", LogEntryEvent{Seq: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case WorkerStateChangedEvent:
				unsub = bus.Subscribe(func(e WorkerStateChangedEvent) { received <- e })
			case FrameLoggedEvent:
				unsub = bus.Subscribe(func(e FrameLoggedEvent) { received <- e })
			case SessionStartedEvent:
				unsub = bus.Subscribe(func(e SessionStartedEvent) { received <- e })
			case SessionStoppedEvent:
				unsub = bus.Subscribe(func(e SessionStoppedEvent) { received <- e })
			case CameraStartupFailedEvent:
				unsub = bus.Subscribe(func(e CameraStartupFailedEvent) { received <- e })
			case LogEntryEvent:
				unsub = bus.Subscribe(func(e LogEntryEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}

func TestBus_UnknownHandlerIsNoop(_ *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	unsub()
}

func TestFrameLoggedEventOmitsPayload(t *testing.T) {
	data, err := json.Marshal(FrameLoggedEvent{
		Topic:   "/camera/0/image/compressed",
		FrameID: "pts:1000",
		Size:    3,
		Payload: []byte{1, 2, 3},
	})
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var result map[string]any
	if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
		t.Fatalf("Failed to unmarshal: %v", unmarshalErr)
	}
	if _, ok := result["Payload"]; ok {
		t.Error("payload must not be serialized")
	}
	if result["frame_id"] != "pts:1000" {
		t.Errorf("frame_id = %v", result["frame_id"])
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[SessionStartedEvent](bus, ch)
	defer unsub()

	bus.Publish(SessionStartedEvent{SessionID: "abc"})

	received := <-ch
	started, ok := received.(SessionStartedEvent)
	if !ok {
		t.Fatalf("Expected SessionStartedEvent, got %T", received)
	}
	if started.SessionID != "abc" {
		t.Errorf("Expected session_id abc, got %s", started.SessionID)
	}
}

func TestSubscribeToChannel_NonBlocking(_ *testing.T) {
	bus := New()
	ch := make(chan any) // No buffer

	unsub := SubscribeToChannel[WorkerStateChangedEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(WorkerStateChangedEvent{To: "stopped"})
		done <- true
	}()

	<-done // Should complete without blocking
}

func TestSubscribeFiltered(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeFiltered(bus, ch, func(e LogEntryEvent) bool { return e.Module == "capture" })
	defer unsub()

	bus.Publish(LogEntryEvent{Module: "journal", Message: "skipped"})
	bus.Publish(LogEntryEvent{Module: "capture", Message: "kept"})

	select {
	case got := <-ch:
		if entry := got.(LogEntryEvent); entry.Message != "kept" {
			t.Errorf("received %q, want kept", entry.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for filtered event")
	}
	select {
	case got := <-ch:
		t.Errorf("unexpected extra event %+v", got)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSubscribeSessionEvents(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeSessionEvents(bus, ch)

	bus.Publish(FrameLoggedEvent{FrameID: "seq:1"})
	bus.Publish(CameraStartupFailedEvent{Camera: 1})

	select {
	case got := <-ch:
		if _, ok := got.(CameraStartupFailedEvent); !ok {
			t.Errorf("Expected CameraStartupFailedEvent, got %T", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for session event")
	}

	unsub()
	bus.Publish(SessionStoppedEvent{SessionID: "s"})
	select {
	case got := <-ch:
		t.Errorf("received %T after unsubscribe", got)
	case <-time.After(20 * time.Millisecond):
	}
}
