package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camlog/internal/capture"
	"github.com/smazurov/camlog/internal/events"
	"github.com/smazurov/camlog/internal/journal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedSource returns n untimed frames, then either ends or stays empty.
type scriptedSource struct {
	mu      sync.Mutex
	left    int
	endless bool
	closed  bool
}

func (s *scriptedSource) Pull(timeout time.Duration) (capture.Frame, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return capture.Frame{}, false, capture.ErrSourceClosed
	}
	if s.left == 0 {
		if s.endless {
			return capture.Frame{}, false, nil
		}
		return capture.Frame{}, false, fmt.Errorf("stream ended: %w", capture.ErrSourceClosed)
	}
	s.left--
	// AUD followed by an IDR slice header
	return capture.UntimedFrame([]byte{0, 0, 0, 1, 0x09, 0x10, 0, 0, 0, 1, 0x65, 0x88}), true, nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeOpener struct {
	mu      sync.Mutex
	frames  int
	endless bool
	failing map[capture.CameraIndex]bool
	opened  []capture.CameraIndex
}

func (o *fakeOpener) open(_ context.Context, index capture.CameraIndex) (capture.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failing[index] {
		return nil, fmt.Errorf("/dev/video%d: %w", index, capture.ErrDeviceUnavailable)
	}
	o.opened = append(o.opened, index)
	return &scriptedSource{left: o.frames, endless: o.endless}, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func newTestRecorder(t *testing.T, bus *events.Bus, pattern string) (*Recorder, string) {
	t.Helper()
	dir := t.TempDir()
	return New(Options{
		OutputDir:   dir,
		NamePattern: pattern,
		Journal:     journal.Options{Compression: journal.CompressionNone, Library: "camlog/test"},
		IdleWait:    2 * time.Millisecond,
		PullTimeout: 2 * time.Millisecond,
		StopTimeout: 500 * time.Millisecond,
		Version:     "test",
		Bus:         bus,
		Logger:      testLogger(),
	}), dir
}

func TestRecorderRecordsUntilSourcesEnd(t *testing.T) {
	bus := events.New()
	stopped := make(chan events.SessionStoppedEvent, 1)
	unsub := bus.Subscribe(func(e events.SessionStoppedEvent) { stopped <- e })
	defer unsub()

	var framesMu sync.Mutex
	frames := map[string]int{}
	unsubFrames := bus.Subscribe(func(e events.FrameLoggedEvent) {
		framesMu.Lock()
		frames[e.Topic]++
		framesMu.Unlock()
	})
	defer unsubFrames()

	rec, dir := newTestRecorder(t, bus, "session_{cameras}.mcap")
	opener := &fakeOpener{frames: 3}

	session, err := rec.Start(context.Background(), Plan{
		Cameras:    []capture.CameraIndex{0, 1},
		OpenSource: opener.open,
		Backend:    "ffmpeg",
		Platform:   "test",
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-rec.Finished():
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not finish after sources ended")
	}

	var ev events.SessionStoppedEvent
	select {
	case ev = <-stopped:
	case <-time.After(time.Second):
		t.Fatal("no session stopped event")
	}
	if ev.Reason != ReasonWorkersExited || ev.SessionID != session.ID() {
		t.Errorf("stopped event = %+v", ev)
	}
	if ev.Messages[capture.DefaultTopic(0)] != 3 || ev.Messages[capture.DefaultTopic(1)] != 3 {
		t.Errorf("stopped event messages = %v, want 3 per camera", ev.Messages)
	}

	// Events are delivered asynchronously
	waitFor(t, time.Second, func() bool {
		framesMu.Lock()
		defer framesMu.Unlock()
		return frames[capture.DefaultTopic(0)] == 3 && frames[capture.DefaultTopic(1)] == 3
	})

	summary, err := journal.Summarize(filepath.Join(dir, "session_0-1.mcap"))
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if len(summary.Topics) != 2 {
		t.Fatalf("topics = %+v, want 2", summary.Topics)
	}
	for _, topic := range summary.Topics {
		if topic.Messages != 3 || topic.FirstIdentifier != "seq:1" || topic.LastIdentifier != "seq:3" {
			t.Errorf("topic %s = %+v", topic.Topic, topic)
		}
	}
	meta := summary.Metadata[journal.SessionMetadataName]
	if meta["session_id"] != session.ID() || meta["cameras"] != "[0,1]" || meta["backend"] != "ffmpeg" {
		t.Errorf("session metadata = %v", meta)
	}

	if status := rec.Status(); status.Active {
		t.Errorf("Status() = %+v, want inactive after finish", status)
	}
}

func TestRecorderNoViableCamera(t *testing.T) {
	rec, _ := newTestRecorder(t, events.New(), "")
	opener := &fakeOpener{failing: map[capture.CameraIndex]bool{0: true, 1: true}}

	_, err := rec.Start(context.Background(), Plan{
		Cameras:    []capture.CameraIndex{0, 1},
		OpenSource: opener.open,
	})
	if !errors.Is(err, ErrNoViableCamera) {
		t.Fatalf("Start() error = %v, want ErrNoViableCamera", err)
	}
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Errorf("Start() error = %v, want it to carry ErrDeviceUnavailable", err)
	}
	if rec.Status().Active {
		t.Error("no session should remain active")
	}
}

func TestRecorderPartialStartup(t *testing.T) {
	bus := events.New()
	failures := make(chan events.CameraStartupFailedEvent, 4)
	defer bus.Subscribe(func(e events.CameraStartupFailedEvent) { failures <- e })()

	rec, _ := newTestRecorder(t, bus, "")
	opener := &fakeOpener{endless: true, failing: map[capture.CameraIndex]bool{1: true}}

	session, err := rec.Start(context.Background(), Plan{
		Cameras:    []capture.CameraIndex{0, 1},
		OpenSource: opener.open,
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer rec.Stop(ReasonShutdown)

	if got := len(session.Workers()); got != 1 {
		t.Errorf("workers = %d, want 1", got)
	}

	select {
	case ev := <-failures:
		if ev.Camera != 1 {
			t.Errorf("startup failure for camera %d, want 1", ev.Camera)
		}
	case <-time.After(time.Second):
		t.Fatal("no startup failure event")
	}

	status := rec.Status()
	if !status.Active || status.SessionID != session.ID() {
		t.Fatalf("Status() = %+v", status)
	}
	if _, ok := status.StartupErrors[1]; !ok {
		t.Errorf("StartupErrors = %v, want camera 1", status.StartupErrors)
	}
	if topics := rec.Topics(); len(topics) != 1 || topics[0] != capture.DefaultTopic(0) {
		t.Errorf("Topics() = %v", topics)
	}
}

func TestRecorderJournalConflict(t *testing.T) {
	rec, dir := newTestRecorder(t, events.New(), "fixed.mcap")
	if err := os.WriteFile(filepath.Join(dir, "fixed.mcap"), []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	opener := &fakeOpener{endless: true}

	_, err := rec.Start(context.Background(), Plan{
		Cameras:    []capture.CameraIndex{0},
		OpenSource: opener.open,
	})
	if !errors.Is(err, capture.ErrJournalOpenFailed) {
		t.Fatalf("Start() error = %v, want ErrJournalOpenFailed", err)
	}
	if opener.openCount() != 0 {
		t.Errorf("sources opened = %d, want 0", opener.openCount())
	}
	data, _ := os.ReadFile(filepath.Join(dir, "fixed.mcap"))
	if string(data) != "keep" {
		t.Error("existing journal was modified")
	}
}

func TestRecorderRestart(t *testing.T) {
	bus := events.New()
	reasons := make(chan string, 4)
	defer bus.Subscribe(func(e events.SessionStoppedEvent) { reasons <- e.Reason })()

	rec, _ := newTestRecorder(t, bus, "camlog_{cameras}.mcap")
	opener := &fakeOpener{endless: true}

	first, err := rec.Start(context.Background(), Plan{
		Cameras:    []capture.CameraIndex{0},
		OpenSource: opener.open,
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if _, err := rec.Start(context.Background(), Plan{Cameras: []capture.CameraIndex{1}, OpenSource: opener.open}); err == nil {
		t.Error("second Start() should fail while a session runs")
	}

	second, err := rec.Restart(context.Background(), Plan{
		Cameras:    []capture.CameraIndex{2, 3},
		OpenSource: opener.open,
	}, ReasonReload)
	if err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	defer rec.Stop(ReasonShutdown)

	if first.ID() == second.ID() {
		t.Error("restart reused the session id")
	}
	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Error("first session still has running workers")
	}
	select {
	case got := <-reasons:
		if got != ReasonReload {
			t.Errorf("stop reason = %q, want %q", got, ReasonReload)
		}
	case <-time.After(time.Second):
		t.Error("no session stopped event")
	}

	status := rec.Status()
	if status.SessionID != second.ID() || len(status.Workers) != 2 {
		t.Errorf("Status() = %+v", status)
	}

	// An invalid plan keeps the running session
	if _, err := rec.Restart(context.Background(), Plan{OpenSource: opener.open}, ReasonReload); !errors.Is(err, ErrNoCameras) {
		t.Errorf("Restart(empty) error = %v, want ErrNoCameras", err)
	}
	if rec.Status().SessionID != second.ID() {
		t.Error("invalid restart replaced the session")
	}

	third, err := rec.RestartCurrent(context.Background(), ReasonRestart)
	if err != nil {
		t.Fatalf("RestartCurrent() error = %v", err)
	}
	if len(third.Workers()) != 2 {
		t.Errorf("RestartCurrent() workers = %d, want 2", len(third.Workers()))
	}
}

func TestRecorderStopWithoutSession(t *testing.T) {
	rec, _ := newTestRecorder(t, events.New(), "")
	if err := rec.Stop(ReasonReload); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if _, err := rec.RestartCurrent(context.Background(), ReasonRestart); !errors.Is(err, ErrNoCameras) {
		t.Errorf("RestartCurrent() error = %v, want ErrNoCameras", err)
	}
}

func TestRecorderShutdownIsFinal(t *testing.T) {
	rec, _ := newTestRecorder(t, events.New(), "camlog_{cameras}.mcap")
	opener := &fakeOpener{endless: true}
	plan := Plan{Cameras: []capture.CameraIndex{0}, OpenSource: opener.open}

	if _, err := rec.Start(context.Background(), plan); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := rec.Stop(ReasonShutdown); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if _, err := rec.RestartCurrent(context.Background(), ReasonHotplug); !errors.Is(err, ErrRecorderClosed) {
		t.Errorf("RestartCurrent() error = %v, want ErrRecorderClosed", err)
	}
	if _, err := rec.Restart(context.Background(), plan, ReasonRestart); !errors.Is(err, ErrRecorderClosed) {
		t.Errorf("Restart() error = %v, want ErrRecorderClosed", err)
	}
	if _, err := rec.Start(context.Background(), plan); !errors.Is(err, ErrRecorderClosed) {
		t.Errorf("Start() error = %v, want ErrRecorderClosed", err)
	}
	if rec.Status().Active {
		t.Error("recorder has an active session after shutdown")
	}
	if got := opener.openCount(); got != 1 {
		t.Errorf("sources opened = %d, want 1", got)
	}
}

func TestPlanTopic(t *testing.T) {
	tests := []struct {
		name  string
		plan  Plan
		index capture.CameraIndex
		want  string
	}{
		{"single camera default", Plan{Cameras: []capture.CameraIndex{2}}, 2, SingleCameraTopic},
		{"several cameras default", Plan{Cameras: []capture.CameraIndex{0, 2}}, 2, "/camera/2/image/compressed"},
		{"pattern", Plan{Cameras: []capture.CameraIndex{4}, TopicPattern: "/cam{index}/h264"}, 4, "/cam4/h264"},
		{"override wins", Plan{
			Cameras:      []capture.CameraIndex{0, 1},
			TopicPattern: "/cam{index}",
			Topics:       map[capture.CameraIndex]string{1: "/rear"},
		}, 1, "/rear"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.plan.Topic(tt.index); got != tt.want {
				t.Errorf("Topic(%d) = %q, want %q", tt.index, got, tt.want)
			}
		})
	}
}

func TestPlanValidate(t *testing.T) {
	open := (&fakeOpener{}).open
	tests := []struct {
		name    string
		plan    Plan
		wantErr error
	}{
		{"no cameras", Plan{OpenSource: open}, ErrNoCameras},
		{"pattern without index", Plan{
			Cameras:      []capture.CameraIndex{0, 1},
			TopicPattern: "/camera/image/compressed",
			OpenSource:   open,
		}, ErrTopicConflict},
		{"override collides", Plan{
			Cameras:    []capture.CameraIndex{0, 1},
			Topics:     map[capture.CameraIndex]string{1: capture.DefaultTopic(0)},
			OpenSource: open,
		}, ErrTopicConflict},
		{"valid", Plan{Cameras: []capture.CameraIndex{0, 1}, OpenSource: open}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecorderContextCancelClosesRecorder(t *testing.T) {
	bus := events.New()
	reasons := make(chan string, 2)
	defer bus.Subscribe(func(e events.SessionStoppedEvent) { reasons <- e.Reason })()

	rec, _ := newTestRecorder(t, bus, "")
	opener := &fakeOpener{endless: true}
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := rec.Start(ctx, Plan{Cameras: []capture.CameraIndex{0}, OpenSource: opener.open}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	select {
	case got := <-reasons:
		if got != ReasonShutdown {
			t.Errorf("stop reason = %q, want %q", got, ReasonShutdown)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session not stopped after cancel")
	}
	if _, err := rec.RestartCurrent(context.Background(), ReasonHotplug); !errors.Is(err, ErrRecorderClosed) {
		t.Errorf("RestartCurrent() error = %v, want ErrRecorderClosed", err)
	}
	select {
	case <-rec.Finished():
		t.Error("Finished closed on shutdown")
	default:
	}
}
