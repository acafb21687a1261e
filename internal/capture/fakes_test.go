package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource hands out queued frames. When the queue is empty it either
// reports Empty or, with endWhenDrained, ErrSourceClosed.
type fakeSource struct {
	mu             sync.Mutex
	frames         []Frame
	endWhenDrained bool
	closed         bool
	closeCount     int
	block          chan struct{} // when set, Pull waits on it and ignores timeout
	entered        chan struct{} // when set, receives once per Pull call, before block
	failWith       error         // returned once the queue is empty
}

func (f *fakeSource) Pull(_ time.Duration) (Frame, bool, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return Frame{}, false, ErrSourceClosed
	}
	if len(f.frames) == 0 {
		if f.failWith != nil {
			return Frame{}, false, f.failWith
		}
		if f.endWhenDrained {
			return Frame{}, false, ErrSourceClosed
		}
		return Frame{}, false, nil
	}
	frame := f.frames[0]
	f.frames = f.frames[1:]
	return frame, true, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCount++
	return nil
}

func (f *fakeSource) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

func (f *fakeSource) push(frames ...Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frames...)
}

// fakeJournal records writes per topic.
type fakeJournal struct {
	mu         sync.Mutex
	records    map[string][]Record
	failTopics map[string]bool
	sinkCloses map[string]int
	closed     bool
	closeCount int
	dropped    int
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{
		records:    make(map[string][]Record),
		failTopics: make(map[string]bool),
		sinkCloses: make(map[string]int),
	}
}

func (j *fakeJournal) OpenSink(topic string) (Sink, error) {
	return &fakeSink{journal: j, topic: topic}, nil
}

func (j *fakeJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	j.closeCount++
	return nil
}

func (j *fakeJournal) topicRecords(topic string) []Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Record(nil), j.records[topic]...)
}

func (j *fakeJournal) closes() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeCount
}

type fakeSink struct {
	journal *fakeJournal
	topic   string
}

func (s *fakeSink) Write(rec Record) error {
	j := s.journal
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		j.dropped++
		return fmt.Errorf("journal closed: %w", ErrWriteFailed)
	}
	if j.failTopics[s.topic] {
		return errors.New("disk full")
	}
	j.records[s.topic] = append(j.records[s.topic], rec)
	return nil
}

func (s *fakeSink) Close() error {
	s.journal.mu.Lock()
	defer s.journal.mu.Unlock()
	s.journal.sinkCloses[s.topic]++
	return nil
}

// fakeOpener serves sources by index. Indices listed in failing are unavailable.
type fakeOpener struct {
	mu      sync.Mutex
	sources map[CameraIndex]*fakeSource
	failing map[CameraIndex]bool
	calls   int
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		sources: make(map[CameraIndex]*fakeSource),
		failing: make(map[CameraIndex]bool),
	}
}

func (o *fakeOpener) open(_ context.Context, index CameraIndex) (Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.failing[index] {
		return nil, fmt.Errorf("/dev/video%d busy: %w", index, ErrDeviceUnavailable)
	}
	src, ok := o.sources[index]
	if !ok {
		src = &fakeSource{}
		o.sources[index] = src
	}
	return src, nil
}

func (o *fakeOpener) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
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

func untimed(n int) []Frame {
	frames := make([]Frame, n)
	for i := range frames {
		frames[i] = UntimedFrame([]byte{0, 0, 0, 1, 0x09, byte(i)})
	}
	return frames
}
