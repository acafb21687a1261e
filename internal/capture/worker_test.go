package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestWorker(index CameraIndex, hooks WorkerHooks) *Worker {
	return NewWorker(WorkerConfig{
		Index:       index,
		Topic:       DefaultTopic(index),
		IdleWait:    5 * time.Millisecond,
		PullTimeout: 5 * time.Millisecond,
	}, testLogger(), hooks)
}

func TestWorkerWritesFramesInPullOrder(t *testing.T) {
	opener := newFakeOpener()
	opener.sources[0] = &fakeSource{frames: untimed(3), endWhenDrained: true}
	journal := newFakeJournal()

	w := newTestWorker(0, WorkerHooks{})
	if err := w.Start(context.Background(), opener.open, journal); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !w.Wait(time.Second) {
		t.Fatal("worker did not stop after source ended")
	}

	records := journal.topicRecords(DefaultTopic(0))
	want := []string{"seq:1", "seq:2", "seq:3"}
	if len(records) != len(want) {
		t.Fatalf("got %d records, want %d", len(records), len(want))
	}
	for i, rec := range records {
		if rec.Identifier != want[i] {
			t.Errorf("record %d identifier = %q, want %q", i, rec.Identifier, want[i])
		}
		if rec.Format != FormatH264 {
			t.Errorf("record %d format = %q, want %q", i, rec.Format, FormatH264)
		}
		if rec.Payload[len(rec.Payload)-1] != byte(i) {
			t.Errorf("record %d carries payload of another frame", i)
		}
	}

	info := w.Info()
	if info.State != StateStopped {
		t.Errorf("state = %s, want %s", info.State, StateStopped)
	}
	if info.Frames != 3 || info.LastIdentifier != "seq:3" {
		t.Errorf("info = %+v, want 3 frames ending at seq:3", info)
	}
}

func TestWorkerUsesPresentationTimestamp(t *testing.T) {
	opener := newFakeOpener()
	opener.sources[0] = &fakeSource{
		frames:         []Frame{{Payload: []byte{1}, PTS: 1000, DTS: ClockTimeNone}},
		endWhenDrained: true,
	}
	journal := newFakeJournal()

	w := newTestWorker(0, WorkerHooks{})
	if err := w.Start(context.Background(), opener.open, journal); err != nil {
		t.Fatal(err)
	}
	w.Wait(time.Second)

	records := journal.topicRecords(DefaultTopic(0))
	if len(records) != 1 || records[0].Identifier != "pts:1000" {
		t.Fatalf("records = %+v, want single pts:1000", records)
	}
}

func TestWorkerStampsRecordsWithCaptureTime(t *testing.T) {
	captured := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	opener := newFakeOpener()
	opener.sources[0] = &fakeSource{
		frames: []Frame{
			{Payload: []byte{1}, CaptureTime: captured, PTS: ClockTimeNone, DTS: ClockTimeNone},
			{Payload: []byte{2}, PTS: ClockTimeNone, DTS: ClockTimeNone},
		},
		endWhenDrained: true,
	}
	journal := newFakeJournal()

	before := time.Now()
	w := newTestWorker(0, WorkerHooks{})
	if err := w.Start(context.Background(), opener.open, journal); err != nil {
		t.Fatal(err)
	}
	w.Wait(time.Second)

	records := journal.topicRecords(DefaultTopic(0))
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if !records[0].Timestamp.Equal(captured) {
		t.Errorf("first timestamp = %v, want %v", records[0].Timestamp, captured)
	}
	if records[1].Timestamp.Before(before) {
		t.Errorf("second timestamp = %v, want write time", records[1].Timestamp)
	}
}

func TestWorkerStopIsIdempotent(t *testing.T) {
	opener := newFakeOpener()
	journal := newFakeJournal()

	w := newTestWorker(0, WorkerHooks{})
	if err := w.Start(context.Background(), opener.open, journal); err != nil {
		t.Fatal(err)
	}

	w.Stop()
	w.Stop()
	if !w.Wait(time.Second) {
		t.Fatal("worker did not stop")
	}
	w.Stop()

	if got := opener.sources[0].closes(); got != 1 {
		t.Errorf("source closed %d times, want 1", got)
	}
	if got := journal.sinkCloses[DefaultTopic(0)]; got != 1 {
		t.Errorf("sink closed %d times, want 1", got)
	}
}

func TestWorkerCancelDuringIdleWait(t *testing.T) {
	const idle = 300 * time.Millisecond

	opener := newFakeOpener()
	journal := newFakeJournal()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorker(WorkerConfig{Index: 0, Topic: "/t", IdleWait: idle, PullTimeout: time.Millisecond}, testLogger(), WorkerHooks{})
	if err := w.Start(ctx, opener.open, journal); err != nil {
		t.Fatal(err)
	}

	// Let the worker reach its first idle wait.
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	cancel()
	if !w.Wait(idle) {
		t.Fatalf("worker still running one idle interval after cancellation")
	}
	if elapsed := time.Since(start); elapsed > idle {
		t.Errorf("stop took %v, want under %v", elapsed, idle)
	}
	if w.Info().State != StateStopped {
		t.Errorf("state = %s, want stopped", w.Info().State)
	}
}

func TestWorkerStartFailure(t *testing.T) {
	opener := newFakeOpener()
	opener.failing[3] = true

	var mu sync.Mutex
	var changes []StateChange
	w := newTestWorker(3, WorkerHooks{
		OnStateChange: func(c StateChange) {
			mu.Lock()
			changes = append(changes, c)
			mu.Unlock()
		},
	})

	err := w.Start(context.Background(), opener.open, newFakeJournal())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Start() error = %v, want ErrDeviceUnavailable", err)
	}

	select {
	case <-w.Done():
	default:
		t.Fatal("Done not closed after failed start")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 || changes[0].From != StateStarting || changes[0].To != StateStopped {
		t.Errorf("transitions = %+v, want starting -> stopped", changes)
	}
	if !errors.Is(changes[0].Err, ErrDeviceUnavailable) {
		t.Errorf("transition error = %v, want ErrDeviceUnavailable", changes[0].Err)
	}
}

func TestWorkerWriteFailureStopsWorker(t *testing.T) {
	opener := newFakeOpener()
	opener.sources[0] = &fakeSource{frames: untimed(5)}
	journal := newFakeJournal()
	journal.failTopics[DefaultTopic(0)] = true

	w := newTestWorker(0, WorkerHooks{})
	if err := w.Start(context.Background(), opener.open, journal); err != nil {
		t.Fatal(err)
	}
	if !w.Wait(time.Second) {
		t.Fatal("worker did not stop after write failure")
	}

	info := w.Info()
	if !errors.Is(info.LastError, ErrWriteFailed) {
		t.Errorf("LastError = %v, want ErrWriteFailed", info.LastError)
	}
	if info.Frames != 0 {
		t.Errorf("Frames = %d, want 0", info.Frames)
	}
	if got := opener.sources[0].closes(); got != 1 {
		t.Errorf("source closed %d times, want 1", got)
	}
}

func TestWorkerStateTransitions(t *testing.T) {
	opener := newFakeOpener()
	opener.sources[0] = &fakeSource{frames: untimed(1), endWhenDrained: true}

	var mu sync.Mutex
	var got []State
	var recorded int
	w := newTestWorker(0, WorkerHooks{
		OnStateChange: func(c StateChange) {
			mu.Lock()
			got = append(got, c.To)
			mu.Unlock()
		},
		OnRecord: func(_ CameraIndex, _ Record) {
			mu.Lock()
			recorded++
			mu.Unlock()
		},
	})

	if err := w.Start(context.Background(), opener.open, newFakeJournal()); err != nil {
		t.Fatal(err)
	}
	w.Wait(time.Second)

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateRunning, StateDraining, StateStopped}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, got[i], want[i])
		}
	}
	if recorded != 1 {
		t.Errorf("OnRecord called %d times, want 1", recorded)
	}
}

func TestWorkerReportsStoppingError(t *testing.T) {
	ioErr := errors.New("read /dev/video0: input/output error")
	tests := []struct {
		name    string
		source  *fakeSource
		failing bool
		want    error
	}{
		{"pull error", &fakeSource{frames: untimed(1), failWith: ioErr}, false, ioErr},
		{"write error", &fakeSource{frames: untimed(1)}, true, ErrWriteFailed},
		{"source ended", &fakeSource{frames: untimed(1), endWhenDrained: true}, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener := newFakeOpener()
			opener.sources[0] = tt.source
			journal := newFakeJournal()
			journal.failTopics[DefaultTopic(0)] = tt.failing

			var mu sync.Mutex
			var draining *StateChange
			w := newTestWorker(0, WorkerHooks{
				OnStateChange: func(c StateChange) {
					if c.To == StateDraining {
						mu.Lock()
						draining = &c
						mu.Unlock()
					}
				},
			})
			if err := w.Start(context.Background(), opener.open, journal); err != nil {
				t.Fatal(err)
			}
			if !w.Wait(time.Second) {
				t.Fatal("worker did not stop")
			}

			mu.Lock()
			defer mu.Unlock()
			if draining == nil {
				t.Fatal("no change to draining")
			}
			if draining.From != StateRunning {
				t.Errorf("draining from %s, want running", draining.From)
			}
			switch {
			case tt.want == nil && draining.Err != nil:
				t.Errorf("draining error = %v, want nil", draining.Err)
			case tt.want != nil && !errors.Is(draining.Err, tt.want):
				t.Errorf("draining error = %v, want %v", draining.Err, tt.want)
			}
		})
	}
}
