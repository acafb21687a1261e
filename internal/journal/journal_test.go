package journal

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camlog/internal/capture"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var idrUnit = []byte{0, 0, 0, 1, 0x09, 0xf0, 0, 0, 0, 1, 0x65, 0x88, 0x84}

func record(topic, id string, ts time.Time) capture.Record {
	return capture.Record{
		Topic:      topic,
		Identifier: id,
		Timestamp:  ts,
		Format:     capture.FormatH264,
		Payload:    idrUnit,
	}
}

func openTemp(t *testing.T, opts Options) *Journal {
	t.Helper()
	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "session.mcap")
	}
	opts.Logger = testLogger()
	j, err := Open(opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return j
}

func TestJournalRoundTrip(t *testing.T) {
	j := openTemp(t, Options{Library: "camlog/test"})

	a, err := j.OpenSink("/camera/0/image/compressed")
	if err != nil {
		t.Fatalf("OpenSink() error = %v", err)
	}
	b, err := j.OpenSink("/camera/1/image/compressed")
	if err != nil {
		t.Fatalf("OpenSink() error = %v", err)
	}

	base := time.Unix(1700000000, 0)
	for i, id := range []string{"seq:1", "seq:2", "seq:3"} {
		if err := a.Write(record("/camera/0/image/compressed", id, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := b.Write(record("/camera/1/image/compressed", "pts:1000", base)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if err := j.WriteMetadata(SessionMetadataName, SessionMetadata("abc", base, []capture.CameraIndex{0, 1}, "ffmpeg", "test", "dev")); err != nil {
		t.Fatalf("WriteMetadata() error = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	summary, err := Summarize(j.Path())
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if !summary.Finalized {
		t.Error("closed journal should be finalized")
	}
	if len(summary.Topics) != 2 {
		t.Fatalf("topics = %+v, want 2", summary.Topics)
	}

	cam0 := summary.Topics[0]
	if cam0.Topic != "/camera/0/image/compressed" || cam0.Messages != 3 {
		t.Errorf("camera 0 summary = %+v", cam0)
	}
	if cam0.FirstIdentifier != "seq:1" || cam0.LastIdentifier != "seq:3" {
		t.Errorf("camera 0 identifiers = %s..%s", cam0.FirstIdentifier, cam0.LastIdentifier)
	}
	if cam0.Schema != SchemaName || cam0.Keyframes != 3 || cam0.Bytes != uint64(3*len(idrUnit)) {
		t.Errorf("camera 0 summary = %+v", cam0)
	}
	if !cam0.FirstLogTime.Equal(base) || !cam0.LastLogTime.Equal(base.Add(2*time.Second)) {
		t.Errorf("camera 0 log times = %v..%v", cam0.FirstLogTime, cam0.LastLogTime)
	}

	if got := summary.Topics[1].FirstIdentifier; got != "pts:1000" {
		t.Errorf("camera 1 identifier = %q", got)
	}

	md := summary.Metadata[SessionMetadataName]
	if md["session_id"] != "abc" || md["cameras"] != "[0,1]" || md["backend"] != "ffmpeg" {
		t.Errorf("session metadata = %v", md)
	}
}

func TestOpenRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taken.mcap")
	if err := os.WriteFile(path, []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(Options{Path: path, Logger: testLogger()})
	if !errors.Is(err, capture.ErrJournalOpenFailed) {
		t.Fatalf("Open() error = %v, want ErrJournalOpenFailed", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "keep me" {
		t.Error("existing file was modified")
	}

	j := openTemp(t, Options{Path: path, AllowOverwrite: true})
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "s.mcap")
	j := openTemp(t, Options{Path: path, Compression: CompressionNone})
	defer j.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("journal file missing: %v", err)
	}
}

func TestOpenRejectsUnknownCompression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.mcap")
	if _, err := Open(Options{Path: path, Compression: "brotli", Logger: testLogger()}); !errors.Is(err, capture.ErrJournalOpenFailed) {
		t.Errorf("Open() error = %v, want ErrJournalOpenFailed", err)
	}
}

func TestWriteAfterCloseIsDropped(t *testing.T) {
	j := openTemp(t, Options{Compression: CompressionLZ4})
	s, err := j.OpenSink("/t")
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	if err := s.Write(record("/t", "seq:1", time.Now())); !errors.Is(err, capture.ErrWriteFailed) {
		t.Errorf("Write() after Close error = %v, want ErrWriteFailed", err)
	}
	if _, err := j.OpenSink("/u"); !errors.Is(err, capture.ErrWriteFailed) {
		t.Errorf("OpenSink() after Close error = %v, want ErrWriteFailed", err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestSinkRejectsForeignTopic(t *testing.T) {
	j := openTemp(t, Options{})
	defer j.Close()

	s, _ := j.OpenSink("/a")
	if err := s.Write(record("/b", "seq:1", time.Now())); !errors.Is(err, capture.ErrWriteFailed) {
		t.Errorf("Write() error = %v, want ErrWriteFailed", err)
	}
}

func TestConcurrentWritersKeepPerTopicOrder(t *testing.T) {
	j := openTemp(t, Options{})

	const perTopic = 50
	topics := []string{"/camera/0/image/compressed", "/camera/1/image/compressed", "/camera/2/image/compressed"}

	var wg sync.WaitGroup
	for _, topic := range topics {
		s, err := j.OpenSink(topic)
		if err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func(topic string, s capture.Sink) {
			defer wg.Done()
			for i := 1; i <= perTopic; i++ {
				id, _ := capture.Identify(capture.UntimedFrame(nil), uint64(i-1))
				if err := s.Write(record(topic, id, time.Now())); err != nil {
					t.Errorf("Write() error = %v", err)
					return
				}
			}
		}(topic, s)
	}
	wg.Wait()

	if got := j.Counts(); got[topics[1]] != perTopic {
		t.Errorf("Counts() = %v", got)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	summary, err := Summarize(j.Path())
	if err != nil {
		t.Fatal(err)
	}
	for _, ts := range summary.Topics {
		if ts.Messages != perTopic || ts.FirstIdentifier != "seq:1" || ts.LastIdentifier != "seq:50" {
			t.Errorf("topic summary = %+v", ts)
		}
	}
}
