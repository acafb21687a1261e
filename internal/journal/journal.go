package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/foxglove/mcap/go/mcap"

	"github.com/smazurov/camlog/internal/capture"
)

// Compression names accepted by Options.
const (
	CompressionZSTD = "zstd"
	CompressionLZ4  = "lz4"
	CompressionNone = "none"
)

// DefaultChunkSize is the uncompressed chunk size target.
const DefaultChunkSize = 4 * 1024 * 1024

// Options configures a journal file.
type Options struct {
	Path           string
	AllowOverwrite bool
	Compression    string // zstd when empty
	ChunkSize      int64
	Library        string // recorded in the MCAP header
	Logger         *slog.Logger
}

// Journal is one MCAP file shared by every camera of a session.
// All methods are safe for concurrent use.
type Journal struct {
	path   string
	logger *slog.Logger

	mu        sync.Mutex
	file      *os.File
	buf       *bufio.Writer
	writer    *mcap.Writer
	channels  map[string]*channel
	nextID    uint16
	closed    bool
	closeErr  error
	closeOnce sync.Once
}

type channel struct {
	id       uint16
	sequence uint32
	messages uint64
}

const schemaID uint16 = 1

// Open creates the journal file and writes the MCAP header and schema.
// Failures wrap capture.ErrJournalOpenFailed.
func Open(opts Options) (*Journal, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: empty path", capture.ErrJournalOpenFailed)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	compression, err := compressionFormat(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrJournalOpenFailed, err)
	}

	if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", capture.ErrJournalOpenFailed, err)
		}
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !opts.AllowOverwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	file, err := os.OpenFile(opts.Path, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s already exists (use --overwrite to replace it)", capture.ErrJournalOpenFailed, opts.Path)
		}
		return nil, fmt.Errorf("%w: %v", capture.ErrJournalOpenFailed, err)
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	buf := bufio.NewWriterSize(file, 1<<20)
	writer, err := mcap.NewWriter(buf, &mcap.WriterOptions{
		Chunked:     true,
		ChunkSize:   chunkSize,
		Compression: compression,
		IncludeCRC:  true,
	})
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", capture.ErrJournalOpenFailed, err)
	}

	j := &Journal{
		path:     opts.Path,
		logger:   opts.Logger,
		file:     file,
		buf:      buf,
		writer:   writer,
		channels: make(map[string]*channel),
		nextID:   1,
	}

	if err := j.writePreamble(opts.Library); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", capture.ErrJournalOpenFailed, err)
	}

	j.logger.Info("Journal opened", "path", opts.Path, "compression", string(compression))
	return j, nil
}

func (j *Journal) writePreamble(library string) error {
	if err := j.writer.WriteHeader(&mcap.Header{Library: library}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := j.writer.WriteSchema(&mcap.Schema{
		ID:       schemaID,
		Name:     SchemaName,
		Encoding: "jsonschema",
		Data:     compressedVideoSchema,
	}); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	return nil
}

func compressionFormat(name string) (mcap.CompressionFormat, error) {
	switch name {
	case "", CompressionZSTD:
		return mcap.CompressionZSTD, nil
	case CompressionLZ4:
		return mcap.CompressionLZ4, nil
	case CompressionNone:
		return mcap.CompressionNone, nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

// Path returns the file path.
func (j *Journal) Path() string {
	return j.path
}

// OpenSink registers a channel for topic. Opening the same topic twice
// returns sinks sharing one channel.
func (j *Journal) OpenSink(topic string) (capture.Sink, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil, fmt.Errorf("%w: journal closed", capture.ErrWriteFailed)
	}

	if _, ok := j.channels[topic]; !ok {
		ch := &channel{id: j.nextID}
		if err := j.writer.WriteChannel(&mcap.Channel{
			ID:              ch.id,
			SchemaID:        schemaID,
			Topic:           topic,
			MessageEncoding: MessageEncoding,
			Metadata:        map[string]string{},
		}); err != nil {
			return nil, fmt.Errorf("%w: register channel %s: %v", capture.ErrWriteFailed, topic, err)
		}
		j.nextID++
		j.channels[topic] = ch
	}

	return &sink{journal: j, topic: topic}, nil
}

// WriteMetadata appends a named metadata record.
func (j *Journal) WriteMetadata(name string, values map[string]string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return fmt.Errorf("%w: journal closed", capture.ErrWriteFailed)
	}
	if err := j.writer.WriteMetadata(&mcap.Metadata{Name: name, Metadata: values}); err != nil {
		return fmt.Errorf("%w: %v", capture.ErrWriteFailed, err)
	}
	return nil
}

// write appends one record to its topic's channel.
func (j *Journal) write(rec capture.Record) error {
	body, err := json.Marshal(CompressedVideo{
		Timestamp: newTimestamp(rec.Timestamp),
		FrameID:   rec.Identifier,
		Data:      rec.Payload,
		Format:    rec.Format,
	})
	if err != nil {
		return fmt.Errorf("%w: encode: %v", capture.ErrWriteFailed, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return fmt.Errorf("%w: journal closed, record %s on %s dropped", capture.ErrWriteFailed, rec.Identifier, rec.Topic)
	}

	ch, ok := j.channels[rec.Topic]
	if !ok {
		return fmt.Errorf("%w: no channel for topic %s", capture.ErrWriteFailed, rec.Topic)
	}

	ch.sequence++
	logTime := uint64(rec.Timestamp.UnixNano())
	if err := j.writer.WriteMessage(&mcap.Message{
		ChannelID:   ch.id,
		Sequence:    ch.sequence,
		LogTime:     logTime,
		PublishTime: logTime,
		Data:        body,
	}); err != nil {
		return fmt.Errorf("%w: %v", capture.ErrWriteFailed, err)
	}
	ch.messages++
	return nil
}

// Counts returns the number of messages written per topic.
func (j *Journal) Counts() map[string]uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]uint64, len(j.channels))
	for topic, ch := range j.channels {
		out[topic] = ch.messages
	}
	return out
}

// Close finalizes the summary section and closes the file. Later calls
// return the result of the first.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		j.closed = true

		err := j.writer.Close()
		if ferr := j.buf.Flush(); err == nil {
			err = ferr
		}
		if cerr := j.file.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			j.closeErr = fmt.Errorf("close journal %s: %w", j.path, err)
			j.logger.Error("Failed to finalize journal", "path", j.path, "error", err)
			return
		}

		total := uint64(0)
		for _, ch := range j.channels {
			total += ch.messages
		}
		j.logger.Info("Journal closed", "path", j.path, "messages", total)
	})
	return j.closeErr
}

// sink is a capture.Sink bound to one topic.
type sink struct {
	journal *Journal
	topic   string
}

func (s *sink) Write(rec capture.Record) error {
	if rec.Topic == "" {
		rec.Topic = s.topic
	}
	if rec.Topic != s.topic {
		return fmt.Errorf("%w: record for %s written to sink %s", capture.ErrWriteFailed, rec.Topic, s.topic)
	}
	return s.journal.write(rec)
}

// Close is a no-op; the channel lives until the journal closes.
func (s *sink) Close() error {
	return nil
}

// Opener returns a capture.JournalOpener that opens a journal with opts.
// onOpen, when set, receives the journal before any worker starts.
func Opener(opts Options, onOpen func(*Journal)) capture.JournalOpener {
	return func(_ context.Context) (capture.Journal, error) {
		j, err := Open(opts)
		if err != nil {
			return nil, err
		}
		if onOpen != nil {
			onOpen(j)
		}
		return j, nil
	}
}

// SessionMetadata builds the camlog.session metadata record.
func SessionMetadata(sessionID string, started time.Time, cameras []capture.CameraIndex, backend, platform, version string) map[string]string {
	list := make([]int, len(cameras))
	for i, c := range cameras {
		list[i] = int(c)
	}
	encoded, _ := json.Marshal(list)
	return map[string]string{
		"session_id": sessionID,
		"started_at": started.UTC().Format(time.RFC3339Nano),
		"cameras":    string(encoded),
		"backend":    backend,
		"platform":   platform,
		"version":    version,
	}
}
