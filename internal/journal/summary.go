package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/foxglove/mcap/go/mcap"

	"github.com/smazurov/camlog/internal/h264"
)

// TopicSummary describes the messages recorded on one topic.
type TopicSummary struct {
	Topic           string    `json:"topic"`
	Schema          string    `json:"schema"`
	Messages        uint64    `json:"messages"`
	Bytes           uint64    `json:"bytes"`
	Keyframes       uint64    `json:"keyframes"`
	FirstLogTime    time.Time `json:"first_log_time"`
	LastLogTime     time.Time `json:"last_log_time"`
	FirstIdentifier string    `json:"first_identifier"`
	LastIdentifier  string    `json:"last_identifier"`
}

// Summary describes a journal file.
type Summary struct {
	Path     string                       `json:"path"`
	Library  string                       `json:"library"`
	Topics   []TopicSummary               `json:"topics"`
	Metadata map[string]map[string]string `json:"metadata,omitempty"`

	// Finalized is false when the file has no summary section, e.g. after a crash.
	Finalized bool `json:"finalized"`
}

// Summarize reads every message of the file at path.
func Summarize(path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader, err := mcap.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	summary := &Summary{Path: path}
	if reader.Header() != nil {
		summary.Library = reader.Header().Library
	}

	it, err := reader.Messages(mcap.UsingIndex(false))
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	topics := make(map[string]*TopicSummary)
	for {
		schema, ch, msg, err := it.Next(nil)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Truncated files still summarize what was readable
			if errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("read message: %w", err)
		}

		ts, ok := topics[ch.Topic]
		if !ok {
			ts = &TopicSummary{Topic: ch.Topic}
			if schema != nil {
				ts.Schema = schema.Name
			}
			topics[ch.Topic] = ts
		}

		logTime := time.Unix(0, int64(msg.LogTime))
		if ts.Messages == 0 {
			ts.FirstLogTime = logTime
		}
		ts.LastLogTime = logTime
		ts.Messages++

		if body, err := DecodeMessage(msg.Data); err == nil {
			if ts.FirstIdentifier == "" {
				ts.FirstIdentifier = body.FrameID
			}
			ts.LastIdentifier = body.FrameID
			ts.Bytes += uint64(len(body.Data))
			if h264.IsKeyframe(body.Data) {
				ts.Keyframes++
			}
		}
	}

	for _, ts := range topics {
		summary.Topics = append(summary.Topics, *ts)
	}
	sort.Slice(summary.Topics, func(i, k int) bool { return summary.Topics[i].Topic < summary.Topics[k].Topic })

	summary.Metadata, summary.Finalized = readMetadata(reader)
	return summary, nil
}

// readMetadata loads metadata records through the summary index.
func readMetadata(reader *mcap.Reader) (map[string]map[string]string, bool) {
	info, err := reader.Info()
	if err != nil {
		return nil, false
	}
	out := make(map[string]map[string]string)
	for _, idx := range info.MetadataIndexes {
		md, err := reader.GetMetadata(idx.Offset)
		if err != nil {
			continue
		}
		out[md.Name] = md.Metadata
	}
	return out, true
}
