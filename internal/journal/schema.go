package journal

import (
	"encoding/json"
	"time"
)

// SchemaName is the foxglove message schema every camera channel uses.
const SchemaName = "foxglove.CompressedVideo"

// MessageEncoding is the channel message encoding.
const MessageEncoding = "json"

// SessionMetadataName names the metadata record describing a capture session.
const SessionMetadataName = "camlog.session"

// compressedVideoSchema is the JSON Schema for foxglove.CompressedVideo.
var compressedVideoSchema = []byte(`{
  "title": "foxglove.CompressedVideo",
  "description": "A single frame of a compressed video bitstream",
  "type": "object",
  "properties": {
    "timestamp": {
      "type": "object",
      "title": "time",
      "properties": {
        "sec": {"type": "integer", "minimum": 0},
        "nsec": {"type": "integer", "minimum": 0, "maximum": 999999999}
      }
    },
    "frame_id": {"type": "string"},
    "data": {"type": "string", "contentEncoding": "base64"},
    "format": {"type": "string"}
  }
}`)

// Timestamp is a foxglove time value.
type Timestamp struct {
	Sec  uint32 `json:"sec"`
	Nsec uint32 `json:"nsec"`
}

// CompressedVideo is the JSON message body. Data is base64 encoded by encoding/json.
type CompressedVideo struct {
	Timestamp Timestamp `json:"timestamp"`
	FrameID   string    `json:"frame_id"`
	Data      []byte    `json:"data"`
	Format    string    `json:"format"`
}

func newTimestamp(t time.Time) Timestamp {
	return Timestamp{Sec: uint32(t.Unix()), Nsec: uint32(t.Nanosecond())}
}

// Time converts the timestamp back to wall clock time.
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t.Sec), int64(t.Nsec))
}

// DecodeMessage parses a channel message body.
func DecodeMessage(data []byte) (CompressedVideo, error) {
	var msg CompressedVideo
	err := json.Unmarshal(data, &msg)
	return msg, err
}
