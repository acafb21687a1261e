package capture

import (
	"strconv"
	"time"
)

// FormatH264 is the format tag stored with every record.
const FormatH264 = "h264"

// CameraIndex identifies a camera device. Unique per worker.
type CameraIndex int

func (i CameraIndex) String() string {
	return strconv.Itoa(int(i))
}

// ClockTime is a pipeline timestamp in nanoseconds.
type ClockTime int64

// ClockTimeNone marks an absent pipeline timestamp.
const ClockTimeNone ClockTime = -1

// Valid reports whether the timestamp is present.
func (t ClockTime) Valid() bool {
	return t >= 0
}

// Frame is one encoded unit pulled from a Source. CaptureTime becomes the
// record timestamp; a zero CaptureTime means the time of the write.
type Frame struct {
	Payload     []byte
	CaptureTime time.Time
	PTS         ClockTime
	DTS         ClockTime
	Keyframe    bool
}

// UntimedFrame returns a frame without pipeline timestamps.
func UntimedFrame(payload []byte) Frame {
	return Frame{
		Payload:     payload,
		CaptureTime: time.Now(),
		PTS:         ClockTimeNone,
		DTS:         ClockTimeNone,
	}
}

// Record is the unit appended to a journal.
type Record struct {
	Topic      string
	Identifier string
	Timestamp  time.Time
	Format     string
	Payload    []byte
	Keyframe   bool
}
