package events

// Event type constants for kelindar/event.
const (
	TypeWorkerStateChanged uint32 = iota + 1
	TypeFrameLogged
	TypeSessionStarted
	TypeSessionStopped
	TypeCameraStartupFailed
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// WorkerStateChangedEvent is published on every capture worker transition.
type WorkerStateChangedEvent struct {
	SessionID string `json:"session_id" example:"0f8e2c1a-6a8b-4f59-9a1e-8d2f5f0c1b7e" doc:"Capture session identifier"`
	Camera    int    `json:"camera" example:"0" doc:"Camera index"`
	Topic     string `json:"topic" example:"/camera/0/image/compressed" doc:"Journal topic"`
	From      string `json:"from" example:"starting" doc:"Previous worker state"`
	To        string `json:"to" example:"running" doc:"New worker state"`
	Error     string `json:"error,omitempty" example:"write failed: disk full" doc:"Error that caused the transition"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for WorkerStateChangedEvent.
func (e WorkerStateChangedEvent) Type() uint32 { return TypeWorkerStateChanged }

// FrameLoggedEvent is published after a record was accepted by the journal.
// Payload is shared with the journal write and must not be modified.
type FrameLoggedEvent struct {
	Camera    int    `json:"camera" example:"0" doc:"Camera index"`
	Topic     string `json:"topic" example:"/camera/0/image/compressed" doc:"Journal topic"`
	FrameID   string `json:"frame_id" example:"seq:42" doc:"Frame identifier"`
	Format    string `json:"format" example:"h264" doc:"Payload format"`
	Keyframe  bool   `json:"keyframe" doc:"Whether the frame is independently decodable"`
	Size      int    `json:"size" example:"18342" doc:"Payload size in bytes"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00.123456789Z" doc:"Record timestamp"`
	Payload   []byte `json:"-"`
}

// Type returns the event type identifier for FrameLoggedEvent.
func (e FrameLoggedEvent) Type() uint32 { return TypeFrameLogged }

// SessionStartedEvent is published once the supervisor started its workers.
type SessionStartedEvent struct {
	SessionID     string   `json:"session_id" doc:"Capture session identifier"`
	Path          string   `json:"path" example:"recordings/camlog_20250127-103000.mcap" doc:"Journal file path"`
	Cameras       []int    `json:"cameras" doc:"Cameras with a running worker"`
	StartupErrors []string `json:"startup_errors,omitempty" doc:"Cameras that failed to start"`
	Timestamp     string   `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionStartedEvent.
func (e SessionStartedEvent) Type() uint32 { return TypeSessionStarted }

// SessionStoppedEvent is published after the journal of a session was closed.
type SessionStoppedEvent struct {
	SessionID string            `json:"session_id" doc:"Capture session identifier"`
	Path      string            `json:"path" doc:"Journal file path"`
	Reason    string            `json:"reason" example:"shutdown" doc:"Why the session ended: shutdown, reload, workers_exited"`
	Messages  map[string]uint64 `json:"messages,omitempty" doc:"Records written per topic"`
	Error     string            `json:"error,omitempty" doc:"Journal close error"`
	Timestamp string            `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionStoppedEvent.
func (e SessionStoppedEvent) Type() uint32 { return TypeSessionStopped }

// CameraStartupFailedEvent is published for each camera skipped at session start.
type CameraStartupFailedEvent struct {
	Camera    int    `json:"camera" example:"1" doc:"Camera index"`
	Error     string `json:"error" example:"device unavailable: /dev/video1: no such file or directory" doc:"Startup error"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraStartupFailedEvent.
func (e CameraStartupFailedEvent) Type() uint32 { return TypeCameraStartupFailed }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"capture" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
