package capture

import "time"

// State represents the lifecycle phase of a capture worker.
type State string

// Worker states. Transitions only move forward.
const (
	StateStarting State = "starting" // Opening source and sink
	StateRunning  State = "running"  // Pulling and writing frames
	StateDraining State = "draining" // Releasing source and sink
	StateStopped  State = "stopped"  // Terminal
)

func (s State) rank() int {
	switch s {
	case StateStarting:
		return 0
	case StateRunning:
		return 1
	case StateDraining:
		return 2
	default:
		return 3
	}
}

// WorkerInfo is a snapshot of a worker.
type WorkerInfo struct {
	Index          CameraIndex
	Topic          string
	State          State
	StartedAt      time.Time
	Frames         uint64
	Bytes          uint64
	LastIdentifier string
	LastError      error
}
