package capture

import (
	"context"
	"time"
)

// Source produces encoded frames for one camera.
//
// Pull waits at most timeout for a frame. It returns ok=false with a nil
// error when nothing arrived in time. After Close, or once the underlying
// pipeline has ended, Pull returns an error wrapping ErrSourceClosed.
// Close is idempotent.
type Source interface {
	Pull(timeout time.Duration) (frame Frame, ok bool, err error)
	Close() error
}

// SourceOpener opens the source for a camera. Failures wrap ErrDeviceUnavailable.
type SourceOpener func(ctx context.Context, index CameraIndex) (Source, error)

// Sink appends records to one topic of a journal.
type Sink interface {
	Write(rec Record) error
	Close() error
}

// Journal is the session-wide output shared by every sink. Implementations
// serialize writes internally; callers add no locking.
type Journal interface {
	OpenSink(topic string) (Sink, error)
	Close() error
}

// JournalOpener creates the journal for a new session.
type JournalOpener func(ctx context.Context) (Journal, error)
