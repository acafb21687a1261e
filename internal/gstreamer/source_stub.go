//go:build !gstreamer

package gstreamer

import (
	"context"
	"log/slog"
	"time"

	"github.com/smazurov/camlog/internal/capture"
)

// Available reports whether GStreamer support is compiled in.
func Available() bool { return false }

// Source is unavailable without the gstreamer build tag.
type Source struct{}

// Open always fails with ErrUnavailable.
func Open(_ context.Context, _ string, _ time.Duration, _ *slog.Logger) (*Source, error) {
	return nil, ErrUnavailable
}

// Pull always reports a closed source.
func (s *Source) Pull(time.Duration) (capture.Frame, bool, error) {
	return capture.Frame{}, false, capture.ErrSourceClosed
}

// Close is a no-op.
func (s *Source) Close() error { return nil }
