//go:build gstreamer

package gstreamer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/smazurov/camlog/internal/capture"
	"github.com/smazurov/camlog/internal/h264"
)

var initOnce sync.Once

// Available reports whether GStreamer support is compiled in.
func Available() bool { return true }

// Source pulls encoded access units from an appsink.
type Source struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	bus      *gst.Bus
	logger   *slog.Logger

	mu        sync.Mutex // serializes Pull with Close
	closed    bool
	closeOnce sync.Once
}

// Open parses the pipeline description, sets it to PLAYING and waits up to
// startTimeout for the pipeline to come up. Errors wrap capture.ErrDeviceUnavailable.
func Open(ctx context.Context, description string, startTimeout time.Duration, logger *slog.Logger) (*Source, error) {
	initOnce.Do(func() { gst.Init(nil) })

	pipeline, err := gst.NewPipelineFromString(description)
	if err != nil {
		return nil, fmt.Errorf("%w: parse pipeline: %v", capture.ErrDeviceUnavailable, err)
	}

	elem, err := pipeline.GetElementByName(SinkName)
	if err != nil {
		return nil, fmt.Errorf("%w: appsink %q not found: %v", capture.ErrDeviceUnavailable, SinkName, err)
	}

	s := &Source{
		pipeline: pipeline,
		sink:     app.SinkFromElement(elem),
		bus:      pipeline.GetPipelineBus(),
		logger:   logger,
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		s.teardown()
		return nil, fmt.Errorf("%w: start pipeline: %v", capture.ErrDeviceUnavailable, err)
	}

	if err := s.waitPlaying(ctx, startTimeout); err != nil {
		s.teardown()
		return nil, err
	}

	logger.Info("Pipeline playing", "pipeline", description)
	return s, nil
}

func (s *Source) waitPlaying(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, ctx.Err())
		}

		msg := s.bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			s.logger.Debug("Pipeline error during start", "debug", gerr.DebugString())
			return fmt.Errorf("%w: %s", capture.ErrDeviceUnavailable, gerr.Error())
		case gst.MessageEOS:
			return fmt.Errorf("%w: end of stream before first frame", capture.ErrDeviceUnavailable)
		case gst.MessageStateChanged:
			if msg.Source() != s.pipeline.GetName() {
				continue
			}
			_, newState := msg.ParseStateChanged()
			if newState == gst.StatePlaying {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: pipeline did not reach PLAYING within %s", capture.ErrDeviceUnavailable, timeout)
}

// Pull waits up to timeout for the next access unit.
func (s *Source) Pull(timeout time.Duration) (capture.Frame, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return capture.Frame{}, false, capture.ErrSourceClosed
	}

	sample := s.sink.TryPullSample(timeout)
	if sample == nil {
		if s.sink.IsEOS() {
			return capture.Frame{}, false, fmt.Errorf("%w: end of stream", capture.ErrSourceClosed)
		}
		if err := s.pendingError(); err != nil {
			return capture.Frame{}, false, err
		}
		return capture.Frame{}, false, nil
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return capture.Frame{}, false, nil
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return capture.Frame{}, false, nil
	}

	// GStreamer reuses the buffer after Unmap
	payload := make([]byte, len(data))
	copy(payload, data)
	buffer.Unmap()

	return capture.Frame{
		Payload:     payload,
		CaptureTime: time.Now(),
		PTS:         clockTime(buffer.PresentationTimestamp()),
		DTS:         clockTime(buffer.DecodingTimestamp()),
		Keyframe:    h264.IsKeyframe(payload),
	}, true, nil
}

// pendingError drains the bus without blocking and reports a pipeline error.
func (s *Source) pendingError() error {
	for {
		msg := s.bus.TimedPop(0)
		if msg == nil {
			return nil
		}
		if msg.Type() == gst.MessageError {
			gerr := msg.ParseError()
			s.logger.Error("Pipeline error", "error", gerr.Error(), "debug", gerr.DebugString())
			return fmt.Errorf("%w: %s", capture.ErrSourceClosed, gerr.Error())
		}
	}
}

// Close stops the pipeline. Safe to call more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.teardown()
	})
	return nil
}

func (s *Source) teardown() {
	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		s.logger.Warn("Failed to stop pipeline", "error", err)
	}
}

func clockTime(d time.Duration) capture.ClockTime {
	if d < 0 {
		return capture.ClockTimeNone
	}
	return capture.ClockTime(d)
}
