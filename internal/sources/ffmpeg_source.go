package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/camlog/internal/capture"
	"github.com/smazurov/camlog/internal/ffmpeg"
	"github.com/smazurov/camlog/internal/h264"
	"github.com/smazurov/camlog/internal/process"
)

// ffmpegSource reads access units from an ffmpeg subprocess writing Annex-B
// H.264 to stdout. At most one frame is pending between the reader and Pull.
type ffmpegSource struct {
	proc      *process.Process
	logger    *slog.Logger
	frames    chan capture.Frame
	ready     chan struct{}
	exited    chan struct{}
	closed    chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
	exitCode  int
	stderr    *stderrTail

	// dropStale replaces a pending frame nobody pulled yet with the newer one.
	dropStale bool
}

type ffmpegOptions struct {
	id           string
	command      string
	startTimeout time.Duration
	dropStale    bool
	logger       *slog.Logger // source lifecycle
	outputLogger *slog.Logger // subprocess stderr
}

// openFFmpeg starts the command and waits for its first access unit.
func openFFmpeg(ctx context.Context, opts ffmpegOptions) (*ffmpegSource, error) {
	s := &ffmpegSource{
		logger:    opts.logger,
		frames:    make(chan capture.Frame, 1),
		ready:     make(chan struct{}),
		exited:    make(chan struct{}),
		closed:    make(chan struct{}),
		stderr:    &stderrTail{},
		dropStale: opts.dropStale,
	}

	s.proc = process.NewProcessWithOutput(opts.id, opts.command, opts.logger, s.stderr)
	s.proc.SetLogParser(opts.outputLogger, ffmpeg.ParseLogLevel)
	s.proc.SetStdoutHandler(s.readStream)
	s.proc.SetTimeouts(2*time.Second, time.Second)

	go func() {
		s.exitCode = s.proc.Run()
		close(s.exited)
	}()

	timer := time.NewTimer(opts.startTimeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		s.logger.Info("Capture started", "id", opts.id, "pid", s.proc.Pid())
		return s, nil
	case <-s.exited:
		select {
		case <-s.ready:
			// Short stream that already ended; Pull reports the rest
			return s, nil
		default:
		}
		return nil, fmt.Errorf("%w: %s exited with code %d before the first frame%s",
			capture.ErrDeviceUnavailable, opts.id, s.exitCode, s.stderr.suffix())
	case <-timer.C:
		s.Close()
		return nil, fmt.Errorf("%w: no frame from %s within %s%s",
			capture.ErrDeviceUnavailable, opts.id, opts.startTimeout, s.stderr.suffix())
	case <-ctx.Done():
		s.Close()
		return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, ctx.Err())
	}
}

// readStream runs on the process stdout until EOF.
func (s *ffmpegSource) readStream(r io.Reader) {
	defer close(s.frames)
	// Keep the pipe drained so the process can exit
	defer io.Copy(io.Discard, r) //nolint:errcheck

	reader, err := h264.NewReader(r)
	if err != nil {
		s.logger.Error("Failed to read capture output", "error", err)
		return
	}

	for {
		au, err := reader.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("Capture stream ended", "error", err)
			}
			return
		}

		frame := capture.UntimedFrame(au.Data)
		frame.Keyframe = au.Keyframe

		s.readyOnce.Do(func() { close(s.ready) })
		if !s.push(frame) {
			return
		}
	}
}

// push hands a frame to Pull. It returns false once the source is closed.
func (s *ffmpegSource) push(frame capture.Frame) bool {
	if s.dropStale {
		for {
			select {
			case s.frames <- frame:
				return true
			case <-s.closed:
				return false
			default:
			}
			select {
			case <-s.frames:
			default:
			}
		}
	}

	select {
	case s.frames <- frame:
		return true
	case <-s.closed:
		return false
	}
}

// Pull waits up to timeout for the next access unit.
func (s *ffmpegSource) Pull(timeout time.Duration) (capture.Frame, bool, error) {
	select {
	case <-s.closed:
		return capture.Frame{}, false, capture.ErrSourceClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame, ok := <-s.frames:
		if !ok {
			<-s.exited
			return capture.Frame{}, false, fmt.Errorf("%w: capture process exited with code %d%s",
				capture.ErrSourceClosed, s.exitCode, s.stderr.suffix())
		}
		return frame, true, nil
	case <-s.closed:
		return capture.Frame{}, false, capture.ErrSourceClosed
	case <-timer.C:
		return capture.Frame{}, false, nil
	}
}

// Close stops the subprocess and waits for it to exit. Safe to call more than once.
func (s *ffmpegSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.proc.Shutdown()
		<-s.exited
		s.logger.Debug("Capture process stopped", "exit_code", s.exitCode)
	})
	return nil
}

// stderrTail keeps the last error reported on stderr.
type stderrTail struct {
	mu   sync.Mutex
	last string
}

func (t *stderrTail) HandleLine(source, line string) {
	if source != "stderr" {
		return
	}
	level, msg := ffmpeg.ParseLogLevel(line)
	if level < slog.LevelError {
		return
	}
	t.mu.Lock()
	t.last = strings.TrimSpace(msg)
	t.mu.Unlock()
}

func (t *stderrTail) suffix() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == "" {
		return ""
	}
	return ": " + t.last
}
