package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// DefaultStopTimeout bounds how long Stop waits for each worker.
const DefaultStopTimeout = 2 * time.Second

// DefaultTopic returns the journal topic for a camera.
func DefaultTopic(index CameraIndex) string {
	return fmt.Sprintf("/camera/%d/image/compressed", index)
}

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	OpenJournal JournalOpener
	OpenSource  SourceOpener

	// Topic maps a camera to its journal topic. Defaults to DefaultTopic.
	Topic func(CameraIndex) string

	IdleWait    time.Duration
	PullTimeout time.Duration
	StopTimeout time.Duration

	Logger *slog.Logger
	Hooks  WorkerHooks

	// OnStartupFailure is called for every camera skipped during Start.
	OnStartupFailure func(index CameraIndex, err error)

	// SessionID names the next session. A random UUID is used when empty.
	SessionID string
}

// Supervisor starts capture sessions.
type Supervisor struct {
	opts   SupervisorOptions
	logger *slog.Logger
}

// NewSupervisor creates a supervisor.
func NewSupervisor(opts SupervisorOptions) *Supervisor {
	if opts.Topic == nil {
		opts.Topic = DefaultTopic
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{opts: opts, logger: opts.Logger}
}

// Start opens the journal and starts one worker per camera index.
//
// If the journal cannot be opened no worker is started and the returned
// error wraps ErrJournalOpenFailed. A camera that fails to start is logged,
// recorded in the session's startup errors and skipped; the other cameras
// are unaffected. A session without any running worker is still returned.
func (s *Supervisor) Start(ctx context.Context, indices []CameraIndex) (*Session, error) {
	journal, err := s.opts.OpenJournal(ctx)
	if err != nil {
		if !errors.Is(err, ErrJournalOpenFailed) {
			err = fmt.Errorf("%w: %w", ErrJournalOpenFailed, err)
		}
		s.logger.Error("Failed to open journal", "error", err)
		return nil, err
	}

	id := s.opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	runCtx, cancel := context.WithCancel(ctx)
	session := &Session{
		id:          id,
		startedAt:   time.Now(),
		journal:     journal,
		cancel:      cancel,
		failed:      make(map[CameraIndex]error),
		stopTimeout: s.opts.StopTimeout,
		logger:      s.logger,
		done:        make(chan struct{}),
	}

	seen := make(map[CameraIndex]bool, len(indices))
	for _, index := range indices {
		if seen[index] {
			s.startupFailed(session, index, fmt.Errorf("camera %d: %w", index, ErrDuplicateCamera))
			continue
		}
		seen[index] = true

		worker := NewWorker(WorkerConfig{
			Index:       index,
			Topic:       s.opts.Topic(index),
			IdleWait:    s.opts.IdleWait,
			PullTimeout: s.opts.PullTimeout,
		}, s.logger, s.opts.Hooks)

		if err := worker.Start(runCtx, s.opts.OpenSource, journal); err != nil {
			s.startupFailed(session, index, err)
			continue
		}
		session.workers = append(session.workers, worker)
	}

	go session.watch()

	s.logger.Info("Capture session started",
		"session_id", session.id,
		"workers", len(session.workers),
		"failed", len(session.failed))
	return session, nil
}

func (s *Supervisor) startupFailed(session *Session, index CameraIndex, err error) {
	s.logger.Error("Camera failed to start, skipping", "camera", int(index), "error", err)
	session.failed[index] = err
	session.startupErrs = multierror.Append(session.startupErrs, err)
	if s.opts.OnStartupFailure != nil {
		s.opts.OnStartupFailure(index, err)
	}
}

// Session is one run of the supervisor. It is torn down exactly once.
type Session struct {
	id          string
	startedAt   time.Time
	journal     Journal
	cancel      context.CancelFunc
	workers     []*Worker
	failed      map[CameraIndex]error
	startupErrs *multierror.Error
	stopTimeout time.Duration
	logger      *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
	closeErr error
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// StartedAt returns when the session started.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// Workers returns a snapshot of every started worker.
func (s *Session) Workers() []WorkerInfo {
	infos := make([]WorkerInfo, 0, len(s.workers))
	for _, w := range s.workers {
		infos = append(infos, w.Info())
	}
	return infos
}

// Running returns the number of workers that have not stopped yet.
func (s *Session) Running() int {
	n := 0
	for _, w := range s.workers {
		select {
		case <-w.Done():
		default:
			n++
		}
	}
	return n
}

// StartupErrors returns the aggregated per-camera startup failures, or nil.
func (s *Session) StartupErrors() error {
	return s.startupErrs.ErrorOrNil()
}

// FailedCameras returns the startup failure of every skipped camera.
func (s *Session) FailedCameras() map[CameraIndex]error {
	out := make(map[CameraIndex]error, len(s.failed))
	for k, v := range s.failed {
		out[k] = v
	}
	return out
}

// Done is closed once every worker has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until every worker has stopped or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels every worker, waits for each up to the stop timeout and
// closes the journal. Workers that do not stop in time are abandoned; any
// write they attempt afterwards fails against the closed journal. Stop is
// idempotent and returns the journal close error of the first call.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping capture session", "session_id", s.id)
		s.cancel()
		for _, w := range s.workers {
			w.Stop()
		}
		for _, w := range s.workers {
			if !w.Wait(s.stopTimeout) {
				s.logger.Warn("Worker did not stop in time, abandoning",
					"camera", int(w.Index()),
					"timeout", s.stopTimeout)
			}
		}
		s.closeErr = s.journal.Close()
		if s.closeErr != nil {
			s.logger.Error("Failed to close journal", "error", s.closeErr)
		}
		s.logger.Info("Capture session stopped", "session_id", s.id)
	})
	return s.closeErr
}

func (s *Session) watch() {
	for _, w := range s.workers {
		<-w.Done()
	}
	close(s.done)
}
