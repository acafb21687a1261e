package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/camlog/internal/capture"
	"github.com/smazurov/camlog/internal/events"
	"github.com/smazurov/camlog/internal/journal"
	"github.com/smazurov/camlog/internal/metrics"
)

// SingleCameraTopic is the default topic when only one camera records.
const SingleCameraTopic = "/camera/image/compressed"

// Stop reasons reported in SessionStoppedEvent.
const (
	ReasonShutdown      = "shutdown"
	ReasonReload        = "reload"
	ReasonRestart       = "restart"
	ReasonHotplug       = "hotplug"
	ReasonWorkersExited = "workers_exited"
	ReasonNoCameras     = "no_cameras"
)

var (
	// ErrNoCameras is returned when a plan names no camera.
	ErrNoCameras = errors.New("no cameras configured")
	// ErrNoViableCamera is returned when every camera of a session failed to start.
	ErrNoViableCamera = errors.New("no camera could be started")
	// ErrRecorderClosed is returned by Start and Restart after a shutdown stop.
	ErrRecorderClosed = errors.New("recorder shut down")
	// ErrTopicConflict is returned when two cameras resolve to the same topic.
	ErrTopicConflict = errors.New("topic used by more than one camera")
)

// Plan describes one session: which cameras to open and how.
type Plan struct {
	Cameras    []capture.CameraIndex
	OpenSource capture.SourceOpener

	// TopicPattern expands {index}. When empty a single camera records to
	// SingleCameraTopic and several cameras use capture.DefaultTopic.
	TopicPattern string
	// Topics overrides the topic of individual cameras.
	Topics map[capture.CameraIndex]string

	// Devices maps cameras to their device nodes, for FollowDevices.
	Devices map[capture.CameraIndex]string

	// Backend and Platform are recorded in the session metadata.
	Backend  string
	Platform string
}

// Topic returns the journal topic of one camera.
func (p Plan) Topic(index capture.CameraIndex) string {
	if topic, ok := p.Topics[index]; ok && topic != "" {
		return topic
	}
	if p.TopicPattern == "" && len(p.Cameras) == 1 {
		return SingleCameraTopic
	}
	return journal.Topic(p.TopicPattern, index)
}

// Validate checks that the plan names cameras and that their topics are distinct.
func (p Plan) Validate() error {
	if len(p.Cameras) == 0 {
		return ErrNoCameras
	}
	if p.OpenSource == nil {
		return errors.New("plan has no source opener")
	}
	owners := make(map[string]capture.CameraIndex, len(p.Cameras))
	for _, index := range p.Cameras {
		topic := p.Topic(index)
		if other, ok := owners[topic]; ok && other != index {
			return fmt.Errorf("%w: %s (cameras %d and %d)", ErrTopicConflict, topic, other, index)
		}
		owners[topic] = index
	}
	return nil
}

// Options configures a Recorder.
type Options struct {
	OutputDir   string
	NamePattern string
	Journal     journal.Options // Path is filled in per session

	IdleWait    time.Duration
	PullTimeout time.Duration
	StopTimeout time.Duration

	Version string
	Bus     *events.Bus
	Logger  *slog.Logger
}

// Status is a snapshot of the current session.
type Status struct {
	Active        bool
	SessionID     string
	Path          string
	StartedAt     time.Time
	Workers       []capture.WorkerInfo
	StartupErrors map[capture.CameraIndex]string
}

// Recorder runs one capture session at a time and replaces it on reload.
type Recorder struct {
	opts   Options
	logger *slog.Logger
	bus    *events.Bus

	mu      sync.Mutex
	plan    Plan
	session *capture.Session
	journal *journal.Journal
	path    string
	used    map[string]bool
	closed  bool

	finished     chan struct{}
	finishedOnce sync.Once
}

// New creates a recorder. Nothing is opened until Start.
func New(opts Options) *Recorder {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Bus == nil {
		opts.Bus = events.New()
	}
	return &Recorder{
		opts:     opts,
		logger:   opts.Logger,
		bus:      opts.Bus,
		used:     make(map[string]bool),
		finished: make(chan struct{}),
	}
}

// Finished is closed when a session ends because all of its workers stopped
// on their own and no replacement was started.
func (r *Recorder) Finished() <-chan struct{} {
	return r.finished
}

// Start begins a session for plan. A journal that cannot be opened or a
// session in which no camera started is an error; in the latter case the
// session is torn down again and the error carries every startup failure.
func (r *Recorder) Start(ctx context.Context, plan Plan) (*capture.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRecorderClosed
	}
	if r.session != nil {
		return nil, errors.New("session already running")
	}
	return r.startLocked(ctx, plan)
}

// Restart stops the current session, if any, and starts plan in its place.
func (r *Recorder) Restart(ctx context.Context, plan Plan, reason string) (*capture.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRecorderClosed
	}
	if err := plan.Validate(); err != nil {
		// Keep the running session rather than replacing it with nothing
		return nil, err
	}
	r.stopLocked(reason)
	return r.startLocked(ctx, plan)
}

// RestartCurrent restarts the last started plan.
func (r *Recorder) RestartCurrent(ctx context.Context, reason string) (*capture.Session, error) {
	r.mu.Lock()
	plan, closed := r.plan, r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrRecorderClosed
	}
	if len(plan.Cameras) == 0 {
		return nil, ErrNoCameras
	}
	return r.Restart(ctx, plan, reason)
}

// Stop ends the current session. It is a no-op without one. Stopping with
// ReasonShutdown is final: later Start and Restart calls fail with
// ErrRecorderClosed.
func (r *Recorder) Stop(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reason == ReasonShutdown {
		r.closed = true
	}
	return r.stopLocked(reason)
}

// Status returns a snapshot of the current session.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	session, path := r.session, r.path
	r.mu.Unlock()

	if session == nil {
		return Status{}
	}

	failed := session.FailedCameras()
	startupErrors := make(map[capture.CameraIndex]string, len(failed))
	for index, err := range failed {
		startupErrors[index] = err.Error()
	}

	return Status{
		Active:        true,
		SessionID:     session.ID(),
		Path:          path,
		StartedAt:     session.StartedAt(),
		Workers:       session.Workers(),
		StartupErrors: startupErrors,
	}
}

// Topics returns the topics of running workers, sorted.
func (r *Recorder) Topics() []string {
	status := r.Status()
	topics := make([]string, 0, len(status.Workers))
	for _, w := range status.Workers {
		if w.State != capture.StateStopped {
			topics = append(topics, w.Topic)
		}
	}
	sort.Strings(topics)
	return topics
}

func (r *Recorder) startLocked(ctx context.Context, plan Plan) (*capture.Session, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	started := time.Now()
	path := r.sessionPath(started, plan.Cameras)

	jopts := r.opts.Journal
	jopts.Path = path
	if jopts.Logger == nil {
		jopts.Logger = r.logger
	}

	var opened *journal.Journal
	supervisor := capture.NewSupervisor(capture.SupervisorOptions{
		OpenJournal:      journal.Opener(jopts, func(j *journal.Journal) { opened = j }),
		OpenSource:       plan.OpenSource,
		Topic:            plan.Topic,
		IdleWait:         r.opts.IdleWait,
		PullTimeout:      r.opts.PullTimeout,
		StopTimeout:      r.opts.StopTimeout,
		Logger:           r.logger,
		Hooks:            r.hooks(sessionID),
		OnStartupFailure: r.onStartupFailure,
		SessionID:        sessionID,
	})

	session, err := supervisor.Start(ctx, plan.Cameras)
	if err != nil {
		return nil, err
	}
	metrics.RecordSessionStart()

	if len(session.Workers()) == 0 {
		startupErrs := session.StartupErrors()
		r.finishSession(session, opened, path, ReasonNoCameras)
		if startupErrs != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoViableCamera, startupErrs)
		}
		return nil, ErrNoViableCamera
	}

	if opened != nil {
		meta := journal.SessionMetadata(sessionID, started, plan.Cameras, plan.Backend, plan.Platform, r.opts.Version)
		if err := opened.WriteMetadata(journal.SessionMetadataName, meta); err != nil {
			r.logger.Warn("Failed to write session metadata", "error", err)
		}
	}

	r.plan = plan
	r.session = session
	r.journal = opened
	r.path = path

	r.publishStarted(session, path)
	go r.watch(ctx, session)

	r.logger.Info("Recording",
		"session_id", sessionID,
		"path", path,
		"workers", len(session.Workers()))
	return session, nil
}

// sessionPath resolves the journal name. A name this recorder already wrote,
// as after a restart within the same second, gets a numeric suffix; files
// from elsewhere still conflict.
func (r *Recorder) sessionPath(started time.Time, cameras []capture.CameraIndex) string {
	path := journal.ResolvePath(r.opts.OutputDir, r.opts.NamePattern, started, cameras)
	base := strings.TrimSuffix(path, ".mcap")
	for n := 1; r.used[path]; n++ {
		path = fmt.Sprintf("%s-%d.mcap", base, n)
	}
	r.used[path] = true
	return path
}

func (r *Recorder) stopLocked(reason string) error {
	session := r.session
	if session == nil {
		return nil
	}
	r.session = nil
	return r.finishSession(session, r.journal, r.path, reason)
}

// finishSession stops a session and reports what it wrote.
func (r *Recorder) finishSession(session *capture.Session, j *journal.Journal, path, reason string) error {
	closeErr := session.Stop()

	ev := events.SessionStoppedEvent{
		SessionID: session.ID(),
		Path:      path,
		Reason:    reason,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if j != nil {
		ev.Messages = j.Counts()
	}
	if closeErr != nil {
		ev.Error = closeErr.Error()
	}

	for _, w := range session.Workers() {
		metrics.ForgetWorker(int(w.Index))
	}

	r.bus.Publish(ev)
	r.logger.Info("Session finished", "session_id", session.ID(), "reason", reason, "path", path)
	return closeErr
}

// watch tears a session down once all of its workers stopped. Workers that
// stopped because ctx ended mean shutdown, which closes the recorder.
func (r *Recorder) watch(ctx context.Context, session *capture.Session) {
	<-session.Done()

	r.mu.Lock()
	if r.session != session {
		r.mu.Unlock()
		return
	}
	reason := ReasonWorkersExited
	if ctx.Err() != nil {
		reason = ReasonShutdown
		r.closed = true
	} else {
		r.logger.Warn("All capture workers stopped", "session_id", session.ID())
	}
	r.stopLocked(reason) //nolint:errcheck // reported in the stopped event
	r.mu.Unlock()

	if reason == ReasonWorkersExited {
		r.finishedOnce.Do(func() { close(r.finished) })
	}
}

func (r *Recorder) publishStarted(session *capture.Session, path string) {
	workers := session.Workers()
	cameras := make([]int, 0, len(workers))
	for _, w := range workers {
		cameras = append(cameras, int(w.Index))
	}

	failed := session.FailedCameras()
	indices := make([]int, 0, len(failed))
	for index := range failed {
		indices = append(indices, int(index))
	}
	sort.Ints(indices)
	startupErrors := make([]string, 0, len(indices))
	for _, index := range indices {
		startupErrors = append(startupErrors, failed[capture.CameraIndex(index)].Error())
	}

	r.bus.Publish(events.SessionStartedEvent{
		SessionID:     session.ID(),
		Path:          path,
		Cameras:       cameras,
		StartupErrors: startupErrors,
		Timestamp:     session.StartedAt().Format(time.RFC3339),
	})
}
