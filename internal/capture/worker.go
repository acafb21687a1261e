package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Polling defaults.
const (
	DefaultIdleWait    = 10 * time.Millisecond
	DefaultPullTimeout = 100 * time.Millisecond
)

// WorkerConfig configures a single capture worker.
type WorkerConfig struct {
	Index       CameraIndex
	Topic       string
	IdleWait    time.Duration // sleep after an empty pull
	PullTimeout time.Duration // upper bound for one pull
}

// StateChange describes one worker transition.
type StateChange struct {
	Index CameraIndex
	Topic string
	From  State
	To    State
	Err   error
}

// WorkerHooks are optional observers. They run on the worker goroutine and must not block.
type WorkerHooks struct {
	OnStateChange func(StateChange)
	OnRecord      func(index CameraIndex, rec Record)
}

// Worker drives one camera from source to sink.
type Worker struct {
	cfg    WorkerConfig
	logger *slog.Logger
	hooks  WorkerHooks

	source  Source
	sink    Sink
	counter uint64 // owned by the run goroutine

	mu   sync.RWMutex
	info WorkerInfo

	stopCh      chan struct{}
	stopOnce    sync.Once
	releaseOnce sync.Once
	done        chan struct{}
}

// NewWorker creates a worker in the starting state.
func NewWorker(cfg WorkerConfig, logger *slog.Logger, hooks WorkerHooks) *Worker {
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = DefaultIdleWait
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = DefaultPullTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:    cfg,
		logger: logger.With("camera", int(cfg.Index), "topic", cfg.Topic),
		hooks:  hooks,
		info: WorkerInfo{
			Index: cfg.Index,
			Topic: cfg.Topic,
			State: StateStarting,
		},
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start opens the source and the sink, then runs the capture loop on its own
// goroutine until ctx is cancelled, Stop is called, the source ends, or a
// write fails. If opening fails the worker goes straight to stopped and the
// error is returned.
func (w *Worker) Start(ctx context.Context, openSource SourceOpener, journal Journal) error {
	source, err := openSource(ctx, w.cfg.Index)
	if err != nil {
		w.abort(err)
		return fmt.Errorf("camera %d: %w", w.cfg.Index, err)
	}

	sink, err := journal.OpenSink(w.cfg.Topic)
	if err != nil {
		if closeErr := source.Close(); closeErr != nil {
			w.logger.Warn("Failed to close source after sink error", "error", closeErr)
		}
		w.abort(err)
		return fmt.Errorf("camera %d: open sink: %w", w.cfg.Index, err)
	}

	w.source = source
	w.sink = sink

	w.mu.Lock()
	w.info.StartedAt = time.Now()
	w.mu.Unlock()

	w.setState(StateRunning, nil)
	go func() {
		w.drain(w.run(ctx))
	}()
	return nil
}

// Stop asks the worker to drain. Safe to call any number of times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Done is closed once the worker reaches the stopped state.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the worker stops or timeout elapses. Reports whether it stopped.
func (w *Worker) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
		return false
	}
}

// Index returns the camera index.
func (w *Worker) Index() CameraIndex {
	return w.cfg.Index
}

// Info returns a snapshot of the worker.
func (w *Worker) Info() WorkerInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.info
}

// run pulls and writes until cancelled or the source or sink fails. It
// returns the error that stopped the worker, nil for cancellation and for a
// source that ended.
func (w *Worker) run(ctx context.Context) error {
	for {
		if w.cancelled(ctx) {
			w.logger.Debug("Cancellation observed")
			return nil
		}

		frame, ok, err := w.source.Pull(w.cfg.PullTimeout)
		if err != nil {
			if errors.Is(err, ErrSourceClosed) {
				w.logger.Info("Source ended")
				return nil
			}
			w.logger.Error("Pull failed", "error", err)
			w.setError(err)
			return err
		}

		if !ok {
			if !w.idle(ctx) {
				return nil
			}
			continue
		}

		if err := w.write(frame); err != nil {
			return err
		}
	}
}

// idle sleeps for the idle-wait interval. Returns false if cancelled meanwhile.
func (w *Worker) idle(ctx context.Context) bool {
	timer := time.NewTimer(w.cfg.IdleWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

func (w *Worker) cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func (w *Worker) write(frame Frame) error {
	var id string
	id, w.counter = Identify(frame, w.counter)

	stamp := frame.CaptureTime
	if stamp.IsZero() {
		stamp = time.Now()
	}

	rec := Record{
		Topic:      w.cfg.Topic,
		Identifier: id,
		Timestamp:  stamp,
		Format:     FormatH264,
		Payload:    frame.Payload,
		Keyframe:   frame.Keyframe,
	}

	if err := w.sink.Write(rec); err != nil {
		if !errors.Is(err, ErrWriteFailed) {
			err = fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
		w.logger.Error("Write failed, stopping worker", "frame_id", id, "error", err)
		w.setError(err)
		return err
	}

	w.mu.Lock()
	w.info.Frames++
	w.info.Bytes += uint64(len(rec.Payload))
	w.info.LastIdentifier = id
	w.mu.Unlock()

	if w.hooks.OnRecord != nil {
		w.hooks.OnRecord(w.cfg.Index, rec)
	}
	return nil
}

// drain releases the source and sink. cause is reported on the change to
// draining.
func (w *Worker) drain(cause error) {
	w.setState(StateDraining, cause)
	w.release()
	w.setState(StateStopped, nil)
	close(w.done)
}

// abort handles a failure during the starting phase.
func (w *Worker) abort(err error) {
	w.setError(err)
	w.setState(StateStopped, err)
	close(w.done)
}

func (w *Worker) release() {
	w.releaseOnce.Do(func() {
		if w.source != nil {
			if err := w.source.Close(); err != nil {
				w.logger.Warn("Failed to close source", "error", err)
			}
		}
		if w.sink != nil {
			if err := w.sink.Close(); err != nil {
				w.logger.Warn("Failed to close sink", "error", err)
			}
		}
	})
}

func (w *Worker) setError(err error) {
	w.mu.Lock()
	w.info.LastError = err
	w.mu.Unlock()
}

func (w *Worker) setState(to State, err error) {
	w.mu.Lock()
	from := w.info.State
	if to.rank() <= from.rank() {
		w.mu.Unlock()
		return
	}
	w.info.State = to
	w.mu.Unlock()

	w.logger.Debug("Worker state changed", "from", from, "to", to)

	if w.hooks.OnStateChange != nil {
		w.hooks.OnStateChange(StateChange{
			Index: w.cfg.Index,
			Topic: w.cfg.Topic,
			From:  from,
			To:    to,
			Err:   err,
		})
	}
}
