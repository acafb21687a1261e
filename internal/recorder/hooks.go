package recorder

import (
	"errors"
	"time"

	"github.com/smazurov/camlog/internal/capture"
	"github.com/smazurov/camlog/internal/events"
	"github.com/smazurov/camlog/internal/metrics"
)

// hooks observes the workers of one session. They run on worker goroutines,
// so they only touch metrics and the event bus.
func (r *Recorder) hooks(sessionID string) capture.WorkerHooks {
	return capture.WorkerHooks{
		OnStateChange: func(change capture.StateChange) {
			camera := int(change.Index)
			metrics.SetWorkerState(camera, string(change.To))

			ev := events.WorkerStateChangedEvent{
				SessionID: sessionID,
				Camera:    camera,
				Topic:     change.Topic,
				From:      string(change.From),
				To:        string(change.To),
				Timestamp: time.Now().Format(time.RFC3339),
			}
			if change.Err != nil {
				ev.Error = change.Err.Error()
				if change.From == capture.StateRunning {
					countRuntimeError(camera, change.Err)
				}
			}
			r.bus.Publish(ev)
		},
		OnRecord: func(index capture.CameraIndex, rec capture.Record) {
			metrics.RecordFrame(int(index), len(rec.Payload), rec.Keyframe)
			r.bus.Publish(events.FrameLoggedEvent{
				Camera:    int(index),
				Topic:     rec.Topic,
				FrameID:   rec.Identifier,
				Format:    rec.Format,
				Keyframe:  rec.Keyframe,
				Size:      len(rec.Payload),
				Timestamp: rec.Timestamp.UTC().Format(time.RFC3339Nano),
				Payload:   rec.Payload,
			})
		},
	}
}

func (r *Recorder) onStartupFailure(index capture.CameraIndex, err error) {
	metrics.RecordStartupFailure()
	r.bus.Publish(events.CameraStartupFailedEvent{
		Camera:    int(index),
		Error:     err.Error(),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// countRuntimeError attributes the error that drained a running worker.
// A source that simply ended is not an error.
func countRuntimeError(camera int, err error) {
	switch {
	case errors.Is(err, capture.ErrWriteFailed):
		metrics.RecordWriteFailure(camera)
	case errors.Is(err, capture.ErrSourceClosed):
	default:
		metrics.RecordPullError(camera)
	}
}
