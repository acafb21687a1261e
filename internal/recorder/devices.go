package recorder

import (
	"context"
	"os"
	"time"

	"github.com/smazurov/camlog/internal/capture"
	"github.com/smazurov/camlog/pkg/linuxav/hotplug"
)

// DefaultSettle is how long FollowDevices waits after the last device event.
const DefaultSettle = 2 * time.Second

// statDevice is replaced in tests.
var statDevice = func(path string) error {
	_, err := os.Stat(path)
	return err
}

// FollowDevices restarts the active session when a video device is plugged
// in while a planned camera is not recording and its node exists again.
// Bursts of events are merged over settle. It returns when ctx ends or
// changes is closed.
func (r *Recorder) FollowDevices(ctx context.Context, changes <-chan hotplug.Event, settle time.Duration) {
	if settle <= 0 {
		settle = DefaultSettle
	}
	timer := time.NewTimer(settle)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-changes:
			if !ok {
				return
			}
			if ev.Subsystem != hotplug.SubsystemVideo4Linux || ev.Action != hotplug.ActionAdd {
				continue
			}
			r.logger.Debug("Video device added", "device", ev.DevName)
			timer.Reset(settle)
		case <-timer.C:
			returned := r.returnedCameras()
			if len(returned) == 0 {
				continue
			}
			r.logger.Info("Camera available again, restarting session", "cameras", returned)
			if _, err := r.RestartCurrent(ctx, ReasonHotplug); err != nil {
				r.logger.Error("Restart after device change failed", "error", err)
			}
		}
	}
}

// returnedCameras lists planned cameras that are not recording in the
// active session but whose device node exists.
func (r *Recorder) returnedCameras() []capture.CameraIndex {
	r.mu.Lock()
	session, plan := r.session, r.plan
	r.mu.Unlock()
	if session == nil {
		return nil
	}

	running := make(map[capture.CameraIndex]bool)
	for _, w := range session.Workers() {
		if w.State != capture.StateStopped {
			running[w.Index] = true
		}
	}

	var returned []capture.CameraIndex
	for _, index := range plan.Cameras {
		device := plan.Devices[index]
		if running[index] || device == "" {
			continue
		}
		if statDevice(device) == nil {
			returned = append(returned, index)
		}
	}
	return returned
}
