// Package metrics provides Prometheus metrics for capture workers and the live server.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	captureFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camlog",
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Frames written to the journal per camera",
	}, []string{"camera"})

	captureBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camlog",
		Subsystem: "capture",
		Name:      "bytes_total",
		Help:      "Encoded payload bytes written per camera",
	}, []string{"camera"})

	captureKeyframes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camlog",
		Subsystem: "capture",
		Name:      "keyframes_total",
		Help:      "Keyframes written per camera",
	}, []string{"camera"})

	captureWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camlog",
		Subsystem: "capture",
		Name:      "write_failures_total",
		Help:      "Workers stopped by a journal write failure",
	}, []string{"camera"})

	capturePullErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camlog",
		Subsystem: "capture",
		Name:      "pull_errors_total",
		Help:      "Workers stopped by a source error",
	}, []string{"camera"})

	captureStartupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camlog",
		Subsystem: "capture",
		Name:      "startup_failures_total",
		Help:      "Cameras skipped at session start",
	})

	captureWorkers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camlog",
		Subsystem: "capture",
		Name:      "workers",
		Help:      "Capture workers by state",
	}, []string{"state"})

	captureSessions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camlog",
		Subsystem: "capture",
		Name:      "sessions_total",
		Help:      "Capture sessions started",
	})

	// Last known state per camera so transitions move the gauge.
	workerStates   = make(map[int]string)
	workerStatesMu sync.Mutex
)

func cameraLabel(camera int) string {
	return strconv.Itoa(camera)
}

// RecordFrame counts one frame accepted by the journal.
func RecordFrame(camera, size int, keyframe bool) {
	label := cameraLabel(camera)
	captureFrames.WithLabelValues(label).Inc()
	captureBytes.WithLabelValues(label).Add(float64(size))
	if keyframe {
		captureKeyframes.WithLabelValues(label).Inc()
	}
}

// RecordWriteFailure counts a worker drained by a write error.
func RecordWriteFailure(camera int) {
	captureWriteFailures.WithLabelValues(cameraLabel(camera)).Inc()
}

// RecordPullError counts a worker drained by a source error.
func RecordPullError(camera int) {
	capturePullErrors.WithLabelValues(cameraLabel(camera)).Inc()
}

// RecordStartupFailure counts a camera skipped at session start.
func RecordStartupFailure() {
	captureStartupFailures.Inc()
}

// RecordSessionStart counts a started session.
func RecordSessionStart() {
	captureSessions.Inc()
}

// SetWorkerState moves a camera's worker between state gauges.
func SetWorkerState(camera int, state string) {
	workerStatesMu.Lock()
	defer workerStatesMu.Unlock()

	if prev, ok := workerStates[camera]; ok {
		if prev == state {
			return
		}
		captureWorkers.WithLabelValues(prev).Dec()
	}
	workerStates[camera] = state
	captureWorkers.WithLabelValues(state).Inc()
}

// ForgetWorker removes a stopped worker from the state gauges.
func ForgetWorker(camera int) {
	workerStatesMu.Lock()
	defer workerStatesMu.Unlock()

	if prev, ok := workerStates[camera]; ok {
		captureWorkers.WithLabelValues(prev).Dec()
		delete(workerStates, camera)
	}
}
