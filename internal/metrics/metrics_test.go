package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFrame(t *testing.T) {
	const camera = 901
	label := cameraLabel(camera)
	frames := testutil.ToFloat64(captureFrames.WithLabelValues(label))
	bytes := testutil.ToFloat64(captureBytes.WithLabelValues(label))
	keyframes := testutil.ToFloat64(captureKeyframes.WithLabelValues(label))

	RecordFrame(camera, 100, true)
	RecordFrame(camera, 50, false)

	if got := testutil.ToFloat64(captureFrames.WithLabelValues(label)) - frames; got != 2 {
		t.Errorf("frames delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(captureBytes.WithLabelValues(label)) - bytes; got != 150 {
		t.Errorf("bytes delta = %v, want 150", got)
	}
	if got := testutil.ToFloat64(captureKeyframes.WithLabelValues(label)) - keyframes; got != 1 {
		t.Errorf("keyframes delta = %v, want 1", got)
	}
}

func TestSetWorkerStateMovesGauge(t *testing.T) {
	const camera = 902
	starting := testutil.ToFloat64(captureWorkers.WithLabelValues("starting"))
	running := testutil.ToFloat64(captureWorkers.WithLabelValues("running"))

	SetWorkerState(camera, "starting")
	SetWorkerState(camera, "running")
	SetWorkerState(camera, "running")

	if got := testutil.ToFloat64(captureWorkers.WithLabelValues("starting")); got != starting {
		t.Errorf("starting gauge = %v, want %v", got, starting)
	}
	if got := testutil.ToFloat64(captureWorkers.WithLabelValues("running")); got != running+1 {
		t.Errorf("running gauge = %v, want %v", got, running+1)
	}

	ForgetWorker(camera)
	if got := testutil.ToFloat64(captureWorkers.WithLabelValues("running")); got != running {
		t.Errorf("running gauge after forget = %v, want %v", got, running)
	}
	ForgetWorker(camera)
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordStartupFailure()
	RecordLiveFrameDropped("/camera/0/image/compressed")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"camlog_capture_startup_failures_total", "camlog_live_frames_dropped_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
