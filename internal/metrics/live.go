package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	liveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camlog",
		Subsystem: "live",
		Name:      "clients",
		Help:      "Connected live frame clients",
	})

	liveFramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camlog",
		Subsystem: "live",
		Name:      "frames_sent_total",
		Help:      "Frames delivered to live clients",
	}, []string{"topic"})

	liveFramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camlog",
		Subsystem: "live",
		Name:      "frames_dropped_total",
		Help:      "Frames dropped because a live client was too slow",
	}, []string{"topic"})
)

// LiveClientConnected increments the live client gauge.
func LiveClientConnected() { liveClients.Inc() }

// LiveClientDisconnected decrements the live client gauge.
func LiveClientDisconnected() { liveClients.Dec() }

// RecordLiveFrameSent counts a frame delivered to a live client.
func RecordLiveFrameSent(topic string) {
	liveFramesSent.WithLabelValues(topic).Inc()
}

// RecordLiveFrameDropped counts a frame a live client missed.
func RecordLiveFrameDropped(topic string) {
	liveFramesDropped.WithLabelValues(topic).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
// This collects all promauto-registered metrics automatically.
func Handler() http.Handler {
	return promhttp.Handler()
}
