package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. Counters are plain atomics updated
// from the hot paths; Prometheus reads them lazily through GaugeFunc
// collectors so the pipeline never blocks on the registry.
type Metrics struct {
	// Capture and detection
	FramesRead     atomic.Uint64
	CaptureRetries atomic.Uint64
	DetectionsRun  atomic.Uint64
	DetectorErrors atomic.Uint64
	Published      atomic.Uint64
	Degraded       atomic.Uint64 // 0 = healthy, 1 = degraded

	// Latency tracking
	InferenceMs atomic.Uint64

	// Persistence
	RecordsPersisted atomic.Uint64
	PersistErrors    atomic.Uint64
	SavesRejected    atomic.Uint64

	// Physical input
	ButtonPresses atomic.Uint64

	// Streaming
	StreamClients atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"crowdwatch_frames_read_total", "Total frames read from the capture device", m.FramesRead.Load},
		{"crowdwatch_capture_retries_total", "Total transient capture failures retried", m.CaptureRetries.Load},
		{"crowdwatch_detections_run_total", "Total detector invocations", m.DetectionsRun.Load},
		{"crowdwatch_detector_errors_total", "Total detector invocations that failed", m.DetectorErrors.Load},
		{"crowdwatch_snapshots_published_total", "Total snapshots published to the store", m.Published.Load},
		{"crowdwatch_pipeline_degraded", "Pipeline degraded state (0=healthy, 1=degraded)", m.Degraded.Load},
		{"crowdwatch_inference_ms", "Latest detector inference time in milliseconds", m.InferenceMs.Load},
		{"crowdwatch_records_persisted_total", "Total crowd records written to the store", m.RecordsPersisted.Load},
		{"crowdwatch_persist_errors_total", "Total failed record writes", m.PersistErrors.Load},
		{"crowdwatch_saves_rejected_total", "Total manual saves rejected", m.SavesRejected.Load},
		{"crowdwatch_button_presses_total", "Total confirmed button presses", m.ButtonPresses.Load},
		{"crowdwatch_stream_clients", "Currently connected MJPEG stream clients", m.StreamClients.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// UpdateInference records the latest detector latency.
func (m *Metrics) UpdateInference(d time.Duration) {
	m.InferenceMs.Store(uint64(d.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
