package metrics

import (
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame counters
	FramesRead    atomic.Uint64
	FramesSampled atomic.Uint64
	FramesSkipped atomic.Uint64
	FramesEmitted atomic.Uint64

	// Detection
	DetectorCalls     atomic.Uint64
	DetectorErrors    atomic.Uint64
	DetectorLatencyMs atomic.Uint64 // Latency of the last detector call

	// Geometry and occupancy
	OverlapPairs     atomic.Uint64
	GeometryErrors   atomic.Uint64
	OccupiedChairs   atomic.Uint64 // Chairs occupied in the last processed frame
	Transitions      atomic.Uint64
	ProcessLatencyMs atomic.Uint64 // Detect-to-emit latency of the last sampled frame

	// Live monitor clients
	MJPEGClients atomic.Uint64
	SSEClients   atomic.Uint64

	// WebRTC
	ActiveClients       atomic.Uint64
	TotalClients        atomic.Uint64
	WebRTCEventsSent    atomic.Uint64
	WebRTCEventsDropped atomic.Uint64

	// Recording state
	RecordingActive       atomic.Uint64 // 0 = inactive, 1 = active
	RecordingBytes        atomic.Uint64
	RecordingFrames       atomic.Uint64
	RecorderFramesDropped atomic.Uint64
	RecorderErrors        atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Frames
	m.gauge("seatmon_frames_read_total", "Total frames decoded from the video source", &m.FramesRead)
	m.gauge("seatmon_frames_sampled_total", "Total frames selected by the sampling cadence", &m.FramesSampled)
	m.gauge("seatmon_frames_skipped_total", "Total sampled frames skipped after a detection error", &m.FramesSkipped)
	m.gauge("seatmon_frames_emitted_total", "Total annotated frames emitted to sinks", &m.FramesEmitted)

	// Detection
	m.gauge("seatmon_detector_calls_total", "Total detector invocations", &m.DetectorCalls)
	m.gauge("seatmon_detector_errors_total", "Total failed detector invocations", &m.DetectorErrors)
	m.gauge("seatmon_detector_latency_ms", "Latency of the last detector call in milliseconds", &m.DetectorLatencyMs)

	// Occupancy
	m.gauge("seatmon_overlap_pairs_total", "Total chair/person overlap pairs found", &m.OverlapPairs)
	m.gauge("seatmon_geometry_errors_total", "Total chair/person pairs whose intersection failed", &m.GeometryErrors)
	m.gauge("seatmon_occupied_chairs", "Chairs reported occupied in the last processed frame", &m.OccupiedChairs)
	m.gauge("seatmon_state_transitions_total", "Total chair state transitions", &m.Transitions)
	m.gauge("seatmon_process_latency_ms", "Detect-to-emit latency of the last sampled frame in milliseconds", &m.ProcessLatencyMs)

	// Clients
	m.gauge("seatmon_mjpeg_clients", "Connected MJPEG preview clients", &m.MJPEGClients)
	m.gauge("seatmon_sse_clients", "Connected SSE clients", &m.SSEClients)
	m.gauge("seatmon_webrtc_active_clients", "Number of active WebRTC clients", &m.ActiveClients)
	m.gauge("seatmon_webrtc_total_clients", "Total WebRTC clients connected", &m.TotalClients)
	m.gauge("seatmon_webrtc_events_sent_total", "Total occupancy events sent over data channels", &m.WebRTCEventsSent)
	m.gauge("seatmon_webrtc_events_dropped_total", "Total occupancy events dropped for lagging data channels", &m.WebRTCEventsDropped)

	// Recording
	m.gauge("seatmon_recording_active", "Recording active (0=inactive, 1=active)", &m.RecordingActive)
	m.gauge("seatmon_recording_bytes", "Total bytes written to recording", &m.RecordingBytes)
	m.gauge("seatmon_recording_frames", "Total frames written to recording", &m.RecordingFrames)
	m.gauge("seatmon_recorder_frames_dropped_total", "Total annotated frames dropped by the recorder queue", &m.RecorderFramesDropped)
	m.gauge("seatmon_recorder_errors_total", "Total recorder write errors", &m.RecorderErrors)
}

// UpdateDetectorLatency records the duration of the last detector call
func (m *Metrics) UpdateDetectorLatency(d time.Duration) {
	m.DetectorLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateProcessLatency records the detect-to-emit duration of a sampled frame
func (m *Metrics) UpdateProcessLatency(d time.Duration) {
	m.ProcessLatencyMs.Store(uint64(d.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing /metrics and the pprof endpoints
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
