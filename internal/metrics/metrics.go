// Package metrics exposes the Prometheus instrumentation for the detection
// service. Everything registers on a private registry so tests can build
// isolated instances and the /metrics endpoint stays free of runtime noise
// from other libraries.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the collectors for the capture, detection and processing
// stages. Label cardinality is bounded by the camera fleet size.
type Metrics struct {
	registry *prometheus.Registry

	// Capture
	framesCaptured *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	streamFailures *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec

	// Detection
	detectorRuns    *prometheus.CounterVec
	detectorLatency prometheus.Histogram
	emitted         *prometheus.CounterVec
	suppressed      *prometheus.CounterVec

	// Processing
	processorDrops prometheus.Counter
	uploadFailures prometheus.Counter

	// Fleet
	pipelines *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.framesCaptured = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_frames_captured_total",
		Help: "Frames read from the decoder per camera",
	}, []string{"camera_id"})
	reg.MustRegister(m.framesCaptured)

	m.framesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_frames_dropped_total",
		Help: "Frames dropped because the detection queue was full",
	}, []string{"camera_id"})
	reg.MustRegister(m.framesDropped)

	m.streamFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_stream_failures_total",
		Help: "Times a camera stream entered the failed state",
	}, []string{"camera_id"})
	reg.MustRegister(m.streamFailures)

	m.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ppe_detect_queue_depth",
		Help: "Frames waiting in the detection queue",
	}, []string{"camera_id"})
	reg.MustRegister(m.queueDepth)

	m.detectorRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_detector_invocations_total",
		Help: "Inference runs per camera",
	}, []string{"camera_id"})
	reg.MustRegister(m.detectorRuns)

	m.detectorLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ppe_detector_latency_seconds",
		Help:    "Wall time of one inference plus tracking pass",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})
	reg.MustRegister(m.detectorLatency)

	m.emitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_violations_emitted_total",
		Help: "Violations accepted by the policy chain",
	}, []string{"camera_id", "class"})
	reg.MustRegister(m.emitted)

	m.suppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_violations_suppressed_total",
		Help: "Violations dropped by the per-track cooldown",
	}, []string{"camera_id"})
	reg.MustRegister(m.suppressed)

	m.processorDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ppe_processor_queue_drops_total",
		Help: "Events dropped because the processor pool was saturated",
	})
	reg.MustRegister(m.processorDrops)

	m.uploadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ppe_upload_failures_total",
		Help: "Evidence uploads that failed and aborted their event",
	})
	reg.MustRegister(m.uploadFailures)

	m.pipelines = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ppe_pipelines_active",
		Help: "Running camera pipelines by mode",
	}, []string{"mode"})
	reg.MustRegister(m.pipelines)

	return m
}

// Handler serves the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func cameraLabel(id int64) string { return strconv.FormatInt(id, 10) }

func (m *Metrics) FrameCaptured(cctvID int64) {
	m.framesCaptured.WithLabelValues(cameraLabel(cctvID)).Inc()
}

func (m *Metrics) FrameDropped(cctvID int64) {
	m.framesDropped.WithLabelValues(cameraLabel(cctvID)).Inc()
}

func (m *Metrics) StreamFailure(cctvID int64) {
	m.streamFailures.WithLabelValues(cameraLabel(cctvID)).Inc()
}

func (m *Metrics) QueueDepth(cctvID int64, depth int) {
	m.queueDepth.WithLabelValues(cameraLabel(cctvID)).Set(float64(depth))
}

func (m *Metrics) DetectorRun(cctvID int64, seconds float64) {
	m.detectorRuns.WithLabelValues(cameraLabel(cctvID)).Inc()
	m.detectorLatency.Observe(seconds)
}

func (m *Metrics) ViolationEmitted(cctvID int64, class string) {
	m.emitted.WithLabelValues(cameraLabel(cctvID), class).Inc()
}

func (m *Metrics) ViolationSuppressed(cctvID int64) {
	m.suppressed.WithLabelValues(cameraLabel(cctvID)).Inc()
}

func (m *Metrics) ProcessorDrop() { m.processorDrops.Inc() }

func (m *Metrics) UploadFailure() { m.uploadFailures.Inc() }

// SetPipelines publishes the fleet's view of how many pipelines run in each
// mode after a convergence sweep.
func (m *Metrics) SetPipelines(full, streamOnly int) {
	m.pipelines.WithLabelValues("full").Set(float64(full))
	m.pipelines.WithLabelValues("stream_only").Set(float64(streamOnly))
}
