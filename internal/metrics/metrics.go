// Package metrics provides Prometheus metrics for the depth viewer pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Drop reasons used as label values.
const (
	ReasonMissing   = "frame_missing"
	ReasonDimension = "dimension_mismatch"
	ReasonFailed    = "tick_failed"
)

// Manager owns every collector and the registry they are registered on.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	ticksPublished   prometheus.Counter
	ticksDropped     *prometheus.CounterVec
	tickDuration     prometheus.Histogram
	lastSeq          prometheus.Gauge
	validDepth       prometheus.Gauge
	maskedPixels     prometheus.Gauge
	sensorAvailable  prometheus.Gauge
	picks            *prometheus.CounterVec
	ingestMessages   *prometheus.CounterVec
	ingestFailures   prometheus.Counter
	broadcasts       prometheus.Counter
	wsClients        prometheus.Gauge
	snapshotsWritten *prometheus.CounterVec
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "depthview",
		subsystem:        "pipeline",
		histogramBuckets: []float64{1, 2, 5, 10, 20, 33, 50, 100, 250},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)
	m.ticksPublished = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "ticks_published_total",
		Help: "Frame pairs fully processed and published",
	})
	m.ticksDropped = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "ticks_dropped_total",
		Help: "Frame pairs dropped before publication, by reason",
	}, []string{"reason"})
	m.tickDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "tick_duration_milliseconds",
		Help:    "Time spent decoding, mapping and publishing one frame pair",
		Buckets: m.histogramBuckets,
	})
	m.lastSeq = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "last_published_seq",
		Help: "Sequence number of the most recently published frame pair",
	})
	m.validDepth = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "valid_depth_ratio",
		Help: "Fraction of depth pixels inside the reliable range in the last frame",
	})
	m.maskedPixels = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "masked_color_pixels",
		Help: "Color pixels without depth correspondence in the last frame",
	})
	m.sensorAvailable = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "sensor",
		Name: "available",
		Help: "1 when the sensor reports itself available",
	})
	m.picks = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "pick",
		Name: "queries_total",
		Help: "Pick queries by image space and outcome",
	}, []string{"space", "result"})
	m.ingestMessages = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "ingest",
		Name: "messages_total",
		Help: "Messages received from the sensor bridge by type",
	}, []string{"type"})
	m.ingestFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "ingest",
		Name: "decode_failures_total",
		Help: "Bridge messages that could not be decoded",
	})
	m.broadcasts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "server",
		Name: "frames_broadcast_total",
		Help: "Frame messages pushed to websocket clients",
	})
	m.wsClients = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "server",
		Name: "ws_clients",
		Help: "Connected websocket clients",
	})
	m.snapshotsWritten = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "output",
		Name: "snapshots_total",
		Help: "Snapshot writes by outcome",
	}, []string{"result"})
}

func (m *Manager) Registry() *prometheus.Registry { return m.registry }

func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Manager) RecordTickPublished(seq uint64, d time.Duration, validRatio float64, masked int) {
	if m == nil {
		return
	}
	m.ticksPublished.Inc()
	m.tickDuration.Observe(float64(d.Microseconds()) / 1000)
	m.lastSeq.Set(float64(seq))
	m.validDepth.Set(validRatio)
	m.maskedPixels.Set(float64(masked))
}

func (m *Manager) RecordTickDropped(reason string) {
	if m == nil {
		return
	}
	m.ticksDropped.WithLabelValues(reason).Inc()
}

func (m *Manager) SetSensorAvailable(available bool) {
	if m == nil {
		return
	}
	if available {
		m.sensorAvailable.Set(1)
		return
	}
	m.sensorAvailable.Set(0)
}

func (m *Manager) RecordPick(space, result string) {
	if m == nil {
		return
	}
	m.picks.WithLabelValues(space, result).Inc()
}

func (m *Manager) RecordIngestMessage(kind string) {
	if m == nil {
		return
	}
	m.ingestMessages.WithLabelValues(kind).Inc()
}

func (m *Manager) RecordIngestFailure() {
	if m == nil {
		return
	}
	m.ingestFailures.Inc()
}

func (m *Manager) RecordBroadcast() {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
}

func (m *Manager) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

func (m *Manager) RecordSnapshot(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.snapshotsWritten.WithLabelValues("ok").Inc()
		return
	}
	m.snapshotsWritten.WithLabelValues("error").Inc()
}

// Snapshot flattens the counters into a JSON-friendly map for /status.
func (m *Manager) Snapshot() map[string]any {
	out := map[string]any{}
	if m == nil {
		return out
	}
	families, err := m.registry.Gather()
	if err != nil {
		return out
	}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			name := family.GetName()
			for _, label := range metric.GetLabel() {
				name += "_" + label.GetValue()
			}
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				out[name] = metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out[name] = metric.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				out[name+"_count"] = metric.GetHistogram().GetSampleCount()
				out[name+"_sum"] = metric.GetHistogram().GetSampleSum()
			}
		}
	}
	return out
}
