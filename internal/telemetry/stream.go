package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// StreamMetrics contains all Prometheus metrics for chunked streaming
// sessions: production, appends, recovery actions and admission waits.
type StreamMetrics struct {
	ActiveSessions      prometheus.Gauge
	SessionsTotal       *prometheus.CounterVec
	ChunksProduced      prometheus.Counter
	ChunkRetries        prometheus.Counter
	ChunksAppended      prometheus.Counter
	BytesAppended       prometheus.Counter
	AppendFailures      *prometheus.CounterVec
	RecoveryActions     *prometheus.CounterVec
	AdmissionWaits      *prometheus.CounterVec
	FallbackConversions prometheus.Counter
	TranscodeDuration   prometheus.Histogram
	ChunkSize           prometheus.Histogram

	registry *prometheus.Registry
}

// NewStreamMetrics creates a new StreamMetrics instance registered on the
// given registry.
func NewStreamMetrics(registry *prometheus.Registry) (*StreamMetrics, error) {
	m := &StreamMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("registering stream metrics: %w", err)
	}
	return m, nil
}

func (m *StreamMetrics) initMetrics() {
	m.ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vodarr_stream_active_sessions",
		Help: "Number of streaming sessions currently running",
	})

	m.SessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vodarr_stream_sessions_total",
		Help: "Total streaming sessions by terminal state",
	}, []string{"state"})

	m.ChunksProduced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vodarr_stream_chunks_produced_total",
		Help: "Total chunks successfully transcoded",
	})

	m.ChunkRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vodarr_stream_chunk_retries_total",
		Help: "Total same-index chunk transcode retries",
	})

	m.ChunksAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vodarr_stream_chunks_appended_total",
		Help: "Total chunks appended to the media sink",
	})

	m.BytesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vodarr_stream_bytes_appended_total",
		Help: "Total bytes appended to the media sink",
	})

	m.AppendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vodarr_stream_append_failures_total",
		Help: "Total classified append failures by kind",
	}, []string{"kind"})

	m.RecoveryActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vodarr_stream_recovery_actions_total",
		Help: "Total recovery actions by kind",
	}, []string{"action"})

	m.AdmissionWaits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vodarr_stream_admission_waits_total",
		Help: "Total admission gate waits by rule",
	}, []string{"rule"})

	m.FallbackConversions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vodarr_stream_fallback_conversions_total",
		Help: "Total whole-file fallback conversions performed",
	})

	m.TranscodeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vodarr_stream_transcode_duration_seconds",
		Help:    "Wall-clock duration of per-chunk transcodes",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	m.ChunkSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vodarr_stream_chunk_size_bytes",
		Help:    "Size of produced chunks in bytes",
		Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8),
	})
}

// IncrementSessions records a session reaching a terminal state.
func (m *StreamMetrics) IncrementSessions(state string) {
	m.SessionsTotal.WithLabelValues(state).Inc()
}

// IncrementChunksProduced records a successfully transcoded chunk.
func (m *StreamMetrics) IncrementChunksProduced() {
	m.ChunksProduced.Inc()
}

// IncrementChunkRetries records a same-index transcode retry.
func (m *StreamMetrics) IncrementChunkRetries() {
	m.ChunkRetries.Inc()
}

// RecordAppend records a successful append of the given size.
func (m *StreamMetrics) RecordAppend(bytes int) {
	m.ChunksAppended.Inc()
	m.BytesAppended.Add(float64(bytes))
}

// IncrementAppendFailures records a classified append failure.
func (m *StreamMetrics) IncrementAppendFailures(kind string) {
	m.AppendFailures.WithLabelValues(kind).Inc()
}

// IncrementRecoveryActions records a recovery action.
func (m *StreamMetrics) IncrementRecoveryActions(action string) {
	m.RecoveryActions.WithLabelValues(action).Inc()
}

// IncrementAdmissionWaits records an admission gate wait.
func (m *StreamMetrics) IncrementAdmissionWaits(rule string) {
	m.AdmissionWaits.WithLabelValues(rule).Inc()
}

// IncrementFallbackConversions records a whole-file fallback conversion.
func (m *StreamMetrics) IncrementFallbackConversions() {
	m.FallbackConversions.Inc()
}

// ObserveTranscodeDuration records the wall-clock duration of a chunk
// transcode in seconds.
func (m *StreamMetrics) ObserveTranscodeDuration(seconds float64) {
	m.TranscodeDuration.Observe(seconds)
}

// ObserveChunkSize records the size of a produced chunk.
func (m *StreamMetrics) ObserveChunkSize(bytes int) {
	m.ChunkSize.Observe(float64(bytes))
}

// Collect implements the prometheus.Collector interface.
func (m *StreamMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.ActiveSessions
	m.SessionsTotal.Collect(ch)
	ch <- m.ChunksProduced
	ch <- m.ChunkRetries
	ch <- m.ChunksAppended
	ch <- m.BytesAppended
	m.AppendFailures.Collect(ch)
	m.RecoveryActions.Collect(ch)
	m.AdmissionWaits.Collect(ch)
	ch <- m.FallbackConversions
	ch <- m.TranscodeDuration
	ch <- m.ChunkSize
}

// Describe implements the prometheus.Collector interface.
func (m *StreamMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.ActiveSessions.Desc()
	m.SessionsTotal.Describe(ch)
	ch <- m.ChunksProduced.Desc()
	ch <- m.ChunkRetries.Desc()
	ch <- m.ChunksAppended.Desc()
	ch <- m.BytesAppended.Desc()
	m.AppendFailures.Describe(ch)
	m.RecoveryActions.Describe(ch)
	m.AdmissionWaits.Describe(ch)
	ch <- m.FallbackConversions.Desc()
	ch <- m.TranscodeDuration.Desc()
	ch <- m.ChunkSize.Desc()
}
