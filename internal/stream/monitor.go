package stream

import (
	"sync"
	"time"

	"github.com/jmylchreest/vodarr/internal/telemetry"
)

// Health tags reported by the buffer monitor.
const (
	HealthGood = "good"
	HealthPoor = "poor"
)

// Monitor tracks the streaming counters of one session and mirrors them
// into the Prometheus stream metrics. A nil metrics receiver disables
// mirroring.
type Monitor struct {
	metrics *telemetry.StreamMetrics

	mu                sync.Mutex
	chunksAdmitted    int64
	chunksProduced    int64
	chunkRetries      int64
	chunksAppended    int64
	bytesAppended     int64
	appendFailures    int64
	consecutiveErrors int
	admissionWaits    int64
	recoveries        int64
	lastError         string
	lastErrorAt       time.Time
}

// NewMonitor creates a monitor mirroring into the given metrics.
func NewMonitor(metrics *telemetry.StreamMetrics) *Monitor {
	return &Monitor{metrics: metrics}
}

// RecordAdmitted counts a chunk passing the admission gate.
func (m *Monitor) RecordAdmitted() {
	m.mu.Lock()
	m.chunksAdmitted++
	m.mu.Unlock()
}

// RecordProduced counts a successfully transcoded chunk.
func (m *Monitor) RecordProduced(bytes int, elapsed time.Duration) {
	m.mu.Lock()
	m.chunksProduced++
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.IncrementChunksProduced()
		m.metrics.ObserveChunkSize(bytes)
		m.metrics.ObserveTranscodeDuration(elapsed.Seconds())
	}
}

// RecordRetry counts a same-index chunk transcode retry.
func (m *Monitor) RecordRetry() {
	m.mu.Lock()
	m.chunkRetries++
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.IncrementChunkRetries()
	}
}

// RecordAppended counts a successful sink append and clears the
// consecutive error count.
func (m *Monitor) RecordAppended(bytes int) {
	m.mu.Lock()
	m.chunksAppended++
	m.bytesAppended += int64(bytes)
	m.consecutiveErrors = 0
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordAppend(bytes)
	}
}

// RecordAppendFailure counts a classified append failure.
func (m *Monitor) RecordAppendFailure(kind string, err error) {
	m.mu.Lock()
	m.appendFailures++
	m.consecutiveErrors++
	m.lastError = err.Error()
	m.lastErrorAt = time.Now()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.IncrementAppendFailures(kind)
	}
}

// RecordWait counts an admission gate wait.
func (m *Monitor) RecordWait(rule string) {
	m.mu.Lock()
	m.admissionWaits++
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.IncrementAdmissionWaits(rule)
	}
}

// RecordRecovery counts a recovery action.
func (m *Monitor) RecordRecovery(action string) {
	m.mu.Lock()
	m.recoveries++
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.IncrementRecoveryActions(action)
	}
}

// RecordFallback counts the whole-file fallback conversion.
func (m *Monitor) RecordFallback() {
	if m.metrics != nil {
		m.metrics.IncrementFallbackConversions()
	}
}

// Health tags the session good while appends are landing and poor while
// the sink is rejecting them.
func (m *Monitor) Health() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consecutiveErrors > 0 {
		return HealthPoor
	}
	return HealthGood
}

// ChunksAppended returns the number of chunks appended so far.
func (m *Monitor) ChunksAppended() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chunksAppended
}

// BytesAppended returns the number of bytes appended so far.
func (m *Monitor) BytesAppended() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesAppended
}

// MonitorStats holds a snapshot of the monitor counters.
type MonitorStats struct {
	ChunksAdmitted    int64     `json:"chunks_admitted"`
	ChunksProduced    int64     `json:"chunks_produced"`
	ChunkRetries      int64     `json:"chunk_retries"`
	ChunksAppended    int64     `json:"chunks_appended"`
	BytesAppended     int64     `json:"bytes_appended"`
	AppendFailures    int64     `json:"append_failures"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	AdmissionWaits    int64     `json:"admission_waits"`
	Recoveries        int64     `json:"recoveries"`
	LastError         string    `json:"last_error,omitempty"`
	LastErrorAt       time.Time `json:"last_error_at,omitempty"`
	Health            string    `json:"health"`
}

// Stats returns a snapshot of the monitor counters.
func (m *Monitor) Stats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	health := HealthGood
	if m.consecutiveErrors > 0 {
		health = HealthPoor
	}

	return MonitorStats{
		ChunksAdmitted:    m.chunksAdmitted,
		ChunksProduced:    m.chunksProduced,
		ChunkRetries:      m.chunkRetries,
		ChunksAppended:    m.chunksAppended,
		BytesAppended:     m.bytesAppended,
		AppendFailures:    m.appendFailures,
		ConsecutiveErrors: m.consecutiveErrors,
		AdmissionWaits:    m.admissionWaits,
		Recoveries:        m.recoveries,
		LastError:         m.lastError,
		LastErrorAt:       m.lastErrorAt,
		Health:            health,
	}
}
