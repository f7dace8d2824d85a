package stream

import (
	"fmt"
	"testing"
	"time"
)

func TestMonitorCounters(t *testing.T) {
	m := NewMonitor(nil)

	m.RecordAdmitted()
	m.RecordProduced(1024, 50*time.Millisecond)
	m.RecordRetry()
	m.RecordAppended(1024)
	m.RecordAppended(512)
	m.RecordWait(RuleQueueDepth)
	m.RecordRecovery("evict")

	stats := m.Stats()
	if stats.ChunksAdmitted != 1 {
		t.Errorf("ChunksAdmitted = %d, want 1", stats.ChunksAdmitted)
	}
	if stats.ChunksProduced != 1 {
		t.Errorf("ChunksProduced = %d, want 1", stats.ChunksProduced)
	}
	if stats.ChunkRetries != 1 {
		t.Errorf("ChunkRetries = %d, want 1", stats.ChunkRetries)
	}
	if stats.ChunksAppended != 2 {
		t.Errorf("ChunksAppended = %d, want 2", stats.ChunksAppended)
	}
	if stats.BytesAppended != 1536 {
		t.Errorf("BytesAppended = %d, want 1536", stats.BytesAppended)
	}
	if stats.AdmissionWaits != 1 {
		t.Errorf("AdmissionWaits = %d, want 1", stats.AdmissionWaits)
	}
	if stats.Recoveries != 1 {
		t.Errorf("Recoveries = %d, want 1", stats.Recoveries)
	}
	if m.ChunksAppended() != 2 {
		t.Errorf("ChunksAppended() = %d, want 2", m.ChunksAppended())
	}
	if m.BytesAppended() != 1536 {
		t.Errorf("BytesAppended() = %d, want 1536", m.BytesAppended())
	}
}

func TestMonitorHealth(t *testing.T) {
	m := NewMonitor(nil)
	if got := m.Health(); got != HealthGood {
		t.Fatalf("Health() = %q, want %q", got, HealthGood)
	}

	m.RecordAppendFailure("quota-exceeded", fmt.Errorf("buffer quota reached"))
	if got := m.Health(); got != HealthPoor {
		t.Fatalf("Health() after failure = %q, want %q", got, HealthPoor)
	}

	stats := m.Stats()
	if stats.Health != HealthPoor {
		t.Errorf("Stats().Health = %q, want %q", stats.Health, HealthPoor)
	}
	if stats.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", stats.ConsecutiveErrors)
	}
	if stats.LastError == "" {
		t.Error("LastError is empty after a failure")
	}
	if stats.LastErrorAt.IsZero() {
		t.Error("LastErrorAt is zero after a failure")
	}

	// One successful append restores good health.
	m.RecordAppended(256)
	if got := m.Health(); got != HealthGood {
		t.Errorf("Health() after append = %q, want %q", got, HealthGood)
	}
	if stats := m.Stats(); stats.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors after append = %d, want 0", stats.ConsecutiveErrors)
	}
}

func TestMonitorConsecutiveFailures(t *testing.T) {
	m := NewMonitor(nil)
	for i := 0; i < 3; i++ {
		m.RecordAppendFailure("invalid-state", fmt.Errorf("sink is closed"))
	}

	stats := m.Stats()
	if stats.AppendFailures != 3 {
		t.Errorf("AppendFailures = %d, want 3", stats.AppendFailures)
	}
	if stats.ConsecutiveErrors != 3 {
		t.Errorf("ConsecutiveErrors = %d, want 3", stats.ConsecutiveErrors)
	}
}
