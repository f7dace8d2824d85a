package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/vodarr/internal/mediasink"
)

// Session is one conversion tracked by the Manager. It wraps the
// controller driving the work, the monitor accumulating health
// counters, and the sink adapter delivery readers attach to.
type Session struct {
	ID        uuid.UUID
	Source    string
	CreatedAt time.Time

	controller *Controller
	monitor    *Monitor
	adapter    *SinkAdapter
	params     EncodeParams
	cancel     context.CancelFunc
	done       chan struct{}

	mu  sync.Mutex
	err error
}

// State returns the session's lifecycle state.
func (s *Session) State() SessionState {
	return s.controller.State()
}

// Health returns the session's buffer health classification.
func (s *Session) Health() string {
	return s.monitor.Health()
}

// MimeType returns the negotiated delivery MIME type, or empty before
// negotiation.
func (s *Session) MimeType() string {
	return s.adapter.MimeType()
}

// Output returns the whole-file fallback output path when the session
// completed through the fallback.
func (s *Session) Output() (string, bool) {
	return s.controller.Output()
}

// NewReader attaches a delivery reader to the live sink. It fails with
// ErrSinkNotOpen when the session has no open sink, either before the
// first attempt starts or after teardown.
func (s *Session) NewReader() (*mediasink.Reader, error) {
	sink := s.adapter.Sink()
	if sink == nil {
		return nil, ErrSinkNotOpen
	}
	return sink.NewReader()
}

// Cancel stops the session. Safe to call more than once.
func (s *Session) Cancel() {
	s.controller.Cancel()
	s.cancel()
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the session's terminal error. It is meaningful only
// after Done is closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SessionStats is a point-in-time snapshot of one session.
type SessionStats struct {
	ID             string       `json:"id"`
	Source         string       `json:"source"`
	State          string       `json:"state"`
	Health         string       `json:"health"`
	Attempt        int          `json:"attempt"`
	SourceDuration float64      `json:"source_duration_seconds"`
	MimeType       string       `json:"mime_type,omitempty"`
	FallbackOutput string       `json:"fallback_output,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	Monitor        MonitorStats `json:"monitor"`
}

// Stats snapshots the session.
func (s *Session) Stats() SessionStats {
	output, _ := s.controller.Output()
	return SessionStats{
		ID:             s.ID.String(),
		Source:         s.Source,
		State:          s.controller.State().String(),
		Health:         s.monitor.Health(),
		Attempt:        s.controller.Attempts(),
		SourceDuration: s.controller.SourceDuration().Seconds(),
		MimeType:       s.adapter.MimeType(),
		FallbackOutput: output,
		CreatedAt:      s.CreatedAt,
		Monitor:        s.monitor.Stats(),
	}
}
