package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/vodarr/internal/mediasink"
)

// RecoveryState describes the recovery machine's current condition.
type RecoveryState int

const (
	// RecoveryHealthy means appends are flowing normally.
	RecoveryHealthy RecoveryState = iota
	// RecoveryRecovering means a sink reset is in progress.
	RecoveryRecovering
	// RecoveryAborted means the attempt gave up; it is terminal.
	RecoveryAborted
)

// String returns a human-readable state name.
func (s RecoveryState) String() string {
	switch s {
	case RecoveryHealthy:
		return "healthy"
	case RecoveryRecovering:
		return "recovering"
	case RecoveryAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// RecoveryConfig holds the collaborators and settings of the recovery
// machine.
type RecoveryConfig struct {
	Sink    Sink
	Queue   *Queue
	Session *StreamSession
	Monitor *Monitor
	Logger  *slog.Logger

	// ReopenDelay is the pause between tearing the sink down and
	// reopening it during a reset.
	ReopenDelay time.Duration
	// MaxFailures is the consecutive append-failure ceiling; reaching
	// it aborts the attempt regardless of failure class.
	MaxFailures int
}

// Recovery reacts to classified append failures. Quota pressure is
// relieved by evicting the oldest buffered window, an unsupported
// format demotes the primary preference and renegotiates, and
// everything else resets the sink. The consecutive-failure circuit
// breaker is checked before any per-class handling so a flapping sink
// cannot loop forever.
type Recovery struct {
	cfg    RecoveryConfig
	logger *slog.Logger

	mu    sync.Mutex
	state RecoveryState
}

// NewRecovery creates a recovery machine for one streaming attempt.
func NewRecovery(cfg RecoveryConfig) *Recovery {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	return &Recovery{cfg: cfg, logger: logger, state: RecoveryHealthy}
}

// State returns the machine's current state.
func (r *Recovery) State() RecoveryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recovery) setState(s RecoveryState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// HandleAppendFailure decides what happens after one failed append.
// retry reports whether the same chunk should be appended again; a
// non-nil error aborts the attempt.
func (r *Recovery) HandleAppendFailure(ctx context.Context, chunk *Chunk, appendErr error) (retry bool, err error) {
	n := r.cfg.Session.RecordAppendFailure()
	if n >= r.cfg.MaxFailures {
		r.setState(RecoveryAborted)
		r.cfg.Monitor.RecordRecovery("abort")
		return false, fmt.Errorf("%w: %d consecutive append failures: %v",
			ErrStreamExhausted, n, appendErr)
	}

	switch mediasink.CodeOf(appendErr) {
	case mediasink.ErrorCodeQuotaExceeded:
		return r.recoverQuota(ctx, chunk, appendErr)
	case mediasink.ErrorCodeNotSupported:
		if !r.cfg.Sink.DemotePrimary() {
			r.setState(RecoveryAborted)
			r.cfg.Monitor.RecordRecovery("abort")
			return false, fmt.Errorf("%w: no alternative delivery format: %v",
				ErrStreamExhausted, appendErr)
		}
		r.logger.Info("renegotiating delivery format", "chunk", chunk.Index)
		return r.reset(ctx, "renegotiate")
	default:
		// Invalid-state and unclassified failures both mean the sink
		// can no longer be trusted.
		return r.reset(ctx, "reset")
	}
}

// recoverQuota evicts the oldest buffered window so the failed chunk
// can be retried. With fewer than two buffered ranges there is nothing
// safely evictable and the attempt aborts.
func (r *Recovery) recoverQuota(ctx context.Context, chunk *Chunk, appendErr error) (bool, error) {
	ranges := r.cfg.Sink.Buffered()
	if len(ranges) < 2 {
		r.setState(RecoveryAborted)
		r.cfg.Monitor.RecordRecovery("abort")
		return false, fmt.Errorf("%w: buffer quota exceeded with a single buffered range: %v",
			ErrStreamExhausted, appendErr)
	}

	end := ranges[1].Start
	if err := r.cfg.Sink.Remove(ctx, 0, end); err != nil {
		if ctx.Err() != nil {
			r.setState(RecoveryAborted)
			return false, ctx.Err()
		}
		r.logger.Warn("evicting buffered window failed, resetting sink", "error", err)
		return r.reset(ctx, "reset")
	}

	r.cfg.Monitor.RecordRecovery("evict")
	r.logger.Info("evicted buffered window",
		"chunk", chunk.Index, "end", end)
	return true, nil
}

// reset tears the sink down, clears the pending queue, waits the
// configured delay, and reopens. The chunk whose append triggered the
// reset is dropped; production resumes with fresh chunks. action names
// the recovery path for accounting.
func (r *Recovery) reset(ctx context.Context, action string) (bool, error) {
	r.setState(RecoveryRecovering)
	r.cfg.Queue.Clear()
	r.cfg.Sink.Close()

	if err := sleepCtx(ctx, r.cfg.ReopenDelay); err != nil {
		r.setState(RecoveryAborted)
		return false, err
	}
	if err := r.cfg.Sink.Open(ctx); err != nil {
		r.setState(RecoveryAborted)
		return false, fmt.Errorf("reopening sink: %w", err)
	}

	r.setState(RecoveryHealthy)
	r.cfg.Monitor.RecordRecovery(action)
	r.logger.Info("sink reopened", "action", action)
	return false, nil
}
