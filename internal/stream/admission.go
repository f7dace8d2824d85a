package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/observability"
)

// Admission rule names, used in decisions, logs and metric labels.
const (
	RuleBufferedRanges = "buffered-ranges"
	RuleLookahead      = "lookahead"
	RuleQueueDepth     = "queue-depth"
	RuleMemory         = "memory"
)

// Decision is the admission gate's verdict for one chunk.
type Decision struct {
	Proceed bool
	Wait    time.Duration
	Rule    string // rule that forced the wait, empty when proceeding
}

// MemoryProbe reports system memory utilization in [0, 1].
type MemoryProbe func(ctx context.Context) (float64, error)

// systemMemory is the default probe, backed by gopsutil.
func systemMemory(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent / 100, nil
}

// Gate decides whether the producer may admit the next chunk into the
// pipeline. Rules are evaluated in priority order and the first exceeded
// ceiling wins; values exactly at a ceiling are admitted. The gate is
// advisory: it only ever delays, it never drops.
type Gate struct {
	cfg    config.AdmissionConfig
	probe  MemoryProbe
	logger *slog.Logger
}

// NewGate creates an admission gate using the system memory probe.
func NewGate(cfg config.AdmissionConfig, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		cfg:    cfg,
		probe:  systemMemory,
		logger: observability.WithComponent(logger, "admission"),
	}
}

// WithMemoryProbe replaces the memory utilization probe.
func (g *Gate) WithMemoryProbe(probe MemoryProbe) *Gate {
	g.probe = probe
	return g
}

// ShouldAdmit evaluates the admission rules against the current sink
// snapshot and pending-queue depth.
func (g *Gate) ShouldAdmit(ctx context.Context, snap SinkSnapshot, queueDepth int) Decision {
	if g.cfg.MaxBufferedRanges > 0 && snap.BufferedRanges > g.cfg.MaxBufferedRanges {
		return Decision{Wait: g.cfg.BufferedRangesWait.Duration(), Rule: RuleBufferedRanges}
	}

	if limit := g.cfg.MaxLookahead.Duration(); limit > 0 && snap.Lookahead() > limit {
		return Decision{Wait: g.cfg.LookaheadWait.Duration(), Rule: RuleLookahead}
	}

	if g.cfg.MaxQueueDepth > 0 && queueDepth > g.cfg.MaxQueueDepth {
		return Decision{Wait: g.cfg.QueueDepthWait.Duration(), Rule: RuleQueueDepth}
	}

	if g.cfg.MaxMemoryUtilization > 0 {
		util, err := g.probe(ctx)
		if err != nil {
			// Advisory rule: an unreadable probe never blocks admission.
			g.logger.Debug("memory probe failed", "error", err)
		} else if util > g.cfg.MaxMemoryUtilization {
			return Decision{Wait: g.cfg.MemoryWait.Duration(), Rule: RuleMemory}
		}
	}

	return Decision{Proceed: true}
}
