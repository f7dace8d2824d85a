// Package janitor periodically removes the leftovers of finished
// conversions: orphaned engine workspaces, stale fallback outputs,
// expired conversion records and finished sessions still holding a
// manager slot.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/stream"
	"github.com/jmylchreest/vodarr/pkg/bytesize"
	"github.com/jmylchreest/vodarr/pkg/format"
)

const (
	defaultRetention = 24 * time.Hour

	// sweepTimeout bounds one scheduled sweep.
	sweepTimeout = 5 * time.Minute
)

// SessionTracker is the stream-manager surface the janitor uses.
type SessionTracker interface {
	List() []*stream.Session
	Remove(ctx context.Context, id uuid.UUID) error
}

// Janitor runs retention sweeps on a cron schedule.
type Janitor struct {
	mu sync.Mutex

	sessions SessionTracker
	records  repository.ConversionRecordRepository
	logger   *slog.Logger

	workDir   string
	outputDir string
	schedule  string
	retention time.Duration

	cron   *cron.Cron
	sweeps sync.WaitGroup
}

// New creates a janitor sweeping the given work and output directories.
// Collaborators are attached with WithSessions and WithRecords; a sweep
// skips whatever is not attached.
func New(cfg config.JanitorConfig, workDir, outputDir string) *Janitor {
	retention := cfg.Retention.Duration()
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Janitor{
		logger:    slog.Default(),
		workDir:   workDir,
		outputDir: outputDir,
		schedule:  cfg.Cron,
		retention: retention,
	}
}

// WithLogger sets a custom logger.
func (j *Janitor) WithLogger(logger *slog.Logger) *Janitor {
	j.logger = observability.WithComponent(logger, "janitor")
	return j
}

// WithSessions attaches the stream manager so sweeps can see active
// sessions and evict finished ones.
func (j *Janitor) WithSessions(sessions SessionTracker) *Janitor {
	j.sessions = sessions
	return j
}

// WithRecords attaches the record repository for retention pruning.
func (j *Janitor) WithRecords(records repository.ConversionRecordRepository) *Janitor {
	j.records = records
	return j
}

// Start schedules sweeps on the configured cron expression and kicks
// one immediate sweep so residue from a crashed previous run is removed
// before the first tick. The expression uses six fields, seconds first.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron != nil {
		return fmt.Errorf("janitor already started")
	}

	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(j.schedule, j.run); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", j.schedule, err)
	}
	c.Start()
	j.cron = c

	j.sweeps.Add(1)
	go func() {
		defer j.sweeps.Done()
		j.run()
	}()

	j.logger.Info("janitor started",
		slog.String("schedule", j.schedule),
		slog.String("cadence", format.CronDescription(j.schedule)),
		slog.Duration("retention", j.retention))
	return nil
}

// Stop stops the schedule and waits for running sweeps to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	j.sweeps.Wait()

	j.logger.Info("janitor stopped")
}

// run executes one scheduled sweep with a bounded context.
func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	j.RunOnce(ctx)
}

// Report summarises one sweep.
type Report struct {
	SessionsEvicted   int
	WorkspacesRemoved int
	OutputsRemoved    int
	OutputBytes       int64
	RecordsDeleted    int64
}

// Total returns how many items the sweep removed.
func (r Report) Total() int64 {
	return int64(r.SessionsEvicted+r.WorkspacesRemoved+r.OutputsRemoved) + r.RecordsDeleted
}

// RunOnce performs a single sweep: finished sessions past retention are
// evicted first, then workspaces and outputs not belonging to a tracked
// session are removed, then expired records are pruned. Each step logs
// its own failures; a failing step never blocks the others.
func (j *Janitor) RunOnce(ctx context.Context) Report {
	var report Report
	cutoff := time.Now().Add(-j.retention)

	tracked := j.evictFinishedSessions(ctx, cutoff, &report)
	j.sweepWorkspaces(cutoff, tracked, &report)
	j.sweepOutputs(cutoff, tracked, &report)
	j.pruneRecords(ctx, cutoff, &report)

	if report.Total() > 0 {
		j.logger.Info("janitor sweep finished",
			slog.Int("sessions_evicted", report.SessionsEvicted),
			slog.Int("workspaces_removed", report.WorkspacesRemoved),
			slog.Int("outputs_removed", report.OutputsRemoved),
			slog.String("output_bytes_reclaimed", bytesize.Format(bytesize.Size(report.OutputBytes))),
			slog.Int64("records_deleted", report.RecordsDeleted))
	}
	return report
}

// evictFinishedSessions removes finished sessions older than the cutoff
// from the manager and returns the IDs still tracked afterwards.
// Tracked sessions keep their workspaces and outputs no matter how old.
func (j *Janitor) evictFinishedSessions(ctx context.Context, cutoff time.Time, report *Report) map[string]struct{} {
	tracked := make(map[string]struct{})
	if j.sessions == nil {
		return tracked
	}

	for _, sess := range j.sessions.List() {
		finished := false
		select {
		case <-sess.Done():
			finished = true
		default:
		}

		if finished && sess.CreatedAt.Before(cutoff) {
			if err := j.sessions.Remove(ctx, sess.ID); err != nil {
				j.logger.Error("failed to evict finished session",
					slog.String("session_id", sess.ID.String()),
					slog.Any("error", err))
				tracked[sess.ID.String()] = struct{}{}
			} else {
				report.SessionsEvicted++
			}
			continue
		}
		tracked[sess.ID.String()] = struct{}{}
	}
	return tracked
}

// sweepWorkspaces removes workspace directories that belong to no
// tracked session and were last touched before the cutoff. Sessions
// normally remove their own workspace on teardown; anything left behind
// is the residue of a crash.
func (j *Janitor) sweepWorkspaces(cutoff time.Time, tracked map[string]struct{}, report *Report) {
	if j.workDir == "" {
		return
	}

	entries, err := os.ReadDir(j.workDir)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Error("failed to read work directory",
				slog.String("dir", j.workDir), slog.Any("error", err))
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, active := tracked[entry.Name()]; active {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		if err := os.RemoveAll(filepath.Join(j.workDir, entry.Name())); err != nil {
			j.logger.Error("failed to remove stale workspace",
				slog.String("workspace", entry.Name()), slog.Any("error", err))
			continue
		}
		report.WorkspacesRemoved++
		j.logger.Debug("removed stale workspace", slog.String("workspace", entry.Name()))
	}
}

// sweepOutputs removes fallback output files past retention. Output
// files are named by session ID, so a tracked session protects its
// output.
func (j *Janitor) sweepOutputs(cutoff time.Time, tracked map[string]struct{}, report *Report) {
	if j.outputDir == "" {
		return
	}

	entries, err := os.ReadDir(j.outputDir)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Error("failed to read output directory",
				slog.String("dir", j.outputDir), slog.Any("error", err))
		}
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		sessionID := strings.TrimSuffix(name, filepath.Ext(name))
		if _, active := tracked[sessionID]; active {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(j.outputDir, name)); err != nil {
			j.logger.Error("failed to remove stale output",
				slog.String("output", name), slog.Any("error", err))
			continue
		}
		report.OutputsRemoved++
		report.OutputBytes += info.Size()
		j.logger.Debug("removed stale output", slog.String("output", name))
	}
}

// pruneRecords deletes conversion records that finished before the
// cutoff.
func (j *Janitor) pruneRecords(ctx context.Context, cutoff time.Time, report *Report) {
	if j.records == nil {
		return
	}

	deleted, err := j.records.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to prune conversion records", slog.Any("error", err))
		return
	}
	report.RecordsDeleted = deleted
}
