package janitor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/engine"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sweepStubEngine completes every transcode with a canned payload. With
// block set, chunk transcodes park until the context is cancelled.
type sweepStubEngine struct {
	block chan struct{}
}

func (e *sweepStubEngine) Transcode(ctx context.Context, spec engine.TranscodeSpec) error {
	if e.block != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.block:
		}
	}
	return nil
}

func (e *sweepStubEngine) ReadFile(sessionID, name string) ([]byte, error) {
	return []byte("payload"), nil
}

func (e *sweepStubEngine) RemoveFile(sessionID, name string) error  { return nil }
func (e *sweepStubEngine) EnsureWorkspace(sessionID string) error   { return nil }
func (e *sweepStubEngine) RemoveWorkspace(sessionID string) error   { return nil }
func (e *sweepStubEngine) CopyIn(sessionID, name, src string) error { return nil }
func (e *sweepStubEngine) ValidateSource(path string) error         { return nil }

func (e *sweepStubEngine) ArtifactPath(sessionID, name string) (string, error) {
	return filepath.Join(os.TempDir(), sessionID+"-"+name), nil
}

type sweepProber struct{}

func (sweepProber) Duration(ctx context.Context, path string) (time.Duration, error) {
	return 24 * time.Second, nil
}

func newSweepManager(t *testing.T, eng *sweepStubEngine) *stream.Manager {
	t.Helper()
	m := stream.NewManager(stream.ManagerConfig{
		Stream: config.StreamConfig{
			ChunkDuration:         config.Duration(8 * time.Second),
			MaxChunkRetries:       3,
			ChunkRetryDelay:       config.Duration(time.Millisecond),
			MaxAppendFailures:     5,
			MaxSessionAttempts:    2,
			AttemptCooldown:       config.Duration(time.Millisecond),
			ReopenDelay:           config.Duration(time.Millisecond),
			MaxConcurrentSessions: 4,
			FormatPreferences:     []string{"video/mp4"},
			VideoCodec:            "libx264",
			AudioCodec:            "aac",
			Preset:                "veryfast",
			Quality:               23,
			Sink:                  config.SinkConfig{MaxBufferedBytes: config.ByteSize(1 << 20)},
		},
		OutputDir: t.TempDir(),
		Engine:    eng,
		Prober:    sweepProber{},
		Logger:    testLogger(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m.Close(ctx)
	})
	return m
}

func janitorConfig(retention time.Duration) config.JanitorConfig {
	return config.JanitorConfig{
		Enabled:   true,
		Cron:      "0 */10 * * * *",
		Retention: config.Duration(retention),
	}
}

func setupRecordRepo(t *testing.T) repository.ConversionRecordRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ConversionRecord{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return repository.NewConversionRecordRepository(db)
}

func makeStaleDir(t *testing.T, root, name string) string {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(path, 0o755))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
	return path
}

func makeStaleFile(t *testing.T, root, name string) string {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.WriteFile(path, []byte("media"), 0o644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
	return path
}

func TestRunOnce_SweepsStaleWorkspaces(t *testing.T) {
	workDir := t.TempDir()
	stale := makeStaleDir(t, workDir, uuid.NewString())
	fresh := filepath.Join(workDir, uuid.NewString())
	require.NoError(t, os.MkdirAll(fresh, 0o755))

	j := New(janitorConfig(24*time.Hour), workDir, "").WithLogger(testLogger())
	report := j.RunOnce(context.Background())

	assert.Equal(t, 1, report.WorkspacesRemoved)
	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
}

func TestRunOnce_KeepsTrackedSessionWorkspace(t *testing.T) {
	eng := &sweepStubEngine{block: make(chan struct{})}
	m := newSweepManager(t, eng)

	sess, err := m.Start(context.Background(), stream.ConversionRequest{Source: "/media/a.mkv"})
	require.NoError(t, err)

	// The session is parked mid-transcode, so its workspace must survive
	// regardless of age.
	workDir := t.TempDir()
	trackedDir := makeStaleDir(t, workDir, sess.ID.String())
	orphanDir := makeStaleDir(t, workDir, uuid.NewString())

	j := New(janitorConfig(24*time.Hour), workDir, "").
		WithLogger(testLogger()).
		WithSessions(m)
	report := j.RunOnce(context.Background())

	assert.Equal(t, 1, report.WorkspacesRemoved)
	assert.DirExists(t, trackedDir)
	assert.NoDirExists(t, orphanDir)
}

func TestRunOnce_EvictsFinishedSessions(t *testing.T) {
	m := newSweepManager(t, &sweepStubEngine{})

	sess, err := m.Start(context.Background(), stream.ConversionRequest{Source: "/media/a.mkv"})
	require.NoError(t, err)
	select {
	case <-sess.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session did not finish")
	}
	time.Sleep(50 * time.Millisecond)

	j := New(janitorConfig(10*time.Millisecond), t.TempDir(), "").
		WithLogger(testLogger()).
		WithSessions(m)
	report := j.RunOnce(context.Background())

	assert.Equal(t, 1, report.SessionsEvicted)
	_, err = m.Get(sess.ID)
	assert.ErrorIs(t, err, stream.ErrSessionNotFound)
}

func TestRunOnce_SweepsStaleOutputs(t *testing.T) {
	eng := &sweepStubEngine{block: make(chan struct{})}
	m := newSweepManager(t, eng)

	sess, err := m.Start(context.Background(), stream.ConversionRequest{Source: "/media/a.mkv"})
	require.NoError(t, err)

	outputDir := t.TempDir()
	trackedOut := makeStaleFile(t, outputDir, sess.ID.String()+".mp4")
	orphanOut := makeStaleFile(t, outputDir, uuid.NewString()+".mp4")
	freshOut := filepath.Join(outputDir, uuid.NewString()+".mp4")
	require.NoError(t, os.WriteFile(freshOut, []byte("media"), 0o644))

	j := New(janitorConfig(24*time.Hour), "", outputDir).
		WithLogger(testLogger()).
		WithSessions(m)
	report := j.RunOnce(context.Background())

	assert.Equal(t, 1, report.OutputsRemoved)
	assert.Equal(t, int64(len("media")), report.OutputBytes)
	assert.FileExists(t, trackedOut)
	assert.FileExists(t, freshOut)
	assert.NoFileExists(t, orphanOut)
}

func TestRunOnce_PrunesExpiredRecords(t *testing.T) {
	repo := setupRecordRepo(t)
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	recent := time.Now()
	for _, finished := range []*time.Time{&old, &recent} {
		started := finished.Add(-time.Minute)
		require.NoError(t, repo.RecordConversion(ctx, &models.ConversionRecord{
			SessionID:  uuid.NewString(),
			Source:     "/media/a.mkv",
			Mode:       models.ModeStreamed,
			FinalState: models.ConversionCompleted,
			StartedAt:  &started,
			FinishedAt: finished,
		}))
	}

	j := New(janitorConfig(time.Hour), "", "").
		WithLogger(testLogger()).
		WithRecords(repo)
	report := j.RunOnce(ctx)

	assert.Equal(t, int64(1), report.RecordsDeleted)

	remaining, total, err := repo.List(ctx, repository.ConversionRecordFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, remaining, 1)
	assert.WithinDuration(t, recent, *remaining[0].FinishedAt, time.Second)
}

func TestStartStop(t *testing.T) {
	j := New(janitorConfig(time.Hour), t.TempDir(), "").WithLogger(testLogger())

	require.NoError(t, j.Start())
	assert.Error(t, j.Start(), "second start must fail")
	j.Stop()

	// A stopped janitor can be restarted.
	require.NoError(t, j.Start())
	j.Stop()

	// Stop without a start is a no-op.
	j.Stop()
}

func TestStart_InvalidSchedule(t *testing.T) {
	cfg := janitorConfig(time.Hour)
	cfg.Cron = "not a schedule"
	j := New(cfg, t.TempDir(), "").WithLogger(testLogger())

	assert.Error(t, j.Start())
}

func TestStart_RunsBootSweep(t *testing.T) {
	workDir := t.TempDir()
	stale := makeStaleDir(t, workDir, uuid.NewString())

	cfg := janitorConfig(24 * time.Hour)
	cfg.Cron = "0 0 * * * *" // next tick up to an hour away
	j := New(cfg, workDir, "").WithLogger(testLogger())

	require.NoError(t, j.Start())
	defer j.Stop()

	deadline := time.After(3 * time.Second)
	for {
		if _, err := os.Stat(stale); os.IsNotExist(err) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("boot sweep did not remove the stale workspace")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestStart_RunsScheduledSweep(t *testing.T) {
	workDir := t.TempDir()
	stale := makeStaleDir(t, workDir, uuid.NewString())

	cfg := janitorConfig(24 * time.Hour)
	cfg.Cron = "* * * * * *" // every second
	j := New(cfg, workDir, "").WithLogger(testLogger())

	require.NoError(t, j.Start())
	defer j.Stop()

	deadline := time.After(3 * time.Second)
	for {
		if _, err := os.Stat(stale); os.IsNotExist(err) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("scheduled sweep did not remove the stale workspace")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
