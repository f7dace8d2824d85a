package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/glebarez/sqlite"
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

// stubEngine produces a fixed payload for every transcode without
// running FFmpeg. failChunks fails every chunk transcode so sessions
// exhaust their streaming attempts; failWhole fails the whole-file
// conversion on top. Successful transcodes land real files under dir so
// the fallback's rename out of the workspace works.
type stubEngine struct {
	mu sync.Mutex

	payload    []byte
	failChunks bool
	failWhole  bool
	dir        string

	artifacts map[string][]byte
}

func newStubEngine(dir string) *stubEngine {
	return &stubEngine{
		payload:   []byte("chunk-payload"),
		dir:       dir,
		artifacts: make(map[string][]byte),
	}
}

func (e *stubEngine) key(sessionID, name string) string {
	return sessionID + "/" + name
}

func (e *stubEngine) file(sessionID, name string) string {
	return filepath.Join(e.dir, sessionID+"-"+name)
}

func (e *stubEngine) Transcode(ctx context.Context, spec engine.TranscodeSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	whole := spec.Start == 0 && spec.Duration == 0
	if whole && e.failWhole {
		return fmt.Errorf("whole-file transcode failed")
	}
	if !whole && e.failChunks {
		return fmt.Errorf("transcode failed at %s", spec.Start)
	}

	e.artifacts[e.key(spec.SessionID, spec.Output)] = append([]byte(nil), e.payload...)
	return os.WriteFile(e.file(spec.SessionID, spec.Output), e.payload, 0o644)
}

func (e *stubEngine) ReadFile(sessionID, name string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.artifacts[e.key(sessionID, name)]
	if !ok {
		return nil, fmt.Errorf("artifact %s not found", name)
	}
	return data, nil
}

func (e *stubEngine) RemoveFile(sessionID, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.artifacts, e.key(sessionID, name))
	os.Remove(e.file(sessionID, name))
	return nil
}

func (e *stubEngine) EnsureWorkspace(sessionID string) error { return nil }

func (e *stubEngine) RemoveWorkspace(sessionID string) error { return nil }

func (e *stubEngine) CopyIn(sessionID, name, src string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.artifacts[e.key(sessionID, name)] = []byte("working-copy")
	return nil
}

func (e *stubEngine) ArtifactPath(sessionID, name string) (string, error) {
	return e.file(sessionID, name), nil
}

func (e *stubEngine) ValidateSource(path string) error { return nil }

// stubProber reports a fixed source duration.
type stubProber struct {
	duration time.Duration
}

func (p *stubProber) Duration(ctx context.Context, path string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.duration, nil
}

func handlerStreamConfig() config.StreamConfig {
	return config.StreamConfig{
		ChunkDuration:         config.Duration(8 * time.Second),
		MaxChunkRetries:       3,
		ChunkRetryDelay:       config.Duration(time.Millisecond),
		MaxAppendFailures:     5,
		MaxSessionAttempts:    2,
		AttemptCooldown:       config.Duration(time.Millisecond),
		ReopenDelay:           config.Duration(time.Millisecond),
		MaxConcurrentSessions: 4,
		FormatPreferences:     []string{"video/mp4", "video/webm"},
		VideoCodec:            "libx264",
		AudioCodec:            "aac",
		Preset:                "veryfast",
		Quality:               23,
		Sink:                  config.SinkConfig{MaxBufferedBytes: config.ByteSize(1 << 20)},
	}
}

// newTestManager builds a stream manager backed by the stub engine.
// recorder may be nil.
func newTestManager(t *testing.T, eng *stubEngine, recorder stream.ConversionRecorder) *stream.Manager {
	t.Helper()
	m := stream.NewManager(stream.ManagerConfig{
		Stream:    handlerStreamConfig(),
		OutputDir: t.TempDir(),
		Engine:    eng,
		Prober:    &stubProber{duration: 24 * time.Second},
		Recorder:  recorder,
		Logger:    testLogger(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m.Close(ctx)
	})
	return m
}

func waitDone(t *testing.T, sess *stream.Session) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session did not finish")
	}
}

// setupHandlerDB opens an in-memory database with the conversion record
// schema applied.
func setupHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	if err := db.AutoMigrate(&models.ConversionRecord{}); err != nil {
		t.Fatalf("migrating schema: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("getting database handle: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func setupHandlerRepo(t *testing.T) repository.ConversionRecordRepository {
	t.Helper()
	return repository.NewConversionRecordRepository(setupHandlerDB(t))
}

// statusOf extracts the HTTP status a handler error maps to.
func statusOf(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	var se huma.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error %v carries no HTTP status", err)
	}
	return se.GetStatus()
}
