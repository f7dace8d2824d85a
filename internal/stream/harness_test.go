package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmylchreest/vodarr/internal/engine"
	"github.com/jmylchreest/vodarr/internal/mediasink"
	"github.com/jmylchreest/vodarr/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine scripts transcode outcomes without running FFmpeg. Chunk
// failures are keyed by the chunk's start offset and count down, so a
// chunk can fail a few times and then succeed; a negative count fails
// forever. With dir set, successful transcodes also land real files so
// artifact paths survive an os.Rename.
type fakeEngine struct {
	mu sync.Mutex

	chunkFailures     map[time.Duration]int
	wholeFileFailures int
	payload           []byte
	validateErr       error
	readErr           error
	dir               string
	blockCh           chan struct{}

	specs             []engine.TranscodeSpec
	artifacts         map[string][]byte
	removed           []string
	workspaces        map[string]bool
	removedWorkspaces []string
	copies            []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		chunkFailures: make(map[time.Duration]int),
		payload:       []byte("chunk-payload"),
		artifacts:     make(map[string][]byte),
		workspaces:    make(map[string]bool),
	}
}

func artifactKey(sessionID, name string) string {
	return sessionID + "/" + name
}

func (e *fakeEngine) artifactFile(sessionID, name string) string {
	return filepath.Join(e.dir, sessionID+"-"+name)
}

func (e *fakeEngine) Transcode(ctx context.Context, spec engine.TranscodeSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	block := e.blockCh
	e.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.specs = append(e.specs, spec)

	if spec.Start == 0 && spec.Duration == 0 {
		if e.wholeFileFailures != 0 {
			e.wholeFileFailures--
			return fmt.Errorf("whole-file transcode failed")
		}
	} else if n := e.chunkFailures[spec.Start]; n != 0 {
		if n > 0 {
			e.chunkFailures[spec.Start] = n - 1
		}
		return fmt.Errorf("transcode failed at %s", spec.Start)
	}
	e.artifacts[artifactKey(spec.SessionID, spec.Output)] = append([]byte(nil), e.payload...)
	if e.dir != "" {
		if err := os.WriteFile(e.artifactFile(spec.SessionID, spec.Output), e.payload, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (e *fakeEngine) ReadFile(sessionID, name string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.readErr != nil {
		return nil, e.readErr
	}
	data, ok := e.artifacts[artifactKey(sessionID, name)]
	if !ok {
		return nil, fmt.Errorf("artifact %s not found", name)
	}
	return data, nil
}

func (e *fakeEngine) RemoveFile(sessionID, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := artifactKey(sessionID, name)
	delete(e.artifacts, key)
	e.removed = append(e.removed, key)
	if e.dir != "" {
		os.Remove(e.artifactFile(sessionID, name))
	}
	return nil
}

func (e *fakeEngine) EnsureWorkspace(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workspaces[sessionID] = true
	return nil
}

func (e *fakeEngine) RemoveWorkspace(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.workspaces, sessionID)
	e.removedWorkspaces = append(e.removedWorkspaces, sessionID)
	return nil
}

func (e *fakeEngine) CopyIn(sessionID, name, src string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.copies = append(e.copies, src)
	e.artifacts[artifactKey(sessionID, name)] = []byte("working-copy")
	return nil
}

func (e *fakeEngine) ArtifactPath(sessionID, name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dir != "" {
		return e.artifactFile(sessionID, name), nil
	}
	return "/fake/" + artifactKey(sessionID, name), nil
}

func (e *fakeEngine) ValidateSource(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validateErr
}

// chunkSpecs returns the recorded transcode specs excluding whole-file
// conversions.
func (e *fakeEngine) chunkSpecs() []engine.TranscodeSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []engine.TranscodeSpec
	for _, spec := range e.specs {
		if spec.Start == 0 && spec.Duration == 0 {
			continue
		}
		out = append(out, spec)
	}
	return out
}

func (e *fakeEngine) wholeFileSpecs() []engine.TranscodeSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []engine.TranscodeSpec
	for _, spec := range e.specs {
		if spec.Start == 0 && spec.Duration == 0 {
			out = append(out, spec)
		}
	}
	return out
}

func (e *fakeEngine) removedArtifacts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.removed...)
}

func (e *fakeEngine) artifactCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.artifacts)
}

// fakeSink scripts append outcomes for appender and recovery tests.
// appendErrs is consumed one entry per Append call; nil entries
// succeed. An exhausted script succeeds.
type fakeSink struct {
	mu sync.Mutex

	appendErrs []error
	removeErr  error
	openErr    error
	demote     bool
	ranges     mediasink.TimeRanges
	snapshot   SinkSnapshot
	container  mediasink.Container
	mime       string

	opens    int
	closes   int
	finishes int
	appended []*Chunk
	removals []mediasink.TimeRange
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		container: mediasink.ContainerMP4,
		mime:      "video/mp4",
	}
}

func (f *fakeSink) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	return f.openErr
}

func (f *fakeSink) Append(ctx context.Context, chunk *Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.appendErrs) > 0 {
		err := f.appendErrs[0]
		f.appendErrs = f.appendErrs[1:]
		if err != nil {
			return err
		}
	}
	f.appended = append(f.appended, chunk)
	return nil
}

func (f *fakeSink) Remove(ctx context.Context, start, end time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removals = append(f.removals, mediasink.TimeRange{Start: start, End: end})
	return nil
}

func (f *fakeSink) Buffered() mediasink.TimeRanges {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(mediasink.TimeRanges(nil), f.ranges...)
}

func (f *fakeSink) Snapshot() SinkSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeSink) Container() mediasink.Container {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.container
}

func (f *fakeSink) MimeType() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mime
}

func (f *fakeSink) DemotePrimary() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.demote
}

func (f *fakeSink) Finish() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishes++
	return nil
}

func (f *fakeSink) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func (f *fakeSink) appendedChunks() []*Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Chunk(nil), f.appended...)
}

func (f *fakeSink) counts() (opens, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes
}

// fakeProber reports a fixed duration.
type fakeProber struct {
	duration time.Duration
	err      error
}

func (p *fakeProber) Duration(ctx context.Context, path string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.duration, p.err
}

// fakeRecorder captures persisted conversion records.
type fakeRecorder struct {
	mu      sync.Mutex
	err     error
	records []*models.ConversionRecord
}

func (r *fakeRecorder) RecordConversion(ctx context.Context, record *models.ConversionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, record)
	return nil
}

func (r *fakeRecorder) recorded() []*models.ConversionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.ConversionRecord(nil), r.records...)
}

// sinkFailure builds a classified sink error for scripts.
func sinkFailure(code mediasink.ErrorCode) error {
	return &mediasink.Error{Code: code, Op: "append", Msg: "scripted failure"}
}
