package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/storage"
)

var (
	// ErrBinaryNotFound indicates the ffmpeg or ffprobe binary could not be resolved.
	ErrBinaryNotFound = errors.New("ffmpeg binary not found")

	// ErrInvalidArtifactName indicates a workspace file name failed validation.
	ErrInvalidArtifactName = errors.New("invalid artifact name")

	// ErrUnknownContainer indicates a transcode was requested for an
	// unrecognised container format.
	ErrUnknownContainer = errors.New("unknown container format")

	// ErrSourceTooLarge indicates the source file exceeds the configured limit.
	ErrSourceTooLarge = errors.New("source exceeds configured size limit")
)

// Container formats the engine can produce.
const (
	ContainerMP4    = "mp4"
	ContainerWebM   = "webm"
	ContainerMPEGTS = "mpegts"
)

// TranscodeSpec describes a single bounded transcode job. Output names an
// artifact inside the session workspace, never an absolute path.
type TranscodeSpec struct {
	SessionID  string
	Input      string
	Output     string
	Start      time.Duration
	Duration   time.Duration // 0 means transcode to end of input
	Container  string
	VideoCodec string
	AudioCodec string
	Preset     string
	Quality    int // CRF value, 0 uses encoder default
}

// Engine runs FFmpeg jobs against per-session workspaces inside a
// sandboxed work directory. Binary detection is lazy; callers that
// want to fail fast call Detect themselves.
type Engine struct {
	cfg      config.EngineConfig
	work     *storage.Sandbox
	detector *BinaryDetector
	logger   *slog.Logger
}

// New creates an engine from the application configuration. The work
// directory is created if missing.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	work, err := storage.NewSandbox(cfg.Storage.WorkPath())
	if err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	return &Engine{
		cfg:      cfg.Engine,
		work:     work,
		detector: NewBinaryDetector(cfg.Engine.FFmpegPath, cfg.Engine.FFprobePath),
		logger:   observability.WithComponent(logger, "engine"),
	}, nil
}

// Detect resolves the FFmpeg binaries and reports their capabilities.
func (e *Engine) Detect(ctx context.Context) (*BinaryInfo, error) {
	info, err := e.detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBinaryNotFound, err)
	}
	return info, nil
}

// Detector returns the engine's binary detector so collaborators like the
// prober can share its detection cache.
func (e *Engine) Detector() *BinaryDetector {
	return e.detector
}

// ValidateSource checks that the source file exists, is a regular file and
// does not exceed the configured maximum size.
func (e *Engine) ValidateSource(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if fi.IsDir() {
		return fmt.Errorf("source %s is a directory", path)
	}
	if max := int64(e.cfg.MaxSourceSize); max > 0 && fi.Size() > max {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrSourceTooLarge, fi.Size(), max)
	}
	return nil
}

// WorkspacePath returns the workspace directory for a session.
func (e *Engine) WorkspacePath(sessionID string) string {
	return filepath.Join(e.work.BaseDir(), sessionID)
}

// EnsureWorkspace creates the workspace directory for a session.
func (e *Engine) EnsureWorkspace(sessionID string) error {
	if err := validateComponent(sessionID); err != nil {
		return err
	}
	return e.work.MkdirAll(sessionID)
}

// RemoveWorkspace deletes a session workspace and everything in it.
func (e *Engine) RemoveWorkspace(sessionID string) error {
	if err := validateComponent(sessionID); err != nil {
		return err
	}
	return e.work.RemoveAll(sessionID)
}

// ArtifactPath resolves an artifact name inside a session workspace.
func (e *Engine) ArtifactPath(sessionID, name string) (string, error) {
	if err := validateComponent(sessionID); err != nil {
		return "", err
	}
	if err := validateComponent(name); err != nil {
		return "", err
	}
	return e.work.ResolvePath(filepath.Join(sessionID, name))
}

// WriteFile writes an artifact into a session workspace, creating the
// workspace if needed.
func (e *Engine) WriteFile(sessionID, name string, data []byte) error {
	if err := validateComponent(sessionID); err != nil {
		return err
	}
	if err := validateComponent(name); err != nil {
		return err
	}
	return e.work.WriteFile(filepath.Join(sessionID, name), data)
}

// CopyIn streams the file at src into a session workspace under name.
// Sources can be large, so the copy never buffers the whole file.
func (e *Engine) CopyIn(sessionID, name, src string) error {
	if err := validateComponent(sessionID); err != nil {
		return err
	}
	if err := validateComponent(name); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	out, err := e.work.OpenFile(filepath.Join(sessionID, name),
		os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying source: %w", err)
	}
	return out.Close()
}

// ReadFile reads an artifact from a session workspace.
func (e *Engine) ReadFile(sessionID, name string) ([]byte, error) {
	if err := validateComponent(sessionID); err != nil {
		return nil, err
	}
	if err := validateComponent(name); err != nil {
		return nil, err
	}
	return e.work.ReadFile(filepath.Join(sessionID, name))
}

// RemoveFile deletes an artifact from a session workspace. Removing a file
// that does not exist is not an error.
func (e *Engine) RemoveFile(sessionID, name string) error {
	if err := validateComponent(sessionID); err != nil {
		return err
	}
	if err := validateComponent(name); err != nil {
		return err
	}
	if err := e.work.Remove(filepath.Join(sessionID, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Transcode runs a single FFmpeg job described by spec. The output artifact
// is written into the session workspace; callers read and remove it.
func (e *Engine) Transcode(ctx context.Context, spec TranscodeSpec) error {
	outPath, err := e.ArtifactPath(spec.SessionID, spec.Output)
	if err != nil {
		return err
	}
	switch spec.Container {
	case ContainerMP4, ContainerWebM, ContainerMPEGTS:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownContainer, spec.Container)
	}

	info, err := e.Detect(ctx)
	if err != nil {
		return err
	}
	if err := e.work.MkdirAll(spec.SessionID); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}

	builder := NewCommandBuilder(info.FFmpegPath).
		HideBanner().
		Overwrite()
	if spec.Start > 0 {
		builder.Seek(spec.Start)
	}
	builder.Input(spec.Input)
	if spec.Duration > 0 {
		builder.Duration(spec.Duration)
	}
	if spec.VideoCodec != "" {
		builder.VideoCodec(spec.VideoCodec)
	}
	if spec.AudioCodec != "" {
		builder.AudioCodec(spec.AudioCodec)
	}
	if spec.Preset != "" {
		builder.Preset(spec.Preset)
	}
	if spec.Quality > 0 {
		builder.CRF(spec.Quality)
	}

	switch spec.Container {
	case ContainerMP4:
		builder.FMP4Args()
	case ContainerWebM:
		builder.OutputFormat("webm")
	case ContainerMPEGTS:
		builder.MpegtsArgs()
	}

	cmd := builder.Output(outPath).Build()

	e.logger.Debug("running transcode",
		"session_id", spec.SessionID,
		"output", spec.Output,
		"start", spec.Start,
		"duration", spec.Duration,
		"container", spec.Container,
		"command", cmd.String())

	started := time.Now()
	if err := cmd.Run(ctx); err != nil {
		return fmt.Errorf("transcode %s: %w", spec.Output, err)
	}

	e.logger.Debug("transcode complete",
		"session_id", spec.SessionID,
		"output", spec.Output,
		"elapsed", time.Since(started))
	return nil
}

// validateComponent rejects names that would escape the workspace directory.
func validateComponent(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidArtifactName)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidArtifactName, name)
	}
	if name != filepath.Base(name) {
		return fmt.Errorf("%w: %q", ErrInvalidArtifactName, name)
	}
	return nil
}
