package stream

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmylchreest/vodarr/internal/engine"
	"github.com/jmylchreest/vodarr/internal/mediasink"
)

// Fallback converts a source in a single whole-file pass when chunked
// streaming could not finish. The result is moved out of the session
// workspace so it survives workspace cleanup.
type Fallback struct {
	engine    Engine
	outputDir string
	logger    *slog.Logger
}

// NewFallback creates a fallback converter writing into outputDir.
func NewFallback(eng Engine, outputDir string, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{engine: eng, outputDir: outputDir, logger: logger}
}

// Convert transcodes the whole source into the format named by
// mimeType and returns the path of the finished file. An unparseable
// mime type falls back to MP4 rather than failing the conversion.
func (f *Fallback) Convert(ctx context.Context, sessionID, input, mimeType string, params EncodeParams) (string, error) {
	container, err := mediasink.ParseMimeType(mimeType)
	if err != nil || container == mediasink.ContainerUnknown {
		container = mediasink.ContainerMP4
	}
	ext := containerExt(container)
	name := "fallback." + ext

	f.logger.Info("starting whole-file conversion",
		"session_id", sessionID, "container", container.String())

	if err := f.engine.Transcode(ctx, engine.TranscodeSpec{
		SessionID:  sessionID,
		Input:      input,
		Output:     name,
		Container:  container.String(),
		VideoCodec: params.VideoCodec,
		AudioCodec: params.AudioCodec,
		Preset:     params.Preset,
		Quality:    params.Quality,
	}); err != nil {
		return "", fmt.Errorf("whole-file conversion: %w", err)
	}

	artifact, err := f.engine.ArtifactPath(sessionID, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(f.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	dest := filepath.Join(f.outputDir, sessionID+"."+ext)
	if err := os.Rename(artifact, dest); err != nil {
		return "", fmt.Errorf("moving conversion output: %w", err)
	}

	f.logger.Info("whole-file conversion finished",
		"session_id", sessionID, "output", dest)
	return dest, nil
}
