package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/engine"
	"github.com/jmylchreest/vodarr/internal/mediasink"
	"github.com/jmylchreest/vodarr/internal/stream"
	"github.com/jmylchreest/vodarr/pkg/bytesize"
	"github.com/jmylchreest/vodarr/pkg/format"
)

// convertCopyBuffer sizes the copy between the sink reader and the output file.
const convertCopyBuffer = 256 * 1024

// convertCloseTimeout bounds manager shutdown after the session ended.
const convertCloseTimeout = 10 * time.Second

var (
	convertOutput        string
	convertChunkDuration time.Duration
	convertVideoCodec    string
	convertAudioCodec    string
	convertPreset        string
	convertQuality       int
)

var convertCmd = &cobra.Command{
	Use:   "convert <source>",
	Short: "Convert a video file in one shot",
	Long: `Convert a single video file without running the server.

The source is transcoded in time-bounded chunks and written to the output
file as chunks commit, exactly like the streaming API delivers them. If
chunked streaming cannot finish, the whole-file fallback conversion is
moved to the output path instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "output file path (default: source name with the negotiated extension)")
	convertCmd.Flags().DurationVar(&convertChunkDuration, "chunk-duration", 0, "chunk window override (default from config)")
	convertCmd.Flags().StringVar(&convertVideoCodec, "video-codec", "", "video codec override (default from config)")
	convertCmd.Flags().StringVar(&convertAudioCodec, "audio-codec", "", "audio codec override (default from config)")
	convertCmd.Flags().StringVar(&convertPreset, "preset", "", "encoder preset override (default from config)")
	convertCmd.Flags().IntVar(&convertQuality, "quality", 0, "CRF quality override (default from config)")
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	source := args[0]
	logger := slog.Default()

	eng, err := engine.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing engine: %w", err)
	}
	if _, err := eng.Detect(cmd.Context()); err != nil {
		return fmt.Errorf("detecting ffmpeg: %w", err)
	}
	prober := engine.NewProber(eng.Detector(), cfg.Engine, logger)

	// One-shot conversions run without persistence or metrics.
	manager := stream.NewManager(stream.ManagerConfig{
		Stream:    cfg.Stream,
		OutputDir: cfg.Storage.OutputPath(),
		Engine:    eng,
		Prober:    prober,
		Logger:    logger,
	})

	ctx, stopSignals := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	sess, err := manager.Start(ctx, stream.ConversionRequest{
		Source:        source,
		ChunkDuration: convertChunkDuration,
		VideoCodec:    convertVideoCodec,
		AudioCodec:    convertAudioCodec,
		Preset:        convertPreset,
		Quality:       convertQuality,
	})
	if err != nil {
		return fmt.Errorf("starting conversion: %w", err)
	}

	// Sessions detach from the caller's context; forward cancellation.
	go func() {
		select {
		case <-ctx.Done():
			sess.Cancel()
		case <-sess.Done():
		}
	}()

	destDir := "."
	if convertOutput != "" {
		destDir = filepath.Dir(convertOutput)
	}

	streamedPath, drainErr := drainStream(ctx, sess, destDir)
	if streamedPath != "" {
		// No-op once the file is renamed into place.
		defer os.Remove(streamedPath)
	}

	<-sess.Done()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), convertCloseTimeout)
	defer closeCancel()
	if cerr := manager.Close(closeCtx); cerr != nil {
		logger.Warn("closing session manager", slog.Any("error", cerr))
	}

	if drainErr != nil {
		return drainErr
	}
	if err := ctx.Err(); err != nil {
		return errors.New("conversion interrupted")
	}

	return finishConvert(sess, source, streamedPath)
}

// drainStream copies the session's delivery stream into a temporary file
// in destDir and returns its path. An empty path means the session never
// opened a sink. The copy ending early is not an error here; the caller
// resolves the outcome from the session's terminal state.
func drainStream(ctx context.Context, sess *stream.Session, destDir string) (string, error) {
	reader := attachReader(ctx, sess)
	if reader == nil {
		return "", nil
	}
	defer reader.Close()

	tmp, err := os.CreateTemp(destDir, ".vodarr-convert-*")
	if err != nil {
		return "", fmt.Errorf("creating temporary output: %w", err)
	}
	defer tmp.Close()

	buf := make([]byte, convertCopyBuffer)
	for {
		n, rerr := reader.ReadContext(ctx, buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				return tmp.Name(), fmt.Errorf("writing output: %w", werr)
			}
		}
		if rerr != nil {
			return tmp.Name(), nil
		}
	}
}

// attachReader waits for the session's sink to open and attaches a
// delivery reader. Returns nil when the session reaches a terminal state
// without an attachable sink.
func attachReader(ctx context.Context, sess *stream.Session) *mediasink.Reader {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if reader, err := sess.NewReader(); err == nil {
			return reader
		}
		select {
		case <-ctx.Done():
			return nil
		case <-sess.Done():
			// A completed session keeps its ended sink readable.
			if reader, err := sess.NewReader(); err == nil {
				return reader
			}
			return nil
		case <-ticker.C:
		}
	}
}

// finishConvert moves the conversion result to the destination and prints
// a summary. Fallback output wins over the streamed copy; a streamed copy
// of a session that fell back is an incomplete prefix.
func finishConvert(sess *stream.Session, source, streamedPath string) error {
	stats := sess.Stats()

	if output, ok := sess.Output(); ok {
		dest, err := convertDest(source, filepath.Ext(output))
		if err != nil {
			return err
		}
		if err := os.Rename(output, dest); err != nil {
			return fmt.Errorf("moving fallback output: %w", err)
		}
		fmt.Printf("wrote %s (whole-file fallback, attempt %d)\n", dest, stats.Attempt)
		return nil
	}

	if sess.State() != stream.StateCompleted {
		if err := sess.Err(); err != nil {
			return fmt.Errorf("conversion failed: %w", err)
		}
		return fmt.Errorf("conversion ended in state %s", sess.State())
	}

	if streamedPath == "" {
		return errors.New("conversion completed but produced no readable stream")
	}

	dest, err := convertDest(source, "."+streamExt(sess.MimeType()))
	if err != nil {
		return err
	}
	if err := os.Rename(streamedPath, dest); err != nil {
		return fmt.Errorf("moving output: %w", err)
	}
	fmt.Printf("wrote %s (streamed, %s chunks, %s)\n",
		dest, format.Number(stats.Monitor.ChunksAppended), bytesize.Format(bytesize.Size(stats.Monitor.BytesAppended)))
	return nil
}

// convertDest resolves the destination path, refusing to overwrite the
// source in place.
func convertDest(source, ext string) (string, error) {
	dest := convertOutput
	if dest == "" {
		base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
		dest = base + ext
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return "", fmt.Errorf("resolving output path: %w", err)
	}
	absSource, err := filepath.Abs(source)
	if err != nil {
		return "", fmt.Errorf("resolving source path: %w", err)
	}
	if absDest == absSource {
		return "", fmt.Errorf("output %s would overwrite the source; use --output", dest)
	}
	return dest, nil
}

// streamExt maps the negotiated MIME type to a file extension.
func streamExt(mimeType string) string {
	container, err := mediasink.ParseMimeType(mimeType)
	if err != nil {
		return "mp4"
	}
	switch container {
	case mediasink.ContainerWebM:
		return "webm"
	case mediasink.ContainerMPEGTS:
		return "ts"
	default:
		return "mp4"
	}
}
