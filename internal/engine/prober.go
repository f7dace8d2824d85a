package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/observability"
)

// ErrDurationUnavailable indicates the container reported no usable duration.
var ErrDurationUnavailable = errors.New("source duration unavailable")

// ProbeResult contains the complete ffprobe output.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename       string            `json:"filename"`
	NumStreams     int               `json:"nb_streams"`
	FormatName     string            `json:"format_name"`
	FormatLongName string            `json:"format_long_name"`
	StartTime      string            `json:"start_time"`
	Duration       string            `json:"duration"`
	Size           string            `json:"size"`
	BitRate        string            `json:"bit_rate"`
	Tags           map[string]string `json:"tags"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index         int               `json:"index"`
	CodecName     string            `json:"codec_name"`
	CodecLongName string            `json:"codec_long_name"`
	Profile       string            `json:"profile"`
	CodecType     string            `json:"codec_type"` // video, audio, subtitle, data
	Width         int               `json:"width,omitempty"`
	Height        int               `json:"height,omitempty"`
	PixFmt        string            `json:"pix_fmt,omitempty"`
	SampleRate    string            `json:"sample_rate,omitempty"`
	Channels      int               `json:"channels,omitempty"`
	ChannelLayout string            `json:"channel_layout,omitempty"`
	RFrameRate    string            `json:"r_frame_rate,omitempty"`
	AvgFrameRate  string            `json:"avg_frame_rate,omitempty"`
	Duration      string            `json:"duration,omitempty"`
	BitRate       string            `json:"bit_rate,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// proberRunner executes a probe binary and returns its stdout. Tests swap
// this out to feed canned ffprobe output.
type proberRunner func(ctx context.Context, bin string, args ...string) ([]byte, error)

// Prober handles ffprobe operations against local source files. Results are
// cached keyed on path, size and mtime so repeated sessions against the same
// source skip the subprocess.
type Prober struct {
	detector *BinaryDetector
	timeout  time.Duration
	cache    *gocache.Cache
	runner   proberRunner
	logger   *slog.Logger
}

// NewProber creates a prober backed by the given binary detector.
func NewProber(detector *BinaryDetector, cfg config.EngineConfig, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ProbeTimeout.Duration()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ttl := cfg.ProbeCacheTTL.Duration()
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Prober{
		detector: detector,
		timeout:  timeout,
		cache:    gocache.New(ttl, 2*ttl),
		runner:   runProbe,
		logger:   observability.WithComponent(logger, "prober"),
	}
}

// runProbe is the default runner, executing the real ffprobe binary.
func runProbe(ctx context.Context, bin string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, bin, args...).Output()
}

// Probe probes a source file and returns detailed information.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	key, cacheable := p.cacheKey(path)
	if cacheable {
		if cached, ok := p.cache.Get(key); ok {
			return cached.(*ProbeResult), nil
		}
	}

	info, err := p.detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBinaryNotFound, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	output, err := p.runner(ctx, info.FFprobePath, args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	if cacheable {
		p.cache.Set(key, &result, gocache.DefaultExpiration)
	}

	p.logger.Debug("probed source",
		"path", path,
		"format", result.Format.FormatName,
		"streams", len(result.Streams),
		"duration", result.Duration())
	return &result, nil
}

// Duration probes a source file and returns its container duration.
func (p *Prober) Duration(ctx context.Context, path string) (time.Duration, error) {
	result, err := p.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	d := result.Duration()
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrDurationUnavailable, path)
	}
	return d, nil
}

// Flush drops all cached probe results.
func (p *Prober) Flush() {
	p.cache.Flush()
}

// cacheKey builds a cache key from the file's identity. A file that cannot
// be stat'ed is not cacheable.
func (p *Prober) cacheKey(path string) (string, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%s|%d|%d", path, fi.Size(), fi.ModTime().UnixNano()), true
}

// GetVideoStream returns the first video stream from the probe result.
func (r *ProbeResult) GetVideoStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "video" {
			return &r.Streams[i]
		}
	}
	return nil
}

// GetAudioStream returns the first audio stream from the probe result.
func (r *ProbeResult) GetAudioStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "audio" {
			return &r.Streams[i]
		}
	}
	return nil
}

// Duration returns the container duration, or 0 when unknown.
func (r *ProbeResult) Duration() time.Duration {
	if r.Format.Duration == "" {
		return 0
	}
	if sec, err := strconv.ParseFloat(r.Format.Duration, 64); err == nil && sec > 0 {
		return time.Duration(sec * float64(time.Second))
	}
	return 0
}

// Bitrate returns the overall bitrate in bits per second.
func (r *ProbeResult) Bitrate() int {
	if r.Format.BitRate == "" {
		return 0
	}
	if br, err := strconv.Atoi(r.Format.BitRate); err == nil {
		return br
	}
	return 0
}

// Framerate returns the framerate for a video stream.
func (s *ProbeStream) Framerate() float64 {
	if s.AvgFrameRate != "" {
		return parseFramerate(s.AvgFrameRate)
	}
	if s.RFrameRate != "" {
		return parseFramerate(s.RFrameRate)
	}
	return 0
}

// parseFramerate parses a framerate string like "30000/1001" or "25/1".
func parseFramerate(fr string) float64 {
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}

	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}

	return num / den
}
