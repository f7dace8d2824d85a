package engine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/config"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not installed.
func skipIfNoFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	return path
}

// skipIfNoFFprobe skips the test if ffprobe is not installed.
func skipIfNoFFprobe(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not installed")
	}
	return path
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			BaseDir:   t.TempDir(),
			WorkDir:   "work",
			OutputDir: "output",
		},
	}
	eng, err := New(cfg, nil)
	require.NoError(t, err)
	return eng
}

func TestBinaryDetector_Detect(t *testing.T) {
	skipIfNoFFmpeg(t)
	skipIfNoFFprobe(t)

	ctx := context.Background()
	detector := NewBinaryDetector("", "")

	info, err := detector.Detect(ctx)
	require.NoError(t, err)
	require.NotNil(t, info)

	assert.NotEmpty(t, info.FFmpegPath)
	assert.NotEmpty(t, info.FFprobePath)
	assert.NotEmpty(t, info.Version)
	assert.Greater(t, info.MajorVersion, 0)
}

func TestBinaryDetector_Caching(t *testing.T) {
	skipIfNoFFmpeg(t)
	skipIfNoFFprobe(t)

	ctx := context.Background()
	detector := NewBinaryDetector("", "").WithCacheTTL(1 * time.Hour)

	// First detection
	info1, err := detector.Detect(ctx)
	require.NoError(t, err)

	// Second detection should return cached result
	info2, err := detector.Detect(ctx)
	require.NoError(t, err)

	assert.Equal(t, info1.FFmpegPath, info2.FFmpegPath)
	assert.Equal(t, info1.Version, info2.Version)
}

func TestBinaryDetector_Clear(t *testing.T) {
	skipIfNoFFmpeg(t)
	skipIfNoFFprobe(t)

	ctx := context.Background()
	detector := NewBinaryDetector("", "")

	_, err := detector.Detect(ctx)
	require.NoError(t, err)

	detector.Clear()
	assert.Nil(t, detector.info)
}

func TestBinaryInfo_HasEncoder(t *testing.T) {
	info := &BinaryInfo{
		Encoders: []string{"libx264", "libx265", "aac", "libopus"},
	}

	assert.True(t, info.HasEncoder("libx264"))
	assert.True(t, info.HasEncoder("aac"))
	assert.False(t, info.HasEncoder("h264_nvenc"))
}

func TestBinaryInfo_SupportsMinVersion(t *testing.T) {
	info := &BinaryInfo{
		MajorVersion: 6,
		MinorVersion: 1,
	}

	assert.True(t, info.SupportsMinVersion(5, 0))
	assert.True(t, info.SupportsMinVersion(6, 0))
	assert.True(t, info.SupportsMinVersion(6, 1))
	assert.False(t, info.SupportsMinVersion(6, 2))
	assert.False(t, info.SupportsMinVersion(7, 0))
}

func TestBinaryInfo_JSON(t *testing.T) {
	info := &BinaryInfo{
		FFmpegPath:   "/usr/bin/ffmpeg",
		FFprobePath:  "/usr/bin/ffprobe",
		Version:      "6.0",
		MajorVersion: 6,
		MinorVersion: 0,
	}

	jsonStr := info.JSON()
	assert.Contains(t, jsonStr, "ffmpeg_path")
	assert.Contains(t, jsonStr, "/usr/bin/ffmpeg")
}

func TestCommandBuilder_Build(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		HideBanner().
		Overwrite().
		Input("input.mp4").
		VideoCodec("libx264").
		AudioCodec("aac").
		Output("output.mp4").
		Build()

	assert.Equal(t, "/usr/bin/ffmpeg", cmd.Binary)
	assert.Contains(t, cmd.Args, "-hide_banner")
	assert.Contains(t, cmd.Args, "-y")
	assert.Contains(t, cmd.Args, "-i")
	assert.Contains(t, cmd.Args, "input.mp4")
	assert.Contains(t, cmd.Args, "-c:v")
	assert.Contains(t, cmd.Args, "libx264")
	assert.Contains(t, cmd.Args, "-c:a")
	assert.Contains(t, cmd.Args, "aac")
	assert.Equal(t, "output.mp4", cmd.Args[len(cmd.Args)-1])
}

func TestCommandBuilder_SeekAndDuration(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		Seek(90 * time.Second).
		Input("input.mp4").
		Duration(8 * time.Second).
		Output("output.mp4").
		Build()

	args := cmd.Args
	ss := slices.Index(args, "-ss")
	in := slices.Index(args, "-i")
	dur := slices.Index(args, "-t")

	require.GreaterOrEqual(t, ss, 0)
	require.GreaterOrEqual(t, in, 0)
	require.GreaterOrEqual(t, dur, 0)

	// Seek is an input option, duration an output option
	assert.Less(t, ss, in)
	assert.Greater(t, dur, in)
	assert.Equal(t, "90", args[ss+1])
	assert.Equal(t, "8", args[dur+1])
}

func TestCommandBuilder_FractionalSeek(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		Seek(1500 * time.Millisecond).
		Input("input.mp4").
		Output("output.mp4").
		Build()

	args := cmd.Args
	ss := slices.Index(args, "-ss")
	require.GreaterOrEqual(t, ss, 0)
	assert.Equal(t, "1.5", args[ss+1])
}

func TestCommandBuilder_QualityArgs(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		Input("input.mp4").
		Preset("veryfast").
		CRF(23).
		Output("output.mp4").
		Build()

	cmdStr := cmd.String()
	assert.Contains(t, cmdStr, "-preset veryfast")
	assert.Contains(t, cmdStr, "-crf 23")
}

func TestCommandBuilder_FMP4Args(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		Input("input.mp4").
		VideoCodec("libx264").
		FMP4Args().
		Output("output.mp4").
		Build()

	cmdStr := cmd.String()
	assert.Contains(t, cmdStr, "-f mp4")
	assert.Contains(t, cmdStr, "-movflags empty_moov+default_base_moof+frag_keyframe")
}

func TestCommandBuilder_MpegtsArgs(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		Input("input.mp4").
		VideoCodec("copy").
		MpegtsArgs().
		Output("output.ts").
		Build()

	cmdStr := cmd.String()
	assert.Contains(t, cmdStr, "-f mpegts")
	assert.Contains(t, cmdStr, "-mpegts_copyts 1")
	assert.Contains(t, cmdStr, "-avoid_negative_ts disabled")
}

func TestCommandBuilder_String(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		HideBanner().
		Input("input.mp4").
		VideoCodec("copy").
		Output("output.mp4").
		Build()

	str := cmd.String()
	assert.Contains(t, str, "/usr/bin/ffmpeg")
	assert.Contains(t, str, "-hide_banner")
	assert.Contains(t, str, "input.mp4")
	assert.Contains(t, str, "output.mp4")
}

func TestCommand_Run_CapturesStderr(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	cmd := &Command{
		Binary: "sh",
		Args:   []string{"-c", "echo boom >&2; exit 3"},
	}

	err := cmd.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, cmd.StderrTail(), "boom")
}

func TestCommand_Run_Success(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	cmd := &Command{
		Binary: "sh",
		Args:   []string{"-c", "true"},
	}

	require.NoError(t, cmd.Run(context.Background()))
	assert.Greater(t, cmd.RunDuration(), time.Duration(0))
}

func TestEngine_WorkspaceFiles(t *testing.T) {
	eng := newTestEngine(t)

	require.NoError(t, eng.EnsureWorkspace("session-1"))

	data := []byte("chunk payload")
	require.NoError(t, eng.WriteFile("session-1", "chunk-0.mp4", data))

	got, err := eng.ReadFile("session-1", "chunk-0.mp4")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, eng.RemoveFile("session-1", "chunk-0.mp4"))
	_, err = eng.ReadFile("session-1", "chunk-0.mp4")
	assert.Error(t, err)

	// Removing a missing artifact is not an error
	require.NoError(t, eng.RemoveFile("session-1", "chunk-0.mp4"))

	require.NoError(t, eng.RemoveWorkspace("session-1"))
	_, err = os.Stat(eng.WorkspacePath("session-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestEngine_CopyIn(t *testing.T) {
	eng := newTestEngine(t)

	src := filepath.Join(t.TempDir(), "source.mkv")
	payload := []byte("not really a video, but big enough to copy")
	require.NoError(t, os.WriteFile(src, payload, 0o644))

	require.NoError(t, eng.CopyIn("session-2", "source.mkv", src))

	got, err := eng.ReadFile("session-2", "source.mkv")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Original is untouched
	orig, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, payload, orig)

	t.Run("missing source", func(t *testing.T) {
		err := eng.CopyIn("session-2", "copy.mkv", filepath.Join(t.TempDir(), "absent.mkv"))
		assert.Error(t, err)
	})

	t.Run("bad artifact name", func(t *testing.T) {
		err := eng.CopyIn("session-2", "../escape.mkv", src)
		assert.ErrorIs(t, err, ErrInvalidArtifactName)
	})
}

func TestEngine_ArtifactPath_Validation(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name      string
		sessionID string
		artifact  string
	}{
		{"empty artifact", "session-1", ""},
		{"empty session", "", "chunk-0.mp4"},
		{"parent traversal", "session-1", "../escape.mp4"},
		{"nested path", "session-1", "sub/chunk.mp4"},
		{"backslash", "session-1", `sub\chunk.mp4`},
		{"dot", "session-1", "."},
		{"dotdot", "session-1", ".."},
		{"session traversal", "../other", "chunk-0.mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.ArtifactPath(tt.sessionID, tt.artifact)
			assert.ErrorIs(t, err, ErrInvalidArtifactName)
		})
	}
}

func TestEngine_ValidateSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.mp4")
	require.NoError(t, os.WriteFile(src, make([]byte, 1024), 0o644))

	cfg := &config.Config{
		Storage: config.StorageConfig{BaseDir: dir, WorkDir: "work", OutputDir: "output"},
	}

	t.Run("ok", func(t *testing.T) {
		eng, err := New(cfg, nil)
		require.NoError(t, err)
		assert.NoError(t, eng.ValidateSource(src))
	})

	t.Run("missing", func(t *testing.T) {
		eng, err := New(cfg, nil)
		require.NoError(t, err)
		assert.Error(t, eng.ValidateSource(filepath.Join(dir, "nope.mp4")))
	})

	t.Run("directory", func(t *testing.T) {
		eng, err := New(cfg, nil)
		require.NoError(t, err)
		assert.Error(t, eng.ValidateSource(dir))
	})

	t.Run("too large", func(t *testing.T) {
		limited := *cfg
		limited.Engine.MaxSourceSize = 512
		eng, err := New(&limited, nil)
		require.NoError(t, err)
		assert.ErrorIs(t, eng.ValidateSource(src), ErrSourceTooLarge)
	})
}

func TestEngine_Transcode_UnknownContainer(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.Transcode(context.Background(), TranscodeSpec{
		SessionID: "session-1",
		Input:     "input.mp4",
		Output:    "chunk-0.avi",
		Container: "avi",
	})
	assert.ErrorIs(t, err, ErrUnknownContainer)
}

func TestEngine_Transcode(t *testing.T) {
	skipIfNoFFmpeg(t)
	skipIfNoFFprobe(t)

	eng := newTestEngine(t)
	ctx := context.Background()

	// Synthesize a short source clip
	src := filepath.Join(t.TempDir(), "src.mp4")
	gen := exec.Command("ffmpeg", "-y",
		"-f", "lavfi", "-i", "testsrc=duration=2:size=128x72:rate=10",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=2",
		"-shortest", src)
	require.NoError(t, gen.Run())

	err := eng.Transcode(ctx, TranscodeSpec{
		SessionID: "session-1",
		Input:     src,
		Output:    "chunk-0.mp4",
		Start:     0,
		Duration:  time.Second,
		Container: ContainerMP4,
	})
	require.NoError(t, err)

	data, err := eng.ReadFile("session-1", "chunk-0.mp4")
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	// Fragmented MP4 output starts with an ftyp box
	assert.Equal(t, "ftyp", string(data[4:8]))
}

const probeFixture = `{
  "format": {
    "filename": "source.mp4",
    "nb_streams": 2,
    "format_name": "mov,mp4,m4a,3gp,3g2,mj2",
    "format_long_name": "QuickTime / MOV",
    "start_time": "0.000000",
    "duration": "60.096000",
    "size": "10485760",
    "bit_rate": "1395864",
    "tags": {"title": "Sample"}
  },
  "streams": [
    {
      "index": 0,
      "codec_name": "h264",
      "codec_long_name": "H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10",
      "profile": "High",
      "codec_type": "video",
      "width": 1280,
      "height": 720,
      "pix_fmt": "yuv420p",
      "r_frame_rate": "30000/1001",
      "avg_frame_rate": "30000/1001",
      "duration": "60.060000",
      "bit_rate": "1200000"
    },
    {
      "index": 1,
      "codec_name": "aac",
      "codec_long_name": "AAC (Advanced Audio Coding)",
      "profile": "LC",
      "codec_type": "audio",
      "sample_rate": "48000",
      "channels": 2,
      "channel_layout": "stereo",
      "duration": "60.096000",
      "bit_rate": "192000"
    }
  ]
}`

// newTestProber returns a prober whose binary detection is pre-seeded and
// whose runner returns canned ffprobe output.
func newTestProber(t *testing.T, output string, calls *int) *Prober {
	t.Helper()

	detector := NewBinaryDetector("", "").WithCacheTTL(time.Hour)
	detector.info = &BinaryInfo{FFmpegPath: "/usr/bin/ffmpeg", FFprobePath: "/usr/bin/ffprobe"}
	detector.lastDetected = time.Now()

	p := NewProber(detector, config.EngineConfig{
		ProbeTimeout:  config.Duration(5 * time.Second),
		ProbeCacheTTL: config.Duration(time.Minute),
	}, nil)
	p.runner = func(ctx context.Context, bin string, args ...string) ([]byte, error) {
		if calls != nil {
			*calls++
		}
		return []byte(output), nil
	}
	return p
}

func TestProber_Probe(t *testing.T) {
	p := newTestProber(t, probeFixture, nil)

	result, err := p.Probe(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Format.NumStreams)
	assert.Equal(t, "mov,mp4,m4a,3gp,3g2,mj2", result.Format.FormatName)
	assert.InDelta(t, 60.096, result.Duration().Seconds(), 0.001)
	assert.Equal(t, 1395864, result.Bitrate())

	video := result.GetVideoStream()
	require.NotNil(t, video)
	assert.Equal(t, "h264", video.CodecName)
	assert.Equal(t, 1280, video.Width)
	assert.InDelta(t, 29.97, video.Framerate(), 0.01)

	audio := result.GetAudioStream()
	require.NotNil(t, audio)
	assert.Equal(t, "aac", audio.CodecName)
	assert.Equal(t, 2, audio.Channels)
}

func TestProber_Duration(t *testing.T) {
	p := newTestProber(t, probeFixture, nil)

	d, err := p.Duration(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	require.NoError(t, err)
	assert.InDelta(t, 60.096, d.Seconds(), 0.001)
}

func TestProber_Duration_Unavailable(t *testing.T) {
	p := newTestProber(t, `{"format":{"format_name":"mpegts"},"streams":[]}`, nil)

	_, err := p.Duration(context.Background(), filepath.Join(t.TempDir(), "missing.ts"))
	assert.ErrorIs(t, err, ErrDurationUnavailable)
}

func TestProber_Cache(t *testing.T) {
	src := filepath.Join(t.TempDir(), "source.mp4")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))

	var calls int
	p := newTestProber(t, probeFixture, &calls)

	ctx := context.Background()
	_, err := p.Probe(ctx, src)
	require.NoError(t, err)
	_, err = p.Probe(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second probe should hit the cache")

	p.Flush()
	_, err = p.Probe(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestParseFramerate(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"30/1", 30.0},
		{"25/1", 25.0},
		{"30000/1001", 29.97002997002997},
		{"24000/1001", 23.976023976023978},
		{"60", 60.0},
		{"invalid", 0},
		{"0/0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseFramerate(tt.input)
			if tt.expected == 0 {
				assert.Equal(t, float64(0), result)
			} else {
				assert.InDelta(t, tt.expected, result, 0.001)
			}
		})
	}
}
