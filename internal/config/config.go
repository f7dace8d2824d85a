// Package config provides configuration management for vodarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/jmylchreest/vodarr/internal/codec"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute

	defaultProbeTimeout  = 15 * time.Second
	defaultProbeCacheTTL = 5 * time.Minute
	defaultMaxSourceSize = 8 * 1024 * 1024 * 1024 // 8GB

	defaultChunkDuration     = 8 * time.Second
	defaultMaxChunkRetries   = 3
	defaultChunkRetryDelay   = time.Second
	defaultMaxAppendFailures = 5
	defaultSessionAttempts   = 2
	defaultAttemptCooldown   = 2 * time.Second
	defaultReopenDelay       = 500 * time.Millisecond
	defaultMaxSessions       = 4
	defaultSinkQuota         = 256 * 1024 * 1024 // 256MB

	defaultMaxBufferedRanges = 5
	defaultRangeWait         = 2 * time.Second
	defaultMaxLookahead      = 30 * time.Second
	defaultLookaheadWait     = 2 * time.Second
	defaultMaxQueueDepth     = 5
	defaultQueueWait         = 500 * time.Millisecond
	defaultMaxMemoryPercent  = 0.80
	defaultMemoryWait        = 5 * time.Second

	defaultJanitorRetention = 24 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Janitor  JanitorConfig  `mapstructure:"janitor"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"` // 0 disables; stream delivery needs unbounded writes
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir   string `mapstructure:"base_dir"`
	WorkDir   string `mapstructure:"work_dir"`   // per-session transcode workspaces
	OutputDir string `mapstructure:"output_dir"` // fallback conversion outputs
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// EngineConfig holds transcode engine (FFmpeg) configuration.
type EngineConfig struct {
	FFmpegPath    string   `mapstructure:"ffmpeg_path"`  // Path to ffmpeg binary (empty = auto-detect)
	FFprobePath   string   `mapstructure:"ffprobe_path"` // Path to ffprobe binary (empty = auto-detect)
	ProbeTimeout  Duration `mapstructure:"probe_timeout"`
	ProbeCacheTTL Duration `mapstructure:"probe_cache_ttl"`
	// MaxSourceSize is the maximum accepted source file size.
	// Supports human-readable values like "8GB", or raw byte counts.
	MaxSourceSize ByteSize `mapstructure:"max_source_size"`
}

// StreamConfig holds chunked streaming session configuration.
type StreamConfig struct {
	// ChunkDuration is the fixed time window each transcoded chunk covers.
	// The final chunk of a source is clipped to the remaining duration.
	ChunkDuration         Duration        `mapstructure:"chunk_duration"`
	MaxChunkRetries       int             `mapstructure:"max_chunk_retries"`
	ChunkRetryDelay       Duration        `mapstructure:"chunk_retry_delay"`
	MaxAppendFailures     int             `mapstructure:"max_append_failures"`
	MaxSessionAttempts    int             `mapstructure:"max_session_attempts"`
	AttemptCooldown       Duration        `mapstructure:"attempt_cooldown"`
	ReopenDelay           Duration        `mapstructure:"reopen_delay"`
	MaxConcurrentSessions int             `mapstructure:"max_concurrent_sessions"`
	FormatPreferences     []string        `mapstructure:"format_preferences"`
	VideoCodec            string          `mapstructure:"video_codec"`
	AudioCodec            string          `mapstructure:"audio_codec"`
	Preset                string          `mapstructure:"preset"`
	Quality               int             `mapstructure:"quality"` // CRF value
	Sink                  SinkConfig      `mapstructure:"sink"`
	Admission             AdmissionConfig `mapstructure:"admission"`
}

// SinkConfig holds buffered media sink configuration.
type SinkConfig struct {
	// MaxBufferedBytes is the sink's buffer quota. Appends that would exceed
	// it fail with a quota error and trigger eviction of played-back data.
	// Supports human-readable values like "256MB", or raw byte counts.
	MaxBufferedBytes ByteSize `mapstructure:"max_buffered_bytes"`
}

// AdmissionConfig holds chunk admission (backpressure) thresholds.
// Each rule pairs a ceiling with the wait applied while the ceiling is
// exceeded. Values at a ceiling are admitted; only strictly-above waits.
type AdmissionConfig struct {
	MaxBufferedRanges    int      `mapstructure:"max_buffered_ranges"`
	BufferedRangesWait   Duration `mapstructure:"buffered_ranges_wait"`
	MaxLookahead         Duration `mapstructure:"max_lookahead"`
	LookaheadWait        Duration `mapstructure:"lookahead_wait"`
	MaxQueueDepth        int      `mapstructure:"max_queue_depth"`
	QueueDepthWait       Duration `mapstructure:"queue_depth_wait"`
	MaxMemoryUtilization float64  `mapstructure:"max_memory_utilization"`
	MemoryWait           Duration `mapstructure:"memory_wait"`
}

// JanitorConfig holds scheduled cleanup configuration.
type JanitorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"` // 6-field cron expression
	// Retention is how long finished session workspaces and conversion
	// records are kept before the janitor removes them.
	Retention Duration `mapstructure:"retention"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with VODARR_ and use underscores for nesting.
// Example: VODARR_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/vodarr")
		v.AddConfigPath("$HOME/.vodarr")
	}

	// Environment variable settings
	v.SetEnvPrefix("VODARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	return FromViper(v)
}

// FromViper decodes and validates configuration from an already configured
// Viper instance. The CLI uses this against the global Viper so flag
// bindings participate in precedence.
func FromViper(v *viper.Viper) (*Config, error) {
	// The extra text-unmarshaller hook lets Duration and ByteSize fields
	// accept human-readable values like "30d" or "256MB".
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.idle_timeout", defaultIdleTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "vodarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.work_dir", "work")
	v.SetDefault("storage.output_dir", "output")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Engine defaults
	v.SetDefault("engine.ffmpeg_path", "")
	v.SetDefault("engine.ffprobe_path", "")
	v.SetDefault("engine.probe_timeout", defaultProbeTimeout)
	v.SetDefault("engine.probe_cache_ttl", defaultProbeCacheTTL)
	v.SetDefault("engine.max_source_size", defaultMaxSourceSize)

	// Stream defaults
	v.SetDefault("stream.chunk_duration", defaultChunkDuration)
	v.SetDefault("stream.max_chunk_retries", defaultMaxChunkRetries)
	v.SetDefault("stream.chunk_retry_delay", defaultChunkRetryDelay)
	v.SetDefault("stream.max_append_failures", defaultMaxAppendFailures)
	v.SetDefault("stream.max_session_attempts", defaultSessionAttempts)
	v.SetDefault("stream.attempt_cooldown", defaultAttemptCooldown)
	v.SetDefault("stream.reopen_delay", defaultReopenDelay)
	v.SetDefault("stream.max_concurrent_sessions", defaultMaxSessions)
	v.SetDefault("stream.format_preferences", []string{"video/mp4", "video/webm"})
	v.SetDefault("stream.video_codec", "libx264")
	v.SetDefault("stream.audio_codec", "aac")
	v.SetDefault("stream.preset", "veryfast")
	v.SetDefault("stream.quality", 23)
	v.SetDefault("stream.sink.max_buffered_bytes", defaultSinkQuota)

	// Admission defaults
	v.SetDefault("stream.admission.max_buffered_ranges", defaultMaxBufferedRanges)
	v.SetDefault("stream.admission.buffered_ranges_wait", defaultRangeWait)
	v.SetDefault("stream.admission.max_lookahead", defaultMaxLookahead)
	v.SetDefault("stream.admission.lookahead_wait", defaultLookaheadWait)
	v.SetDefault("stream.admission.max_queue_depth", defaultMaxQueueDepth)
	v.SetDefault("stream.admission.queue_depth_wait", defaultQueueWait)
	v.SetDefault("stream.admission.max_memory_utilization", defaultMaxMemoryPercent)
	v.SetDefault("stream.admission.memory_wait", defaultMemoryWait)

	// Janitor defaults
	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.cron", "0 */10 * * * *") // Every 10 minutes (6-field cron)
	v.SetDefault("janitor.retention", defaultJanitorRetention)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	validDBLogLevels := map[string]bool{"silent": true, "error": true, "warn": true, "info": true}
	if !validDBLogLevels[c.Database.LogLevel] {
		return fmt.Errorf("database.log_level must be one of: silent, error, warn, info")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be at least 1")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns must not be negative")
	}

	// Storage validation
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Stream validation
	if c.Stream.ChunkDuration.Duration() <= 0 {
		return fmt.Errorf("stream.chunk_duration must be positive")
	}
	if c.Stream.MaxChunkRetries < 1 {
		return fmt.Errorf("stream.max_chunk_retries must be at least 1")
	}
	if c.Stream.MaxAppendFailures < 1 {
		return fmt.Errorf("stream.max_append_failures must be at least 1")
	}
	if c.Stream.MaxSessionAttempts < 1 {
		return fmt.Errorf("stream.max_session_attempts must be at least 1")
	}
	if len(c.Stream.FormatPreferences) == 0 {
		return fmt.Errorf("stream.format_preferences must list at least one format")
	}
	if _, ok := codec.ParseVideo(c.Stream.VideoCodec); !ok {
		return fmt.Errorf("stream.video_codec %q is not a supported codec (one of: %s)",
			c.Stream.VideoCodec, strings.Join(codec.SupportedVideoCodecs(), ", "))
	}
	if _, ok := codec.ParseAudio(c.Stream.AudioCodec); !ok {
		return fmt.Errorf("stream.audio_codec %q is not a supported codec (one of: %s)",
			c.Stream.AudioCodec, strings.Join(codec.SupportedAudioCodecs(), ", "))
	}
	const maxSessions = 1000
	if c.Stream.MaxConcurrentSessions < 1 || c.Stream.MaxConcurrentSessions > maxSessions {
		return fmt.Errorf("stream.max_concurrent_sessions must be between 1 and %d", maxSessions)
	}
	const maxCRF = 63
	if c.Stream.Quality < 0 || c.Stream.Quality > maxCRF {
		return fmt.Errorf("stream.quality must be between 0 and %d", maxCRF)
	}
	if c.Stream.Sink.MaxBufferedBytes <= 0 {
		return fmt.Errorf("stream.sink.max_buffered_bytes must be positive")
	}
	if u := c.Stream.Admission.MaxMemoryUtilization; u <= 0 || u > 1 {
		return fmt.Errorf("stream.admission.max_memory_utilization must be in (0, 1]")
	}

	// Janitor validation
	if c.Janitor.Enabled && c.Janitor.Cron == "" {
		return fmt.Errorf("janitor.cron is required when janitor is enabled")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WorkPath returns the full path to the transcode workspace directory.
func (c *StorageConfig) WorkPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.WorkDir)
}

// OutputPath returns the full path to the output directory.
func (c *StorageConfig) OutputPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.OutputDir)
}
