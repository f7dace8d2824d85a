// Package stream implements chunked video conversion with progressive
// delivery. A producer transcodes the source in fixed windows while an
// appender feeds finished chunks into a buffered media sink. An
// admission gate paces production against buffer health, and a
// recovery machine reacts to classified sink failures. The controller
// drives bounded streaming attempts and falls back to a single
// whole-file conversion when streaming cannot complete.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SessionState describes where a conversion session is in its
// lifecycle.
type SessionState int

const (
	// StateStarting means the session is preparing an attempt.
	StateStarting SessionState = iota
	// StateStreaming means chunks are being produced and appended.
	StateStreaming
	// StateFallingBack means streaming gave up and a whole-file
	// conversion is running.
	StateFallingBack
	// StateCompleted means the session finished successfully.
	StateCompleted
	// StateAborted means the session failed terminally.
	StateAborted
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateFallingBack:
		return "falling-back"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ControllerConfig holds the collaborators and resolved settings of a
// conversion session.
type ControllerConfig struct {
	Engine  Engine
	Prober  DurationProber
	Sink    Sink
	Gate    *Gate
	Monitor *Monitor
	Logger  *slog.Logger

	// SessionID names the session's workspace and records.
	SessionID uuid.UUID
	// Source is the path of the original input file.
	Source string
	// OutputDir receives fallback conversion results.
	OutputDir string

	ChunkDuration     time.Duration
	MaxChunkRetries   int
	ChunkRetryDelay   time.Duration
	MaxAppendFailures int
	MaxAttempts       int
	AttemptCooldown   time.Duration
	ReopenDelay       time.Duration
	Params            EncodeParams
}

// Controller runs one conversion session end to end: bounded streaming
// attempts first, then a whole-file fallback if every attempt fails.
type Controller struct {
	cfg      ControllerConfig
	fallback *Fallback
	logger   *slog.Logger

	mu       sync.Mutex
	state    SessionState
	sess     *StreamSession
	attempt  int
	duration time.Duration
	output   string
}

// NewController creates a controller for one session.
func NewController(cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Controller{
		cfg:      cfg,
		fallback: NewFallback(cfg.Engine, cfg.OutputDir, logger),
		logger:   logger,
		state:    StateStarting,
	}
}

// State returns the session's current lifecycle state.
func (c *Controller) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of streaming attempts started so far.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// SourceDuration returns the probed duration of the source, or zero
// before probing.
func (c *Controller) SourceDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// Output returns the fallback output path when the session completed
// through the whole-file fallback.
func (c *Controller) Output() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output, c.output != ""
}

// Cancel marks the in-flight attempt cancelled. The context passed to
// Run remains the authoritative cancellation path; this flag lets the
// producer stop between chunks even under a detached context.
func (c *Controller) Cancel() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess != nil {
		sess.Cancel()
	}
}

func (c *Controller) setState(s SessionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run executes the session to a terminal state. A nil return means the
// session completed, through streaming or through the fallback; the
// two are distinguished by Output.
func (c *Controller) Run(ctx context.Context) error {
	c.setState(StateStarting)

	input, err := c.prepareWorkspace()
	if err != nil {
		c.setState(StateAborted)
		return err
	}
	defer c.cleanupWorkspace()

	duration, err := c.cfg.Prober.Duration(ctx, input)
	if err != nil {
		c.setState(StateAborted)
		return fmt.Errorf("probing source duration: %w", err)
	}
	c.mu.Lock()
	c.duration = duration
	c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, c.cfg.AttemptCooldown); err != nil {
				c.setState(StateAborted)
				return err
			}
			c.setState(StateStarting)
		}
		c.mu.Lock()
		c.attempt = attempt
		c.mu.Unlock()

		err := c.runAttempt(ctx, attempt, input, duration)
		if err == nil {
			c.setState(StateCompleted)
			c.logger.Info("session completed", "attempt", attempt)
			return nil
		}
		if ctx.Err() != nil {
			c.setState(StateAborted)
			return err
		}
		lastErr = err
		c.logger.Warn("streaming attempt failed",
			"attempt", attempt, "max_attempts", c.cfg.MaxAttempts, "error", err)
	}

	exhausted := fmt.Errorf("%w after %d attempts: %v",
		ErrAttemptsExhausted, c.cfg.MaxAttempts, lastErr)
	c.setState(StateFallingBack)
	c.logger.Warn("falling back to whole-file conversion", "error", exhausted)

	output, err := c.fallback.Convert(ctx,
		c.cfg.SessionID.String(), input, c.cfg.Sink.MimeType(), c.cfg.Params)
	if err != nil {
		c.setState(StateAborted)
		return fmt.Errorf("fallback conversion: %w (streaming: %v)", err, exhausted)
	}

	c.mu.Lock()
	c.output = output
	c.mu.Unlock()
	c.cfg.Monitor.RecordFallback()
	c.setState(StateCompleted)
	return nil
}

// runAttempt runs one full streaming attempt: open the sink, run the
// producer and appender until both finish, and mark the stream ended.
func (c *Controller) runAttempt(ctx context.Context, attempt int, input string, duration time.Duration) error {
	sess := NewStreamSession(c.cfg.SessionID, attempt, duration, c.cfg.ChunkDuration)
	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	if err := c.cfg.Sink.Open(ctx); err != nil {
		return err
	}
	c.setState(StateStreaming)

	queue := NewQueue()
	recovery := NewRecovery(RecoveryConfig{
		Sink:        c.cfg.Sink,
		Queue:       queue,
		Session:     sess,
		Monitor:     c.cfg.Monitor,
		Logger:      c.logger,
		ReopenDelay: c.cfg.ReopenDelay,
		MaxFailures: c.cfg.MaxAppendFailures,
	})
	producer := NewProducer(ProducerConfig{
		Engine:     c.cfg.Engine,
		Sink:       c.cfg.Sink,
		Queue:      queue,
		Gate:       c.cfg.Gate,
		Session:    sess,
		Monitor:    c.cfg.Monitor,
		Logger:     c.logger,
		Input:      input,
		MaxRetries: c.cfg.MaxChunkRetries,
		RetryDelay: c.cfg.ChunkRetryDelay,
		Params:     c.cfg.Params,
	})
	appender := NewAppender(AppenderConfig{
		Queue:    queue,
		Sink:     c.cfg.Sink,
		Recovery: recovery,
		Session:  sess,
		Monitor:  c.cfg.Monitor,
		Logger:   c.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return producer.Run(gctx) })
	g.Go(func() error { return appender.Run(gctx) })
	if err := g.Wait(); err != nil {
		c.cfg.Sink.Close()
		return err
	}

	// The stream ended cleanly. The sink stays open so attached
	// readers can drain what is buffered.
	if err := c.cfg.Sink.Finish(); err != nil {
		c.logger.Warn("finishing sink failed", "error", err)
	}
	return nil
}

// prepareWorkspace creates the session workspace and copies the source
// into it. Transcodes read the working copy, so changes to the
// original mid-session cannot corrupt chunks.
func (c *Controller) prepareWorkspace() (string, error) {
	sid := c.cfg.SessionID.String()
	if err := c.cfg.Engine.EnsureWorkspace(sid); err != nil {
		return "", fmt.Errorf("creating session workspace: %w", err)
	}
	name := "source" + strings.ToLower(filepath.Ext(c.cfg.Source))
	if err := c.cfg.Engine.CopyIn(sid, name, c.cfg.Source); err != nil {
		return "", fmt.Errorf("copying source into workspace: %w", err)
	}
	path, err := c.cfg.Engine.ArtifactPath(sid, name)
	if err != nil {
		return "", err
	}
	return path, nil
}

func (c *Controller) cleanupWorkspace() {
	if err := c.cfg.Engine.RemoveWorkspace(c.cfg.SessionID.String()); err != nil {
		c.logger.Warn("removing session workspace failed", "error", err)
	}
}
