package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/vodarr/internal/engine"
	"github.com/jmylchreest/vodarr/internal/mediasink"
)

// ProducerConfig holds the collaborators and settings of a chunk producer.
type ProducerConfig struct {
	Engine  Engine
	Sink    Sink
	Queue   *Queue
	Gate    *Gate
	Session *StreamSession
	Monitor *Monitor
	Logger  *slog.Logger

	// Input is the path of the session's working copy of the source.
	Input string
	// MaxRetries is the consecutive chunk-failure ceiling.
	MaxRetries int
	// RetryDelay is the fixed backoff between attempts of the same chunk.
	RetryDelay time.Duration
	// Params are the encode settings applied to every chunk.
	Params EncodeParams
}

// Producer transcodes the source in fixed windows and feeds the pending
// queue. Windows start at 0, W, 2W, ... while the start lies inside the
// source; the final window is clipped to the remaining duration. Each
// chunk passes the admission gate before its transcode starts.
type Producer struct {
	cfg     ProducerConfig
	sess    *StreamSession
	monitor *Monitor
	logger  *slog.Logger
}

// NewProducer creates a producer for one streaming attempt.
func NewProducer(cfg ProducerConfig) *Producer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Producer{
		cfg:     cfg,
		sess:    cfg.Session,
		monitor: cfg.Monitor,
		logger:  logger,
	}
}

// Run produces chunks until the source is exhausted, the session is
// cancelled, or the consecutive failure ceiling is reached. The queue's
// producing side is closed on exit so the appender can drain and stop.
func (p *Producer) Run(ctx context.Context) error {
	defer p.cfg.Queue.CloseProduction()

	for {
		idx := p.sess.ChunkIndex()
		start := time.Duration(idx) * p.sess.ChunkDuration
		if start >= p.sess.Duration {
			p.logger.Debug("source exhausted", "chunks", idx)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.sess.Cancelled() {
			return context.Canceled
		}

		window := p.sess.ChunkDuration
		if remaining := p.sess.Duration - start; remaining < window {
			window = remaining
		}

		if err := p.admit(ctx); err != nil {
			return err
		}

		chunk, err := p.produceChunk(ctx, idx, start, window)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures := p.sess.RecordChunkError()
			if start+window >= p.sess.Duration-p.sess.ChunkDuration {
				// The failing chunk is the last one worth fighting for:
				// everything essential is already delivered, so stop
				// production cleanly instead of exhausting the stream.
				p.logger.Warn("final chunk failed, stopping production",
					"chunk", idx, "error", err)
				return nil
			}
			if failures >= p.cfg.MaxRetries {
				return fmt.Errorf("%w: chunk %d failed %d times: %v",
					ErrStreamExhausted, idx, failures, err)
			}
			p.monitor.RecordRetry()
			p.logger.Warn("chunk failed, retrying",
				"chunk", idx, "failures", failures, "error", err)
			if err := sleepCtx(ctx, p.cfg.RetryDelay); err != nil {
				return err
			}
			continue
		}

		if err := p.cfg.Queue.Enqueue(chunk); err != nil {
			return err
		}
		p.sess.AdvanceChunk()
	}
}

// admit blocks until the admission gate lets the next chunk through.
func (p *Producer) admit(ctx context.Context) error {
	for {
		if p.sess.Cancelled() {
			return context.Canceled
		}
		decision := p.cfg.Gate.ShouldAdmit(ctx, p.cfg.Sink.Snapshot(), p.cfg.Queue.Depth())
		if decision.Proceed {
			p.monitor.RecordAdmitted()
			return nil
		}
		p.monitor.RecordWait(decision.Rule)
		p.logger.Debug("admission delayed", "rule", decision.Rule, "wait", decision.Wait)
		if err := sleepCtx(ctx, decision.Wait); err != nil {
			return err
		}
	}
}

// produceChunk transcodes one window and reads the artifact back. The
// artifact is removed after the read regardless of outcome, so the
// workspace never accumulates chunk files.
func (p *Producer) produceChunk(ctx context.Context, idx int, start, window time.Duration) (*Chunk, error) {
	container := p.cfg.Sink.Container()
	name := fmt.Sprintf("chunk-%05d.%s", idx, containerExt(container))
	sessionID := p.sess.ID.String()

	started := time.Now()
	err := p.cfg.Engine.Transcode(ctx, engine.TranscodeSpec{
		SessionID:  sessionID,
		Input:      p.cfg.Input,
		Output:     name,
		Start:      start,
		Duration:   window,
		Container:  container.String(),
		VideoCodec: p.cfg.Params.VideoCodec,
		AudioCodec: p.cfg.Params.AudioCodec,
		Preset:     p.cfg.Params.Preset,
		Quality:    p.cfg.Params.Quality,
	})
	if err != nil {
		p.removeArtifact(sessionID, name)
		return nil, &ChunkError{Index: idx, Stage: StageTranscode, Err: err}
	}

	data, err := p.cfg.Engine.ReadFile(sessionID, name)
	p.removeArtifact(sessionID, name)
	if err != nil {
		return nil, &ChunkError{Index: idx, Stage: StageRead, Err: err}
	}

	p.monitor.RecordProduced(len(data), time.Since(started))
	return &Chunk{
		Index:     idx,
		Start:     start,
		Extent:    window,
		Data:      data,
		Container: container,
	}, nil
}

// removeArtifact deletes a chunk artifact; failure is non-fatal.
func (p *Producer) removeArtifact(sessionID, name string) {
	if err := p.cfg.Engine.RemoveFile(sessionID, name); err != nil {
		p.logger.Warn("removing chunk artifact failed", "artifact", name, "error", err)
	}
}

// containerExt returns the artifact file extension for a container.
func containerExt(c mediasink.Container) string {
	switch c {
	case mediasink.ContainerWebM:
		return "webm"
	case mediasink.ContainerMPEGTS:
		return "ts"
	default:
		return "mp4"
	}
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
