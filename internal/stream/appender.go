package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/jmylchreest/vodarr/internal/mediasink"
)

// AppenderConfig holds the collaborators of a chunk appender.
type AppenderConfig struct {
	Queue    *Queue
	Sink     Sink
	Recovery *Recovery
	Session  *StreamSession
	Monitor  *Monitor
	Logger   *slog.Logger
}

// Appender drains the pending queue into the sink in production order.
// Every append failure is classified and handed to the recovery
// machine, which decides whether the chunk is retried, dropped, or the
// whole attempt aborts.
type Appender struct {
	cfg    AppenderConfig
	logger *slog.Logger
}

// NewAppender creates an appender for one streaming attempt.
func NewAppender(cfg AppenderConfig) *Appender {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Appender{cfg: cfg, logger: logger}
}

// Run appends queued chunks until the queue drains after production
// closes, the context is cancelled, or recovery aborts the attempt.
func (ap *Appender) Run(ctx context.Context) error {
	for {
		chunk, err := ap.cfg.Queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := ap.append(ctx, chunk); err != nil {
			return err
		}
	}
}

// append delivers one chunk, looping through recovery until the append
// sticks, the chunk is dropped, or the attempt aborts.
func (ap *Appender) append(ctx context.Context, chunk *Chunk) error {
	for {
		err := ap.cfg.Sink.Append(ctx, chunk)
		if err == nil {
			ap.cfg.Session.ResetAppendFailures()
			ap.cfg.Monitor.RecordAppended(len(chunk.Data))
			return nil
		}
		// Cancellation is not a sink failure; it must not drive recovery.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		kind := mediasink.CodeOf(err).String()
		ap.cfg.Monitor.RecordAppendFailure(kind, err)
		ap.logger.Warn("append failed",
			"chunk", chunk.Index, "kind", kind, "error", err)

		retry, rerr := ap.cfg.Recovery.HandleAppendFailure(ctx, chunk, err)
		if rerr != nil {
			return rerr
		}
		if !retry {
			ap.logger.Warn("chunk dropped after recovery", "chunk", chunk.Index)
			return nil
		}
	}
}
