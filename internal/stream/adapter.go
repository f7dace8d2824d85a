package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/vodarr/internal/mediasink"
)

// SinkAdapter binds a buffered media sink to the streaming pipeline. It
// negotiates the delivery format from an ordered preference list, owns
// the sink's single source buffer, and turns the sink's asynchronous
// commits into blocking calls the appender can drive.
//
// Reopening after a reset always builds a fresh sink; a torn-down sink
// is never resurrected.
type SinkAdapter struct {
	sinkCfg mediasink.Config
	logger  *slog.Logger

	mu        sync.Mutex
	prefs     []string
	sink      *mediasink.Sink
	buffer    *mediasink.Buffer
	mime      string
	container mediasink.Container
}

// NewSinkAdapter creates an adapter negotiating from prefs in order.
func NewSinkAdapter(sinkCfg mediasink.Config, prefs []string, logger *slog.Logger) *SinkAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SinkAdapter{
		sinkCfg: sinkCfg,
		logger:  logger,
		prefs:   append([]string(nil), prefs...),
	}
}

// Open negotiates a supported format and opens a fresh sink with one
// source buffer. An already open adapter is torn down first.
func (a *SinkAdapter) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.Close()

	a.mu.Lock()
	defer a.mu.Unlock()

	mime, err := a.negotiate()
	if err != nil {
		return err
	}

	sink := mediasink.NewSink(a.sinkCfg, a.logger)
	if err := sink.Open(); err != nil {
		return fmt.Errorf("opening sink: %w", err)
	}
	buffer, err := sink.AddBuffer(mime)
	if err != nil {
		sink.Close()
		return fmt.Errorf("adding source buffer: %w", err)
	}

	a.sink = sink
	a.buffer = buffer
	a.mime = mime
	a.container = buffer.Container()
	a.logger.Debug("sink opened", "mime", mime, "container", a.container.String())
	return nil
}

// negotiate returns the first preference the sink can carry.
// Callers hold a.mu.
func (a *SinkAdapter) negotiate() (string, error) {
	for _, mime := range a.prefs {
		if mediasink.IsFormatSupported(mime) {
			return mime, nil
		}
	}
	return "", fmt.Errorf("%w: preferences %v", ErrNoSupportedFormat, a.prefs)
}

// Append feeds one chunk to the source buffer and waits for the commit
// to settle. Errors from the buffer carry the sink's failure class and
// are returned unwrapped for the recovery machine to inspect.
func (a *SinkAdapter) Append(ctx context.Context, chunk *Chunk) error {
	a.mu.Lock()
	buffer := a.buffer
	a.mu.Unlock()
	if buffer == nil {
		return ErrSinkNotOpen
	}

	if buffer.TimestampOffset() != chunk.Start {
		if err := buffer.SetTimestampOffset(chunk.Start); err != nil {
			return err
		}
	}
	if err := buffer.Append(chunk.Data, chunk.Extent); err != nil {
		return err
	}
	return a.waitSettled(ctx, buffer)
}

// Remove evicts [start, end) from the source buffer and waits for the
// removal to settle.
func (a *SinkAdapter) Remove(ctx context.Context, start, end time.Duration) error {
	a.mu.Lock()
	buffer := a.buffer
	a.mu.Unlock()
	if buffer == nil {
		return ErrSinkNotOpen
	}

	if err := buffer.Remove(start, end); err != nil {
		return err
	}
	return a.waitSettled(ctx, buffer)
}

// waitSettled blocks until the buffer signals the pending operation has
// completed or the context is cancelled.
func (a *SinkAdapter) waitSettled(ctx context.Context, buffer *mediasink.Buffer) error {
	select {
	case <-buffer.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Buffered returns the sink's committed time ranges.
func (a *SinkAdapter) Buffered() mediasink.TimeRanges {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Buffered()
}

// Snapshot captures the buffer state the admission gate reads.
func (a *SinkAdapter) Snapshot() SinkSnapshot {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	if sink == nil {
		return SinkSnapshot{}
	}
	ranges := sink.Buffered()
	return SinkSnapshot{
		BufferedRanges:   len(ranges),
		BufferedEnd:      ranges.End(),
		PlaybackPosition: sink.PlaybackPosition(),
	}
}

// Container returns the negotiated container format.
func (a *SinkAdapter) Container() mediasink.Container {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.container
}

// MimeType returns the negotiated MIME type.
func (a *SinkAdapter) MimeType() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mime
}

// DemotePrimary moves the current primary preference to the back of the
// list so the next negotiation picks a different format. It reports
// false when no alternative exists or the failing format is not the
// primary, in which case demotion cannot help.
func (a *SinkAdapter) DemotePrimary() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.prefs) < 2 || a.mime != a.prefs[0] {
		return false
	}
	demoted := a.prefs[0]
	a.prefs = append(a.prefs[1:], demoted)
	a.logger.Debug("format preference demoted", "mime", demoted, "next", a.prefs[0])
	return true
}

// Finish marks the stream complete. The sink stays open so attached
// readers can drain the buffered media.
func (a *SinkAdapter) Finish() error {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	if sink == nil {
		return ErrSinkNotOpen
	}
	return sink.EndOfStream()
}

// Sink returns the live sink for attaching delivery readers, or nil
// when the adapter is closed.
func (a *SinkAdapter) Sink() *mediasink.Sink {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sink
}

// Close tears the sink down. Safe to call at any time and in any
// state; each teardown step is independently guarded so one failing
// step never blocks the rest.
func (a *SinkAdapter) Close() {
	a.mu.Lock()
	sink := a.sink
	buffer := a.buffer
	a.sink = nil
	a.buffer = nil
	a.mu.Unlock()

	if sink == nil {
		return
	}
	if buffer != nil && buffer.Updating() {
		// Give an in-flight commit a moment to settle before teardown.
		select {
		case <-buffer.Ready():
		case <-time.After(100 * time.Millisecond):
		}
	}
	if buffer != nil {
		if err := sink.RemoveBuffer(buffer); err != nil {
			a.logger.Debug("removing source buffer failed", "error", err)
		}
	}
	if sink.State() == mediasink.StateOpen {
		if err := sink.EndOfStream(); err != nil {
			a.logger.Debug("ending stream failed", "error", err)
		}
	}
	sink.Close()
}
