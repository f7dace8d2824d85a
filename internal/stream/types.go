package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/vodarr/internal/engine"
	"github.com/jmylchreest/vodarr/internal/mediasink"
	"github.com/jmylchreest/vodarr/internal/models"
)

// Chunk is one transcoded window of the source, immutable once produced.
type Chunk struct {
	// Index is the position in the chunk sequence, contiguous from 0.
	Index int
	// Start is where the chunk begins on the source timeline.
	Start time.Duration
	// Extent is the media time the chunk covers. Every chunk covers the
	// configured window except the last, which is clipped to the
	// remaining duration.
	Extent time.Duration
	// Data is the opaque transcoded payload.
	Data []byte
	// Container tags the payload with the sink's negotiated format at
	// production time.
	Container mediasink.Container
}

// End returns where the chunk ends on the source timeline.
func (c *Chunk) End() time.Duration {
	return c.Start + c.Extent
}

// EncodeParams are the transcode settings applied to every chunk and to
// the whole-file fallback conversion alike.
type EncodeParams struct {
	VideoCodec string
	AudioCodec string
	Preset     string
	Quality    int // CRF value, 0 uses encoder default
}

// Engine is the transcoding collaborator a session drives. *engine.Engine
// is the FFmpeg-backed implementation.
type Engine interface {
	Transcode(ctx context.Context, spec engine.TranscodeSpec) error
	ReadFile(sessionID, name string) ([]byte, error)
	RemoveFile(sessionID, name string) error
	EnsureWorkspace(sessionID string) error
	RemoveWorkspace(sessionID string) error
	CopyIn(sessionID, name, src string) error
	ArtifactPath(sessionID, name string) (string, error)
	ValidateSource(path string) error
}

// DurationProber reports the playable duration of a media file.
// *engine.Prober is the ffprobe-backed implementation.
type DurationProber interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// ConversionRecorder persists the outcome of finished sessions. A nil
// recorder disables persistence.
type ConversionRecorder interface {
	RecordConversion(ctx context.Context, record *models.ConversionRecord) error
}

// SinkSnapshot captures the sink-side state the admission gate evaluates.
type SinkSnapshot struct {
	// BufferedRanges is the number of buffered time ranges.
	BufferedRanges int
	// BufferedEnd is the end of the last buffered range.
	BufferedEnd time.Duration
	// PlaybackPosition is how far delivery has progressed.
	PlaybackPosition time.Duration
}

// Lookahead returns how much buffered media lies beyond the playback
// position.
func (s SinkSnapshot) Lookahead() time.Duration {
	if s.BufferedEnd <= s.PlaybackPosition {
		return 0
	}
	return s.BufferedEnd - s.PlaybackPosition
}

// Sink is the streaming-sink surface a session drives: format
// negotiation, sequenced appends with one completion signal each, ranged
// eviction, and idempotent teardown. *SinkAdapter is the mediasink-backed
// implementation.
type Sink interface {
	// Open negotiates the first supported format from the preference list
	// and returns once the append buffer is ready.
	Open(ctx context.Context) error
	// Append lands one chunk. Failures are classified mediasink errors;
	// success returns after the sink signals the append complete.
	Append(ctx context.Context, chunk *Chunk) error
	// Remove evicts the buffered range [start, end).
	Remove(ctx context.Context, start, end time.Duration) error
	// Buffered returns the buffered time ranges.
	Buffered() mediasink.TimeRanges
	// Snapshot captures the state the admission gate evaluates.
	Snapshot() SinkSnapshot
	// Container returns the negotiated container format.
	Container() mediasink.Container
	// MimeType returns the negotiated content type.
	MimeType() string
	// DemotePrimary moves the primary format preference to the back of
	// the list. It reports false when the current format is not the
	// primary preference or no alternative exists.
	DemotePrimary() bool
	// Finish ends the stream cleanly, leaving committed data for readers
	// to drain.
	Finish() error
	// Close tears the sink down idempotently.
	Close()
}

// StreamSession carries the mutable state of one streaming attempt. The
// session controller owns it and hands it to the producer and appender
// for the duration of the attempt; nothing retains it across attempts.
type StreamSession struct {
	ID            uuid.UUID
	Attempt       int
	Duration      time.Duration
	ChunkDuration time.Duration

	mu             sync.Mutex
	chunkIndex     int
	chunkErrors    int
	appendFailures int
	cancelled      bool
}

// NewStreamSession creates the state for one streaming attempt with all
// counters at zero.
func NewStreamSession(id uuid.UUID, attempt int, duration, chunkDuration time.Duration) *StreamSession {
	return &StreamSession{
		ID:            id,
		Attempt:       attempt,
		Duration:      duration,
		ChunkDuration: chunkDuration,
	}
}

// ChunkIndex returns the index of the chunk currently being produced.
func (s *StreamSession) ChunkIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkIndex
}

// AdvanceChunk moves to the next chunk index and clears the consecutive
// chunk-error count.
func (s *StreamSession) AdvanceChunk() {
	s.mu.Lock()
	s.chunkIndex++
	s.chunkErrors = 0
	s.mu.Unlock()
}

// RecordChunkError increments the consecutive chunk-error count and
// returns the new value.
func (s *StreamSession) RecordChunkError() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkErrors++
	return s.chunkErrors
}

// ConsecutiveChunkErrors returns the consecutive chunk-error count.
func (s *StreamSession) ConsecutiveChunkErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkErrors
}

// RecordAppendFailure increments the consecutive append-failure count and
// returns the new value. The count spans recovery actions: only a
// successful append resets it.
func (s *StreamSession) RecordAppendFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendFailures++
	return s.appendFailures
}

// ResetAppendFailures clears the consecutive append-failure count.
func (s *StreamSession) ResetAppendFailures() {
	s.mu.Lock()
	s.appendFailures = 0
	s.mu.Unlock()
}

// ConsecutiveAppendFailures returns the consecutive append-failure count.
func (s *StreamSession) ConsecutiveAppendFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendFailures
}

// Cancel marks the attempt cancelled. Components check the flag at every
// suspension point alongside their context.
func (s *StreamSession) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

// Cancelled reports whether the attempt was cancelled.
func (s *StreamSession) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}
