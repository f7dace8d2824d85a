// Package mediasink implements a buffered media sink with the state and
// error contract of a browser MediaSource: an open/ended/closed lifecycle,
// per-buffer append quotas with asynchronous commits, buffered time ranges,
// and classified failures. Producers append transcoded chunk payloads;
// delivery readers consume the committed byte stream progressively.
package mediasink

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/vodarr/internal/observability"
)

// State is the sink lifecycle state.
type State int

const (
	// StateClosed is the initial and terminal state: no appends, readers
	// drain to EOF.
	StateClosed State = iota
	// StateOpen accepts buffer attachment and appends.
	StateOpen
	// StateEnded is reached after EndOfStream: committed data still drains
	// to readers but no further appends are accepted.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateEnded:
		return "ended"
	default:
		return "closed"
	}
}

// Config configures a media sink.
type Config struct {
	// MaxBufferedBytes is the append quota per buffer in bytes.
	MaxBufferedBytes int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxBufferedBytes: 256 * 1024 * 1024, // 256MB
	}
}

// timelinePoint marks where an append's committed bytes end on both the
// byte axis and the media time axis.
type timelinePoint struct {
	endByte int64
	endTime time.Duration
}

// Sink is the streaming media sink. A sink is created closed, opened once,
// and torn down with Close; error recovery replaces the whole sink rather
// than reopening it.
type Sink struct {
	config Config
	logger *slog.Logger

	mu      sync.RWMutex
	state   State
	buffers []*Buffer

	// Committed delivery stream. committed holds bytes from baseOffset
	// onward; the prefix consumed by every attached reader is compacted
	// away once it exceeds half the retained window.
	committed  []byte
	baseOffset int64
	timeline   []timelinePoint

	readers map[uuid.UUID]*Reader

	playbackOverride time.Duration
	overrideSet      bool

	bytesCommitted int64
}

// NewSink creates a sink in the closed state.
func NewSink(config Config, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxBufferedBytes <= 0 {
		config.MaxBufferedBytes = DefaultConfig().MaxBufferedBytes
	}
	return &Sink{
		config:  config,
		logger:  observability.WithComponent(logger, "mediasink"),
		state:   StateClosed,
		readers: make(map[uuid.UUID]*Reader),
	}
}

// Open transitions the sink from closed to open.
func (s *Sink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		return newError(ErrorCodeInvalidState, "open", "sink is "+s.state.String())
	}
	s.state = StateOpen
	return nil
}

// State returns the current lifecycle state.
func (s *Sink) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// AddBuffer attaches a buffer for the given content type. The sink must be
// open and the format supported.
func (s *Sink) AddBuffer(mimeType string) (*Buffer, error) {
	container, err := ParseMimeType(mimeType)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return nil, newError(ErrorCodeInvalidState, "add-buffer", "sink is "+s.state.String())
	}

	b := newBuffer(s, mimeType, container, s.config.MaxBufferedBytes)
	s.buffers = append(s.buffers, b)
	s.logger.Debug("buffer attached", "mime_type", mimeType, "container", container.String())
	return b, nil
}

// RemoveBuffer detaches a buffer from the sink. Further operations on the
// buffer fail with invalid-state.
func (s *Sink) RemoveBuffer(b *Buffer) error {
	s.mu.Lock()
	idx := -1
	for i, cur := range s.buffers {
		if cur == b {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return newError(ErrorCodeInvalidState, "remove-buffer", "buffer not attached")
	}
	s.buffers = append(s.buffers[:idx], s.buffers[idx+1:]...)
	s.mu.Unlock()

	b.detach()
	return nil
}

// Buffers returns the attached buffers in attachment order.
func (s *Sink) Buffers() []*Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Buffer, len(s.buffers))
	copy(out, s.buffers)
	return out
}

// primaryBuffer returns the first attached buffer, or nil.
func (s *Sink) primaryBuffer() *Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.buffers) == 0 {
		return nil
	}
	return s.buffers[0]
}

// EndOfStream transitions the sink from open to ended. It fails while any
// buffer has an append in flight.
func (s *Sink) EndOfStream() error {
	s.mu.RLock()
	if s.state != StateOpen {
		st := s.state
		s.mu.RUnlock()
		return newError(ErrorCodeInvalidState, "end-of-stream", "sink is "+st.String())
	}
	buffers := make([]*Buffer, len(s.buffers))
	copy(buffers, s.buffers)
	s.mu.RUnlock()

	for _, b := range buffers {
		if b.Updating() {
			return newError(ErrorCodeInvalidState, "end-of-stream", "buffer update in flight")
		}
	}

	s.mu.Lock()
	if s.state != StateOpen {
		st := s.state
		s.mu.Unlock()
		return newError(ErrorCodeInvalidState, "end-of-stream", "sink is "+st.String())
	}
	s.state = StateEnded
	s.mu.Unlock()

	s.notifyReaders()
	s.logger.Debug("end of stream", "bytes_committed", s.BytesCommitted())
	return nil
}

// Close tears the sink down. Attached readers are woken and read EOF;
// buffered but undelivered bytes are discarded. Close is idempotent.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.state == StateClosed && s.bytesCommitted == 0 && len(s.buffers) == 0 {
		// Never opened
		s.mu.Unlock()
		return
	}
	alreadyClosed := s.state == StateClosed
	s.state = StateClosed
	buffers := make([]*Buffer, len(s.buffers))
	copy(buffers, s.buffers)
	s.buffers = nil
	s.committed = nil
	s.mu.Unlock()

	if alreadyClosed {
		return
	}

	for _, b := range buffers {
		b.detach()
	}
	s.notifyReaders()
	s.logger.Debug("sink closed")
}

// NewReader attaches a delivery reader. Readers attached after prefix
// compaction begin at the oldest retained byte.
func (s *Sink) NewReader() (*Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, newError(ErrorCodeInvalidState, "new-reader", "sink is closed")
	}

	r := &Reader{
		id:     uuid.New(),
		sink:   s,
		waitCh: make(chan struct{}, 1),
	}
	r.pos.Store(s.baseOffset)
	s.readers[r.id] = r
	return r, nil
}

// removeReader detaches a reader.
func (s *Sink) removeReader(id uuid.UUID) {
	s.mu.Lock()
	delete(s.readers, id)
	s.mu.Unlock()
}

// ReaderCount returns the number of attached readers.
func (s *Sink) ReaderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readers)
}

// commitData lands a completed append on the delivery stream.
func (s *Sink) commitData(data []byte, endTime time.Duration) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.committed = append(s.committed, data...)
	s.bytesCommitted += int64(len(data))
	s.timeline = append(s.timeline, timelinePoint{
		endByte: s.baseOffset + int64(len(s.committed)),
		endTime: endTime,
	})
	s.compactLocked()
	s.mu.Unlock()

	s.notifyReaders()
}

// compactLocked drops the committed prefix already consumed by every
// reader once it dominates the retained window. Requires s.mu held.
func (s *Sink) compactLocked() {
	if len(s.readers) == 0 || len(s.committed) == 0 {
		return
	}
	minPos := int64(-1)
	for _, r := range s.readers {
		pos := r.pos.Load()
		if minPos < 0 || pos < minPos {
			minPos = pos
		}
	}
	cut := minPos - s.baseOffset
	if cut <= 0 || cut < int64(len(s.committed))/2 {
		return
	}
	s.committed = append([]byte(nil), s.committed[cut:]...)
	s.baseOffset += cut
}

// notifyReaders wakes every attached reader.
func (s *Sink) notifyReaders() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.readers {
		r.notify()
	}
}

// Buffered returns the primary buffer's buffered time ranges.
func (s *Sink) Buffered() TimeRanges {
	b := s.primaryBuffer()
	if b == nil {
		return nil
	}
	return b.Buffered()
}

// BufferedBytes returns the primary buffer's quota-accounted bytes.
func (s *Sink) BufferedBytes() int64 {
	b := s.primaryBuffer()
	if b == nil {
		return 0
	}
	return b.BufferedBytes()
}

// BytesCommitted returns the total bytes landed on the delivery stream.
func (s *Sink) BytesCommitted() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytesCommitted
}

// PlaybackPosition reports how far into the media timeline delivery has
// progressed: the highest committed append fully consumed by the furthest
// reader. SetPlaybackPosition overrides the derived value.
func (s *Sink) PlaybackPosition() time.Duration {
	s.mu.RLock()
	if s.overrideSet {
		pos := s.playbackOverride
		s.mu.RUnlock()
		return pos
	}
	var maxPos int64
	for _, r := range s.readers {
		if pos := r.pos.Load(); pos > maxPos {
			maxPos = pos
		}
	}
	timeline := s.timeline
	s.mu.RUnlock()

	return consumedTime(timeline, maxPos)
}

// SetPlaybackPosition pins the playback position to a fixed value,
// overriding reader-derived progress.
func (s *Sink) SetPlaybackPosition(pos time.Duration) {
	s.mu.Lock()
	s.playbackOverride = pos
	s.overrideSet = true
	s.mu.Unlock()
}

// consumedTime maps a consumed byte position to media time: the end time
// of the last append wholly at or before pos.
func consumedTime(timeline []timelinePoint, pos int64) time.Duration {
	i := sort.Search(len(timeline), func(i int) bool {
		return timeline[i].endByte > pos
	})
	if i == 0 {
		return 0
	}
	return timeline[i-1].endTime
}

// SinkStats holds sink statistics.
type SinkStats struct {
	State            string  `json:"state"`
	Buffers          int     `json:"buffers"`
	BufferedBytes    int64   `json:"buffered_bytes"`
	BufferedRanges   int     `json:"buffered_ranges"`
	BufferedEnd      float64 `json:"buffered_end_seconds"`
	PlaybackPosition float64 `json:"playback_position_seconds"`
	BytesCommitted   int64   `json:"bytes_committed"`
	Readers          int     `json:"readers"`
}

// Stats returns current sink statistics.
func (s *Sink) Stats() SinkStats {
	ranges := s.Buffered()
	s.mu.RLock()
	stats := SinkStats{
		State:          s.state.String(),
		Buffers:        len(s.buffers),
		BytesCommitted: s.bytesCommitted,
		Readers:        len(s.readers),
	}
	s.mu.RUnlock()

	stats.BufferedBytes = s.BufferedBytes()
	stats.BufferedRanges = len(ranges)
	stats.BufferedEnd = ranges.End().Seconds()
	stats.PlaybackPosition = s.PlaybackPosition().Seconds()
	return stats
}
