package mediasink

import (
	"sync"
	"time"
)

// appendRecord tracks one committed append for quota accounting: evicting
// its time span releases its bytes.
type appendRecord struct {
	bytes int64
	span  TimeRange
}

// Buffer accepts media payload appends for a single content type. Appends
// validate synchronously (state, quota) and commit asynchronously; Ready
// signals each completed commit or removal. At most one operation is in
// flight per buffer: appending or removing while updating fails with
// invalid-state.
type Buffer struct {
	sink      *Sink
	mimeType  string
	container Container
	quota     int64

	mu              sync.Mutex
	updating        bool
	detached        bool
	ranges          TimeRanges
	bufferedBytes   int64
	timestampOffset time.Duration
	appends         []appendRecord

	readyCh chan struct{}
}

func newBuffer(sink *Sink, mimeType string, container Container, quota int64) *Buffer {
	return &Buffer{
		sink:      sink,
		mimeType:  mimeType,
		container: container,
		quota:     quota,
		readyCh:   make(chan struct{}, 1),
	}
}

// MimeType returns the content type the buffer was attached with.
func (b *Buffer) MimeType() string {
	return b.mimeType
}

// Container returns the container format the buffer carries.
func (b *Buffer) Container() Container {
	return b.container
}

// Append stages a media payload covering extent on the timeline, starting
// at the current timestamp offset. Validation is synchronous: appending
// while an update is in flight fails with invalid-state, a payload whose
// container signature identifies a different format fails with
// not-supported, and a payload that would push quota-accounted bytes past
// the limit fails with quota-exceeded before any state changes. Payloads
// with no recognisable signature stay opaque. The commit itself is
// asynchronous and signalled via Ready.
func (b *Buffer) Append(data []byte, extent time.Duration) error {
	if extent <= 0 {
		return newError(ErrorCodeUnknown, "append", "non-positive extent")
	}
	if st := b.sink.State(); st != StateOpen {
		return newError(ErrorCodeInvalidState, "append", "sink is "+st.String())
	}

	b.mu.Lock()
	if b.detached {
		b.mu.Unlock()
		return newError(ErrorCodeInvalidState, "append", "buffer detached")
	}
	if b.updating {
		b.mu.Unlock()
		return newError(ErrorCodeInvalidState, "append", "update in flight")
	}
	if got := DetectContainer(data); got != ContainerUnknown && got != b.container {
		b.mu.Unlock()
		return newError(ErrorCodeNotSupported, "append",
			"payload is "+got.String()+", buffer carries "+b.container.String())
	}
	if b.bufferedBytes+int64(len(data)) > b.quota {
		b.mu.Unlock()
		return newError(ErrorCodeQuotaExceeded, "append", "buffer quota reached")
	}
	b.updating = true
	b.mu.Unlock()

	go b.commit(data, extent)
	return nil
}

// commit lands a staged append: extends the buffered ranges, advances the
// timestamp offset by the appended extent, and hands the payload to the
// sink's delivery stream.
func (b *Buffer) commit(data []byte, extent time.Duration) {
	b.mu.Lock()
	start := b.timestampOffset
	end := start + extent
	b.ranges = b.ranges.Add(TimeRange{Start: start, End: end})
	b.timestampOffset = end
	b.bufferedBytes += int64(len(data))
	b.appends = append(b.appends, appendRecord{bytes: int64(len(data)), span: TimeRange{Start: start, End: end}})
	b.updating = false
	b.mu.Unlock()

	b.sink.commitData(data, end)
	b.signalReady()
}

// Remove evicts the time range [start, end) from the buffered ranges and
// releases the quota bytes of every append wholly inside it. Like Append,
// removal is asynchronous and signalled via Ready.
func (b *Buffer) Remove(start, end time.Duration) error {
	if start < 0 || end <= start {
		return newError(ErrorCodeUnknown, "remove", "invalid range")
	}
	if st := b.sink.State(); st != StateOpen {
		return newError(ErrorCodeInvalidState, "remove", "sink is "+st.String())
	}

	b.mu.Lock()
	if b.detached {
		b.mu.Unlock()
		return newError(ErrorCodeInvalidState, "remove", "buffer detached")
	}
	if b.updating {
		b.mu.Unlock()
		return newError(ErrorCodeInvalidState, "remove", "update in flight")
	}
	b.updating = true
	b.mu.Unlock()

	go b.commitRemove(TimeRange{Start: start, End: end})
	return nil
}

func (b *Buffer) commitRemove(rm TimeRange) {
	b.mu.Lock()
	kept := make([]appendRecord, 0, len(b.appends))
	var freed int64
	for _, rec := range b.appends {
		if rec.span.Start >= rm.Start && rec.span.End <= rm.End {
			freed += rec.bytes
			continue
		}
		kept = append(kept, rec)
	}
	b.appends = kept
	b.bufferedBytes -= freed
	b.ranges = b.ranges.Remove(rm)
	b.updating = false
	b.mu.Unlock()

	b.signalReady()
}

// Updating reports whether an append or removal is in flight.
func (b *Buffer) Updating() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updating
}

// Ready signals the completion of each append or removal. The channel has
// capacity one; consumers wait on it between operations.
func (b *Buffer) Ready() <-chan struct{} {
	return b.readyCh
}

func (b *Buffer) signalReady() {
	select {
	case b.readyCh <- struct{}{}:
	default:
	}
}

// Buffered returns the buffered time ranges.
func (b *Buffer) Buffered() TimeRanges {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append(TimeRanges(nil), b.ranges...)
}

// BufferedBytes returns the quota-accounted byte count.
func (b *Buffer) BufferedBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bufferedBytes
}

// SetTimestampOffset moves the timeline position the next append lands at.
func (b *Buffer) SetTimestampOffset(offset time.Duration) error {
	if offset < 0 {
		return newError(ErrorCodeUnknown, "set-timestamp-offset", "negative offset")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached {
		return newError(ErrorCodeInvalidState, "set-timestamp-offset", "buffer detached")
	}
	if b.updating {
		return newError(ErrorCodeInvalidState, "set-timestamp-offset", "update in flight")
	}
	b.timestampOffset = offset
	return nil
}

// TimestampOffset returns the timeline position the next append lands at.
func (b *Buffer) TimestampOffset() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timestampOffset
}

// detach marks the buffer as removed from its sink; all further
// operations fail with invalid-state.
func (b *Buffer) detach() {
	b.mu.Lock()
	b.detached = true
	b.mu.Unlock()
	b.signalReady()
}
