package mediasink

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/google/uuid"
)

// Reader consumes the sink's committed delivery stream progressively.
// Reads block until data is available; a reader sees io.EOF once the sink
// has ended and all committed bytes are drained, or immediately when the
// sink is torn down.
type Reader struct {
	id        uuid.UUID
	sink      *Sink
	pos       atomic.Int64
	bytesRead atomic.Uint64
	waitCh    chan struct{}
	closed    atomic.Bool
}

// notify signals the reader that new data or a state change is available.
func (r *Reader) notify() {
	select {
	case r.waitCh <- struct{}{}:
	default:
	}
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	return r.ReadContext(context.Background(), p)
}

// ReadContext reads with context support.
func (r *Reader) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for {
		if r.closed.Load() {
			return 0, ErrReaderClosed
		}

		s := r.sink
		s.mu.RLock()
		state := s.state
		if state == StateClosed {
			s.mu.RUnlock()
			return 0, io.EOF
		}
		pos := r.pos.Load()
		if pos < s.baseOffset {
			pos = s.baseOffset
		}
		var n int
		if avail := s.baseOffset + int64(len(s.committed)) - pos; avail > 0 {
			n = copy(p, s.committed[pos-s.baseOffset:])
		}
		s.mu.RUnlock()

		if n > 0 {
			r.pos.Store(pos + int64(n))
			r.bytesRead.Add(uint64(n))
			return n, nil
		}
		if state == StateEnded {
			return 0, io.EOF
		}

		select {
		case <-r.waitCh:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Close detaches the reader from the sink. A blocked Read is woken.
func (r *Reader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.sink.removeReader(r.id)
	r.notify()
	return nil
}

// Position returns the absolute byte position of the reader on the
// delivery stream.
func (r *Reader) Position() int64 {
	return r.pos.Load()
}

// BytesRead returns the total bytes delivered to this reader.
func (r *Reader) BytesRead() uint64 {
	return r.bytesRead.Load()
}
