package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamExhausted terminates a streaming attempt: the producer hit
	// its consecutive chunk-failure ceiling, or the recovery machine gave
	// up on the sink.
	ErrStreamExhausted = errors.New("stream exhausted")

	// ErrAttemptsExhausted indicates every streaming attempt failed. It is
	// converted into the whole-file fallback conversion and only surfaces
	// to callers when the fallback itself fails.
	ErrAttemptsExhausted = errors.New("session attempts exhausted")

	// ErrNoSupportedFormat indicates none of the preferred formats was
	// accepted by the sink.
	ErrNoSupportedFormat = errors.New("no supported sink format")

	// ErrUnsupportedCodec is returned when a requested codec is not in
	// the encode registry.
	ErrUnsupportedCodec = errors.New("unsupported codec")

	// ErrSessionNotFound is returned when a streaming session is not found.
	ErrSessionNotFound = errors.New("stream session not found")

	// ErrTooManySessions is returned when the concurrent session limit is
	// reached.
	ErrTooManySessions = errors.New("maximum concurrent sessions reached")

	// ErrManagerClosed is returned when starting a session on a closed
	// manager.
	ErrManagerClosed = errors.New("stream manager closed")

	// ErrSinkNotOpen is returned when appending without an open sink.
	ErrSinkNotOpen = errors.New("sink not open")

	// ErrQueueClosed is returned when enqueueing after production closed.
	ErrQueueClosed = errors.New("chunk queue closed")

	// ErrNoOutput is returned when a session has no fallback output file.
	ErrNoOutput = errors.New("session has no output file")
)

// Stages of chunk production a ChunkError can originate from.
const (
	StageTranscode = "transcode"
	StageRead      = "read"
)

// ChunkError wraps a failure to produce one chunk: the transcode run
// itself, or reading the artifact back afterwards.
type ChunkError struct {
	Index int
	Stage string
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d %s: %v", e.Index, e.Stage, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}
