package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// StreamBuffer implements the consumer-facing half of [Stream]: a bounded
// frame queue with overflow counting and a terminal error slot. Capture
// drivers embed one and push frames from their read goroutine; the driver
// remains responsible for releasing the underlying device in Close.
//
// Push never blocks. When the queue is full the new frame is dropped and
// counted, keeping capture live at the cost of completeness.
type StreamBuffer struct {
	frames  chan Frame
	dropped atomic.Uint64

	mu  sync.Mutex
	err error

	closeOnce sync.Once
	warnOnce  sync.Once
}

// NewStreamBuffer creates a buffer with the given queue depth. Depth <= 0
// uses [DefaultQueueDepth].
func NewStreamBuffer(depth int) *StreamBuffer {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &StreamBuffer{frames: make(chan Frame, depth)}
}

// Push enqueues a frame for the consumer. Returns false if the frame was
// dropped due to backpressure. Must not be called after Finish.
func (b *StreamBuffer) Push(f Frame) bool {
	select {
	case b.frames <- f:
		return true
	default:
		b.dropped.Add(1)
		b.warnOnce.Do(func() {
			slog.Warn("audio: frame queue full, dropping frames", "seq", f.Seq)
		})
		return false
	}
}

// Finish closes the frame channel, recording err as the terminal cause.
// Pass nil for a clean end of stream. Safe to call more than once; only the
// first call takes effect.
func (b *StreamBuffer) Finish(err error) {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
		close(b.frames)
	})
}

// Frames returns the read-only frame channel. Closed by Finish.
func (b *StreamBuffer) Frames() <-chan Frame {
	return b.frames
}

// Dropped reports the cumulative overflow drop count.
func (b *StreamBuffer) Dropped() uint64 {
	return b.dropped.Load()
}

// Err returns the terminal error recorded by Finish, or nil.
func (b *StreamBuffer) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
