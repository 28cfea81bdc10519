package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mkarren/earshot/pkg/provider/stt"
)

// PipelineConfig tunes the transcription dispatch stage between the reader
// and the STT backends.
type PipelineConfig struct {
	// QueueDepth bounds the sealed-segment queue. When full, newly sealed
	// segments are dropped and counted rather than blocking the reader.
	// Zero selects 8.
	QueueDepth int

	// Workers is the number of concurrent transcription workers. Zero
	// selects 2.
	Workers int

	// StopGrace is how long in-flight transcriptions may run after a stop
	// before they are cancelled. Zero selects 5 s.
	StopGrace time.Duration
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.QueueDepth == 0 {
		c.QueueDepth = 8
	}
	if c.Workers == 0 {
		c.Workers = 2
	}
	if c.StopGrace == 0 {
		c.StopGrace = 5 * time.Second
	}
	return c
}

// Transcriber converts one speech segment to text. Implemented by
// [engines.Manager]; tests substitute lighter fakes.
type Transcriber interface {
	Transcribe(ctx context.Context, in stt.Audio) (stt.Transcript, error)
}

// TranscriptSink receives finished transcripts in seal order. Emit must not
// block for long; slow consumers should buffer internally.
type TranscriptSink interface {
	Emit(ctx context.Context, tr stt.Transcript)
}

// dispatcher decouples transcription from frame reading: sealed segments
// enter a bounded queue served by a fixed worker pool, so a slow backend
// never stalls the capture loop. Results pass through an ordered emitter
// that restores seal order before they reach the sink.
type dispatcher struct {
	trans Transcriber
	emit  *emitter
	queue chan *Segment

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	failures uint64
}

func newDispatcher(trans Transcriber, sink TranscriptSink, cfg PipelineConfig) *dispatcher {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	d := &dispatcher{
		trans:  trans,
		emit:   &emitter{sink: sink, pending: make(map[uint64]*stt.Transcript)},
		queue:  make(chan *Segment, cfg.QueueDepth),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// submit enqueues a sealed segment. It never blocks: when the queue is full
// the segment is dropped, its seal sequence is released so the emitter does
// not stall, and false is returned.
func (d *dispatcher) submit(seg *Segment) bool {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		d.emit.skip(seg.Seq)
		return false
	}

	select {
	case d.queue <- seg:
		return true
	default:
		d.emit.skip(seg.Seq)
		return false
	}
}

// close stops accepting segments and waits for in-flight work up to grace,
// then cancels whatever remains and waits for the workers to exit.
func (d *dispatcher) close(grace time.Duration) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	close(d.queue)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		d.cancel()
		<-done
	}
	d.cancel()
}

func (d *dispatcher) worker() {
	defer d.wg.Done()
	for seg := range d.queue {
		tr, err := d.trans.Transcribe(d.ctx, seg.Audio())
		if err != nil {
			d.mu.Lock()
			d.failures++
			d.mu.Unlock()
			if d.ctx.Err() == nil {
				slog.Warn("segment transcription failed", "seq", seg.Seq, "err", err)
			}
			d.emit.skip(seg.Seq)
			continue
		}
		tr.Seq = seg.Seq
		d.emit.done(d.ctx, tr)
	}
}

func (d *dispatcher) failureCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failures
}

// emitter releases transcripts to the sink strictly in seal order. Results
// that complete early wait in the pending map; a skipped sequence (dropped
// or failed segment) releases its slot so later results are never held up.
type emitter struct {
	sink TranscriptSink

	mu      sync.Mutex
	next    uint64
	pending map[uint64]*stt.Transcript // nil entry marks a skipped sequence
	emitted uint64
}

// done hands a finished transcript to the emitter.
func (e *emitter) done(ctx context.Context, tr stt.Transcript) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[tr.Seq] = &tr
	e.release(ctx)
}

// skip marks a sequence as never producing a transcript.
func (e *emitter) skip(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[seq] = nil
	e.release(context.Background())
}

// release flushes every consecutive pending result starting at next.
// Caller must hold e.mu. The sink is invoked under the lock, which is what
// serializes emission order.
func (e *emitter) release(ctx context.Context) {
	for {
		tr, ok := e.pending[e.next]
		if !ok {
			return
		}
		delete(e.pending, e.next)
		e.next++
		if tr != nil {
			e.sink.Emit(ctx, *tr)
			e.emitted++
		}
	}
}

func (e *emitter) emittedCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emitted
}
