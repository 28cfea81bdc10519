package wsmic

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/mkarren/earshot/pkg/audio"
)

// stream is a live capture session bound to one microphone client. Decoded
// client PCM is converted to the pipeline format and re-chunked into
// fixed-size frames.
type stream struct {
	buf    *audio.StreamBuffer
	client *client
	conv   audio.FormatConverter

	rate      int
	frameSize int

	// mu guards acc, seq, and closed. Pushes into buf happen only under mu
	// with closed false, and Finish only after closed is set, so a packet
	// can never race the channel close.
	mu     sync.Mutex
	acc    []byte // pipeline-format PCM awaiting a full frame
	seq    uint64
	closed bool

	closeOnce sync.Once

	// onEnd unbinds the stream from the driver. Set by Open.
	onEnd func()
}

func newStream(c *client, cfg audio.OpenConfig) *stream {
	return &stream{
		buf:       audio.NewStreamBuffer(cfg.QueueDepth),
		client:    c,
		conv:      audio.FormatConverter{Target: audio.Format{SampleRate: cfg.SampleRate, Channels: 1}},
		rate:      cfg.SampleRate,
		frameSize: cfg.FrameSize,
	}
}

// ingest converts one decoded packet to the pipeline format and emits any
// completed frames. Called from the client read pump.
func (s *stream) ingest(pcm []byte) {
	converted := s.conv.Convert(audio.Frame{
		Data:       pcm,
		SampleRate: s.client.rate,
		Channels:   s.client.channels,
	})
	if len(converted.Data) == 0 {
		return
	}

	frameBytes := s.frameSize * 2
	frameDur := audio.FrameDuration(s.frameSize, s.rate)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.acc = append(s.acc, converted.Data...)
	for len(s.acc) >= frameBytes {
		data := make([]byte, frameBytes)
		copy(data, s.acc[:frameBytes])
		s.acc = s.acc[frameBytes:]

		s.buf.Push(audio.Frame{
			Seq:        s.seq,
			Data:       data,
			SampleRate: s.rate,
			Channels:   1,
			Timestamp:  time.Duration(s.seq) * frameDur,
		})
		s.seq++
	}
}

// fail terminates the stream with err as the terminal cause.
func (s *stream) fail(err error) {
	s.closeOnce.Do(func() {
		s.markClosed()
		s.buf.Finish(err)
		if s.onEnd != nil {
			s.onEnd()
		}
	})
}

// Frames implements [audio.Stream].
func (s *stream) Frames() <-chan audio.Frame { return s.buf.Frames() }

// Dropped implements [audio.Stream].
func (s *stream) Dropped() uint64 { return s.buf.Dropped() }

// Err implements [audio.Stream].
func (s *stream) Err() error { return s.buf.Err() }

// Close implements [audio.Stream]. Tells the client to pause and ends the
// stream cleanly. Idempotent.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.markClosed()
		s.client.send(control{Type: "stop"})
		s.buf.Finish(nil)
		if s.onEnd != nil {
			s.onEnd()
		}
	})
	return nil
}

func (s *stream) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// ended reports whether the stream has terminated (cleanly or not).
func (s *stream) ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// client is one connected microphone.
type client struct {
	id       string
	name     string
	rate     int
	channels int
	codec    string

	conn    *websocket.Conn
	writeMu sync.Mutex

	opus       *opusDecoder
	warnDecode sync.Once
}

// decode turns a binary packet into raw PCM at the client's native format.
func (c *client) decode(pkt []byte) ([]byte, error) {
	if c.opus != nil {
		return c.opus.decode(pkt)
	}
	return pkt, nil
}

// send writes a control message to the client. Best effort; write errors are
// surfaced by the read pump when the connection actually drops.
func (c *client) send(msg control) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.conn.Write(ctx, websocket.MessageText, data)
}
