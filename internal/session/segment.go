package session

import (
	"time"

	"github.com/mkarren/earshot/pkg/audio"
	"github.com/mkarren/earshot/pkg/provider/stt"
	"github.com/mkarren/earshot/pkg/vad"
)

// Segment is one contiguous speech region assembled from capture frames,
// including the pre-speech padding frames and the hangover tail.
type Segment struct {
	// Seq is the seal sequence number, assigned in seal order starting at 0.
	// The transcript emitter uses it to restore seal order at the sink.
	Seq uint64

	// Frames are the segment's capture frames in stream order.
	Frames []audio.Frame

	// Start and End are the capture timestamps of the first and last frame.
	Start, End time.Duration

	// ForceFlushed marks a segment sealed because it hit the maximum
	// duration while speech was still ongoing.
	ForceFlushed bool
}

// Duration returns the total audio duration of the segment.
func (s *Segment) Duration() time.Duration {
	var d time.Duration
	for _, f := range s.Frames {
		d += f.Duration()
	}
	return d
}

// Audio concatenates the segment's frames into one stt.Audio input.
func (s *Segment) Audio() stt.Audio {
	var n int
	for _, f := range s.Frames {
		n += len(f.Data)
	}
	pcm := make([]byte, 0, n)
	for _, f := range s.Frames {
		pcm = append(pcm, f.Data...)
	}
	a := stt.Audio{PCM: pcm, Duration: s.Duration()}
	if len(s.Frames) > 0 {
		a.SampleRate = s.Frames[0].SampleRate
		a.Channels = s.Frames[0].Channels
	}
	return a
}

// SegmentConfig tunes speech segment assembly.
type SegmentConfig struct {
	// Min is the minimum sealed duration. Shorter speech runs are discarded
	// as noise. Zero selects 300 ms.
	Min time.Duration

	// Max is the maximum segment duration. A segment still speaking at Max
	// is force-flushed and a new one opens, bounding per-utterance latency.
	// Zero selects 30 s.
	Max time.Duration

	// Padding is how much audio preceding speech onset is prepended to each
	// segment so word onsets are not clipped. Zero selects 200 ms.
	Padding time.Duration

	// FlushCarryPadding controls whether the segment opened after a
	// force-flush starts with the padding window re-used from the flush
	// point. Off, it starts empty.
	FlushCarryPadding bool
}

func (c SegmentConfig) withDefaults() SegmentConfig {
	if c.Min == 0 {
		c.Min = 300 * time.Millisecond
	}
	if c.Max == 0 {
		c.Max = 30 * time.Second
	}
	if c.Padding == 0 {
		c.Padding = 200 * time.Millisecond
	}
	return c
}

// segmenter turns the per-frame VAD decision stream into sealed segments.
// It keeps a bounded ring of recent silence frames for onset padding, tracks
// the open segment, and enforces the min/max duration invariants.
//
// Not safe for concurrent use; it lives on the session's reader goroutine.
type segmenter struct {
	cfg SegmentConfig

	ring    []audio.Frame // recent silence frames, bounded by cfg.Padding
	ringDur time.Duration

	cur    []audio.Frame // open segment frames, nil while silent
	curDur time.Duration

	nextSeq   uint64
	discarded uint64
}

func newSegmenter(cfg SegmentConfig) *segmenter {
	return &segmenter{cfg: cfg.withDefaults()}
}

// push advances the segmenter with one classified frame. It returns a sealed
// segment when this frame ended one (silence after speech, or force-flush),
// and nil otherwise. A sealed run shorter than the minimum is discarded and
// counted, returning nil.
func (g *segmenter) push(frame audio.Frame, d vad.Decision) *Segment {
	if g.cur == nil {
		if !d.Speech {
			g.pad(frame)
			return nil
		}
		// Speech onset: start from the padding window.
		g.cur = make([]audio.Frame, 0, len(g.ring)+16)
		g.cur = append(g.cur, g.ring...)
		g.curDur = g.ringDur
		g.ring = nil
		g.ringDur = 0
	}

	g.cur = append(g.cur, frame)
	g.curDur += frame.Duration()

	if !d.Speech {
		return g.seal(false)
	}
	if g.curDur >= g.cfg.Max {
		return g.seal(true)
	}
	return nil
}

// flush seals and returns the open segment, if any. Called when the session
// stops mid-speech.
func (g *segmenter) flush() *Segment {
	if g.cur == nil {
		return nil
	}
	return g.seal(false)
}

// seal closes the open segment and resets for the next one. Runs below the
// minimum duration are treated as noise.
func (g *segmenter) seal(forced bool) *Segment {
	frames, dur := g.cur, g.curDur
	g.cur, g.curDur = nil, 0

	if forced && g.cfg.FlushCarryPadding {
		// Successor segment re-uses the tail of the flushed one as padding.
		g.ring, g.ringDur = nil, 0
		for i := len(frames) - 1; i >= 0; i-- {
			if g.ringDur+frames[i].Duration() > g.cfg.Padding {
				break
			}
			g.ring = append([]audio.Frame{frames[i]}, g.ring...)
			g.ringDur += frames[i].Duration()
		}
	}

	if dur < g.cfg.Min {
		g.discarded++
		return nil
	}

	seg := &Segment{
		Seq:          g.nextSeq,
		Frames:       frames,
		ForceFlushed: forced,
	}
	if len(frames) > 0 {
		seg.Start = frames[0].Timestamp
		seg.End = frames[len(frames)-1].Timestamp
	}
	g.nextSeq++
	return seg
}

// pad appends a silence frame to the padding ring, evicting from the front
// to keep the ring within the configured padding duration.
func (g *segmenter) pad(frame audio.Frame) {
	g.ring = append(g.ring, frame)
	g.ringDur += frame.Duration()
	for len(g.ring) > 0 && g.ringDur-g.ring[0].Duration() >= g.cfg.Padding {
		g.ringDur -= g.ring[0].Duration()
		g.ring = g.ring[1:]
	}
}
