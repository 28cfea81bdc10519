package audio

import "time"

// Frame is a single fixed-size block of captured audio flowing through the
// pipeline. Frames are the atomic unit of transport: produced by a capture
// driver, classified by VAD, and assembled into speech segments.
//
// A Frame is immutable once produced. Drivers hand ownership to the consumer
// and never retain or reuse the Data slice.
type Frame struct {
	// Seq is the monotonically increasing capture sequence number, starting
	// at 0 for the first frame of a stream. Gaps indicate dropped frames.
	Seq uint64

	// Data is little-endian int16 PCM, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel in the frame.
func (f Frame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / 2 / f.Channels
}

// Duration returns the real-time span the frame covers.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// FrameDuration returns the real-time span of a frame of frameSize samples
// per channel at the given rate. Useful for sizing padding and hangover
// windows in frames.
func FrameDuration(frameSize, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(frameSize) * time.Second / time.Duration(sampleRate)
}
