package stt

import "time"

// Audio is one speech segment handed to an engine for transcription.
type Audio struct {
	// PCM is raw little-endian 16-bit PCM.
	PCM []byte

	// SampleRate is the sample rate in Hz.
	SampleRate int

	// Channels is the channel count. The pipeline delivers mono.
	Channels int

	// Duration is the length of the audio.
	Duration time.Duration
}

// Transcript is the result of transcribing one speech segment.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// engine does not report confidence.
	Confidence float64

	// Engine is the name of the engine that produced the text.
	Engine string

	// Seq is the seal sequence number of the source segment.
	Seq uint64

	// AudioDuration is the length of the transcribed audio.
	AudioDuration time.Duration

	// Latency is the wall-clock time the transcription took.
	Latency time.Duration
}
