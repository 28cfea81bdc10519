// Package audio defines the capture-side interfaces and types for microphone
// input within earshot.
//
// The two primary abstractions are:
//
//   - [Driver] — opens an input device and returns a [Stream], and enumerates
//     the devices it can open.
//   - [Stream] — an active capture session delivering [Frame] values until
//     closed or failed.
//
// Implementations are provided by driver-specific adapter packages
// (audio/pcmexec for subprocess capture, audio/wsmic for a remote microphone
// bridge, audio/mock for tests). The interfaces are intentionally narrow so
// the recording session stays decoupled from how samples reach the process.
//
// This package lives under pkg/ because external capture adapters are
// expected to implement [Driver] and [Stream].
package audio

import (
	"context"
	"errors"
)

// Typed capture errors. Drivers wrap these with contextual detail; callers
// classify with errors.Is.
var (
	// ErrDeviceUnavailable indicates the requested device does not exist or
	// cannot be opened right now.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrConfigUnsupported indicates the device rejected the requested sample
	// rate, channel count, or frame size.
	ErrConfigUnsupported = errors.New("audio: configuration unsupported")

	// ErrDeviceBusy indicates the device (or driver) is already capturing and
	// cannot satisfy a second open or a reconfiguration.
	ErrDeviceBusy = errors.New("audio: device busy")

	// ErrCaptureOverflow indicates frames were dropped because the consumer
	// fell behind the bounded frame queue. Recoverable; capture continues.
	ErrCaptureOverflow = errors.New("audio: capture overflow")
)

// OpenConfig describes the capture format requested from a [Driver].
type OpenConfig struct {
	// DeviceID selects the input device. Empty means the driver's default.
	DeviceID string

	// SampleRate in Hz (e.g. 16000 for STT pipelines).
	SampleRate int

	// Channels is the channel count of delivered frames (1 = mono).
	Channels int

	// FrameSize is the number of samples per channel in each delivered frame.
	FrameSize int

	// QueueDepth bounds the frame queue between the driver and the consumer.
	// When full, the oldest behavior is to drop the new frame and count it.
	// Zero means [DefaultQueueDepth].
	QueueDepth int
}

// DefaultQueueDepth is the frame queue bound used when OpenConfig.QueueDepth
// is zero. At 64 ms per frame this is roughly 16 s of slack.
const DefaultQueueDepth = 256

// Device describes one enumerable input device.
type Device struct {
	// ID is the driver-specific stable identifier passed to Open.
	ID string

	// Name is the human-readable device name.
	Name string

	// Channels is the maximum input channel count.
	Channels int

	// SampleRates lists supported rates in Hz. Empty means the driver
	// resamples and any pipeline rate is acceptable.
	SampleRates []int

	// Default marks the device chosen when OpenConfig.DeviceID is empty.
	Default bool
}

// Stream is an active capture session.
//
// Frames are delivered in capture order with strictly increasing sequence
// numbers. The frames channel is closed when the stream ends, whether by
// Close or by a device failure; after it closes, Err reports the terminal
// cause (nil for a clean Close).
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// Frames returns the read-only frame channel. The channel is owned by
	// the stream and closed by it; callers must not close it.
	Frames() <-chan Frame

	// Dropped reports the cumulative count of frames discarded due to
	// consumer backpressure. Each increment corresponds to one
	// [ErrCaptureOverflow] occurrence.
	Dropped() uint64

	// Err returns the terminal stream error once Frames is closed, or nil
	// if the stream ended cleanly. Before the channel closes, Err returns nil.
	Err() error

	// Close releases the device and closes the frame channel. Idempotent;
	// subsequent calls are no-ops and return nil.
	Close() error
}

// Driver is the entry point for a capture backend.
//
// Implementations must be safe for concurrent use. At most one [Stream] may
// be open per driver at a time; a second Open fails with [ErrDeviceBusy].
type Driver interface {
	// Open starts capturing with the given configuration. The supplied ctx
	// governs the open attempt only; once open, the Stream lives until its
	// Close is called or the device fails.
	//
	// Fails with [ErrDeviceUnavailable] if the device cannot be opened,
	// [ErrConfigUnsupported] if the format is rejected, and [ErrDeviceBusy]
	// if a stream is already open.
	Open(ctx context.Context, cfg OpenConfig) (Stream, error)

	// Devices enumerates the input-capable devices this driver can open.
	// Pure query; no capture state changes.
	Devices(ctx context.Context) ([]Device, error)
}
