// Package mock provides in-memory mock implementations of the [audio.Driver]
// and [audio.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(8)
//	drv := &mock.Driver{
//	    OpenResult:    stream,
//	    DevicesResult: []audio.Device{{ID: "default", Name: "Test Mic", Default: true}},
//	}
//	go stream.Feed(frames...)
package mock

import (
	"context"
	"sync"

	"github.com/mkarren/earshot/pkg/audio"
)

// OpenCall records the arguments of a single [Driver.Open] invocation.
type OpenCall struct {
	// Config is the OpenConfig passed to Open.
	Config audio.OpenConfig
}

// Driver is a mock implementation of [audio.Driver].
// Set the exported Result fields before use; inspect the Call fields after.
type Driver struct {
	mu sync.Mutex

	// OpenResult is the stream returned by Open when OpenError is nil.
	OpenResult *Stream

	// OpenError is returned by Open. Takes precedence over OpenResult.
	OpenError error

	// DevicesResult is returned by Devices.
	DevicesResult []audio.Device

	// DevicesError is returned by Devices.
	DevicesError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall

	// CallCountDevices records how many times Devices was called.
	CallCountDevices int
}

// Open implements [audio.Driver]. Records the call and returns
// OpenResult / OpenError.
func (d *Driver) Open(_ context.Context, cfg audio.OpenConfig) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Config: cfg})
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	return d.OpenResult, nil
}

// Devices implements [audio.Driver]. Returns DevicesResult / DevicesError.
func (d *Driver) Devices(context.Context) ([]audio.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountDevices++
	return d.DevicesResult, d.DevicesError
}

// LastOpenConfig returns the config of the most recent Open call, or the
// zero value if Open was never called.
func (d *Driver) LastOpenConfig() audio.OpenConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.OpenCalls) == 0 {
		return audio.OpenConfig{}
	}
	return d.OpenCalls[len(d.OpenCalls)-1].Config
}

// Stream is a mock implementation of [audio.Stream]. Tests feed frames with
// [Stream.Feed] or [Stream.FailWith] and observe teardown via
// CallCountClose.
type Stream struct {
	mu sync.Mutex

	frames  chan audio.Frame
	err     error
	once    sync.Once
	dropped uint64

	// CloseError is returned by the first Close call.
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewStream creates a mock stream whose frame channel has the given buffer.
func NewStream(buffer int) *Stream {
	return &Stream{frames: make(chan audio.Frame, buffer)}
}

// Feed pushes frames to the consumer, blocking if the buffer is full.
func (s *Stream) Feed(frames ...audio.Frame) {
	for _, f := range frames {
		s.frames <- f
	}
}

// End closes the frame channel cleanly, as if capture finished.
func (s *Stream) End() {
	s.once.Do(func() { close(s.frames) })
}

// FailWith records err as the terminal error and closes the frame channel,
// as if the device failed mid-capture.
func (s *Stream) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.frames) })
}

// SetDropped sets the overflow counter returned by Dropped.
func (s *Stream) SetDropped(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped = n
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.Frame {
	return s.frames
}

// Dropped implements [audio.Stream].
func (s *Stream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Err implements [audio.Stream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.Stream]. Ends the stream and returns CloseError
// on first call, nil afterwards.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	n := s.CallCountClose
	err := s.CloseError
	s.mu.Unlock()
	s.once.Do(func() { close(s.frames) })
	if n > 1 {
		return nil
	}
	return err
}

// Compile-time interface assertions.
var (
	_ audio.Driver = (*Driver)(nil)
	_ audio.Stream = (*Stream)(nil)
)
