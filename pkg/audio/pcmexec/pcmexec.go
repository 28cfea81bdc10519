// Package pcmexec captures microphone audio by spawning a PCM-producing
// command (arecord, parec, sox rec, ...) and slicing its stdout into frames.
//
// The command is configured as an argv template with placeholders that are
// expanded at open time:
//
//	{device}    the resolved device ID
//	{rate}      the requested sample rate in Hz
//	{channels}  the requested channel count
//
// Example for ALSA:
//
//	["arecord", "-D", "{device}", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}", "-t", "raw", "-q"]
//
// The command must write raw little-endian int16 PCM to stdout. Devices are
// declared in configuration rather than probed from hardware, which keeps the
// driver portable across ALSA, PulseAudio and sox front ends.
package pcmexec

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mkarren/earshot/pkg/audio"
)

// defaultProbeTimeout bounds how long Open waits for the first PCM bytes
// before declaring the device unavailable.
const defaultProbeTimeout = 3 * time.Second

// DeviceSpec declares one capture device the configured command can open.
type DeviceSpec struct {
	// ID is passed to the command via the {device} placeholder.
	ID string

	// Name is the human-readable device name.
	Name string

	// Channels is the maximum input channel count. Zero means 1.
	Channels int

	// SampleRates lists the rates the device accepts. Empty means any.
	SampleRates []int

	// Default marks the device used when no ID is requested.
	Default bool
}

// Config configures the driver.
type Config struct {
	// Command is the argv template. Must be non-empty.
	Command []string

	// Devices is the declared device table. Must be non-empty.
	Devices []DeviceSpec

	// ProbeTimeout overrides the first-byte deadline. Zero means the default.
	ProbeTimeout time.Duration
}

// Driver spawns the configured command per capture stream. At most one
// stream is open at a time.
type Driver struct {
	cfg Config

	mu     sync.Mutex
	active *stream
}

// New creates a Driver. Returns an error if the command or device table is
// empty.
func New(cfg Config) (*Driver, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("pcmexec: capture command is empty")
	}
	if len(cfg.Devices) == 0 {
		return nil, fmt.Errorf("pcmexec: no devices declared")
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	return &Driver{cfg: cfg}, nil
}

// Devices implements [audio.Driver]. Returns the declared device table.
func (d *Driver) Devices(context.Context) ([]audio.Device, error) {
	out := make([]audio.Device, 0, len(d.cfg.Devices))
	for _, ds := range d.cfg.Devices {
		ch := ds.Channels
		if ch == 0 {
			ch = 1
		}
		out = append(out, audio.Device{
			ID:          ds.ID,
			Name:        ds.Name,
			Channels:    ch,
			SampleRates: slices.Clone(ds.SampleRates),
			Default:     ds.Default,
		})
	}
	return out, nil
}

// Open implements [audio.Driver]. It resolves the device, spawns the capture
// command, and waits for the first frame before returning. The ctx governs
// the open attempt only.
func (d *Driver) Open(ctx context.Context, cfg audio.OpenConfig) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active != nil && !d.active.ended() {
		return nil, fmt.Errorf("pcmexec: open: %w", audio.ErrDeviceBusy)
	}

	spec, err := d.resolve(cfg.DeviceID)
	if err != nil {
		return nil, err
	}
	if err := checkFormat(spec, cfg); err != nil {
		return nil, err
	}

	argv := expand(d.cfg.Command, spec.ID, cfg.SampleRate, cfg.Channels)
	cmd := exec.Command(argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pcmexec: stdout pipe: %w", err)
	}
	stderr := &tailBuffer{limit: 2048}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pcmexec: start %q: %w: %w", argv[0], audio.ErrDeviceUnavailable, err)
	}

	s := &stream{
		buf:       audio.NewStreamBuffer(cfg.QueueDepth),
		cmd:       cmd,
		stdout:    stdout,
		stderr:    stderr,
		frameSize: cfg.FrameSize,
		rate:      cfg.SampleRate,
		channels:  cfg.Channels,
		done:      make(chan struct{}),
	}

	// The device is healthy only if PCM actually arrives. Wait for the first
	// frame under a deadline before handing the stream out.
	first := make([]byte, s.frameBytes())
	readErr := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(stdout, first)
		readErr <- err
	}()

	select {
	case err := <-readErr:
		if err != nil {
			s.kill()
			return nil, fmt.Errorf("pcmexec: device %q produced no audio: %w: %s",
				spec.ID, audio.ErrDeviceUnavailable, stderr.tail())
		}
	case <-time.After(d.cfg.ProbeTimeout):
		s.kill()
		return nil, fmt.Errorf("pcmexec: device %q timed out before first frame: %w",
			spec.ID, audio.ErrDeviceUnavailable)
	case <-ctx.Done():
		s.kill()
		return nil, fmt.Errorf("pcmexec: open: %w", ctx.Err())
	}

	s.push(first)
	go s.readLoop()

	d.active = s
	slog.Debug("pcmexec: capture started", "device", spec.ID, "cmd", argv[0])
	return s, nil
}

// resolve maps a requested device ID to its spec. Empty selects the default
// device, falling back to the first declared.
func (d *Driver) resolve(id string) (DeviceSpec, error) {
	if id == "" {
		for _, ds := range d.cfg.Devices {
			if ds.Default {
				return ds, nil
			}
		}
		return d.cfg.Devices[0], nil
	}
	for _, ds := range d.cfg.Devices {
		if ds.ID == id {
			return ds, nil
		}
	}
	return DeviceSpec{}, fmt.Errorf("pcmexec: unknown device %q: %w", id, audio.ErrDeviceUnavailable)
}

// checkFormat validates the requested format against the device declaration.
func checkFormat(spec DeviceSpec, cfg audio.OpenConfig) error {
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 || cfg.FrameSize <= 0 {
		return fmt.Errorf("pcmexec: invalid open config: %w", audio.ErrConfigUnsupported)
	}
	maxCh := spec.Channels
	if maxCh == 0 {
		maxCh = 1
	}
	if cfg.Channels > maxCh {
		return fmt.Errorf("pcmexec: device %q supports %d channels, requested %d: %w",
			spec.ID, maxCh, cfg.Channels, audio.ErrConfigUnsupported)
	}
	if len(spec.SampleRates) > 0 && !slices.Contains(spec.SampleRates, cfg.SampleRate) {
		return fmt.Errorf("pcmexec: device %q does not support %d Hz: %w",
			spec.ID, cfg.SampleRate, audio.ErrConfigUnsupported)
	}
	return nil
}

// expand substitutes the argv template placeholders.
func expand(tmpl []string, device string, rate, channels int) []string {
	out := make([]string, len(tmpl))
	for i, arg := range tmpl {
		arg = strings.ReplaceAll(arg, "{device}", device)
		arg = strings.ReplaceAll(arg, "{rate}", strconv.Itoa(rate))
		arg = strings.ReplaceAll(arg, "{channels}", strconv.Itoa(channels))
		out[i] = arg
	}
	return out
}

// stream is one live capture subprocess.
type stream struct {
	buf    *audio.StreamBuffer
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer

	frameSize int
	rate      int
	channels  int

	seq   uint64
	start time.Time

	closeOnce sync.Once
	closingMu sync.Mutex
	closing   bool
	done      chan struct{}
}

func (s *stream) frameBytes() int {
	return s.frameSize * s.channels * 2
}

// push wraps raw PCM in a Frame and enqueues it.
func (s *stream) push(pcm []byte) {
	frame := audio.Frame{
		Seq:        s.seq,
		Data:       pcm,
		SampleRate: s.rate,
		Channels:   s.channels,
		Timestamp:  time.Duration(s.seq) * audio.FrameDuration(s.frameSize, s.rate),
	}
	s.seq++
	s.buf.Push(frame)
}

// readLoop slices stdout into frames until the process stops producing.
func (s *stream) readLoop() {
	defer close(s.done)
	for {
		pcm := make([]byte, s.frameBytes())
		if _, err := io.ReadFull(s.stdout, pcm); err != nil {
			waitErr := s.cmd.Wait()
			if s.isClosing() {
				s.buf.Finish(nil)
				return
			}
			cause := err
			if waitErr != nil {
				cause = waitErr
			}
			s.buf.Finish(fmt.Errorf("pcmexec: capture process ended: %w: %s",
				cause, s.stderr.tail()))
			return
		}
		s.push(pcm)
	}
}

func (s *stream) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// kill terminates the subprocess without touching the buffer. Used on failed
// opens before the read loop starts.
func (s *stream) kill() {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
}

// ended reports whether the read loop has exited.
func (s *stream) ended() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Frames implements [audio.Stream].
func (s *stream) Frames() <-chan audio.Frame { return s.buf.Frames() }

// Dropped implements [audio.Stream].
func (s *stream) Dropped() uint64 { return s.buf.Dropped() }

// Err implements [audio.Stream].
func (s *stream) Err() error { return s.buf.Err() }

// Close implements [audio.Stream]. Kills the capture process; the read loop
// then drains out and closes the frame channel cleanly.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.closingMu.Lock()
		s.closing = true
		s.closingMu.Unlock()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		<-s.done
	})
	return nil
}

// tailBuffer keeps the last limit bytes written, for error reporting.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	data  []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = append(t.data, p...)
	if len(t.data) > t.limit {
		t.data = t.data[len(t.data)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) tail() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.data))
}

// Compile-time interface assertion.
var _ audio.Driver = (*Driver)(nil)
