// Package wsmic implements an [audio.Driver] backed by remote microphone
// clients connecting over WebSocket.
//
// A client connects to the configured path and sends a JSON hello describing
// its stream, then binary messages carrying Opus packets (or raw s16le PCM):
//
//	{"name": "Office Mic", "sample_rate": 48000, "channels": 2, "codec": "opus"}
//
// Each connected client appears as one enumerable device; the first to
// connect is the default. Opening a device binds its packet stream to the
// pipeline: packets are decoded, down-converted to the pipeline format, and
// re-chunked into fixed-size frames. The driver sends {"type":"start"} and
// {"type":"stop"} control messages so clients can pause capture while no
// recording is active.
package wsmic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/mkarren/earshot/pkg/audio"
)

const (
	defaultPath         = "/mic"
	defaultHelloTimeout = 5 * time.Second
)

// Config configures the wsmic driver.
type Config struct {
	// ListenAddr is the address the driver's HTTP server binds to when
	// Start is used, e.g. "127.0.0.1:8091".
	ListenAddr string

	// Path is the WebSocket endpoint path. Defaults to "/mic".
	Path string

	// HelloTimeout bounds how long a new connection may take to send its
	// hello message. Defaults to 5s.
	HelloTimeout time.Duration
}

// hello is the first message a microphone client must send.
type hello struct {
	Name       string `json:"name"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Codec      string `json:"codec"` // "opus" (default) or "pcm"
}

// control is sent to clients to start and stop packet delivery.
type control struct {
	Type string `json:"type"`
}

// Driver accepts microphone clients and exposes them as capture devices.
// It implements [audio.Driver] and [http.Handler]; use Start for a
// self-hosted listener or mount the handler on an existing mux.
type Driver struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*client
	order   []string // connect order; first is the default device
	active  *stream

	srv       *http.Server
	closeOnce sync.Once
}

// New creates a Driver. Call Start to listen, or mount the Driver as an
// http.Handler.
func New(cfg Config) *Driver {
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = defaultHelloTimeout
	}
	return &Driver{
		cfg:     cfg,
		clients: make(map[string]*client),
	}
}

// Start binds ListenAddr and serves the WebSocket endpoint until Close.
// The returned error covers the bind only; serve errors are logged.
func (d *Driver) Start() error {
	if d.cfg.ListenAddr == "" {
		return errors.New("wsmic: listen address is empty")
	}
	l, err := net.Listen("tcp", d.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("wsmic: listen %s: %w", d.cfg.ListenAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+d.cfg.Path, d)
	d.srv = &http.Server{Handler: mux}

	go func() {
		if err := d.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("wsmic: server error", "err", err)
		}
	}()
	slog.Info("wsmic: listening for microphone clients", "addr", d.cfg.ListenAddr, "path", d.cfg.Path)
	return nil
}

// Close shuts the server down, disconnects all clients, and fails any bound
// stream. Idempotent.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		if d.srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = d.srv.Shutdown(ctx)
		}
		d.mu.Lock()
		clients := make([]*client, 0, len(d.clients))
		for _, c := range d.clients {
			clients = append(clients, c)
		}
		active := d.active
		d.active = nil
		d.mu.Unlock()

		if active != nil {
			active.fail(fmt.Errorf("wsmic: driver closed: %w", audio.ErrDeviceUnavailable))
		}
		for _, c := range clients {
			c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
	})
	return nil
}

// ServeHTTP upgrades the connection and runs the client read pump until the
// client disconnects.
func (d *Driver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("wsmic: accept failed", "err", err)
		return
	}

	c, err := d.handshake(r.Context(), conn)
	if err != nil {
		slog.Warn("wsmic: handshake failed", "remote", r.RemoteAddr, "err", err)
		conn.Close(websocket.StatusPolicyViolation, "bad hello")
		return
	}

	slog.Info("wsmic: microphone connected", "device", c.id, "format",
		audio.Format{SampleRate: c.rate, Channels: c.channels}.String(), "codec", c.codec)

	d.readPump(r.Context(), c)
	d.unregister(c)
}

// handshake reads and validates the hello message, then registers the client.
func (d *Driver) handshake(ctx context.Context, conn *websocket.Conn) (*client, error) {
	hctx, cancel := context.WithTimeout(ctx, d.cfg.HelloTimeout)
	defer cancel()

	typ, data, err := conn.Read(hctx)
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if typ != websocket.MessageText {
		return nil, errors.New("hello must be a text message")
	}

	var h hello
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode hello: %w", err)
	}
	if h.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", h.SampleRate)
	}
	if h.Channels != 1 && h.Channels != 2 {
		return nil, fmt.Errorf("invalid channel count %d", h.Channels)
	}
	codec := h.Codec
	if codec == "" {
		codec = "opus"
	}

	c := &client{
		name:     h.Name,
		rate:     h.SampleRate,
		channels: h.Channels,
		codec:    codec,
		conn:     conn,
	}

	switch codec {
	case "opus":
		dec, err := newOpusDecoder(h.SampleRate, h.Channels)
		if err != nil {
			return nil, err
		}
		c.opus = dec
	case "pcm":
		// Raw passthrough; nothing to set up.
	default:
		return nil, fmt.Errorf("unsupported codec %q", codec)
	}

	d.register(c)
	return c, nil
}

// register assigns a unique device ID and adds the client to the table.
func (d *Driver) register(c *client) {
	d.mu.Lock()
	defer d.mu.Unlock()

	base := sanitizeID(c.name)
	id := base
	for n := 2; ; n++ {
		if _, taken := d.clients[id]; !taken {
			break
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
	c.id = id
	d.clients[id] = c
	d.order = append(d.order, id)
}

// unregister removes the client and fails the active stream if it was bound
// to this client.
func (d *Driver) unregister(c *client) {
	d.mu.Lock()
	delete(d.clients, c.id)
	for i, id := range d.order {
		if id == c.id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	active := d.active
	bound := active != nil && active.client == c
	if bound {
		d.active = nil
	}
	d.mu.Unlock()

	slog.Info("wsmic: microphone disconnected", "device", c.id)
	if bound {
		active.fail(fmt.Errorf("wsmic: microphone %q disconnected: %w", c.id, audio.ErrDeviceUnavailable))
	}
}

// readPump delivers binary packets from the client to the bound stream.
// Text messages are ignored (reserved for future client control).
func (d *Driver) readPump(ctx context.Context, c *client) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}

		d.mu.Lock()
		s := d.active
		bound := s != nil && s.client == c
		d.mu.Unlock()
		if !bound {
			continue
		}

		pcm, err := c.decode(data)
		if err != nil {
			c.warnDecode.Do(func() {
				slog.Warn("wsmic: packet decode failed", "device", c.id, "err", err)
			})
			continue
		}
		s.ingest(pcm)
	}
}

// Devices implements [audio.Driver]. Returns the currently connected
// microphone clients in connect order; the first is the default.
func (d *Driver) Devices(context.Context) ([]audio.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]audio.Device, 0, len(d.order))
	for i, id := range d.order {
		c := d.clients[id]
		out = append(out, audio.Device{
			ID:          id,
			Name:        c.name,
			Channels:    c.channels,
			SampleRates: []int{c.rate},
			Default:     i == 0,
		})
	}
	return out, nil
}

// Open implements [audio.Driver]. Binds the requested client's packet stream
// to a new [audio.Stream]. The driver delivers mono frames only.
func (d *Driver) Open(_ context.Context, cfg audio.OpenConfig) (audio.Stream, error) {
	if cfg.SampleRate <= 0 || cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("wsmic: invalid open config: %w", audio.ErrConfigUnsupported)
	}
	if cfg.Channels != 1 {
		return nil, fmt.Errorf("wsmic: only mono delivery is supported: %w", audio.ErrConfigUnsupported)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active != nil && !d.active.ended() {
		return nil, fmt.Errorf("wsmic: open: %w", audio.ErrDeviceBusy)
	}

	var c *client
	if cfg.DeviceID == "" {
		if len(d.order) == 0 {
			return nil, fmt.Errorf("wsmic: no microphone connected: %w", audio.ErrDeviceUnavailable)
		}
		c = d.clients[d.order[0]]
	} else {
		var ok bool
		c, ok = d.clients[cfg.DeviceID]
		if !ok {
			return nil, fmt.Errorf("wsmic: unknown device %q: %w", cfg.DeviceID, audio.ErrDeviceUnavailable)
		}
	}

	s := newStream(c, cfg)
	s.onEnd = func() { d.clearActive(s) }
	d.active = s

	c.send(control{Type: "start"})
	return s, nil
}

// clearActive unbinds s if it is still the active stream.
func (d *Driver) clearActive(s *stream) {
	d.mu.Lock()
	if d.active == s {
		d.active = nil
	}
	d.mu.Unlock()
}

// sanitizeID lowercases a client name and strips it to [a-z0-9-]. Empty
// names become "mic".
func sanitizeID(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteByte('-')
		}
	}
	id := strings.Trim(b.String(), "-")
	if id == "" {
		return "mic"
	}
	return id
}

// Compile-time interface assertion.
var _ audio.Driver = (*Driver)(nil)
