// Package engines coordinates the configured speech-to-text backends.
//
// A Manager owns a fixed, priority-ordered set of [stt.Engine] implementations.
// Initialize probes them all concurrently; Transcribe sends each segment to the
// active engine with one retry, then falls back through the remaining available
// engines in priority order. Per-engine health follows a three-state model
// (available, degraded, unavailable): a failed transcription degrades an
// engine, a degraded engine is re-probed before its next use, and re-probe
// failures past the failure budget make it unavailable.
//
// Manager is safe for concurrent use.
package engines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mkarren/earshot/pkg/provider/stt"
)

var (
	// ErrNoEngineAvailable is returned by Initialize when every configured
	// engine fails its probe, and by Transcribe before initialization.
	ErrNoEngineAvailable = errors.New("no stt engine available")

	// ErrUnknownEngine is returned when a named engine is not configured.
	ErrUnknownEngine = errors.New("unknown stt engine")

	// ErrEngineUnavailable is returned by SetActive when the target engine's
	// health is not available.
	ErrEngineUnavailable = errors.New("stt engine unavailable")

	// ErrTranscriptionFailed is returned by Transcribe when the active engine
	// and every fallback failed. It wraps the last underlying error.
	ErrTranscriptionFailed = errors.New("transcription failed")
)

// defaultFailureBudget is how many consecutive re-probe failures a degraded
// engine may accumulate before it is marked unavailable.
const defaultFailureBudget = 3

// Health represents the operational state of a configured engine.
type Health int

const (
	// HealthAvailable means the engine passed its most recent probe and may
	// serve transcriptions.
	HealthAvailable Health = iota

	// HealthDegraded means the engine recently failed a transcription. It is
	// re-probed before its next use and skipped as a fallback target.
	HealthDegraded

	// HealthUnavailable means the engine failed its initial probe or exhausted
	// the failure budget. It serves nothing until a later probe succeeds.
	HealthUnavailable
)

// String returns the human-readable name of the health state.
func (h Health) String() string {
	switch h {
	case HealthAvailable:
		return "available"
	case HealthDegraded:
		return "degraded"
	case HealthUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Descriptor is a point-in-time snapshot of one configured engine.
type Descriptor struct {
	// Name is the engine's unique name.
	Name string

	// Capabilities are the engine's declared capability flags.
	Capabilities stt.Capabilities

	// Health is the engine's health state at snapshot time.
	Health Health

	// Active reports whether this engine is the active one.
	Active bool

	// LastError is the message of the most recent probe or transcription
	// failure. Empty while the engine is healthy.
	LastError string
}

// engineState is the mutable tracking record for one configured engine.
// All fields except engine and caps are guarded by Manager.mu.
type engineState struct {
	engine    stt.Engine
	caps      stt.Capabilities
	health    Health
	failCount int
	lastErr   error
}

// Manager tracks engine health and routes transcriptions. Exactly one engine
// is active at a time; the rest are fallback candidates in priority order.
type Manager struct {
	order  []string
	byName map[string]*engineState

	defaultEngine string
	failureBudget int
	failureHook   func(engine string)

	mu     sync.Mutex
	active string
}

// Option is a functional option for configuring a Manager.
type Option func(*Manager)

// WithDefaultEngine names the engine that becomes active after Initialize,
// provided its probe succeeds. Unset, the first available engine in priority
// order becomes active.
func WithDefaultEngine(name string) Option {
	return func(m *Manager) { m.defaultEngine = name }
}

// WithFailureBudget sets how many consecutive re-probe failures a degraded
// engine may accumulate before it is marked unavailable. Default is 3.
func WithFailureBudget(n int) Option {
	return func(m *Manager) { m.failureBudget = n }
}

// WithFailureHook registers a callback invoked once per failed transcription
// attempt with the failing engine's name. Used to feed failure metrics
// without coupling the manager to an instrumentation backend. The hook must
// be fast and must not call back into the Manager.
func WithFailureHook(fn func(engine string)) Option {
	return func(m *Manager) { m.failureHook = fn }
}

// New creates a Manager over the given engines. The slice order defines
// fallback priority. Engine names must be unique and the list must not be
// empty. Every engine starts unavailable until Initialize probes it.
func New(list []stt.Engine, opts ...Option) (*Manager, error) {
	if len(list) == 0 {
		return nil, errors.New("engines: at least one engine required")
	}

	m := &Manager{
		byName:        make(map[string]*engineState, len(list)),
		failureBudget: defaultFailureBudget,
	}
	for _, e := range list {
		name := e.Name()
		if _, dup := m.byName[name]; dup {
			return nil, fmt.Errorf("engines: duplicate engine name %q", name)
		}
		m.byName[name] = &engineState{
			engine: e,
			caps:   e.Capabilities(),
			health: HealthUnavailable,
		}
		m.order = append(m.order, name)
	}
	for _, o := range opts {
		o(m)
	}
	if m.defaultEngine != "" {
		if _, ok := m.byName[m.defaultEngine]; !ok {
			return nil, fmt.Errorf("engines: default engine %q: %w", m.defaultEngine, ErrUnknownEngine)
		}
	}
	return m, nil
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

// Initialize probes every configured engine concurrently and marks each one
// available or unavailable. Individual probe failures are recorded on the
// descriptor without aborting; only context cancellation does. At least one
// engine must end up available or ErrNoEngineAvailable is returned. The
// default engine becomes active when available, otherwise the first available
// engine in priority order.
func (m *Manager) Initialize(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, name := range m.order {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m.probeOne(gctx, name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("engines: initialize: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	active := ""
	if m.defaultEngine != "" && m.byName[m.defaultEngine].health == HealthAvailable {
		active = m.defaultEngine
	} else {
		for _, name := range m.order {
			if m.byName[name].health == HealthAvailable {
				active = name
				break
			}
		}
	}
	if active == "" {
		return fmt.Errorf("engines: initialize: %w", ErrNoEngineAvailable)
	}
	m.active = active

	slog.Info("stt engines initialized",
		"active", active, "available", m.availableLocked())
	return nil
}

// probeOne probes a single engine and records the outcome. The byName map is
// immutable after New, so only the state fields need the lock.
func (m *Manager) probeOne(ctx context.Context, name string) {
	st := m.byName[name]
	err := st.engine.Probe(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		st.health = HealthUnavailable
		st.lastErr = err
		slog.Warn("stt engine probe failed", "engine", name, "err", err)
		return
	}
	st.health = HealthAvailable
	st.failCount = 0
	st.lastErr = nil
}

// ─── Engine selection ─────────────────────────────────────────────────────────

// SetActive switches the active engine. In-flight transcriptions on the
// previous engine finish undisturbed.
func (m *Manager) SetActive(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("engines: set active %q: %w", name, ErrUnknownEngine)
	}
	if st.health != HealthAvailable {
		return fmt.Errorf("engines: set active %q (%s): %w", name, st.health, ErrEngineUnavailable)
	}
	if m.active != name {
		slog.Info("stt engine switched", "from", m.active, "to", name)
		m.active = name
	}
	return nil
}

// Active returns the name of the active engine, or "" before Initialize.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Status returns a snapshot of every configured engine in priority order.
func (m *Manager) Status() []Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Descriptor, 0, len(m.order))
	for _, name := range m.order {
		st := m.byName[name]
		d := Descriptor{
			Name:         name,
			Capabilities: st.caps,
			Health:       st.health,
			Active:       name == m.active,
		}
		if st.lastErr != nil {
			d.LastError = st.lastErr.Error()
		}
		out = append(out, d)
	}
	return out
}

// ─── Transcription ────────────────────────────────────────────────────────────

// Transcribe converts one speech segment to text. The active engine is tried
// first with one retry; on repeated failure it is marked degraded and the
// remaining available engines are tried once each in priority order. Engine
// calls never hold the manager lock, so SetActive and Status stay responsive.
// Cancellation is never charged against an engine's health.
func (m *Manager) Transcribe(ctx context.Context, in stt.Audio) (stt.Transcript, error) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active == "" {
		return stt.Transcript{}, fmt.Errorf("engines: transcribe: %w", ErrNoEngineAvailable)
	}

	var lastErr error
	if m.ensureUsable(ctx, active) {
		tr, err := m.attempt(ctx, active, in, 2)
		if err == nil {
			return tr, nil
		}
		lastErr = err
		if ctx.Err() == nil {
			m.markDegraded(active, err)
		}
	} else {
		m.mu.Lock()
		lastErr = m.byName[active].lastErr
		m.mu.Unlock()
	}

	for _, name := range m.orderedAvailable(active) {
		if ctx.Err() != nil {
			break
		}
		tr, err := m.attempt(ctx, name, in, 1)
		if err == nil {
			return tr, nil
		}
		lastErr = err
		if ctx.Err() == nil {
			m.markDegraded(name, err)
		}
	}

	return stt.Transcript{}, fmt.Errorf("engines: transcribe: %w: %v", ErrTranscriptionFailed, lastErr)
}

// attempt runs up to tries transcription calls against the named engine and
// stamps the bookkeeping fields on success.
func (m *Manager) attempt(ctx context.Context, name string, in stt.Audio, tries int) (stt.Transcript, error) {
	st := m.byName[name]

	var lastErr error
	for i := 0; i < tries; i++ {
		start := time.Now()
		tr, err := st.engine.Transcribe(ctx, in)
		if err == nil {
			tr.Engine = name
			tr.AudioDuration = in.Duration
			tr.Latency = time.Since(start)
			m.recordSuccess(name)
			return tr, nil
		}
		lastErr = err
		if m.failureHook != nil {
			m.failureHook(name)
		}
		slog.Warn("stt transcription attempt failed",
			"engine", name, "attempt", i+1, "err", err)
		if ctx.Err() != nil {
			break
		}
	}
	return stt.Transcript{}, lastErr
}

// ensureUsable reports whether the named engine may serve a transcription now.
// An unhealthy engine gets one opportunistic re-probe: success promotes it to
// available, failure counts against the failure budget.
func (m *Manager) ensureUsable(ctx context.Context, name string) bool {
	m.mu.Lock()
	st := m.byName[name]
	health := st.health
	m.mu.Unlock()

	if health == HealthAvailable {
		return true
	}

	err := st.engine.Probe(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		st.health = HealthAvailable
		st.failCount = 0
		st.lastErr = nil
		slog.Info("stt engine recovered", "engine", name)
		return true
	}
	st.lastErr = err
	st.failCount++
	if st.health == HealthDegraded && st.failCount >= m.failureBudget {
		st.health = HealthUnavailable
		slog.Warn("stt engine unavailable after repeated probe failures",
			"engine", name, "failures", st.failCount)
	} else {
		slog.Warn("stt engine re-probe failed", "engine", name, "err", err)
	}
	return false
}

// markDegraded downgrades an engine after a failed transcription. The failure
// budget starts counting with the re-probes that follow.
func (m *Manager) markDegraded(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.byName[name]
	st.lastErr = err
	if st.health == HealthAvailable {
		st.health = HealthDegraded
		st.failCount = 0
		slog.Warn("stt engine degraded", "engine", name, "err", err)
	}
}

// recordSuccess clears failure tracking after a successful transcription.
func (m *Manager) recordSuccess(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.byName[name]
	st.failCount = 0
	st.lastErr = nil
}

// orderedAvailable returns the available engines in priority order, skipping
// the one named by skip.
func (m *Manager) orderedAvailable(skip string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.order))
	for _, name := range m.order {
		if name == skip {
			continue
		}
		if m.byName[name].health == HealthAvailable {
			names = append(names, name)
		}
	}
	return names
}

// availableLocked lists available engine names. Caller must hold m.mu.
func (m *Manager) availableLocked() []string {
	names := make([]string, 0, len(m.order))
	for _, name := range m.order {
		if m.byName[name].health == HealthAvailable {
			names = append(names, name)
		}
	}
	return names
}
