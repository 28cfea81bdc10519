// Package app wires all earshot subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the MCP control surface until the context is
// cancelled, and Shutdown tears everything down in reverse-init order.
//
// For testing, inject mock implementations via functional options
// (WithDriver, WithEngines, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/mkarren/earshot/internal/config"
	"github.com/mkarren/earshot/internal/engines"
	"github.com/mkarren/earshot/internal/health"
	"github.com/mkarren/earshot/internal/mcp"
	"github.com/mkarren/earshot/internal/observe"
	"github.com/mkarren/earshot/internal/session"
	"github.com/mkarren/earshot/internal/sink"
	"github.com/mkarren/earshot/internal/transcript"
	"github.com/mkarren/earshot/internal/transcript/llmcorrect"
	"github.com/mkarren/earshot/internal/transcript/phonetic"
	"github.com/mkarren/earshot/pkg/archive"
	archivepg "github.com/mkarren/earshot/pkg/archive/postgres"
	"github.com/mkarren/earshot/pkg/audio"
	"github.com/mkarren/earshot/pkg/audio/pcmexec"
	"github.com/mkarren/earshot/pkg/audio/wsmic"
	"github.com/mkarren/earshot/pkg/provider/embeddings"
	ollamaembed "github.com/mkarren/earshot/pkg/provider/embeddings/ollama"
	oaembed "github.com/mkarren/earshot/pkg/provider/embeddings/openai"
	"github.com/mkarren/earshot/pkg/provider/llm/anyllm"
	"github.com/mkarren/earshot/pkg/provider/stt"
	"github.com/mkarren/earshot/pkg/provider/stt/deepgram"
	sttopenai "github.com/mkarren/earshot/pkg/provider/stt/openai"
	"github.com/mkarren/earshot/pkg/provider/stt/whisper"
	"github.com/mkarren/earshot/pkg/vad"
)

// App owns all subsystem lifetimes of the transcription server.
type App struct {
	cfg     *config.Config
	cfgPath string
	version string

	// logLevel, when set, is retargeted on logging.level config changes.
	logLevel *slog.LevelVar

	// Subsystems — initialised in New, torn down in Shutdown.
	metrics       *observe.Metrics
	driver        audio.Driver
	manager       *engines.Manager
	store         archive.Store
	archiveWriter *sink.ArchiveWriter
	natsPub       *sink.NATSPublisher
	correcting    *sink.Correcting
	notifier      *mcp.Notifier
	sess          *session.Session
	server        *mcp.Server
	telemetry     *health.Server
	watcher       *config.Watcher

	// injected engine list for tests; nil builds engines from config.
	engineList []stt.Engine

	// closers run in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDriver injects a capture driver instead of creating one from config.
func WithDriver(d audio.Driver) Option {
	return func(a *App) { a.driver = d }
}

// WithEngines injects the transcription engine list instead of building it
// from config.
func WithEngines(list []stt.Engine) Option {
	return func(a *App) { a.engineList = list }
}

// WithArchiveStore injects an archive store instead of connecting to
// PostgreSQL.
func WithArchiveStore(s archive.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLogLevel hands the App the process log level so logging.level config
// changes take effect without a restart.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// New creates an App by wiring all subsystems together. cfgPath is where
// device and engine selections are persisted and what the hot-reload watcher
// observes; empty disables both.
//
// New performs all initialisation synchronously: capture driver setup, engine
// probing, sink chain assembly, session construction, telemetry listener and
// MCP server registration.
func New(ctx context.Context, cfg *config.Config, cfgPath, version string, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		cfgPath: cfgPath,
		version: version,
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Capture driver ────────────────────────────────────────────────
	if err := a.initDriver(); err != nil {
		return nil, fmt.Errorf("app: init driver: %w", err)
	}

	// ── 2. Transcription engines ─────────────────────────────────────────
	if err := a.initEngines(ctx); err != nil {
		return nil, fmt.Errorf("app: init engines: %w", err)
	}

	// ── 3. Sink chain ────────────────────────────────────────────────────
	finalSink, err := a.initSinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: init sinks: %w", err)
	}

	// ── 4. Recording session ─────────────────────────────────────────────
	det, err := a.newDetector()
	if err != nil {
		return nil, fmt.Errorf("app: init vad: %w", err)
	}
	a.sess = session.New(a.driver, det, a.manager, finalSink, sessionConfig(cfg))

	// ── 5. Pipeline gauges ───────────────────────────────────────────────
	reg, err := a.metrics.ObservePipeline(a.sess, a.manager)
	if err != nil {
		return nil, fmt.Errorf("app: register pipeline gauges: %w", err)
	}
	a.closers = append(a.closers, reg.Unregister)

	// ── 6. Telemetry listener ────────────────────────────────────────────
	if err := a.initTelemetry(); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 7. MCP server ────────────────────────────────────────────────────
	a.server, err = mcp.New(mcp.Deps{
		Session:       a.sess,
		Engines:       a.manager,
		Driver:        a.driver,
		NewDetector:   a.newDetector,
		Notifier:      a.notifier,
		Archive:       a.store,
		ArchiveWriter: a.archiveWriter,
		Config:        cfg,
		ConfigPath:    cfgPath,
		Version:       version,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init mcp: %w", err)
	}

	// ── 8. Config hot reload ─────────────────────────────────────────────
	if cfgPath != "" {
		w, err := config.NewWatcher(cfgPath, a.applyConfigChange)
		if err != nil {
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error { w.Stop(); return nil })
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDriver builds the capture driver named in config unless one was
// injected.
func (a *App) initDriver() error {
	if a.driver != nil {
		return nil
	}

	switch a.cfg.Audio.Driver {
	case "", "pcmexec":
		specs := make([]pcmexec.DeviceSpec, 0, len(a.cfg.Audio.Devices))
		for _, d := range a.cfg.Audio.Devices {
			specs = append(specs, pcmexec.DeviceSpec{
				ID:          d.ID,
				Name:        d.Name,
				Channels:    d.Channels,
				SampleRates: d.SampleRates,
				Default:     d.Default,
			})
		}
		drv, err := pcmexec.New(pcmexec.Config{
			Command: a.cfg.Audio.CaptureCmd,
			Devices: specs,
		})
		if err != nil {
			return err
		}
		a.driver = drv

	case "wsmic":
		drv := wsmic.New(wsmic.Config{ListenAddr: a.cfg.Audio.ListenAddr})
		if err := drv.Start(); err != nil {
			return err
		}
		a.driver = drv
		a.closers = append(a.closers, drv.Close)

	default:
		return fmt.Errorf("unknown audio driver %q", a.cfg.Audio.Driver)
	}
	return nil
}

// initEngines builds the engine list from config (unless injected), wires
// failure accounting into metrics, and probes every engine.
func (a *App) initEngines(ctx context.Context) error {
	list := a.engineList
	if list == nil {
		var err error
		list, err = buildEngines(a.cfg)
		if err != nil {
			return err
		}
	}

	opts := []engines.Option{
		engines.WithFailureHook(func(engine string) {
			a.metrics.RecordEngineFailure(context.Background(), engine)
		}),
	}
	if name := a.cfg.STT.DefaultEngine; name != "" {
		// The configured default may name an engine that has no credentials
		// in this config; Initialize then picks the first available one.
		if slices.ContainsFunc(list, func(e stt.Engine) bool { return e.Name() == name }) {
			opts = append(opts, engines.WithDefaultEngine(name))
		} else {
			slog.Warn("default stt engine not configured, using priority order", "engine", name)
		}
	}

	mgr, err := engines.New(list, opts...)
	if err != nil {
		return err
	}
	if err := mgr.Initialize(ctx); err != nil {
		return err
	}
	a.manager = mgr
	return nil
}

// initSinks assembles the transcript delivery chain: MCP push + metrics
// always, NATS and the archive when configured, the whole fan-out wrapped in
// vocabulary correction when enabled.
func (a *App) initSinks(ctx context.Context) (session.TranscriptSink, error) {
	a.notifier = mcp.NewNotifier(0)
	sinks := []session.TranscriptSink{a.notifier, observe.NewSink(a.metrics)}

	if url := a.cfg.Sink.NATSURL; url != "" {
		pub, err := sink.NewNATSPublisher(url, a.cfg.Sink.SubjectPrefix)
		if err != nil {
			return nil, err
		}
		a.natsPub = pub
		a.closers = append(a.closers, func() error { pub.Close(); return nil })
		sinks = append(sinks, pub)
		slog.Info("nats publisher connected", "url", url)
	}

	if err := a.initArchive(ctx); err != nil {
		return nil, err
	}
	if a.archiveWriter != nil {
		sinks = append(sinks, a.archiveWriter)
	}

	var final session.TranscriptSink = sink.NewMulti(sinks...)

	if a.cfg.Correction.Enabled {
		pipe, err := buildCorrectionPipeline(a.cfg.Correction)
		if err != nil {
			return nil, err
		}
		a.correcting = sink.NewCorrecting(final, pipe, a.cfg.Correction.Vocabulary)
		final = a.correcting
		slog.Info("transcript correction enabled",
			"vocabulary", len(a.cfg.Correction.Vocabulary),
			"llm", a.cfg.Correction.LLM.Provider != "")
	}

	return final, nil
}

// initArchive connects the PostgreSQL transcript archive when configured and
// no store was injected.
func (a *App) initArchive(ctx context.Context) error {
	if a.store == nil {
		dsn := a.cfg.Archive.PostgresDSN
		if dsn == "" {
			return nil
		}

		var opts []archivepg.Option
		if a.cfg.Archive.Embeddings.Provider != "" {
			p, err := buildEmbeddings(a.cfg.Archive.Embeddings)
			if err != nil {
				return err
			}
			// The vector column width is baked into the schema, so a model
			// mismatch has to fail here rather than on the first append.
			if d := p.Dimensions(); d != 0 && d != a.cfg.Archive.EmbeddingDimensions {
				return fmt.Errorf("embeddings model produces %d-dimension vectors but archive.embedding_dimensions is %d",
					d, a.cfg.Archive.EmbeddingDimensions)
			}
			opts = append(opts, archivepg.WithEmbeddings(p))
		}

		st, err := archivepg.New(ctx, dsn, a.cfg.Archive.EmbeddingDimensions, opts...)
		if err != nil {
			return err
		}
		a.store = st
		a.closers = append(a.closers, func() error { st.Close(); return nil })
		slog.Info("transcript archive connected",
			"embeddings", a.cfg.Archive.Embeddings.Provider)
	}

	a.archiveWriter = sink.NewArchiveWriter(a.store)
	return nil
}

// initTelemetry starts the metrics/health listener when telemetry.addr is
// set.
func (a *App) initTelemetry() error {
	addr := a.cfg.Telemetry.Addr
	if addr == "" {
		return nil
	}

	checkers := []health.Checker{
		health.CaptureCheck(a.driver),
		health.EnginesCheck(a.manager),
	}
	if a.natsPub != nil {
		checkers = append(checkers, health.SinkCheck("nats", a.natsPub))
	}

	srv := health.NewServer(addr, a.metrics, checkers...)
	if err := srv.Start(); err != nil {
		return err
	}
	a.telemetry = srv
	a.closers = append(a.closers, srv.Close)
	return nil
}

// newDetector builds a fresh VAD detector from config. Shared with the MCP
// server so capture tests run the same detection the session would.
func (a *App) newDetector() (vad.Detector, error) {
	return vad.New(vad.Config{
		Mode:            a.cfg.VAD.Mode,
		Aggressiveness:  a.cfg.VAD.Aggressiveness,
		EnergyThreshold: a.cfg.VAD.EnergyThreshold,
		SilenceFrames:   a.cfg.VAD.SilenceFrames,
		Hangover:        a.cfg.VAD.Hangover(),
	})
}

// applyConfigChange handles a config file change picked up by the watcher.
// Only hot-reloadable keys take effect; everything else needs a restart.
func (a *App) applyConfigChange(old, new *config.Config) {
	d := config.Compare(old, new)
	if !d.Any() {
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VocabularyChanged && a.correcting != nil {
		a.correcting.SetVocabulary(d.NewVocabulary)
		slog.Info("correction vocabulary reloaded", "terms", len(d.NewVocabulary))
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the MCP control surface over stdio and blocks until ctx is
// cancelled or the client disconnects. Recording starts and stops arrive as
// tool calls; Run itself does not start a recording.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running",
		"driver", a.cfg.Audio.Driver,
		"engine", a.manager.Active(),
		"archive", a.store != nil,
		"nats", a.natsPub != nil,
	)
	return a.server.Run(ctx)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops any live recording and tears down all subsystems in
// reverse-init order. It respects the context deadline: if ctx expires before
// all closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop the recording first so in-flight transcriptions can drain
		// into sinks that are still open.
		if a.sess != nil {
			if _, err := a.sess.Stop(ctx); err != nil {
				slog.Warn("session stop error", "err", err)
			}
		}
		if a.archiveWriter != nil {
			a.archiveWriter.SessionStopped(ctx)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Config assembly helpers ─────────────────────────────────────────────────

// buildEngines constructs every engine the config enables, in the effective
// priority order.
func buildEngines(cfg *config.Config) ([]stt.Engine, error) {
	order := cfg.EnginePriority()
	if len(order) == 0 {
		return nil, fmt.Errorf("no stt engines configured")
	}

	list := make([]stt.Engine, 0, len(order))
	for _, name := range order {
		e, err := buildEngine(cfg.STT, name)
		if err != nil {
			return nil, fmt.Errorf("build engine %q: %w", name, err)
		}
		list = append(list, e)
	}
	return list, nil
}

func buildEngine(cfg config.STTConfig, name string) (stt.Engine, error) {
	switch name {
	case "whisper":
		var opts []whisper.Option
		if cfg.Whisper.Language != "" {
			opts = append(opts, whisper.WithLanguage(cfg.Whisper.Language))
		}
		return whisper.New(cfg.Whisper.Endpoint, opts...)

	case "whisper-native":
		var opts []whisper.NativeOption
		if cfg.Whisper.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(cfg.Whisper.Language))
		}
		return whisper.NewNative(cfg.Whisper.ModelPath, opts...)

	case "openai":
		var opts []sttopenai.Option
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		return sttopenai.New(cfg.OpenAI.APIKey, cfg.OpenAI.Model, opts...)

	case "deepgram":
		var opts []deepgram.Option
		if cfg.Deepgram.Model != "" {
			opts = append(opts, deepgram.WithModel(cfg.Deepgram.Model))
		}
		if cfg.Deepgram.Language != "" {
			opts = append(opts, deepgram.WithLanguage(cfg.Deepgram.Language))
		}
		if cfg.Deepgram.Endpoint != "" {
			opts = append(opts, deepgram.WithBaseURL(cfg.Deepgram.Endpoint))
		}
		return deepgram.New(cfg.Deepgram.APIKey, opts...)

	default:
		return nil, fmt.Errorf("unknown engine name")
	}
}

// buildCorrectionPipeline assembles the phonetic stage and, when an LLM
// provider is configured, the LLM review stage.
func buildCorrectionPipeline(cfg config.CorrectionConfig) (transcript.Pipeline, error) {
	opts := []transcript.PipelineOption{
		transcript.WithPhoneticMatcher(phonetic.New()),
	}

	if cfg.LLM.Provider != "" {
		var llmOpts []anyllmlib.Option
		if cfg.LLM.APIKey != "" {
			llmOpts = append(llmOpts, anyllmlib.WithAPIKey(cfg.LLM.APIKey))
		}
		if cfg.LLM.BaseURL != "" {
			llmOpts = append(llmOpts, anyllmlib.WithBaseURL(cfg.LLM.BaseURL))
		}
		p, err := anyllm.New(cfg.LLM.Provider, cfg.LLM.Model, llmOpts...)
		if err != nil {
			return nil, fmt.Errorf("build correction llm: %w", err)
		}
		opts = append(opts, transcript.WithLLMCorrector(llmcorrect.New(p)))
	}

	return transcript.NewPipeline(opts...), nil
}

// buildEmbeddings constructs the archive embeddings provider from config.
func buildEmbeddings(cfg config.EmbeddingsConfig) (embeddings.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return oaembed.New(cfg.APIKey, cfg.Model)
	case "ollama":
		return ollamaembed.New("", cfg.Model)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}

// sessionConfig maps the file config onto the session's runtime config.
func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		DeviceID:   cfg.Audio.DeviceID,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		FrameSize:  cfg.Audio.FrameSize,
		QueueDepth: cfg.Audio.QueueDepth,
		Segment: session.SegmentConfig{
			Min:               cfg.Segment.Min(),
			Max:               cfg.Segment.Max(),
			Padding:           cfg.Segment.Padding(),
			FlushCarryPadding: cfg.Segment.FlushCarryPadding,
		},
		Pipeline: session.PipelineConfig{
			QueueDepth: cfg.Pipeline.QueueDepth,
			Workers:    cfg.Pipeline.Workers,
			StopGrace:  cfg.Pipeline.StopGrace(),
		},
	}
}

// slogLevel maps a config log level onto slog's scale.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
