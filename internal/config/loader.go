package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown keys are rejected. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Audio.Driver == "" {
		cfg.Audio.Driver = "pcmexec"
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = 1024
	}
	if cfg.VAD.Mode == "" {
		cfg.VAD.Mode = "hybrid"
	}
	if cfg.VAD.Aggressiveness == 0 {
		cfg.VAD.Aggressiveness = 2
	}
	if cfg.Segment.MinMS == 0 {
		cfg.Segment.MinMS = 300
	}
	if cfg.Segment.MaxMS == 0 {
		cfg.Segment.MaxMS = 30000
	}
	if cfg.Segment.PaddingMS == 0 {
		cfg.Segment.PaddingMS = 200
	}
	if cfg.Pipeline.QueueDepth == 0 {
		cfg.Pipeline.QueueDepth = 8
	}
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 2
	}
	if cfg.Pipeline.StopGraceMS == 0 {
		cfg.Pipeline.StopGraceMS = 5000
	}
	if cfg.STT.DefaultEngine == "" {
		cfg.STT.DefaultEngine = "whisper"
	}
	if cfg.Archive.Embeddings.Provider != "" && cfg.Archive.EmbeddingDimensions == 0 {
		cfg.Archive.EmbeddingDimensions = 1536
	}
	if cfg.Sink.SubjectPrefix == "" {
		cfg.Sink.SubjectPrefix = "earshot"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = LogInfo
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every validation failure found.
func Validate(cfg *Config) error {
	var errs []error

	// Audio
	if !slices.Contains(DriverNames, cfg.Audio.Driver) {
		errs = append(errs, fmt.Errorf("audio.driver %q is invalid; valid values: pcmexec, wsmic", cfg.Audio.Driver))
	}
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 1 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 2]", cfg.Audio.Channels))
	}
	if cfg.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}
	if cfg.Audio.Driver == "pcmexec" {
		if len(cfg.Audio.CaptureCmd) == 0 {
			errs = append(errs, errors.New("audio.capture_cmd is required for the pcmexec driver"))
		}
		if len(cfg.Audio.Devices) == 0 {
			errs = append(errs, errors.New("audio.devices must declare at least one device for the pcmexec driver"))
		}
		seen := make(map[string]int, len(cfg.Audio.Devices))
		for i, d := range cfg.Audio.Devices {
			if d.ID == "" {
				errs = append(errs, fmt.Errorf("audio.devices[%d].id is required", i))
				continue
			}
			if prev, dup := seen[d.ID]; dup {
				errs = append(errs, fmt.Errorf("audio.devices[%d].id %q is a duplicate of audio.devices[%d]", i, d.ID, prev))
			}
			seen[d.ID] = i
		}
	}
	if cfg.Audio.Driver == "wsmic" && cfg.Audio.ListenAddr == "" {
		errs = append(errs, errors.New("audio.listen_addr is required for the wsmic driver"))
	}

	// VAD
	switch cfg.VAD.Mode {
	case "energy", "statmodel", "hybrid":
	default:
		errs = append(errs, fmt.Errorf("vad.mode %q is invalid; valid values: energy, statmodel, hybrid", cfg.VAD.Mode))
	}
	if cfg.VAD.Aggressiveness < 0 || cfg.VAD.Aggressiveness > 3 {
		errs = append(errs, fmt.Errorf("vad.aggressiveness %d is out of range [0, 3]", cfg.VAD.Aggressiveness))
	}
	if cfg.VAD.EnergyThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad.energy_threshold %.2f must not be negative", cfg.VAD.EnergyThreshold))
	}

	// Segment
	if cfg.Segment.MinMS < 0 || cfg.Segment.MaxMS <= 0 {
		errs = append(errs, errors.New("segment.min_ms and segment.max_ms must be positive"))
	} else if cfg.Segment.MinMS >= cfg.Segment.MaxMS {
		errs = append(errs, fmt.Errorf("segment.min_ms %d must be below segment.max_ms %d", cfg.Segment.MinMS, cfg.Segment.MaxMS))
	}

	// Pipeline
	if cfg.Pipeline.QueueDepth < 1 {
		errs = append(errs, fmt.Errorf("pipeline.queue_depth %d must be at least 1", cfg.Pipeline.QueueDepth))
	}
	if cfg.Pipeline.Workers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.workers %d must be at least 1", cfg.Pipeline.Workers))
	}

	// STT
	if !slices.Contains(EngineNames, cfg.STT.DefaultEngine) {
		errs = append(errs, fmt.Errorf("stt.default_engine %q is invalid; valid values: %v", cfg.STT.DefaultEngine, EngineNames))
	}
	for i, name := range cfg.STT.Priority {
		if !slices.Contains(EngineNames, name) {
			errs = append(errs, fmt.Errorf("stt.priority[%d] %q is invalid; valid values: %v", i, name, EngineNames))
		}
	}
	if !cfg.EngineConfigured(cfg.STT.DefaultEngine) {
		errs = append(errs, fmt.Errorf("stt.default_engine %q has no configuration block", cfg.STT.DefaultEngine))
	}

	// Correction
	if cfg.Correction.Enabled && len(cfg.Correction.Vocabulary) == 0 {
		errs = append(errs, errors.New("correction.enabled requires a non-empty correction.vocabulary"))
	}

	// Logging
	if !cfg.Logging.Level.IsValid() {
		errs = append(errs, fmt.Errorf("logging.level %q is invalid; valid values: debug, info, warn, error", cfg.Logging.Level))
	}

	return errors.Join(errs...)
}

// EngineConfigured reports whether the named engine has the configuration it
// needs to be constructed.
func (cfg *Config) EngineConfigured(name string) bool {
	switch name {
	case "whisper":
		return cfg.STT.Whisper.Endpoint != ""
	case "whisper-native":
		return cfg.STT.Whisper.ModelPath != ""
	case "openai":
		return cfg.STT.OpenAI.APIKey != ""
	case "deepgram":
		return cfg.STT.Deepgram.APIKey != ""
	default:
		return false
	}
}

// EnginePriority returns the effective fallback order: the configured
// priority list first, then every other configured engine in declaration
// order. Only engines with configuration appear.
func (cfg *Config) EnginePriority() []string {
	var out []string
	seen := make(map[string]bool, len(EngineNames))
	for _, name := range cfg.STT.Priority {
		if cfg.EngineConfigured(name) && !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	for _, name := range EngineNames {
		if cfg.EngineConfigured(name) && !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	return out
}
