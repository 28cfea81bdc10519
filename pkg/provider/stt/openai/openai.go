// Package openai provides an STT engine backed by the OpenAI audio
// transcription API.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/mkarren/earshot/pkg/audio"
	"github.com/mkarren/earshot/pkg/provider/stt"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// Ensure Engine implements the stt.Engine interface.
var _ stt.Engine = (*Engine)(nil)

// Engine implements stt.Engine using the OpenAI audio transcription API.
type Engine struct {
	client   oai.Client
	model    oai.AudioModel
	language string
	prompt   string
}

// config holds optional configuration for the engine.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	language     string
	prompt       string
}

// Option is a functional option for Engine.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithLanguage sets the ISO-639-1 input language hint (e.g. "en").
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithPrompt sets the transcription prompt. A short list of expected proper
// nouns here measurably improves their recognition.
func WithPrompt(prompt string) Option {
	return func(c *config) {
		c.prompt = prompt
	}
}

// New constructs a new OpenAI STT Engine. If model is empty, DefaultModel
// (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Engine{
		client:   client,
		model:    oai.AudioModel(model),
		language: cfg.language,
		prompt:   cfg.prompt,
	}, nil
}

// Name implements stt.Engine.
func (e *Engine) Name() string { return "openai" }

// Capabilities implements stt.Engine.
func (e *Engine) Capabilities() stt.Capabilities {
	return stt.Capabilities{Network: true}
}

// ModelID returns the configured model identifier.
func (e *Engine) ModelID() string { return string(e.model) }

// Probe implements stt.Engine. Fetches the model's metadata, which verifies
// both the credentials and the configured model name in one call.
func (e *Engine) Probe(ctx context.Context) error {
	if _, err := e.client.Models.Get(ctx, string(e.model)); err != nil {
		return fmt.Errorf("openai stt: probe: %w", err)
	}
	return nil
}

// Transcribe implements stt.Engine. The segment is wrapped as a WAV file and
// uploaded; the API accepts arbitrary sample rates, so only stereo input
// needs downmixing.
func (e *Engine) Transcribe(ctx context.Context, in stt.Audio) (stt.Transcript, error) {
	pcm := in.PCM
	if in.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	wav := audio.EncodeWAV(pcm, in.SampleRate, 1)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: e.model,
	}
	if e.language != "" {
		params.Language = param.NewOpt(e.language)
	}
	if e.prompt != "" {
		params.Prompt = param.NewOpt(e.prompt)
	}

	resp, err := e.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}

	return stt.Transcript{Text: strings.TrimSpace(resp.Text)}, nil
}
