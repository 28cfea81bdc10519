// Package ollama embeds transcript text with a local Ollama server.
//
// It drives Ollama's /api/embed endpoint with models such as
// nomic-embed-text, mxbai-embed-large and all-minilm, so the archive can run
// semantic search without any cloud dependency.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mkarren/earshot/pkg/provider/embeddings"
)

// DefaultBaseURL is a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Provider = (*Provider)(nil)

// Provider embeds text via Ollama.
//
// The vector dimension is resolved from WithDimensions when given, then from
// the built-in table of known model names, and otherwise by a single probe
// embed on the first Dimensions call.
type Provider struct {
	baseURL    string
	model      string
	httpClient *http.Client

	dimensions int
	detectOnce sync.Once
}

type settings struct {
	timeout    time.Duration
	dimensions int
}

// Option is a functional option for New.
type Option func(*settings)

// WithTimeout bounds each embedding request. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.timeout = d
	}
}

// WithDimensions pre-sets the vector dimension, skipping both the look-up
// table and the probe request unknown models would otherwise trigger.
func WithDimensions(dims int) Option {
	return func(s *settings) {
		s.dimensions = dims
	}
}

// New builds a Provider. An empty baseURL selects DefaultBaseURL; model must
// not be empty.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	var s settings
	for _, o := range opts {
		o(&s)
	}

	httpClient := &http.Client{}
	if s.timeout > 0 {
		httpClient.Timeout = s.timeout
	}

	dims := s.dimensions
	if dims == 0 {
		dims = knownDimensions(model)
	}

	return &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: httpClient,
		dimensions: dims,
	}, nil
}

// Embed implements [embeddings.Provider].
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := p.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	return vec, nil
}

// Dimensions implements [embeddings.Provider]. For model names outside the
// known table it issues one probe embed against the live server and caches
// the vector length; if the probe fails it reports 0.
func (p *Provider) Dimensions() int {
	if p.dimensions != 0 {
		return p.dimensions
	}
	p.detectOnce.Do(func() {
		if vec, err := p.embed(context.Background(), "probe"); err == nil {
			p.dimensions = len(vec)
		}
	})
	return p.dimensions
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// embed posts one text to /api/embed and returns its vector.
func (p *Provider) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return result.Embeddings[0], nil
}

// knownDimensions returns the output width of recognised Ollama embedding
// models. 0 triggers auto-detection on the first Dimensions call.
func knownDimensions(model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "nomic-embed-text"):
		return 768
	case strings.Contains(m, "mxbai-embed-large"):
		return 1024
	case strings.Contains(m, "all-minilm"):
		return 384
	default:
		return 0
	}
}
