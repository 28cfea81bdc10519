// Package deepgram provides an STT engine backed by the Deepgram streaming
// WebSocket API. Each segment is streamed over a short-lived session; the
// final results are collected and joined into a single transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/mkarren/earshot/pkg/audio"
	"github.com/mkarren/earshot/pkg/provider/stt"
)

const (
	defaultBaseURL    = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// chunkBytes caps each binary audio message; 8 KiB is 256 ms at 16 kHz mono.
	chunkBytes = 8192
)

// closeStream asks the server to flush pending audio and end the session.
var closeStream = []byte(`{"type":"CloseStream"}`)

// Ensure Engine implements the stt.Engine interface.
var _ stt.Engine = (*Engine)(nil)

// Option is a functional option for configuring the Deepgram Engine.
type Option func(*Engine)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(e *Engine) {
		e.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(e *Engine) {
		e.language = language
	}
}

// WithKeywords sets keyword boosts applied to every request. The map value is
// the Deepgram intensifier (typical range 1-10).
func WithKeywords(keywords map[string]float64) Option {
	return func(e *Engine) {
		e.keywords = keywords
	}
}

// WithBaseURL overrides the streaming endpoint URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(e *Engine) {
		e.baseURL = url
	}
}

// Engine implements stt.Engine backed by the Deepgram streaming API.
type Engine struct {
	apiKey   string
	model    string
	language string
	baseURL  string
	keywords map[string]float64
}

// New creates a new Deepgram Engine. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	e := &Engine{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		baseURL:  defaultBaseURL,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Name implements stt.Engine.
func (e *Engine) Name() string { return "deepgram" }

// Capabilities implements stt.Engine.
func (e *Engine) Capabilities() stt.Capabilities {
	return stt.Capabilities{Streaming: true, Network: true}
}

// Probe implements stt.Engine. It dials the streaming endpoint and immediately
// closes the session; Deepgram rejects bad credentials during the HTTP
// upgrade, so a completed handshake verifies both reachability and the key.
func (e *Engine) Probe(ctx context.Context) error {
	wsURL, err := e.buildURL(defaultSampleRate)
	if err != nil {
		return fmt.Errorf("deepgram: build URL: %w", err)
	}
	conn, err := e.dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("deepgram: probe: %w", err)
	}
	_ = conn.Write(ctx, websocket.MessageText, closeStream)
	_ = conn.Close(websocket.StatusNormalClosure, "probe done")
	return nil
}

// Transcribe implements stt.Engine. The segment is streamed in bounded binary
// chunks, the stream is closed, and every final result the server flushes is
// joined into one transcript. Confidence is averaged weighted by text length.
func (e *Engine) Transcribe(ctx context.Context, in stt.Audio) (stt.Transcript, error) {
	pcm := in.PCM
	if in.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}

	wsURL, err := e.buildURL(in.SampleRate)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	conn, err := e.dial(ctx, wsURL)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "segment done")

	type readOutcome struct {
		finals []finalResult
		err    error
	}
	readCh := make(chan readOutcome, 1)
	go func() {
		finals, err := collectResults(ctx, conn)
		readCh <- readOutcome{finals: finals, err: err}
	}()

	for off := 0; off < len(pcm); off += chunkBytes {
		end := min(off+chunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return stt.Transcript{}, fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, closeStream); err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: close stream: %w", err)
	}

	outcome := <-readCh
	if outcome.err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: read results: %w", outcome.err)
	}

	var parts []string
	var confSum, confWeight float64
	for _, r := range outcome.finals {
		if r.text == "" {
			continue
		}
		parts = append(parts, r.text)
		w := float64(len(r.text))
		confSum += r.confidence * w
		confWeight += w
	}

	tr := stt.Transcript{Text: strings.Join(parts, " ")}
	if confWeight > 0 {
		tr.Confidence = confSum / confWeight
	}
	return tr, nil
}

// dial opens a WebSocket connection with the API key attached.
func (e *Engine) dial(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+e.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	return conn, err
}

// buildURL constructs the streaming endpoint URL. Audio is always sent as
// linear16 mono, so the query pins encoding and channels and only the sample
// rate varies per segment.
func (e *Engine) buildURL(sampleRate int) (string, error) {
	u, err := url.Parse(e.baseURL)
	if err != nil {
		return "", err
	}

	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", e.model)
	q.Set("language", e.language)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")

	for kw, boost := range e.keywords {
		// Deepgram keyword format: word:boost (e.g., "Prometheus:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw, boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- segment session ----

// listenResponse is the JSON structure returned by Deepgram for a Results event.
type listenResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// finalResult is one is_final Results event collected during a segment session.
type finalResult struct {
	text       string
	confidence float64
}

// collectResults receives messages until the server closes the stream,
// returning the final results in arrival order. A normal closure after
// CloseStream is the expected termination.
func collectResults(ctx context.Context, conn *websocket.Conn) ([]finalResult, error) {
	var finals []finalResult
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return finals, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if r, ok := parseResponse(msg); ok {
			finals = append(finals, r)
		}
	}
}

// parseResponse parses a raw Deepgram message into a final result. Interim
// results and non-Results events are ignored.
func parseResponse(data []byte) (finalResult, bool) {
	var resp listenResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return finalResult{}, false
	}
	if resp.Type != "Results" || !resp.IsFinal {
		return finalResult{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return finalResult{}, false
	}

	alt := resp.Channel.Alternatives[0]
	return finalResult{
		text:       alt.Transcript,
		confidence: alt.Confidence,
	}, true
}
