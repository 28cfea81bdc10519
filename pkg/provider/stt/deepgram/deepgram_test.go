package deepgram

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mkarren/earshot/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	e, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := e.buildURL(16000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_Options(t *testing.T) {
	e, err := New("key", WithModel("base"), WithLanguage("de-DE"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := e.buildURL(48000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
}

func TestBuildURL_ZeroRateFallsBack(t *testing.T) {
	e, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := e.buildURL(0)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "sample_rate", "16000", u.Query().Get("sample_rate"))
}

func TestBuildURL_Keywords(t *testing.T) {
	e, err := New("key", WithKeywords(map[string]float64{
		"Prometheus": 5,
		"Grafana":    3.5,
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := e.buildURL(16000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	kws := u.Query()["keywords"]
	if len(kws) != 2 {
		t.Fatalf("expected 2 keywords, got %d: %v", len(kws), kws)
	}

	// Both keywords should be present (order may vary).
	found := map[string]bool{}
	for _, kw := range kws {
		found[kw] = true
	}
	if !found["Prometheus:5"] {
		t.Errorf("expected keyword 'Prometheus:5', got %v", kws)
	}
	if !found["Grafana:3.5"] {
		t.Errorf("expected keyword 'Grafana:3.5', got %v", kws)
	}
}

func TestBuildURL_NoKeywords(t *testing.T) {
	e, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := e.buildURL(16000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	if _, ok := u.Query()["keywords"]; ok {
		t.Error("expected no 'keywords' param when none provided")
	}
}

// ---- JSON parsing tests ----

func TestParseResponse_Final(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [{
				"transcript": "Hello world",
				"confidence": 0.95
			}]
		}
	}`)

	r, ok := parseResponse(raw)
	if !ok {
		t.Fatal("expected ok=true for valid final Results message")
	}
	assertEqual(t, "text", "Hello world", r.text)
	if r.confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", r.confidence)
	}
}

func TestParseResponse_InterimIgnored(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {
			"alternatives": [{"transcript": "Hello", "confidence": 0.7}]
		}
	}`)

	if _, ok := parseResponse(raw); ok {
		t.Error("expected ok=false for interim result")
	}
}

func TestParseResponse_NonResultsType(t *testing.T) {
	raw := []byte(`{"type":"Metadata","request_id":"abc"}`)
	if _, ok := parseResponse(raw); ok {
		t.Error("expected ok=false for non-Results message")
	}
}

func TestParseResponse_EmptyAlternatives(t *testing.T) {
	raw := []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`)
	if _, ok := parseResponse(raw); ok {
		t.Error("expected ok=false when alternatives is empty")
	}
}

func TestParseResponse_InvalidJSON(t *testing.T) {
	if _, ok := parseResponse([]byte(`{invalid`)); ok {
		t.Error("expected ok=false for invalid JSON")
	}
}

// ---- constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	e, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, e.model)
	assertEqual(t, "language", defaultLanguage, e.language)
	assertEqual(t, "baseURL", defaultBaseURL, e.baseURL)
	assertEqual(t, "name", "deepgram", e.Name())

	caps := e.Capabilities()
	if !caps.Streaming || !caps.Network {
		t.Errorf("Capabilities() = %+v, want Streaming and Network", caps)
	}
}

// ---- live-session tests against a mock server ----

// newMockListen starts a WebSocket server that drains binary audio until a
// CloseStream text message arrives, then replies with the given final results
// and closes normally. wantAudioBytes is asserted server-side.
func newMockListen(t *testing.T, wantAudioBytes int, replies []finalResult) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("encoding"); got != "linear16" {
			t.Errorf("encoding = %q, want linear16", got)
		}
		if got := r.Header.Get("Authorization"); got != "Token test-key" {
			t.Errorf("Authorization = %q, want Token test-key", got)
		}

		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}

		ctx := r.Context()
		audioBytes := 0
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				t.Errorf("server read: %v", err)
				return
			}
			if typ == websocket.MessageBinary {
				audioBytes += len(data)
				continue
			}
			if !strings.Contains(string(data), "CloseStream") {
				t.Errorf("unexpected text message: %s", data)
			}
			break
		}
		if audioBytes != wantAudioBytes {
			t.Errorf("audio bytes = %d, want %d", audioBytes, wantAudioBytes)
		}

		for _, reply := range replies {
			msg := fmt.Sprintf(
				`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":%q,"confidence":%g}]}}`,
				reply.text, reply.confidence,
			)
			if err := c.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
				t.Errorf("server write: %v", err)
				return
			}
		}
		c.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTranscribe_StreamsSegmentAndJoinsFinals(t *testing.T) {
	wsURL := newMockListen(t, 32000, []finalResult{
		{text: "hello", confidence: 0.9},
		{text: "world", confidence: 0.7},
	})

	e, err := New("test-key", WithBaseURL(wsURL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := e.Transcribe(ctx, stt.Audio{
		PCM:        make([]byte, 32000),
		SampleRate: 16000,
		Channels:   1,
		Duration:   time.Second,
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	assertEqual(t, "text", "hello world", got.Text)
	if diff := math.Abs(got.Confidence - 0.8); diff > 1e-9 {
		t.Errorf("confidence = %f, want 0.8", got.Confidence)
	}
}

func TestTranscribe_SkipsEmptyFinals(t *testing.T) {
	wsURL := newMockListen(t, 320, []finalResult{
		{text: "", confidence: 0.1},
		{text: "ping", confidence: 0.9},
	})

	e, err := New("test-key", WithBaseURL(wsURL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := e.Transcribe(ctx, stt.Audio{PCM: make([]byte, 320), SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "ping", got.Text)
	if diff := math.Abs(got.Confidence - 0.9); diff > 1e-9 {
		t.Errorf("confidence = %f, want 0.9", got.Confidence)
	}
}

func TestTranscribe_DownmixesStereo(t *testing.T) {
	// 640 stereo bytes downmix to 320 mono bytes on the wire.
	wsURL := newMockListen(t, 320, []finalResult{{text: "ok", confidence: 1}})

	e, err := New("test-key", WithBaseURL(wsURL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := e.Transcribe(ctx, stt.Audio{PCM: make([]byte, 640), SampleRate: 16000, Channels: 2})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "ok", got.Text)
}

func TestTranscribe_AbnormalClosure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		ctx := r.Context()
		// Drain until CloseStream, then fail instead of flushing results.
		for {
			typ, _, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageText {
				break
			}
		}
		c.Close(websocket.StatusInternalError, "boom")
	}))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	e, err := New("test-key", WithBaseURL(wsURL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = e.Transcribe(ctx, stt.Audio{PCM: make([]byte, 320), SampleRate: 16000, Channels: 1})
	if err == nil {
		t.Fatal("expected error on abnormal closure")
	}
	if !strings.Contains(err.Error(), "deepgram") {
		t.Errorf("error %q should carry the deepgram prefix", err)
	}
}

func TestTranscribe_DialRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	e, err := New("test-key", WithBaseURL(wsURL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = e.Transcribe(ctx, stt.Audio{PCM: make([]byte, 320), SampleRate: 16000, Channels: 1})
	if err == nil {
		t.Fatal("expected dial error against closed server")
	}
}

func TestProbe(t *testing.T) {
	wsURL := newMockListen(t, 0, nil)

	e, err := New("test-key", WithBaseURL(wsURL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.Probe(ctx); err != nil {
		t.Errorf("Probe: %v", err)
	}
}

func TestProbe_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	e, err := New("test-key", WithBaseURL(wsURL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := e.Probe(ctx); err == nil {
		t.Error("expected probe error against closed server")
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
