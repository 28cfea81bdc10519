package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mkarren/earshot/pkg/provider/stt"
	"github.com/mkarren/earshot/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// inferenceRequest captures what the mock whisper.cpp server received.
type inferenceRequest struct {
	wav      []byte
	language string
	model    string
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText and records each parsed request into got.
func newMockServer(t *testing.T, responseText string, got *inferenceRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got != nil {
			file, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			got.wav, _ = io.ReadAll(file)
			file.Close()
			got.language = r.FormValue("language")
			got.model = r.FormValue("model")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// makeSpeechAudio generates a 440 Hz sine segment.
func makeSpeechAudio(sampleRate int, d time.Duration) stt.Audio {
	samples := int(float64(sampleRate) * d.Seconds())
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return stt.Audio{PCM: buf, SampleRate: sampleRate, Channels: 1, Duration: d}
}

// wavDataSize reads the data chunk size from a 44-byte WAV header.
func wavDataSize(t *testing.T, wav []byte) int {
	t.Helper()
	if len(wav) < 44 {
		t.Fatalf("wav too short: %d bytes", len(wav))
	}
	return int(binary.LittleEndian.Uint32(wav[40:44]))
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_ReportsBatchNetworkEngine(t *testing.T) {
	e, err := whisper.New("http://localhost:8080")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Name() != "whisper" {
		t.Errorf("name: got %q", e.Name())
	}
	caps := e.Capabilities()
	if caps.Streaming || !caps.Network {
		t.Errorf("capabilities: got %+v", caps)
	}
}

// ---- transcribe -------------------------------------------------------------

func TestTranscribe_PostsMultipartWAV(t *testing.T) {
	var got inferenceRequest
	srv := newMockServer(t, "  hello world \n", &got)

	e, err := whisper.New(srv.URL, whisper.WithModel("small"), whisper.WithLanguage("de"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tr, err := e.Transcribe(context.Background(), makeSpeechAudio(16000, time.Second))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "hello world" {
		t.Errorf("text: got %q, want %q", tr.Text, "hello world")
	}
	if got.language != "de" || got.model != "small" {
		t.Errorf("hint fields: language=%q model=%q", got.language, got.model)
	}
	if size := wavDataSize(t, got.wav); size != 32000 {
		t.Errorf("wav data size: got %d, want 32000", size)
	}
	if rate := binary.LittleEndian.Uint32(got.wav[24:28]); rate != 16000 {
		t.Errorf("wav sample rate: got %d, want 16000", rate)
	}
}

func TestTranscribe_ResamplesTo16k(t *testing.T) {
	var got inferenceRequest
	srv := newMockServer(t, "ok", &got)

	e, _ := whisper.New(srv.URL)
	if _, err := e.Transcribe(context.Background(), makeSpeechAudio(48000, time.Second)); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	// One second at 48 kHz decimates to one second at 16 kHz.
	if size := wavDataSize(t, got.wav); size != 32000 {
		t.Errorf("wav data size: got %d, want 32000", size)
	}
	if rate := binary.LittleEndian.Uint32(got.wav[24:28]); rate != 16000 {
		t.Errorf("wav sample rate: got %d, want 16000", rate)
	}
}

func TestTranscribe_ServerError_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	e, _ := whisper.New(srv.URL)
	if _, err := e.Transcribe(context.Background(), makeSpeechAudio(16000, 100*time.Millisecond)); err == nil {
		t.Fatal("expected error on HTTP 500, got nil")
	}
}

// ---- probe ------------------------------------------------------------------

func TestProbe_ReachableServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// whisper.cpp serves a web UI at /; any non-5xx answer will do.
		http.Error(w, "not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	e, _ := whisper.New(srv.URL)
	if err := e.Probe(context.Background()); err != nil {
		t.Errorf("probe against live server: %v", err)
	}
}

func TestProbe_UnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close()

	e, _ := whisper.New(srv.URL)
	if err := e.Probe(context.Background()); err == nil {
		t.Error("probe against closed server should fail")
	}
}

func TestProbe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "dying", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	e, _ := whisper.New(srv.URL)
	if err := e.Probe(context.Background()); err == nil {
		t.Error("probe should fail on HTTP 500")
	}
}
