// This file contains the NativeEngine implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/mkarren/earshot/pkg/provider/stt"
)

// NativeEngine implements stt.Engine using the whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once and
// shared across transcriptions; each Transcribe runs in its own whisper
// context.
type NativeEngine struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a NativeEngine.
type NativeOption func(*NativeEngine)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(e *NativeEngine) { e.language = lang }
}

// NewNative creates a NativeEngine that loads the whisper.cpp model from the
// given file path. The caller must call Close when the engine is no longer
// needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeEngine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	e := &NativeEngine{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Close releases the whisper model. Must be called when the engine is no
// longer needed.
func (e *NativeEngine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Name implements stt.Engine.
func (e *NativeEngine) Name() string { return "whisper-native" }

// Capabilities implements stt.Engine. The native engine is batch and fully
// local.
func (e *NativeEngine) Capabilities() stt.Capabilities {
	return stt.Capabilities{}
}

// Probe implements stt.Engine. Allocates and discards a whisper context to
// confirm the loaded model is usable.
func (e *NativeEngine) Probe(_ context.Context) error {
	if e.model == nil {
		return errors.New("whisper: model not loaded")
	}
	if _, err := e.model.NewContext(); err != nil {
		return fmt.Errorf("whisper: create context: %w", err)
	}
	return nil
}

// Transcribe implements stt.Engine. It converts the segment to float32 mono
// samples, runs whisper.cpp inference in a fresh context, and returns the
// concatenated text.
func (e *NativeEngine) Transcribe(ctx context.Context, in stt.Audio) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}

	samples := pcmToFloat32(normalize(in))

	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines.
	wctx, err := e.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(e.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", e.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return stt.Transcript{Text: strings.Join(parts, " ")}, nil
}

// Compile-time assertion that NativeEngine implements stt.Engine.
var _ stt.Engine = (*NativeEngine)(nil)
