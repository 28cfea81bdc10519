package openai

import (
	"testing"
	"time"
)

func TestNew_MissingAPIKey(t *testing.T) {
	_, err := New("", "whisper-1")
	if err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	e, err := New("test-key", "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e.model != DefaultModel {
		t.Errorf("model = %q, want %q", e.model, DefaultModel)
	}
}

func TestNew_ExplicitModel(t *testing.T) {
	e, err := New("test-key", "gpt-4o-transcribe")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := e.ModelID(); got != "gpt-4o-transcribe" {
		t.Errorf("ModelID() = %q, want %q", got, "gpt-4o-transcribe")
	}
}

func TestNew_Options(t *testing.T) {
	e, err := New("test-key", "",
		WithBaseURL("http://localhost:8080/v1"),
		WithOrganization("org-123"),
		WithTimeout(5*time.Second),
		WithLanguage("de"),
		WithPrompt("Earshot, Prometheus, Grafana"),
	)
	if err != nil {
		t.Fatalf("New() with options error = %v", err)
	}
	if e.language != "de" {
		t.Errorf("language = %q, want %q", e.language, "de")
	}
	if e.prompt != "Earshot, Prometheus, Grafana" {
		t.Errorf("prompt = %q, want %q", e.prompt, "Earshot, Prometheus, Grafana")
	}
}

func TestName(t *testing.T) {
	e, err := New("test-key", "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := e.Name(); got != "openai" {
		t.Errorf("Name() = %q, want %q", got, "openai")
	}
}

func TestCapabilities(t *testing.T) {
	e, err := New("test-key", "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	caps := e.Capabilities()
	if !caps.Network {
		t.Error("Capabilities().Network = false, want true")
	}
	if caps.Streaming {
		t.Error("Capabilities().Streaming = true, want false")
	}
}
