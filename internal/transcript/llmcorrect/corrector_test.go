package llmcorrect_test

import (
	"context"
	"strings"
	"testing"

	"github.com/mkarren/earshot/internal/transcript/llmcorrect"
	"github.com/mkarren/earshot/pkg/provider/llm"
	"github.com/mkarren/earshot/pkg/provider/llm/mock"
)

func TestCorrector_SendsVocabularyInPrompt(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: `{"corrected_text": "restart Grafana now", "corrections": []}`,
		},
	}
	c := llmcorrect.New(provider)

	vocabulary := []string{"Grafana", "Kubernetes"}
	_, _, err := c.Correct(context.Background(), "restart grifana now", vocabulary)
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}

	if len(provider.Calls) != 1 {
		t.Fatalf("expected 1 Complete call, got %d", len(provider.Calls))
	}

	req := provider.Calls[0].Req
	for _, term := range vocabulary {
		if !strings.Contains(req.SystemPrompt, term) {
			t.Errorf("system prompt missing term %q\nprompt:\n%s", term, req.SystemPrompt)
		}
	}
	if len(req.Messages) == 0 {
		t.Fatal("request has no messages")
	}
	if !strings.Contains(req.Messages[0].Content, "grifana") {
		t.Errorf("user message missing original text, got: %s", req.Messages[0].Content)
	}
}

func TestCorrector_ParsesAndVerifiesCorrections(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: `{
  "corrected_text": "restart Grafana now",
  "corrections": [
    {"original": "grifana", "corrected": "Grafana", "confidence": 0.9}
  ]
}`,
		},
	}
	c := llmcorrect.New(provider)

	correctedText, corrections, err := c.Correct(
		context.Background(),
		"restart grifana now",
		[]string{"Grafana"},
	)
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}

	if correctedText != "restart Grafana now" {
		t.Errorf("correctedText=%q, want %q", correctedText, "restart Grafana now")
	}
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}
	if corrections[0].Original != "grifana" || corrections[0].Corrected != "Grafana" {
		t.Errorf("corrections[0]=%+v, want grifana→Grafana", corrections[0])
	}
	if corrections[0].Confidence != 0.9 {
		t.Errorf("corrections[0].Confidence=%f, want 0.9", corrections[0].Confidence)
	}
}

func TestCorrector_RevertsUndeclaredChanges(t *testing.T) {
	t.Parallel()

	// The model fixed "grifana" as declared but also silently rewrote
	// "please" to "kindly". Only the declared change may survive.
	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: `{
  "corrected_text": "kindly check the Grafana dashboard for errors",
  "corrections": [
    {"original": "grifana", "corrected": "Grafana", "confidence": 0.9}
  ]
}`,
		},
	}
	c := llmcorrect.New(provider)

	correctedText, corrections, err := c.Correct(
		context.Background(),
		"please check the grifana dashboard for errors",
		[]string{"Grafana"},
	)
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}

	want := "please check the Grafana dashboard for errors"
	if correctedText != want {
		t.Errorf("correctedText=%q, want %q", correctedText, want)
	}
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1 (the declared one)", len(corrections))
	}
}

func TestCorrector_FallbackOnUnparseable(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			// Intentionally invalid JSON.
			Content: "I cannot correct this transcript because it's ambiguous.",
		},
	}
	c := llmcorrect.New(provider)

	originalText := "restart grifana now"
	correctedText, corrections, err := c.Correct(
		context.Background(),
		originalText,
		[]string{"Grafana"},
	)
	if err != nil {
		t.Fatalf("Correct returned error on unparseable response: %v", err)
	}

	if correctedText != originalText {
		t.Errorf("correctedText=%q, want original %q", correctedText, originalText)
	}
	if corrections != nil {
		t.Errorf("corrections=%v, want nil on fallback", corrections)
	}
}

func TestCorrector_MarkdownStripping(t *testing.T) {
	t.Parallel()

	// Some models wrap JSON in markdown fences.
	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: "```json\n" + `{"corrected_text": "Grafana is down", "corrections": [{"original": "grifana", "corrected": "Grafana", "confidence": 0.9}]}` + "\n```",
		},
	}
	c := llmcorrect.New(provider)

	correctedText, _, err := c.Correct(
		context.Background(),
		"grifana is down",
		[]string{"Grafana"},
	)
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}
	if correctedText != "Grafana is down" {
		t.Errorf("correctedText=%q, want %q", correctedText, "Grafana is down")
	}
}

func TestCorrector_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	c := llmcorrect.New(provider)

	text := "some text"
	correctedText, corrections, err := c.Correct(context.Background(), text, nil)
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}
	if correctedText != text {
		t.Errorf("correctedText=%q, want original %q when vocabulary is empty", correctedText, text)
	}
	if len(corrections) != 0 {
		t.Errorf("expected no corrections for empty vocabulary, got %d", len(corrections))
	}
	if len(provider.Calls) != 0 {
		t.Errorf("expected 0 LLM calls for empty vocabulary, got %d", len(provider.Calls))
	}
}

func TestCorrector_LLMError(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Err: context.DeadlineExceeded,
	}
	c := llmcorrect.New(provider)

	_, _, err := c.Correct(context.Background(), "some transcript", []string{"Grafana"})
	if err == nil {
		t.Fatal("expected error from LLM failure, got nil")
	}
}

func TestCorrector_WithTemperature(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Response: &llm.CompletionResponse{
			Content: `{"corrected_text": "hello", "corrections": []}`,
		},
	}
	c := llmcorrect.New(provider, llmcorrect.WithTemperature(0.5))

	_, _, err := c.Correct(context.Background(), "hello", []string{"Grafana"})
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}

	if len(provider.Calls) == 0 {
		t.Fatal("no Complete calls recorded")
	}
	if temp := provider.Calls[0].Req.Temperature; temp != 0.5 {
		t.Errorf("Temperature=%f, want 0.5", temp)
	}
}
