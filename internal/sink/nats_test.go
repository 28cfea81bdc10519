package sink

import (
	"testing"
	"time"

	"github.com/mkarren/earshot/pkg/provider/stt"
)

func TestMessageFrom(t *testing.T) {
	tr := stt.Transcript{
		Text:          "deploy the new build",
		Confidence:    0.91,
		Engine:        "whisper",
		Seq:           12,
		AudioDuration: 2300 * time.Millisecond,
		Latency:       450 * time.Millisecond,
	}

	msg := messageFrom(tr)

	if msg.Text != tr.Text || msg.Engine != "whisper" || msg.Seq != 12 {
		t.Errorf("message = %+v", msg)
	}
	if msg.Confidence != 0.91 {
		t.Errorf("Confidence = %f, want 0.91", msg.Confidence)
	}
	if msg.AudioDurationMS != 2300 {
		t.Errorf("AudioDurationMS = %d, want 2300", msg.AudioDurationMS)
	}
	if msg.LatencyMS != 450 {
		t.Errorf("LatencyMS = %d, want 450", msg.LatencyMS)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}
