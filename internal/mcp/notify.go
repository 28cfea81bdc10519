package mcp

import (
	"context"
	"log/slog"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mkarren/earshot/internal/session"
	"github.com/mkarren/earshot/pkg/provider/stt"
)

var _ session.TranscriptSink = (*Notifier)(nil)

// defaultRecentCapacity is the transcript ring size when NewNotifier is
// given a non-positive capacity.
const defaultRecentCapacity = 50

// transcriptPayload is the JSON shape of a transcript in push notifications
// and the transcript://recent resource.
type transcriptPayload struct {
	Seq             uint64  `json:"seq"`
	Text            string  `json:"text"`
	Engine          string  `json:"engine"`
	Confidence      float64 `json:"confidence,omitempty"`
	AudioDurationMS int64   `json:"audio_duration_ms"`
}

func payloadFrom(tr stt.Transcript) transcriptPayload {
	return transcriptPayload{
		Seq:             tr.Seq,
		Text:            tr.Text,
		Engine:          tr.Engine,
		Confidence:      tr.Confidence,
		AudioDurationMS: tr.AudioDuration.Milliseconds(),
	}
}

// Notifier is the transcript sink that pushes finished transcripts to MCP
// clients. Each emission is appended to a bounded ring (served as the
// transcript://recent resource), announced via a resource-updated
// notification, and sent to every connected session as a logging message.
//
// A Notifier is created before the server so it can sit in the session's
// sink chain; [New] binds it to the server it belongs to. Emissions before
// the bind only fill the ring.
type Notifier struct {
	mu   sync.Mutex
	ring []stt.Transcript
	size int
	srv  *mcpsdk.Server
}

// NewNotifier creates a notifier retaining up to capacity transcripts.
func NewNotifier(capacity int) *Notifier {
	if capacity <= 0 {
		capacity = defaultRecentCapacity
	}
	return &Notifier{size: capacity}
}

func (n *Notifier) bind(srv *mcpsdk.Server) {
	n.mu.Lock()
	n.srv = srv
	n.mu.Unlock()
}

// Emit implements [session.TranscriptSink].
func (n *Notifier) Emit(ctx context.Context, tr stt.Transcript) {
	n.mu.Lock()
	n.ring = append(n.ring, tr)
	if len(n.ring) > n.size {
		n.ring = n.ring[len(n.ring)-n.size:]
	}
	srv := n.srv
	n.mu.Unlock()

	if srv == nil {
		return
	}

	if err := srv.ResourceUpdated(ctx, &mcpsdk.ResourceUpdatedNotificationParams{URI: recentURI}); err != nil {
		slog.Debug("mcp notifier: resource update notification failed", "err", err)
	}

	payload := payloadFrom(tr)
	for ss := range srv.Sessions() {
		err := ss.Log(ctx, &mcpsdk.LoggingMessageParams{
			Level:  "info",
			Logger: "earshot.transcript",
			Data:   payload,
		})
		if err != nil {
			slog.Debug("mcp notifier: transcript push failed", "seq", tr.Seq, "err", err)
		}
	}
}

// recent returns the ring contents, oldest first.
func (n *Notifier) recent() []stt.Transcript {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]stt.Transcript, len(n.ring))
	copy(out, n.ring)
	return out
}
