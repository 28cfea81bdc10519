package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mkarren/earshot/internal/session"
	"github.com/mkarren/earshot/pkg/provider/stt"
)

var _ session.TranscriptSink = (*NATSPublisher)(nil)

// connectTimeout bounds the initial NATS dial.
const connectTimeout = 5 * time.Second

// Message is the JSON payload published for each final transcript.
type Message struct {
	Text            string    `json:"text"`
	Engine          string    `json:"engine"`
	Seq             uint64    `json:"seq"`
	Confidence      float64   `json:"confidence,omitempty"`
	AudioDurationMS int64     `json:"audio_duration_ms"`
	LatencyMS       int64     `json:"latency_ms"`
	Timestamp       time.Time `json:"timestamp"`
}

func messageFrom(tr stt.Transcript) Message {
	return Message{
		Text:            tr.Text,
		Engine:          tr.Engine,
		Seq:             tr.Seq,
		Confidence:      tr.Confidence,
		AudioDurationMS: tr.AudioDuration.Milliseconds(),
		LatencyMS:       tr.Latency.Milliseconds(),
		Timestamp:       time.Now().UTC(),
	}
}

// NATSPublisher publishes each final transcript as JSON to the subject
// "<prefix>.transcript.final". Publish failures are logged, not propagated;
// the session keeps running without the bus.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to the NATS server at url. subjectPrefix scopes
// the published subject; pass the configured sink.subject_prefix.
func NewNATSPublisher(url, subjectPrefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("earshot"),
		nats.Timeout(connectTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("nats sink: connect: %w", err)
	}
	slog.Info("connected to NATS", "url", url)

	return &NATSPublisher{
		conn:    conn,
		subject: fmt.Sprintf("%s.transcript.final", subjectPrefix),
	}, nil
}

// Emit implements [session.TranscriptSink].
func (p *NATSPublisher) Emit(_ context.Context, tr stt.Transcript) {
	data, err := json.Marshal(messageFrom(tr))
	if err != nil {
		slog.Warn("nats sink: marshal transcript", "seq", tr.Seq, "err", err)
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		slog.Warn("nats sink: publish transcript", "subject", p.subject, "seq", tr.Seq, "err", err)
	}
}

// Healthy reports whether the underlying connection is established.
func (p *NATSPublisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

// Close flushes buffered messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p == nil {
		return
	}
	p.conn.Drain()
	p.conn.Close()
}
