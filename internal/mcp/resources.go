package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	devicesURI = "audio://devices"
	configURI  = "audio://config"
	enginesURI = "stt://engines"
	recentURI  = "transcript://recent"
)

func (s *Server) registerResources() {
	s.srv.AddResource(&mcpsdk.Resource{
		URI:         devicesURI,
		Name:        "Audio devices",
		Description: "Input-capable devices the capture driver can open.",
		MIMEType:    "application/json",
	}, s.readDevices)

	s.srv.AddResource(&mcpsdk.Resource{
		URI:         configURI,
		Name:        "Audio configuration",
		Description: "Current capture and voice activity detection settings.",
		MIMEType:    "application/json",
	}, s.readConfig)

	s.srv.AddResource(&mcpsdk.Resource{
		URI:         enginesURI,
		Name:        "STT engines",
		Description: "Per-engine health and capability snapshot.",
		MIMEType:    "application/json",
	}, s.readEngines)

	s.srv.AddResource(&mcpsdk.Resource{
		URI:         recentURI,
		Name:        "Recent transcripts",
		Description: "Ring of the most recent transcripts, oldest first. Updated notifications are sent on each emission.",
		MIMEType:    "application/json",
	}, s.readRecent)
}

// jsonResource renders v as an indented JSON resource body.
func jsonResource(uri string, v any) (*mcpsdk.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp server: encode %s: %w", uri, err)
	}
	return &mcpsdk.ReadResourceResult{
		Contents: []*mcpsdk.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

func (s *Server) readDevices(ctx context.Context, _ *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
	devices, err := s.deps.Driver.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp server: list devices: %w", err)
	}
	return jsonResource(devicesURI, devicePayloads(devices))
}

type audioConfigPayload struct {
	Driver     string           `json:"driver"`
	DeviceID   string           `json:"device_id"`
	SampleRate int              `json:"sample_rate"`
	Channels   int              `json:"channels"`
	FrameSize  int              `json:"frame_size"`
	QueueDepth int              `json:"queue_depth,omitempty"`
	VAD        vadConfigPayload `json:"vad"`
}

type vadConfigPayload struct {
	Mode            string  `json:"mode"`
	Aggressiveness  int     `json:"aggressiveness"`
	EnergyThreshold float64 `json:"energy_threshold,omitempty"`
	SilenceFrames   int     `json:"silence_frames,omitempty"`
	HangoverMS      int     `json:"hangover_ms,omitempty"`
}

func (s *Server) readConfig(_ context.Context, _ *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
	s.cfgMu.Lock()
	a, v := s.deps.Config.Audio, s.deps.Config.VAD
	s.cfgMu.Unlock()

	return jsonResource(configURI, audioConfigPayload{
		Driver:     a.Driver,
		DeviceID:   s.deps.Session.Device(),
		SampleRate: a.SampleRate,
		Channels:   a.Channels,
		FrameSize:  a.FrameSize,
		QueueDepth: a.QueueDepth,
		VAD: vadConfigPayload{
			Mode:            v.Mode,
			Aggressiveness:  v.Aggressiveness,
			EnergyThreshold: v.EnergyThreshold,
			SilenceFrames:   v.SilenceFrames,
			HangoverMS:      v.HangoverMS,
		},
	})
}

type enginePayload struct {
	Name      string `json:"name"`
	Health    string `json:"health"`
	Active    bool   `json:"active"`
	Streaming bool   `json:"streaming"`
	Network   bool   `json:"network"`
	LastError string `json:"last_error,omitempty"`
}

func (s *Server) readEngines(_ context.Context, _ *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
	status := s.deps.Engines.Status()
	payload := make([]enginePayload, len(status))
	for i, d := range status {
		payload[i] = enginePayload{
			Name:      d.Name,
			Health:    d.Health.String(),
			Active:    d.Active,
			Streaming: d.Capabilities.Streaming,
			Network:   d.Capabilities.Network,
			LastError: d.LastError,
		}
	}
	return jsonResource(enginesURI, payload)
}

func (s *Server) readRecent(_ context.Context, _ *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
	transcripts := s.deps.Notifier.recent()
	payload := make([]transcriptPayload, len(transcripts))
	for i, tr := range transcripts {
		payload[i] = payloadFrom(tr)
	}
	return jsonResource(recentURI, payload)
}
