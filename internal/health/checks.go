package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/mkarren/earshot/internal/engines"
	"github.com/mkarren/earshot/pkg/audio"
)

// connChecker is implemented by sinks that hold a persistent connection.
type connChecker interface {
	Healthy() bool
}

// CaptureCheck reports ready when the capture driver can enumerate at least
// one device. For the WebSocket driver this means a microphone client is
// connected; for the exec driver it validates the configured device table.
func CaptureCheck(drv audio.Driver) Checker {
	return Checker{
		Name: "capture",
		Check: func(ctx context.Context) error {
			devices, err := drv.Devices(ctx)
			if err != nil {
				return fmt.Errorf("enumerate devices: %w", err)
			}
			if len(devices) == 0 {
				return errors.New("no capture devices")
			}
			return nil
		},
	}
}

// EnginesCheck reports ready while at least one transcription engine is
// usable. Degraded engines still count; only a fully unavailable fleet fails
// the probe.
func EnginesCheck(mgr *engines.Manager) Checker {
	return Checker{
		Name: "engines",
		Check: func(context.Context) error {
			for _, d := range mgr.Status() {
				if d.Health != engines.HealthUnavailable {
					return nil
				}
			}
			return errors.New("all engines unavailable")
		},
	}
}

// SinkCheck reports the connection state of a transcript sink, typically the
// NATS publisher. name labels the check in the readiness response.
func SinkCheck(name string, c connChecker) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !c.Healthy() {
				return errors.New("not connected")
			}
			return nil
		},
	}
}
