// Package media owns local capture: camera, microphone and screen sources,
// the outbound tracks fed from them, and mute/substitution rules. Nothing
// here touches signaling or peer connections.
package media

import (
	"context"

	"github.com/pion/webrtc/v4/pkg/media"
)

// Constraints describe the ideal capture parameters requested from a device.
type Constraints struct {
	Width            int
	Height           int
	FrameRate        int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints mirrors what the web client asks the browser for.
func DefaultConstraints() Constraints {
	return Constraints{
		Width:            1280,
		Height:           720,
		FrameRate:        30,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Source produces encoded samples for one outbound track. Next blocks until
// the next sample is due, pacing the pump that drains it.
type Source interface {
	Label() string
	MimeType() string
	Next(ctx context.Context) (media.Sample, error)
	Close() error
}

// Provider opens capture devices. The production build plugs in a hardware
// provider; tests and the demo client use the synthetic one.
type Provider interface {
	OpenCamera(c Constraints) (Source, error)
	OpenMicrophone(c Constraints) (Source, error)
	OpenScreen() (Source, error)
}
