package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// SyntheticProvider fabricates capture sources without touching hardware:
// silent opus frames and dark VP8 frames at the requested rate. Used by the
// demo client and by tests. Setting Deny simulates a permission rejection.
type SyntheticProvider struct {
	Deny bool
}

func (p *SyntheticProvider) OpenMicrophone(cons Constraints) (Source, error) {
	if p.Deny {
		return nil, errors.New("permission denied")
	}
	return &tickSource{
		label:    "synthetic-mic",
		mimeType: webrtc.MimeTypeOpus,
		interval: 20 * time.Millisecond,
		payload:  opusSilence(),
		closed:   make(chan struct{}),
	}, nil
}

func (p *SyntheticProvider) OpenCamera(cons Constraints) (Source, error) {
	if p.Deny {
		return nil, errors.New("permission denied")
	}
	fps := cons.FrameRate
	if fps <= 0 {
		fps = 30
	}
	return &tickSource{
		label:    fmt.Sprintf("synthetic-camera-%dx%d", cons.Width, cons.Height),
		mimeType: webrtc.MimeTypeVP8,
		interval: time.Second / time.Duration(fps),
		payload:  make([]byte, 64),
		closed:   make(chan struct{}),
	}, nil
}

func (p *SyntheticProvider) OpenScreen() (Source, error) {
	if p.Deny {
		return nil, errors.New("permission denied")
	}
	return &tickSource{
		label:    "synthetic-screen",
		mimeType: webrtc.MimeTypeVP8,
		interval: time.Second / 15,
		payload:  make([]byte, 64),
		closed:   make(chan struct{}),
	}, nil
}

// opusSilence is a minimal opus frame encoding digital silence.
func opusSilence() []byte { return []byte{0xf8, 0xff, 0xfe} }

type tickSource struct {
	label    string
	mimeType string
	interval time.Duration
	payload  []byte
	closed   chan struct{}
}

func (s *tickSource) Label() string    { return s.label }
func (s *tickSource) MimeType() string { return s.mimeType }

func (s *tickSource) Next(ctx context.Context) (pionmedia.Sample, error) {
	select {
	case <-ctx.Done():
		return pionmedia.Sample{}, ctx.Err()
	case <-s.closed:
		return pionmedia.Sample{}, errors.New("source closed")
	case <-time.After(s.interval):
	}
	return pionmedia.Sample{Data: s.payload, Duration: s.interval}, nil
}

func (s *tickSource) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}
