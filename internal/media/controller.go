package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/hireloop/meet/internal/domain"
)

var ErrNotAcquired = errors.New("local media not acquired")

// Controller acquires and releases local capture and mediates device-level
// mutations. It is the only component allowed to mutate State; the session
// controller serializes calls into it.
type Controller struct {
	provider Provider

	mu      sync.Mutex
	state   *State
	camera  *LocalTrack // kept while screen share substitutes the video track
	screen  Source
	sharing bool
	pumpCtx context.Context
	cancel  context.CancelFunc
	pumps   conc.WaitGroup
}

func NewController(p Provider) *Controller {
	return &Controller{provider: p}
}

// AcquireCameraAndMic opens both capture devices and starts the sample pumps.
// Fails with domain.ErrDevice when a device is missing or permission is
// denied; a partial acquisition is rolled back.
func (c *Controller) AcquireCameraAndMic(ctx context.Context, cons Constraints) (*State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != nil {
		return c.state, nil
	}

	mic, err := c.provider.OpenMicrophone(cons)
	if err != nil {
		return nil, fmt.Errorf("%w: microphone: %v", domain.ErrDevice, err)
	}
	cam, err := c.provider.OpenCamera(cons)
	if err != nil {
		_ = mic.Close()
		return nil, fmt.Errorf("%w: camera: %v", domain.ErrDevice, err)
	}

	streamID := "local-" + uuid.NewString()
	audio, err := c.buildTrack(mic, webrtc.RTPCodecTypeAudio, "audio", streamID)
	if err != nil {
		_ = mic.Close()
		_ = cam.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrDevice, err)
	}
	video, err := c.buildTrack(cam, webrtc.RTPCodecTypeVideo, "video", streamID)
	if err != nil {
		_ = mic.Close()
		_ = cam.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrDevice, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	c.pumpCtx, c.cancel = pumpCtx, cancel
	c.state = &State{audio: audio, video: video}
	c.startPump(pumpCtx, audio)
	c.startPump(pumpCtx, video)

	log.Info().Str("module", "media").
		Str("mic", mic.Label()).Str("camera", cam.Label()).
		Msg("local media acquired")
	return c.state, nil
}

func (c *Controller) buildTrack(src Source, kind webrtc.RTPCodecType, id, streamID string) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: src.MimeType()}, id, streamID)
	if err != nil {
		return nil, err
	}
	return newLocalTrack(track, kind, src), nil
}

// startPump drains the track's source for as long as the session lives.
// A disabled track keeps consuming its source so pacing survives mute, but
// writes nothing.
func (c *Controller) startPump(ctx context.Context, t *LocalTrack) {
	c.pumps.Go(func() {
		for {
			src := t.source()
			sample, err := src.Next(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("module", "media").Str("track", t.track.ID()).Msg("source ended")
				}
				return
			}
			if !t.Enabled() {
				continue
			}
			if err := t.track.WriteSample(sample); err != nil {
				log.Warn().Err(err).Str("module", "media").Str("track", t.track.ID()).Msg("write sample")
			}
		}
	})
}

// ToggleAudio flips the outbound audio enablement and returns the new value.
// No renegotiation happens; the flag alone controls sample flow.
func (c *Controller) ToggleAudio() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil || c.state.Audio() == nil {
		return false, ErrNotAcquired
	}
	t := c.state.Audio()
	return t.SetEnabled(!t.Enabled()), nil
}

// ToggleVideo flips the outbound video enablement and returns the new value.
func (c *Controller) ToggleVideo() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil || c.state.Video() == nil {
		return false, ErrNotAcquired
	}
	t := c.state.Video()
	return t.SetEnabled(!t.Enabled()), nil
}

// StartScreenShare opens the display capture and returns the substitute video
// track. The caller replaces the outbound sender on every active link; this
// controller only swaps what State considers the current video track.
func (c *Controller) StartScreenShare() (*LocalTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil, ErrNotAcquired
	}
	if c.sharing {
		return c.state.Video(), nil
	}

	src, err := c.provider.OpenScreen()
	if err != nil {
		return nil, fmt.Errorf("%w: screen: %v", domain.ErrDevice, err)
	}
	track, err := c.buildTrack(src, webrtc.RTPCodecTypeVideo, "screen", "local-screen-"+uuid.NewString())
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrDevice, err)
	}

	c.camera = c.state.Video()
	c.screen = src
	c.sharing = true
	c.state.setVideo(track)
	c.startPump(c.pumpCtx, track)

	log.Info().Str("module", "media").Str("screen", src.Label()).Msg("screen share started")
	return track, nil
}

// StopScreenShare closes the display capture and restores the camera track as
// the current outbound video. Returns the camera track for re-substitution.
func (c *Controller) StopScreenShare() (*LocalTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sharing {
		return nil, errors.New("screen share not active")
	}
	if c.screen != nil {
		_ = c.screen.Close()
		c.screen = nil
	}
	c.sharing = false
	c.state.setVideo(c.camera)
	cam := c.camera
	c.camera = nil
	log.Info().Str("module", "media").Msg("screen share stopped")
	return cam, nil
}

// Sharing reports whether a display capture is active.
func (c *Controller) Sharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sharing
}

// State returns the live local media state, nil before acquisition.
func (c *Controller) State() *State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Release stops every pump and closes every capture source. Leaving hardware
// captured after disconnect is a correctness bug, so this runs on every
// session exit path.
func (c *Controller) Release() {
	c.mu.Lock()
	if c.state == nil {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	sources := make([]Source, 0, 3)
	if a := c.state.Audio(); a != nil {
		sources = append(sources, a.source())
	}
	if v := c.state.Video(); v != nil {
		sources = append(sources, v.source())
	}
	if c.camera != nil {
		sources = append(sources, c.camera.source())
	}
	if c.screen != nil {
		sources = append(sources, c.screen)
	}
	c.state = nil
	c.camera = nil
	c.screen = nil
	c.sharing = false
	c.mu.Unlock()

	c.pumps.Wait()
	for _, s := range sources {
		_ = s.Close()
	}
	log.Info().Str("module", "media").Msg("local media released")
}
