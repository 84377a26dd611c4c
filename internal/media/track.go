package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// LocalTrack pairs an outbound sample track with its enablement flag. Muting
// flips the flag so the pump stops writing samples; the track stays attached
// to every peer connection and nothing renegotiates.
type LocalTrack struct {
	track   *webrtc.TrackLocalStaticSample
	kind    webrtc.RTPCodecType
	enabled atomic.Bool

	mu  sync.Mutex
	src Source
}

func newLocalTrack(track *webrtc.TrackLocalStaticSample, kind webrtc.RTPCodecType, src Source) *LocalTrack {
	t := &LocalTrack{track: track, kind: kind, src: src}
	t.enabled.Store(true)
	return t
}

// Track returns the underlying webrtc track for sender attachment.
func (t *LocalTrack) Track() *webrtc.TrackLocalStaticSample { return t.track }

// Kind reports audio or video.
func (t *LocalTrack) Kind() webrtc.RTPCodecType { return t.kind }

// Enabled reports whether samples are currently being written.
func (t *LocalTrack) Enabled() bool { return t.enabled.Load() }

// SetEnabled flips the flag and returns the new value.
func (t *LocalTrack) SetEnabled(v bool) bool {
	t.enabled.Store(v)
	return v
}

func (t *LocalTrack) source() Source {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.src
}

// State is the per-session local media state: the current outbound audio and
// video tracks. Mutated only by the Controller; peer code reads it when
// attaching tracks to a new link.
type State struct {
	mu    sync.RWMutex
	audio *LocalTrack
	video *LocalTrack
}

func (s *State) Audio() *LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio
}

func (s *State) Video() *LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.video
}

// Tracks returns the current outbound tracks, audio first.
func (s *State) Tracks() []*LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*LocalTrack, 0, 2)
	if s.audio != nil {
		out = append(out, s.audio)
	}
	if s.video != nil {
		out = append(out, s.video)
	}
	return out
}

func (s *State) setVideo(t *LocalTrack) {
	s.mu.Lock()
	s.video = t
	s.mu.Unlock()
}
