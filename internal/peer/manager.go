// Package peer owns the mesh of per-participant connections: link lifecycle,
// offer/answer negotiation, trickled ICE exchange and outbound track
// substitution. Links are reachable only through the Manager, never as raw
// connection references.
package peer

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/hireloop/meet/internal/domain"
	"github.com/hireloop/meet/internal/media"
	"github.com/hireloop/meet/internal/signal"
)

// Signaler is the outbound half of the signaling channel the manager needs.
type Signaler interface {
	Send(env signal.Envelope)
}

// Manager owns one Link per remote participant.
type Manager struct {
	selfID   domain.ParticipantID
	cfg      webrtc.Configuration
	local    *media.State
	signaler Signaler

	// Wired by the session controller before any link exists.
	OnRemoteTrack func(id domain.ParticipantID, streamID string, track *webrtc.TrackRemote)
	OnState       func(id domain.ParticipantID, s domain.ConnectionState)

	mu    sync.Mutex
	links map[domain.ParticipantID]*Link
}

func NewManager(selfID domain.ParticipantID, cfg webrtc.Configuration, local *media.State, signaler Signaler) *Manager {
	return &Manager{
		selfID:   selfID,
		cfg:      cfg,
		local:    local,
		signaler: signaler,
		links:    make(map[domain.ParticipantID]*Link),
	}
}

// CreateLink returns the link for the participant, creating it on first use.
// Idempotent: a second call for the same id returns the same link, never a
// duplicate connection.
func (m *Manager) CreateLink(id domain.ParticipantID) (*Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.links[id]; ok {
		return l, nil
	}
	l, err := m.buildLink(id)
	if err != nil {
		return nil, err
	}
	m.links[id] = l
	return l, nil
}

// recreateLink replaces a participant's link with a fresh connection. Used
// when the polite side yields on glare and when a negotiation failure forces
// a rebuild.
func (m *Manager) recreateLink(id domain.ParticipantID) (*Link, error) {
	m.mu.Lock()
	old := m.links[id]
	l, err := m.buildLink(id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.links[id] = l
	m.mu.Unlock()
	if old != nil {
		old.close()
	}
	return l, nil
}

// buildLink constructs the connection and wires its callbacks. Caller holds
// m.mu and inserts the result into the link map.
func (m *Manager) buildLink(id domain.ParticipantID) (*Link, error) {
	pc, err := webrtc.NewPeerConnection(m.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: new connection: %v", domain.ErrNegotiation, err)
	}
	l := &Link{
		id:     id,
		polite: m.selfID < id,
		pc:     pc,
		state:  domain.ConnNew,
	}

	if m.local != nil {
		for _, t := range m.local.Tracks() {
			sender, err := pc.AddTrack(t.Track())
			if err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("%w: add track: %v", domain.ErrNegotiation, err)
			}
			if t.Kind() == webrtc.RTPCodecTypeVideo {
				l.videoSender = sender
			}
		}
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		ci := cand.ToJSON()
		env, err := signal.NewEnvelope(signal.TypeICECandidate, "", signal.CandidatePayload{
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		})
		if err != nil {
			log.Error().Err(err).Str("module", "peer").Msg("candidate envelope")
			return
		}
		env.TargetUserID = id
		m.signaler.Send(env)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		streamID := l.setCanonicalStream(track.StreamID())
		log.Info().Str("module", "peer").
			Int64("participant", int64(id)).
			Str("kind", track.Kind().String()).
			Str("stream_id", streamID).
			Msg("remote track")
		if m.OnRemoteTrack != nil {
			m.OnRemoteTrack(id, streamID, track)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		m.handleStateChange(l, s)
	})

	log.Info().Str("module", "peer").Int64("participant", int64(id)).Bool("polite", l.polite).Msg("link created")
	return l, nil
}

// Link returns an existing link, if any.
func (m *Manager) Link(id domain.ParticipantID) (*Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	return l, ok
}

// Count reports the number of live links.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

// Offer starts negotiation toward a participant. Called by the session when
// it is the room-present side and a newcomer joins.
func (m *Manager) Offer(id domain.ParticipantID) error {
	l, err := m.CreateLink(id)
	if err != nil {
		return err
	}
	return m.sendOffer(l, false)
}

func (m *Manager) sendOffer(l *Link, restart bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	opts := &webrtc.OfferOptions{ICERestart: restart}
	offer, err := l.pc.CreateOffer(opts)
	if err != nil {
		return fmt.Errorf("%w: create offer: %v", domain.ErrNegotiation, err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: set local offer: %v", domain.ErrNegotiation, err)
	}
	l.makingOffer = true

	env, err := signal.NewEnvelope(signal.TypeOffer, "", signal.SDPPayload{SDP: offer.SDP, Restart: restart})
	if err != nil {
		return err
	}
	env.TargetUserID = l.id
	m.signaler.Send(env)
	log.Info().Str("module", "peer").Int64("participant", int64(l.id)).Bool("restart", restart).Msg("offer sent")
	return nil
}

// HandleOffer applies a remote offer and replies with an answer. Creates the
// link when the offer is the first contact. On glare the polite side abandons
// its own offer and rebuilds the link; the impolite side ignores the
// incoming one.
func (m *Manager) HandleOffer(from domain.ParticipantID, p signal.SDPPayload) error {
	l, err := m.CreateLink(from)
	if err != nil {
		return err
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	glare := l.makingOffer || l.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer
	l.mu.Unlock()

	if glare {
		if !l.polite {
			log.Warn().Str("module", "peer").Int64("participant", int64(from)).Msg("glare: impolite side ignoring incoming offer")
			return nil
		}
		// The polite side abandons its own offer: the link is rebuilt and
		// the incoming offer negotiated on the fresh connection.
		log.Info().Str("module", "peer").Int64("participant", int64(from)).Msg("glare: polite side yielding to incoming offer")
		if l, err = m.recreateLink(from); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("%w: set remote offer: %v", domain.ErrNegotiation, err)
	}
	l.remoteSet = true
	if err := l.flushPendingLocked(); err != nil {
		return err
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("%w: create answer: %v", domain.ErrNegotiation, err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("%w: set local answer: %v", domain.ErrNegotiation, err)
	}

	env, err := signal.NewEnvelope(signal.TypeAnswer, "", signal.SDPPayload{SDP: answer.SDP})
	if err != nil {
		return err
	}
	env.TargetUserID = from
	m.signaler.Send(env)
	log.Info().Str("module", "peer").Int64("participant", int64(from)).Msg("answer sent")
	return nil
}

// HandleAnswer applies a remote answer to an existing link.
func (m *Manager) HandleAnswer(from domain.ParticipantID, p signal.SDPPayload) error {
	l, ok := m.Link(from)
	if !ok {
		return fmt.Errorf("%w: answer for unknown participant %d", domain.ErrNegotiation, from)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}
	if err := l.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("%w: set remote answer: %v", domain.ErrNegotiation, err)
	}
	l.remoteSet = true
	l.makingOffer = false
	return l.flushPendingLocked()
}

// HandleCandidate buffers or applies a trickled remote candidate. The link is
// created if the candidate outruns the offer across a reconnect.
func (m *Manager) HandleCandidate(from domain.ParticipantID, p signal.CandidatePayload) error {
	l, err := m.CreateLink(from)
	if err != nil {
		return err
	}
	return l.bufferOrAddCandidate(webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	})
}

// handleStateChange tracks the link state machine and performs the single
// automatic ICE restart on failure before surfacing failed.
func (m *Manager) handleStateChange(l *Link, s webrtc.PeerConnectionState) {
	mapped := mapPeerState(s)
	log.Info().Str("module", "peer").Int64("participant", int64(l.id)).Str("state", mapped.String()).Msg("connection state")

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	restart := false
	switch mapped {
	case domain.ConnConnected:
		l.everConnected = true
		l.restarted = false
	case domain.ConnFailed:
		// The restart covers network loss on an established link; a link
		// that never connected fails outright.
		if l.everConnected && !l.restarted {
			l.restarted = true
			restart = true
			mapped = domain.ConnConnecting
		}
	}
	l.state = mapped
	l.mu.Unlock()

	if m.OnState != nil {
		m.OnState(l.id, mapped)
	}
	if restart {
		log.Warn().Str("module", "peer").Int64("participant", int64(l.id)).Msg("ice failed, attempting single restart")
		if err := m.sendOffer(l, true); err != nil {
			log.Error().Err(err).Str("module", "peer").Int64("participant", int64(l.id)).Msg("ice restart offer")
		}
	}
}

// ReplaceVideoTrack substitutes the outbound video sender on every active
// link before returning. Used for screen-share start/stop; no renegotiation.
func (m *Manager) ReplaceVideoTrack(t *media.LocalTrack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, l := range m.links {
		if l.videoSender == nil || l.isClosed() {
			continue
		}
		if err := l.videoSender.ReplaceTrack(t.Track()); err != nil {
			log.Error().Err(err).Str("module", "peer").Int64("participant", int64(l.id)).Msg("replace track")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// DestroyLink closes the participant's connection and forgets the link.
// Skipping this on departure leaks the connection and its track bindings.
func (m *Manager) DestroyLink(id domain.ParticipantID) {
	m.mu.Lock()
	l, ok := m.links[id]
	delete(m.links, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	l.close()
}

// DestroyAll tears down every link. Called on session disconnect; any
// in-flight negotiation completes as a no-op against its closed link.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	links := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.links = make(map[domain.ParticipantID]*Link)
	m.mu.Unlock()
	for _, l := range links {
		l.close()
	}
}
