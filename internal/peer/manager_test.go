package peer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireloop/meet/internal/domain"
	"github.com/hireloop/meet/internal/media"
	"github.com/hireloop/meet/internal/signal"
)

// fakeSignaler records envelopes instead of sending them anywhere.
type fakeSignaler struct {
	mu   sync.Mutex
	sent []signal.Envelope
}

func (f *fakeSignaler) Send(env signal.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
}

func (f *fakeSignaler) byType(typ string) []signal.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []signal.Envelope
	for _, e := range f.sent {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func testMediaState(t *testing.T) *media.State {
	t.Helper()
	ctl := media.NewController(&media.SyntheticProvider{})
	state, err := ctl.AcquireCameraAndMic(context.Background(), media.DefaultConstraints())
	require.NoError(t, err)
	t.Cleanup(ctl.Release)
	return state
}

func sdpOf(t *testing.T, env signal.Envelope) signal.SDPPayload {
	t.Helper()
	var p signal.SDPPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p
}

func TestCreateLinkIdempotent(t *testing.T) {
	m := NewManager(1, ICEConfiguration(nil), testMediaState(t), &fakeSignaler{})
	defer m.DestroyAll()

	l1, err := m.CreateLink(2)
	require.NoError(t, err)
	l2, err := m.CreateLink(2)
	require.NoError(t, err)
	assert.Same(t, l1, l2)
	assert.Equal(t, 1, m.Count())
}

func TestOfferAnswerNegotiation(t *testing.T) {
	sigA := &fakeSignaler{}
	sigB := &fakeSignaler{}
	a := NewManager(1, ICEConfiguration(nil), testMediaState(t), sigA)
	b := NewManager(2, ICEConfiguration(nil), testMediaState(t), sigB)
	defer a.DestroyAll()
	defer b.DestroyAll()

	// the room-present side offers
	require.NoError(t, a.Offer(2))
	offers := sigA.byType(signal.TypeOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, domain.ParticipantID(2), offers[0].TargetUserID)

	// the newcomer answers
	require.NoError(t, b.HandleOffer(1, sdpOf(t, offers[0])))
	answers := sigB.byType(signal.TypeAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, domain.ParticipantID(1), answers[0].TargetUserID)

	require.NoError(t, a.HandleAnswer(2, sdpOf(t, answers[0])))

	la, _ := a.Link(2)
	lb, _ := b.Link(1)
	assert.True(t, la.remoteSet)
	assert.True(t, lb.remoteSet)
}

func TestAnswerForUnknownParticipant(t *testing.T) {
	m := NewManager(1, ICEConfiguration(nil), testMediaState(t), &fakeSignaler{})
	defer m.DestroyAll()

	err := m.HandleAnswer(9, signal.SDPPayload{SDP: "v=0"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNegotiation)
}

func TestCandidateBufferedUntilRemoteDescription(t *testing.T) {
	sigA := &fakeSignaler{}
	sigB := &fakeSignaler{}
	a := NewManager(1, ICEConfiguration(nil), testMediaState(t), sigA)
	b := NewManager(2, ICEConfiguration(nil), testMediaState(t), sigB)
	defer a.DestroyAll()
	defer b.DestroyAll()

	require.NoError(t, a.Offer(2))
	offer := sigA.byType(signal.TypeOffer)[0]

	// candidate outruns the offer: must be buffered, never dropped
	mid := "0"
	var idx uint16
	cand := signal.CandidatePayload{
		Candidate:     "candidate:3114364177 1 udp 2113937151 127.0.0.1 54321 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
	require.NoError(t, b.HandleCandidate(1, cand))

	lb, ok := b.Link(1)
	require.True(t, ok)
	lb.mu.Lock()
	pending := len(lb.pending)
	lb.mu.Unlock()
	assert.Equal(t, 1, pending)

	// the offer arrives, the buffered candidate is applied
	require.NoError(t, b.HandleOffer(1, sdpOf(t, offer)))
	lb.mu.Lock()
	pending = len(lb.pending)
	remoteSet := lb.remoteSet
	lb.mu.Unlock()
	assert.Zero(t, pending)
	assert.True(t, remoteSet)
}

func TestGlarePoliteYieldsImpoliteIgnores(t *testing.T) {
	sigA := &fakeSignaler{}
	sigB := &fakeSignaler{}
	a := NewManager(1, ICEConfiguration(nil), testMediaState(t), sigA) // lower id: polite
	b := NewManager(2, ICEConfiguration(nil), testMediaState(t), sigB)
	defer a.DestroyAll()
	defer b.DestroyAll()

	// both sides offer at once
	require.NoError(t, a.Offer(2))
	require.NoError(t, b.Offer(1))
	offerFromA := sigA.byType(signal.TypeOffer)[0]
	offerFromB := sigB.byType(signal.TypeOffer)[0]

	// impolite side drops the incoming offer on the floor
	require.NoError(t, b.HandleOffer(1, sdpOf(t, offerFromA)))
	assert.Empty(t, sigB.byType(signal.TypeAnswer))

	// polite side abandons its own offer and answers
	require.NoError(t, a.HandleOffer(2, sdpOf(t, offerFromB)))
	answers := sigA.byType(signal.TypeAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, domain.ParticipantID(2), answers[0].TargetUserID)

	// still exactly one link per side
	assert.Equal(t, 1, a.Count())
	assert.Equal(t, 1, b.Count())
}

func TestDestroyLink(t *testing.T) {
	m := NewManager(1, ICEConfiguration(nil), testMediaState(t), &fakeSignaler{})

	l, err := m.CreateLink(2)
	require.NoError(t, err)
	m.DestroyLink(2)
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, domain.ConnClosed, l.State())

	// destroying an unknown participant is a no-op
	m.DestroyLink(99)
}

func TestDestroyAllAbandonsInFlightNegotiation(t *testing.T) {
	sig := &fakeSignaler{}
	m := NewManager(1, ICEConfiguration(nil), testMediaState(t), sig)

	require.NoError(t, m.Offer(2))
	l, _ := m.Link(2)
	m.DestroyAll()
	assert.Equal(t, 0, m.Count())

	// a late answer against the closed link is a no-op
	require.NoError(t, func() error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closed {
			return nil
		}
		return assert.AnError
	}())
}

func TestReplaceVideoTrackUpdatesEverySender(t *testing.T) {
	ctl := media.NewController(&media.SyntheticProvider{})
	state, err := ctl.AcquireCameraAndMic(context.Background(), media.DefaultConstraints())
	require.NoError(t, err)
	t.Cleanup(ctl.Release)

	m := NewManager(1, ICEConfiguration(nil), state, &fakeSignaler{})
	defer m.DestroyAll()

	l2, err := m.CreateLink(2)
	require.NoError(t, err)
	l3, err := m.CreateLink(3)
	require.NoError(t, err)
	require.NotNil(t, l2.videoSender)
	require.NotNil(t, l3.videoSender)

	screen, err := ctl.StartScreenShare()
	require.NoError(t, err)
	require.NoError(t, m.ReplaceVideoTrack(screen))
	assert.Same(t, screen.Track(), l2.videoSender.Track())
	assert.Same(t, screen.Track(), l3.videoSender.Track())

	camera, err := ctl.StopScreenShare()
	require.NoError(t, err)
	require.NoError(t, m.ReplaceVideoTrack(camera))
	assert.Same(t, camera.Track(), l2.videoSender.Track())
	assert.Same(t, camera.Track(), l3.videoSender.Track())
}

func TestSingleICERestartThenFailed(t *testing.T) {
	sigA := &fakeSignaler{}
	sigB := &fakeSignaler{}
	a := NewManager(1, ICEConfiguration(nil), testMediaState(t), sigA)
	b := NewManager(2, ICEConfiguration(nil), testMediaState(t), sigB)
	defer a.DestroyAll()
	defer b.DestroyAll()

	// negotiate once so a restart re-offer is possible
	require.NoError(t, a.Offer(2))
	require.NoError(t, b.HandleOffer(1, sdpOf(t, sigA.byType(signal.TypeOffer)[0])))
	require.NoError(t, a.HandleAnswer(2, sdpOf(t, sigB.byType(signal.TypeAnswer)[0])))

	var states []domain.ConnectionState
	var mu sync.Mutex
	a.OnState = func(_ domain.ParticipantID, s domain.ConnectionState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	l, ok := a.Link(2)
	require.True(t, ok)
	a.handleStateChange(l, webrtc.PeerConnectionStateConnected)

	// first failure after connecting triggers exactly one restart offer
	a.handleStateChange(l, webrtc.PeerConnectionStateFailed)
	assert.Len(t, sigRestarts(t, sigA), 1)
	mu.Lock()
	assert.Equal(t, domain.ConnConnecting, states[len(states)-1])
	mu.Unlock()

	// second failure surfaces failed, no further restart
	a.handleStateChange(l, webrtc.PeerConnectionStateFailed)
	assert.Len(t, sigRestarts(t, sigA), 1)
	mu.Lock()
	assert.Equal(t, domain.ConnFailed, states[len(states)-1])
	mu.Unlock()
	assert.Equal(t, domain.ConnFailed, l.State())
}

func TestFailureBeforeConnectedDoesNotRestart(t *testing.T) {
	sig := &fakeSignaler{}
	m := NewManager(1, ICEConfiguration(nil), testMediaState(t), sig)
	defer m.DestroyAll()

	var states []domain.ConnectionState
	var mu sync.Mutex
	m.OnState = func(_ domain.ParticipantID, s domain.ConnectionState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	l, err := m.CreateLink(2)
	require.NoError(t, err)

	// a link that never connected fails outright, no restart offer
	m.handleStateChange(l, webrtc.PeerConnectionStateFailed)
	assert.Empty(t, sigRestarts(t, sig))
	mu.Lock()
	assert.Equal(t, domain.ConnFailed, states[len(states)-1])
	mu.Unlock()
	assert.Equal(t, domain.ConnFailed, l.State())
}

func sigRestarts(t *testing.T, sig *fakeSignaler) []signal.Envelope {
	t.Helper()
	var out []signal.Envelope
	for _, env := range sig.byType(signal.TypeOffer) {
		if sdpOf(t, env).Restart {
			out = append(out, env)
		}
	}
	return out
}

// relaySignaler feeds envelopes straight into the counterpart manager. The
// handoff is asynchronous so a negotiation step never re-enters a link mutex
// the sender still holds.
type relaySignaler struct {
	from domain.ParticipantID
	peer *Manager
}

func (r *relaySignaler) Send(env signal.Envelope) {
	peer := r.peer
	go func() {
		switch env.Type {
		case signal.TypeOffer:
			var p signal.SDPPayload
			if json.Unmarshal(env.Data, &p) == nil {
				_ = peer.HandleOffer(r.from, p)
			}
		case signal.TypeAnswer:
			var p signal.SDPPayload
			if json.Unmarshal(env.Data, &p) == nil {
				_ = peer.HandleAnswer(r.from, p)
			}
		case signal.TypeICECandidate:
			var p signal.CandidatePayload
			if json.Unmarshal(env.Data, &p) == nil {
				_ = peer.HandleCandidate(r.from, p)
			}
		}
	}()
}

func TestNegotiationReachesConnectedWithRemoteTracks(t *testing.T) {
	toB := &relaySignaler{from: 1}
	toA := &relaySignaler{from: 2}
	// no ICE servers: host candidates are enough inside one process
	a := NewManager(1, webrtc.Configuration{}, testMediaState(t), toB)
	b := NewManager(2, webrtc.Configuration{}, testMediaState(t), toA)
	toB.peer = b
	toA.peer = a
	defer a.DestroyAll()
	defer b.DestroyAll()

	connected := make(chan domain.ParticipantID, 8)
	var mu sync.Mutex
	var failed []domain.ParticipantID
	watch := func(m *Manager) {
		m.OnState = func(id domain.ParticipantID, s domain.ConnectionState) {
			switch s {
			case domain.ConnConnected:
				connected <- id
			case domain.ConnFailed:
				mu.Lock()
				failed = append(failed, id)
				mu.Unlock()
			}
		}
	}
	watch(a)
	watch(b)

	aTracks := make(chan string, 8)
	bTracks := make(chan string, 8)
	a.OnRemoteTrack = func(_ domain.ParticipantID, streamID string, _ *webrtc.TrackRemote) { aTracks <- streamID }
	b.OnRemoteTrack = func(_ domain.ParticipantID, streamID string, _ *webrtc.TrackRemote) { bTracks <- streamID }

	require.NoError(t, a.Offer(2))

	seen := make(map[domain.ParticipantID]bool)
	deadline := time.After(15 * time.Second)
	for len(seen) < 2 {
		select {
		case id := <-connected:
			seen[id] = true
		case <-deadline:
			t.Fatalf("peers did not reach connected, saw %v", seen)
		}
	}

	for name, ch := range map[string]chan string{"a": aTracks, "b": bTracks} {
		select {
		case streamID := <-ch:
			assert.NotEmpty(t, streamID, "canonical stream id on side %s", name)
		case <-time.After(15 * time.Second):
			t.Fatalf("no remote track arrived on side %s", name)
		}
	}

	mu.Lock()
	assert.Empty(t, failed, "no link may pass through failed")
	mu.Unlock()
}

func TestICEConfiguration(t *testing.T) {
	cfg := ICEConfiguration([]TURNServer{{
		URLs:       []string{"turn:turn.example.com:3478"},
		Username:   "u",
		Credential: "c",
	}})
	require.Len(t, cfg.ICEServers, 2)
	assert.Equal(t, []string{DefaultSTUNURL}, cfg.ICEServers[0].URLs)
	assert.Equal(t, "u", cfg.ICEServers[1].Username)
}
