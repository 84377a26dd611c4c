package peer

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/hireloop/meet/internal/domain"
)

// Link owns the one peer connection to a single remote participant. All
// negotiation steps for a link run under its mutex, so no two steps for the
// same participant can interleave. The manager is the only component allowed
// to reach the underlying connection.
type Link struct {
	id     domain.ParticipantID
	polite bool // lower self id yields to incoming offers on glare
	pc     *webrtc.PeerConnection

	mu             sync.Mutex
	state          domain.ConnectionState
	remoteSet      bool
	makingOffer    bool
	everConnected  bool
	restarted      bool
	pending        []webrtc.ICECandidateInit
	remoteStreamID string
	videoSender    *webrtc.RTPSender
	closed         bool
}

// ID returns the remote participant this link serves.
func (l *Link) ID() domain.ParticipantID { return l.id }

// State returns the current connection state.
func (l *Link) State() domain.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// RemoteStreamID returns the canonical remote stream id, empty until the
// first remote track arrives.
func (l *Link) RemoteStreamID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteStreamID
}

// setCanonicalStream fixes the stream identity on the first remote track;
// later tracks join the same stream regardless of their own stream id.
func (l *Link) setCanonicalStream(streamID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remoteStreamID == "" {
		l.remoteStreamID = streamID
	}
	return l.remoteStreamID
}

// bufferOrAddCandidate applies a remote candidate if the remote description
// is already set, otherwise keeps it until it is. Out-of-order candidates are
// never dropped.
func (l *Link) bufferOrAddCandidate(ci webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	if !l.remoteSet {
		l.pending = append(l.pending, ci)
		l.mu.Unlock()
		log.Debug().Str("module", "peer").Int64("participant", int64(l.id)).Msg("candidate buffered before remote description")
		return nil
	}
	l.mu.Unlock()
	return l.pc.AddICECandidate(ci)
}

// flushPending applies candidates buffered before the remote description was
// set. Caller must hold l.mu with remoteSet already true.
func (l *Link) flushPendingLocked() error {
	pending := l.pending
	l.pending = nil
	for _, ci := range pending {
		if err := l.pc.AddICECandidate(ci); err != nil {
			return fmt.Errorf("%w: buffered candidate: %v", domain.ErrNegotiation, err)
		}
	}
	if len(pending) > 0 {
		log.Debug().Str("module", "peer").Int64("participant", int64(l.id)).Int("count", len(pending)).Msg("flushed buffered candidates")
	}
	return nil
}

func (l *Link) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.state = domain.ConnClosed
	l.remoteStreamID = ""
	l.pending = nil
	l.mu.Unlock()

	if err := l.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "peer").Int64("participant", int64(l.id)).Msg("close error")
		return
	}
	log.Info().Str("module", "peer").Int64("participant", int64(l.id)).Msg("link closed")
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func mapPeerState(s webrtc.PeerConnectionState) domain.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return domain.ConnNew
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnClosed
	}
	return domain.ConnNew
}
