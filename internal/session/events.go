package session

import (
	"github.com/pion/webrtc/v4"

	"github.com/hireloop/meet/internal/domain"
)

// Event is published on the session's outbound stream. The embedding
// application consumes one channel instead of wiring ad hoc callbacks.
type Event any

// ParticipantJoinedEvent: a remote user entered the room.
type ParticipantJoinedEvent struct {
	Participant domain.Participant
}

// ParticipantLeftEvent: a remote user departed. The roster entry is retained,
// marked departed, until teardown.
type ParticipantLeftEvent struct {
	Participant domain.Participant
}

// RemoteStreamEvent: a negotiated remote track arrived. StreamID is the
// link's canonical stream; later tracks for the same participant reuse it.
type RemoteStreamEvent struct {
	Participant domain.ParticipantID
	StreamID    string
	Track       *webrtc.TrackRemote
}

// PeerStateEvent: a link's connection state advanced. A failed state here
// means the automatic ICE restart was already spent; Err carries
// domain.ErrIceFailure in that case. Handling is up to the operator, the rest
// of the mesh is unaffected.
type PeerStateEvent struct {
	Participant domain.ParticipantID
	State       domain.ConnectionState
	Err         error
}

// ChatEvent: relayed text message. No ordering guarantee.
type ChatEvent struct {
	From domain.ParticipantID
	Text string
}

// StatusEvent forwards recording/mute/screen-share notifications without any
// state mutation beyond UI signaling.
type StatusEvent struct {
	From domain.ParticipantID
	Type string
}

// ReconnectingEvent: the signaling transport dropped and the supervised retry
// task is attempting to reopen it.
type ReconnectingEvent struct {
	Attempt int
}

// SessionErrorEvent: a session-level failure. Per-peer failures never produce
// this; they surface as PeerStateEvent instead.
type SessionErrorEvent struct {
	Err error
}

// DisconnectedEvent is the final event before the stream closes.
type DisconnectedEvent struct{}
