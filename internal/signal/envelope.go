// Package signal implements the room-scoped signaling protocol: the envelope
// vocabulary exchanged with the meeting endpoint and the websocket channel
// that carries it.
package signal

import (
	"encoding/json"

	"github.com/hireloop/meet/internal/domain"
)

// Envelope type vocabulary.
const (
	TypeMeetingJoined = "meeting_joined"
	TypeUserJoined    = "user_joined"
	TypeUserLeft      = "user_left"
	TypeOffer         = "offer"
	TypeAnswer        = "answer"
	TypeICECandidate  = "ice-candidate"
	TypeChatMessage   = "chat_message"

	TypeRecordingStarted  = "recording_started"
	TypeRecordingStopped  = "recording_stopped"
	TypeParticipantMuted  = "participant_muted"
	TypeParticipantUnmute = "participant_unmuted"
	TypeScreenShareStart  = "screen_share_start"
	TypeScreenShareStop   = "screen_share_stop"
	TypeMuteAudio         = "mute_audio"
	TypeUnmuteAudio       = "unmute_audio"
	TypeMuteVideo         = "mute_video"
	TypeUnmuteVideo       = "unmute_video"
	TypeError             = "error"
)

// Envelope is the unit of exchange over the signaling channel. An envelope
// without TargetUserID is a room broadcast; a targeted envelope must be routed
// only to that participant.
type Envelope struct {
	Type         string               `json:"type"`
	Data         json.RawMessage      `json:"data,omitempty"`
	SenderID     domain.ParticipantID `json:"sender_id,omitempty"`
	TargetUserID domain.ParticipantID `json:"target_user_id,omitempty"`
	RoomID       domain.RoomID        `json:"room_id,omitempty"`
}

// Targeted reports whether the envelope is addressed to a single participant.
func (e Envelope) Targeted() bool { return e.TargetUserID != 0 }

// NewEnvelope marshals data into an envelope of the given type.
func NewEnvelope(typ string, room domain.RoomID, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, RoomID: room, Data: raw}, nil
}

// SDPPayload carries an offer or answer. Restart marks a re-offer generated by
// an ICE restart.
type SDPPayload struct {
	SDP     string `json:"sdp"`
	Restart bool   `json:"restart,omitempty"`
}

// CandidatePayload carries one trickled ICE candidate.
type CandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// UserPayload describes one participant in roster events.
type UserPayload struct {
	ID   domain.ParticipantID `json:"id"`
	Name string               `json:"name"`
}

// JoinedPayload is the room-join acknowledgment: the id assigned to this
// client and every participant already present.
type JoinedPayload struct {
	SelfID       domain.ParticipantID `json:"self_id"`
	Participants []UserPayload        `json:"participants"`
}

// ChatPayload is a relayed text message. No ordering guarantee is made.
type ChatPayload struct {
	Text string `json:"text"`
}

// ErrorPayload is a server-side rejection.
type ErrorPayload struct {
	Error string `json:"error"`
}
