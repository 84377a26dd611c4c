package session

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/hireloop/meet/internal/domain"
	"github.com/hireloop/meet/internal/signal"
)

// run drains one signaling channel. When the transport drops for a reason
// other than a local close, the supervised reconnect takes over.
func (s *Controller) run(ch *signal.Channel) {
	for env := range ch.Incoming() {
		s.dispatch(env)
	}
	if ch.CloseReason() == nil {
		return
	}
	s.superviseReconnect()
}

// dispatch is the envelope-type to action table. Unknown types are logged and
// ignored: forward compatibility over strict validation.
func (s *Controller) dispatch(env signal.Envelope) {
	switch env.Type {
	case signal.TypeUserJoined:
		s.handleUserJoined(env)
	case signal.TypeUserLeft:
		s.handleUserLeft(env)
	case signal.TypeOffer:
		s.handleOffer(env)
	case signal.TypeAnswer:
		s.handleAnswer(env)
	case signal.TypeICECandidate:
		s.handleCandidate(env)
	case signal.TypeChatMessage:
		s.handleChat(env)
	case signal.TypeRecordingStarted, signal.TypeRecordingStopped,
		signal.TypeParticipantMuted, signal.TypeParticipantUnmute,
		signal.TypeScreenShareStart, signal.TypeScreenShareStop,
		signal.TypeMuteAudio, signal.TypeUnmuteAudio,
		signal.TypeMuteVideo, signal.TypeUnmuteVideo:
		// Status notifications: forwarded, no state mutation.
		s.publish(StatusEvent{From: env.SenderID, Type: env.Type})
	case signal.TypeError:
		s.handleServerError(env)
	default:
		log.Warn().Str("module", "session").Str("type", env.Type).Msg("unknown envelope type ignored")
	}
}

// handleUserJoined registers the newcomer and initiates the offer: the side
// already present in the room is the offering side.
func (s *Controller) handleUserJoined(env signal.Envelope) {
	var u signal.UserPayload
	if err := json.Unmarshal(env.Data, &u); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad user_joined payload")
		return
	}
	s.mu.Lock()
	if p, ok := s.roster[u.ID]; ok {
		p.Departed = false
		p.Name = u.Name
	} else {
		s.roster[u.ID] = &domain.Participant{ID: u.ID, Name: u.Name}
	}
	p := *s.roster[u.ID]
	mgr := s.peers
	s.mu.Unlock()

	s.publish(ParticipantJoinedEvent{Participant: p})
	if err := mgr.Offer(u.ID); err != nil {
		log.Error().Err(err).Str("module", "session").Int64("participant", int64(u.ID)).Msg("offer to newcomer")
		mgr.DestroyLink(u.ID)
	}
}

// handleUserLeft destroys the link and marks the roster entry departed; the
// entry itself is retained until teardown.
func (s *Controller) handleUserLeft(env signal.Envelope) {
	var u signal.UserPayload
	if err := json.Unmarshal(env.Data, &u); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad user_left payload")
		return
	}
	s.mu.Lock()
	mgr := s.peers
	p, ok := s.roster[u.ID]
	if ok {
		p.Departed = true
	}
	var snap domain.Participant
	if ok {
		snap = *p
	} else {
		snap = domain.Participant{ID: u.ID, Name: u.Name, Departed: true}
	}
	s.mu.Unlock()

	mgr.DestroyLink(u.ID)
	s.publish(ParticipantLeftEvent{Participant: snap})
}

// handleOffer answers an incoming offer, creating or reusing the link. A
// negotiation failure tears the link down; it is recreated on the next
// user_joined or offer from that participant.
func (s *Controller) handleOffer(env signal.Envelope) {
	var p signal.SDPPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad offer payload")
		return
	}
	s.mu.Lock()
	mgr := s.peers
	s.mu.Unlock()
	if err := mgr.HandleOffer(env.SenderID, p); err != nil {
		log.Error().Err(err).Str("module", "session").Int64("participant", int64(env.SenderID)).Msg("offer failed, destroying link")
		mgr.DestroyLink(env.SenderID)
	}
}

func (s *Controller) handleAnswer(env signal.Envelope) {
	var p signal.SDPPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad answer payload")
		return
	}
	s.mu.Lock()
	mgr := s.peers
	s.mu.Unlock()
	if err := mgr.HandleAnswer(env.SenderID, p); err != nil {
		log.Error().Err(err).Str("module", "session").Int64("participant", int64(env.SenderID)).Msg("answer failed, destroying link")
		mgr.DestroyLink(env.SenderID)
	}
}

func (s *Controller) handleCandidate(env signal.Envelope) {
	var p signal.CandidatePayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad candidate payload")
		return
	}
	s.mu.Lock()
	mgr := s.peers
	s.mu.Unlock()
	if err := mgr.HandleCandidate(env.SenderID, p); err != nil {
		log.Error().Err(err).Str("module", "session").Int64("participant", int64(env.SenderID)).Msg("candidate rejected")
	}
}

func (s *Controller) handleChat(env signal.Envelope) {
	var p signal.ChatPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad chat payload")
		return
	}
	s.publish(ChatEvent{From: env.SenderID, Text: p.Text})
}

func (s *Controller) handleServerError(env signal.Envelope) {
	var p signal.ErrorPayload
	_ = json.Unmarshal(env.Data, &p)
	log.Error().Str("module", "session").Str("error", p.Error).Msg("server error envelope")
	s.publish(StatusEvent{From: env.SenderID, Type: signal.TypeError})
}
