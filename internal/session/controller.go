// Package session is the top-level orchestrator: it drives join/leave
// lifecycle, owns the participant roster, translates signaling envelopes into
// peer and media operations, and exposes the single external API.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/hireloop/meet/internal/domain"
	"github.com/hireloop/meet/internal/media"
	"github.com/hireloop/meet/internal/peer"
	"github.com/hireloop/meet/internal/signal"
)

var ErrNotConnected = errors.New("session not connected")

// Options tune session behavior. Zero values fall back to defaults.
type Options struct {
	Endpoint    string
	Constraints media.Constraints
	JoinTimeout time.Duration

	// Supervised signaling reconnect, cancelled by Disconnect.
	ReconnectAttempts int
	ReconnectBase     time.Duration
	ReconnectCap      time.Duration
}

func (o *Options) withDefaults() {
	if o.JoinTimeout == 0 {
		o.JoinTimeout = 10 * time.Second
	}
	if o.ReconnectAttempts == 0 {
		o.ReconnectAttempts = 5
	}
	if o.ReconnectBase == 0 {
		o.ReconnectBase = 500 * time.Millisecond
	}
	if o.ReconnectCap == 0 {
		o.ReconnectCap = 8 * time.Second
	}
	if o.Constraints == (media.Constraints{}) {
		o.Constraints = media.DefaultConstraints()
	}
}

// Controller is one client's meeting session.
type Controller struct {
	opts  Options
	media *media.Controller

	mu     sync.Mutex
	ch     *signal.Channel
	peers  *peer.Manager
	selfID domain.ParticipantID
	room   domain.RoomID
	token  string
	roster map[domain.ParticipantID]*domain.Participant

	ctx          context.Context
	cancel       context.CancelFunc
	pumps        conc.WaitGroup
	events       chan Event
	eventsClosed bool
	connecting   bool
	connected    bool
	closing      bool
}

func New(opts Options, provider media.Provider) *Controller {
	opts.withDefaults()
	return &Controller{
		opts:   opts,
		media:  media.NewController(provider),
		roster: make(map[domain.ParticipantID]*domain.Participant),
		events: make(chan Event, 64),
	}
}

// Events is the outbound stream. Closed after Disconnect completes.
func (s *Controller) Events() <-chan Event { return s.events }

// SelfID returns the participant id assigned by the room-join acknowledgment.
func (s *Controller) SelfID() domain.ParticipantID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// PeerCount reports the number of live peer links.
func (s *Controller) PeerCount() int {
	s.mu.Lock()
	mgr := s.peers
	s.mu.Unlock()
	if mgr == nil {
		return 0
	}
	return mgr.Count()
}

// Roster snapshots the participant list, departed entries included.
func (s *Controller) Roster() []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Participant, 0, len(s.roster))
	for _, p := range s.roster {
		out = append(out, *p)
	}
	return out
}

// Send implements peer.Signaler, routing through whichever channel is
// current. The peer manager never holds a transport reference that a
// reconnect could invalidate.
func (s *Controller) Send(env signal.Envelope) {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		log.Warn().Str("module", "session").Str("type", env.Type).Msg("send with no channel dropped")
		return
	}
	ch.Send(env)
}

// Connect joins the room: acquire local media, open the signaling channel,
// await the room-join acknowledgment, then create links for every participant
// already present without offering (the present side offers first). The first
// failure of media or transport aborts the whole join.
func (s *Controller) Connect(ctx context.Context, room domain.RoomID, token string, turn []peer.TURNServer) error {
	// The connecting flag is set under the same lock as the check, so a
	// concurrent Connect fails fast instead of opening a second channel.
	s.mu.Lock()
	if s.connecting || s.connected || s.closing {
		s.mu.Unlock()
		return errors.New("session already used")
	}
	s.connecting = true
	s.mu.Unlock()

	state, err := s.media.AcquireCameraAndMic(ctx, s.opts.Constraints)
	if err != nil {
		return s.failConnect(&domain.JoinError{Stage: "media", Err: err})
	}

	ch, err := signal.Open(ctx, s.opts.Endpoint, room, token)
	if err != nil {
		s.media.Release()
		return s.failConnect(&domain.JoinError{Stage: "signaling", Err: err})
	}

	ack, early, err := awaitJoined(ctx, ch, s.opts.JoinTimeout)
	if err != nil {
		ch.Close()
		s.media.Release()
		return s.failConnect(&domain.JoinError{Stage: "signaling", Err: err})
	}

	sctx, cancel := context.WithCancel(context.Background())
	mgr := peer.NewManager(ack.SelfID, peer.ICEConfiguration(turn), state, s)
	mgr.OnRemoteTrack = s.onRemoteTrack
	mgr.OnState = s.onPeerState

	s.mu.Lock()
	s.ch = ch
	s.peers = mgr
	s.selfID = ack.SelfID
	s.room = room
	s.token = token
	s.ctx, s.cancel = sctx, cancel
	s.connecting = false
	s.connected = true
	s.mu.Unlock()

	s.syncRoster(ack)

	for _, env := range early {
		s.dispatch(env)
	}
	s.pumps.Go(func() { s.run(ch) })

	log.Info().Str("module", "session").
		Str("room", string(room)).
		Int64("self", int64(ack.SelfID)).
		Int("present", len(ack.Participants)).
		Msg("connected")
	return nil
}

// failConnect releases the connecting gate so a later Connect may retry.
func (s *Controller) failConnect(err error) error {
	s.mu.Lock()
	s.connecting = false
	s.mu.Unlock()
	return err
}

// awaitJoined reads envelopes until the meeting_joined acknowledgment,
// keeping anything that arrives ahead of it for later dispatch.
func awaitJoined(ctx context.Context, ch *signal.Channel, timeout time.Duration) (signal.JoinedPayload, []signal.Envelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var early []signal.Envelope
	for {
		select {
		case <-ctx.Done():
			return signal.JoinedPayload{}, nil, ctx.Err()
		case <-timer.C:
			return signal.JoinedPayload{}, nil, fmt.Errorf("%w: no join acknowledgment", domain.ErrConnection)
		case env, ok := <-ch.Incoming():
			if !ok {
				return signal.JoinedPayload{}, nil, fmt.Errorf("%w: channel closed before join acknowledgment", domain.ErrConnection)
			}
			if env.Type != signal.TypeMeetingJoined {
				early = append(early, env)
				continue
			}
			var ack signal.JoinedPayload
			if err := json.Unmarshal(env.Data, &ack); err != nil {
				return signal.JoinedPayload{}, nil, fmt.Errorf("%w: bad join acknowledgment: %v", domain.ErrConnection, err)
			}
			return ack, early, nil
		}
	}
}

// syncRoster reconciles the roster and link set against a join
// acknowledgment. Links for present participants are created without
// offering; stale links for absent participants are destroyed.
func (s *Controller) syncRoster(ack signal.JoinedPayload) {
	present := make(map[domain.ParticipantID]bool, len(ack.Participants))
	for _, u := range ack.Participants {
		present[u.ID] = true
		s.mu.Lock()
		if p, ok := s.roster[u.ID]; ok {
			p.Departed = false
			p.Name = u.Name
		} else {
			s.roster[u.ID] = &domain.Participant{ID: u.ID, Name: u.Name}
		}
		mgr := s.peers
		s.mu.Unlock()
		if _, err := mgr.CreateLink(u.ID); err != nil {
			log.Error().Err(err).Str("module", "session").Int64("participant", int64(u.ID)).Msg("link for present participant")
		}
	}

	s.mu.Lock()
	mgr := s.peers
	var gone []domain.ParticipantID
	for id, p := range s.roster {
		if !present[id] && !p.Departed {
			p.Departed = true
			gone = append(gone, id)
		}
	}
	s.mu.Unlock()
	for _, id := range gone {
		mgr.DestroyLink(id)
	}
}

func (s *Controller) onRemoteTrack(id domain.ParticipantID, streamID string, track *webrtc.TrackRemote) {
	s.publish(RemoteStreamEvent{Participant: id, StreamID: streamID, Track: track})
}

func (s *Controller) onPeerState(id domain.ParticipantID, state domain.ConnectionState) {
	ev := PeerStateEvent{Participant: id, State: state}
	if state == domain.ConnFailed {
		ev.Err = domain.ErrIceFailure
	}
	s.publish(ev)
}

// publish pushes an event without blocking the signaling pump; a full
// consumer drops the oldest semantics are not attempted, the event is logged
// and skipped.
func (s *Controller) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- ev:
	default:
		log.Warn().Str("module", "session").Type("event", ev).Msg("event dropped, consumer too slow")
	}
}

// SendChat relays a text message to the room. Delivery order across
// participants is not guaranteed.
func (s *Controller) SendChat(text string) error {
	s.mu.Lock()
	connected := s.connected
	room := s.room
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	env, err := signal.NewEnvelope(signal.TypeChatMessage, room, signal.ChatPayload{Text: text})
	if err != nil {
		return err
	}
	s.Send(env)
	return nil
}

// ToggleAudio flips the outbound audio enablement and broadcasts the matching
// mute/unmute notification. No renegotiation happens.
func (s *Controller) ToggleAudio() (bool, error) {
	enabled, err := s.media.ToggleAudio()
	if err != nil {
		return false, err
	}
	typ := signal.TypeMuteAudio
	if enabled {
		typ = signal.TypeUnmuteAudio
	}
	s.broadcastStatus(typ)
	return enabled, nil
}

// ToggleVideo flips the outbound video enablement and broadcasts the matching
// notification.
func (s *Controller) ToggleVideo() (bool, error) {
	enabled, err := s.media.ToggleVideo()
	if err != nil {
		return false, err
	}
	typ := signal.TypeMuteVideo
	if enabled {
		typ = signal.TypeUnmuteVideo
	}
	s.broadcastStatus(typ)
	return enabled, nil
}

// StartScreenShare substitutes the outbound video sender on every active link
// with a display capture track, then notifies the room. Connections are not
// torn down or renegotiated.
func (s *Controller) StartScreenShare() error {
	s.mu.Lock()
	mgr := s.peers
	s.mu.Unlock()
	if mgr == nil {
		return ErrNotConnected
	}
	track, err := s.media.StartScreenShare()
	if err != nil {
		return err
	}
	if err := mgr.ReplaceVideoTrack(track); err != nil {
		return err
	}
	s.broadcastStatus(signal.TypeScreenShareStart)
	return nil
}

// StopScreenShare restores the camera track on every active link and notifies
// the room.
func (s *Controller) StopScreenShare() error {
	s.mu.Lock()
	mgr := s.peers
	s.mu.Unlock()
	if mgr == nil {
		return ErrNotConnected
	}
	track, err := s.media.StopScreenShare()
	if err != nil {
		return err
	}
	if err := mgr.ReplaceVideoTrack(track); err != nil {
		return err
	}
	s.broadcastStatus(signal.TypeScreenShareStop)
	return nil
}

func (s *Controller) broadcastStatus(typ string) {
	s.mu.Lock()
	room := s.room
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return
	}
	s.Send(signal.Envelope{Type: typ, RoomID: room})
}

// Disconnect tears down every link, closes the signaling channel and releases
// local media. Safe to call at any point, including mid-negotiation; every
// exit path of the session funnels through here.
func (s *Controller) Disconnect() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.connected = false
	cancel := s.cancel
	ch := s.ch
	mgr := s.peers
	s.ch = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if mgr != nil {
		mgr.DestroyAll()
	}
	if ch != nil {
		ch.Close()
	}
	s.media.Release()
	s.pumps.Wait()

	s.publish(DisconnectedEvent{})
	s.mu.Lock()
	s.eventsClosed = true
	s.mu.Unlock()
	close(s.events)
	log.Info().Str("module", "session").Str("room", string(s.room)).Msg("disconnected")
}
