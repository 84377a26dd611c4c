package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hireloop/meet/internal/domain"
	"github.com/hireloop/meet/internal/signal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller accepts meeting websocket connections and relays envelopes.
type Controller struct {
	Hub        *Hub
	PingPeriod time.Duration
	ReadLimit  int64
}

func NewController(hub *Hub) *Controller {
	return &Controller{Hub: hub, PingPeriod: 54 * time.Second, ReadLimit: 64 * 1024}
}

// HandleMeeting upgrades /ws/meetings/:room. The join acknowledgment is
// queued before the member is added to the room, so the client always sees
// meeting_joined ahead of any broadcast concerning it.
func (ctl *Controller) HandleMeeting(ctx context.Context, c *gin.Context) {
	roomID := domain.RoomID(c.Param("room"))
	id, name := ctl.Hub.Identify(c.Query("token"), c.Query("name"))
	log.Info().Str("module", "devserver").Str("room", string(roomID)).Int64("participant", int64(id)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "devserver").Msg("ws upgrade")
		return
	}

	client := newWSClient(ws)
	r := ctl.Hub.getOrCreateRoom(roomID)

	ack, err := signal.NewEnvelope(signal.TypeMeetingJoined, roomID, signal.JoinedPayload{
		SelfID:       id,
		Participants: r.snapshot(),
	})
	if err != nil {
		client.Close()
		return
	}
	// the ack goes only to the newcomer
	if data, err := json.Marshal(ack); err == nil {
		_ = client.TrySend(data)
	}

	m := &member{id: id, name: name, conn: client}
	r.add(m)
	log.Info().Str("module", "devserver").Str("room", string(roomID)).Int("members", r.count()).Msg("room size")

	joined, err := signal.NewEnvelope(signal.TypeUserJoined, roomID, signal.UserPayload{ID: id, Name: name})
	if err == nil {
		joined.SenderID = id
		ctl.relay(r, id, joined)
	}

	connCtx, cancel := context.WithCancel(ctx)
	go client.writePump(connCtx, ctl.PingPeriod)
	go ctl.readPump(connCtx, cancel, r, m)
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, r *room, m *member) {
	defer func() {
		cancel()
		m.conn.Close()
		r.remove(m.id)
		left, err := signal.NewEnvelope(signal.TypeUserLeft, r.id, signal.UserPayload{ID: m.id, Name: m.name})
		if err == nil {
			left.SenderID = m.id
			ctl.relay(r, m.id, left)
		}
		log.Info().Str("module", "devserver").Int64("participant", int64(m.id)).Msg("readPump closing")
	}()

	m.conn.conn.SetReadLimit(ctl.ReadLimit)
	deadline := ctl.PingPeriod + 10*time.Second
	_ = m.conn.conn.SetReadDeadline(time.Now().Add(deadline))
	m.conn.conn.SetPongHandler(func(string) error {
		return m.conn.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := m.conn.conn.ReadMessage()
		if err != nil {
			return
		}
		var env signal.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Str("module", "devserver").Msg("bad json")
			continue
		}
		env.SenderID = m.id
		env.RoomID = r.id
		ctl.relay(r, m.id, env)
	}
}

// relay routes one envelope: targeted to a single member, otherwise a room
// broadcast excluding the sender.
func (ctl *Controller) relay(r *room, from domain.ParticipantID, env signal.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "devserver").Msg("marshal envelope")
		return
	}
	if env.Targeted() {
		if !r.sendTo(env.TargetUserID, data) {
			log.Warn().Str("module", "devserver").
				Int64("target", int64(env.TargetUserID)).
				Str("type", env.Type).
				Msg("target not in room")
		}
		return
	}
	r.broadcast(from, data)
}
