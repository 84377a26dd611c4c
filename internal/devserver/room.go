package devserver

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hireloop/meet/internal/domain"
	"github.com/hireloop/meet/internal/signal"
)

// member pairs a participant identity with its transport.
type member struct {
	id   domain.ParticipantID
	name string
	conn *wsClient
}

// room is a threadsafe membership set. It never closes transports; the
// controller that accepted the connection owns them.
type room struct {
	id domain.RoomID

	mu      sync.RWMutex
	members map[domain.ParticipantID]*member
}

func newRoom(id domain.RoomID) *room {
	return &room{id: id, members: make(map[domain.ParticipantID]*member)}
}

func (r *room) add(m *member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.id] = m
	log.Info().Str("module", "devserver").Str("room", string(r.id)).Int64("participant", int64(m.id)).Msg("member added")
}

func (r *room) remove(id domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, id)
	log.Info().Str("module", "devserver").Str("room", string(r.id)).Int64("participant", int64(id)).Msg("member removed")
}

func (r *room) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// snapshot lists current members for the join acknowledgment.
func (r *room) snapshot() []signal.UserPayload {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]signal.UserPayload, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, signal.UserPayload{ID: m.id, Name: m.name})
	}
	return out
}

// broadcast fans data out to every member except the sender.
func (r *room) broadcast(from domain.ParticipantID, data []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, m := range r.members {
		if id == from {
			continue
		}
		if err := m.conn.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "devserver").Int64("participant", int64(id)).Msg("broadcast drop")
		}
	}
}

// sendTo routes a targeted envelope to exactly one member.
func (r *room) sendTo(target domain.ParticipantID, data []byte) bool {
	r.mu.RLock()
	m, ok := r.members[target]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if err := m.conn.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "devserver").Int64("participant", int64(target)).Msg("targeted send drop")
		return false
	}
	return true
}
