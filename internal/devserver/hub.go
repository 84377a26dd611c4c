package devserver

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hireloop/meet/internal/domain"
)

// Hub assigns stable numeric participant ids per token and owns the room set.
// In production these ids come from the auth collaborator; here a token seen
// for the first time gets the next id.
type Hub struct {
	mu     sync.Mutex
	rooms  map[domain.RoomID]*room
	ids    map[string]domain.ParticipantID
	names  map[domain.ParticipantID]string
	nextID domain.ParticipantID
}

func NewHub() *Hub {
	return &Hub{
		rooms:  make(map[domain.RoomID]*room),
		ids:    make(map[string]domain.ParticipantID),
		names:  make(map[domain.ParticipantID]string),
		nextID: 1,
	}
}

// Identify maps a bearer token to a participant id and display name,
// allocating both on first sight. An empty token gets a throwaway identity.
func (h *Hub) Identify(token, name string) (domain.ParticipantID, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if token == "" {
		token = uuid.NewString()
	}
	id, ok := h.ids[token]
	if !ok {
		id = h.nextID
		h.nextID++
		h.ids[token] = id
	}
	if name != "" {
		p, err := domain.NewParticipant(id, name)
		if err != nil {
			log.Warn().Err(err).Str("module", "devserver").Int64("participant", int64(id)).Msg("display name rejected")
		} else {
			h.names[id] = p.Name
		}
	}
	if h.names[id] == "" {
		h.names[id] = "guest"
	}
	return id, h.names[id]
}

func (h *Hub) getOrCreateRoom(id domain.RoomID) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[id]; ok {
		return r
	}
	r := newRoom(id)
	h.rooms[id] = r
	return r
}

// Room returns an existing room, if any.
func (h *Hub) Room(id domain.RoomID) (*room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[id]
	return r, ok
}
