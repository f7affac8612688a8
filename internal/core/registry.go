package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chorus/internal/domain"
)

// Registry is the process-wide room lookup. Rooms are created lazily on
// first join and evicted once their participant count drops back to zero,
// releasing their endpoint with them.
type Registry struct {
	engine Engine

	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewRegistry(engine Engine) *Registry {
	return &Registry{
		engine: engine,
		rooms:  make(map[domain.RoomID]*Room),
	}
}

// GetOrCreate returns the room for id, constructing and registering it
// atomically with respect to concurrent lookups on the same id.
func (r *Registry) GetOrCreate(id domain.RoomID) (*Room, error) {
	r.mu.RLock()
	room, ok := r.rooms[id]
	r.mu.RUnlock()
	if ok {
		return room, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok = r.rooms[id]; ok {
		return room, nil
	}

	endpoint, err := r.engine.CreateEndpoint()
	if err != nil {
		return nil, fmt.Errorf("create endpoint: %w", err)
	}
	room = NewRoom(id, endpoint, DefaultCapabilities(), r.evict)
	r.rooms[id] = room
	log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("room created")
	return room, nil
}

// evict runs on a room's last-participant-left notification. The room is
// re-checked under the registry lock: a participant may have joined again
// between the notification and the eviction, in which case the room stays.
func (r *Registry) evict(room *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.rooms[room.ID()]
	if !ok || current != room {
		return
	}
	if !room.closeIfEmpty() {
		return
	}
	delete(r.rooms, room.ID())
	room.Endpoint().Stop()
	log.Info().Str("module", "core.registry").Str("room", string(room.ID())).Msg("room evicted")
}

// List returns summaries of the registered rooms, ordered by id.
func (r *Registry) List() []domain.RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.RoomSummary, 0, len(r.rooms))
	for id, room := range r.rooms {
		out = append(out, domain.RoomSummary{ID: id, ParticipantCount: room.ParticipantCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
