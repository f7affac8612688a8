package core

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chorus/internal/domain"
	"github.com/dkeye/Chorus/internal/sdp"
)

// DefaultCapabilities is the fixed per-room media capability set: opus for
// audio, vp8 with flexfec for video, plus the header extensions the
// forwarding path understands.
func DefaultCapabilities() sdp.Capabilities {
	return sdp.Capabilities{
		Audio: &sdp.MediaCapability{
			Codecs: []string{"opus"},
			Extensions: []string{
				"urn:ietf:params:rtp-hdrext:ssrc-audio-level",
				"http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01",
			},
		},
		Video: &sdp.MediaCapability{
			Codecs: []string{"vp8", "flexfec-03"},
			Extensions: []string{
				"http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time",
				"http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01",
			},
		},
	}
}

// Room owns the participant set of one conference and performs the
// publish fan-out wiring: every stream a participant publishes is mirrored
// to every other registered participant.
//
// A single exclusive lock serializes membership mutation, the join
// sequence and fan-out iteration, so a publish and a concurrent join
// observe each other under one consistent snapshot.
type Room struct {
	id           domain.RoomID
	uri          string
	endpoint     Endpoint
	capabilities sdp.Capabilities

	mu           sync.Mutex
	closed       bool
	participants map[domain.ParticipantID]*Participant
	nextID       domain.ParticipantID

	onParticipants Emitter[domain.RoomInfo]

	// onEmpty reports the room back to the registry for eviction once the
	// last participant leaves.
	onEmpty func(*Room)
}

func NewRoom(id domain.RoomID, endpoint Endpoint, capabilities sdp.Capabilities, onEmpty func(*Room)) *Room {
	return &Room{
		id:           id,
		uri:          "rooms/" + string(id),
		endpoint:     endpoint,
		capabilities: capabilities,
		participants: make(map[domain.ParticipantID]*Participant),
		onEmpty:      onEmpty,
	}
}

func (r *Room) ID() domain.RoomID              { return r.id }
func (r *Room) URI() string                    { return r.uri }
func (r *Room) Endpoint() Endpoint             { return r.endpoint }
func (r *Room) Capabilities() sdp.Capabilities { return r.capabilities }

// OnParticipantsChanged fires with a fresh membership snapshot on every
// registration and removal.
func (r *Room) OnParticipantsChanged(fn func(domain.RoomInfo)) (unsubscribe func()) {
	return r.onParticipants.Subscribe(fn)
}

// Join runs the whole join sequence under the room lock: allocate the
// participant, snapshot the streams that exist before it (so it never
// mirrors itself), initialize it against the remote description, mirror
// every prior stream to it and only then register it.
//
// Registration is deferred until Init succeeds, so a failed join never
// leaves a half-built participant in the room. On failure the participant
// is stopped before the error is returned.
func (r *Room) Join(name string, remote *sdp.Description) (*Participant, domain.RoomInfo, error) {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return nil, domain.RoomInfo{}, ErrRoomClosed
	}

	id := r.nextID
	r.nextID++

	p := newParticipant(id, name, r)
	p.OnStream(func(stream IncomingStream) { r.fanOut(p, stream) })
	p.OnStopped(func() { r.removeParticipant(p) })

	log.Info().Str("module", "core.room").Str("room", string(r.id)).
		Int("id", int(id)).Str("name", name).Msg("participant joining")

	existing := r.streamsLocked()

	if err := p.Init(remote); err != nil {
		r.mu.Unlock()
		r.abortJoin(p)
		return nil, domain.RoomInfo{}, err
	}

	for _, stream := range existing {
		if err := p.AddStream(stream); err != nil {
			r.mu.Unlock()
			r.abortJoin(p)
			return nil, domain.RoomInfo{}, err
		}
	}

	r.participants[id] = p
	info := r.infoLocked()
	r.mu.Unlock()

	r.onParticipants.Emit(info)
	return p, info, nil
}

// abortJoin releases a participant that failed mid-join and, if this was
// the join that lazily created the room, hands the empty room back for
// eviction.
func (r *Room) abortJoin(p *Participant) {
	p.Stop()
	if r.ParticipantCount() == 0 && r.onEmpty != nil {
		r.onEmpty(r)
	}
}

// fanOut mirrors a newly published stream to every other registered
// participant. Runs under the room lock so no participant joins or leaves
// mid-iteration.
func (r *Room) fanOut(from *Participant, stream IncomingStream) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, other := range r.participants {
		if id == from.ID() {
			continue
		}
		if err := other.AddStream(stream); err != nil {
			log.Error().Err(err).Str("module", "core.room").Str("room", string(r.id)).
				Int("to", int(id)).Str("stream", stream.ID()).Msg("fan-out failed")
		}
	}
}

func (r *Room) removeParticipant(p *Participant) {
	r.mu.Lock()
	if _, ok := r.participants[p.ID()]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.participants, p.ID())
	empty := len(r.participants) == 0
	info := r.infoLocked()
	r.mu.Unlock()

	log.Info().Str("module", "core.room").Str("room", string(r.id)).
		Int("id", int(p.ID())).Msg("participant removed")
	r.onParticipants.Emit(info)

	if empty && r.onEmpty != nil {
		r.onEmpty(r)
	}
}

// Streams flattens every registered participant's published streams; used
// to seed a joining participant with the room's existing media.
func (r *Room) Streams() []IncomingStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streamsLocked()
}

func (r *Room) streamsLocked() []IncomingStream {
	var out []IncomingStream
	for _, id := range r.orderedIDs() {
		out = append(out, r.participants[id].incomingSnapshot()...)
	}
	return out
}

// Info returns the membership snapshot: room id plus each participant's
// public info.
func (r *Room) Info() domain.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.infoLocked()
}

func (r *Room) infoLocked() domain.RoomInfo {
	info := domain.RoomInfo{ID: r.id, Participants: []domain.ParticipantInfo{}}
	for _, id := range r.orderedIDs() {
		info.Participants = append(info.Participants, r.participants[id].Info())
	}
	return info
}

func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// closeIfEmpty marks the room closed when no participant remains, so a
// joiner racing the eviction gets ErrRoomClosed instead of landing in an
// unregistered room. Returns whether the room was closed.
func (r *Room) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.participants) > 0 {
		return false
	}
	r.closed = true
	return true
}

func (r *Room) orderedIDs() []domain.ParticipantID {
	ids := make([]domain.ParticipantID, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
