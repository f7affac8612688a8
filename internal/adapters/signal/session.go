package signal

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/domain"
	"github.com/dkeye/Chorus/internal/sdp"
	"github.com/dkeye/Chorus/internal/transaction"
)

type joinPayload struct {
	Name string `json:"name"`
	SDP  string `json:"sdp"`
}

type joinResponse struct {
	SDP  string          `json:"sdp"`
	Room domain.RoomInfo `json:"room"`
}

type updateEvent struct {
	SDP string `json:"sdp"`
}

// session binds one connection to at most one participant and forwards
// room/participant notifications as push events.
type session struct {
	sid      string
	roomID   domain.RoomID
	registry *core.Registry
	channel  *transaction.Manager

	mu          sync.Mutex
	participant *core.Participant
}

func newSession(sid string, roomID domain.RoomID, registry *core.Registry, channel *transaction.Manager) *session {
	return &session{
		sid:      sid,
		roomID:   roomID,
		registry: registry,
		channel:  channel,
	}
}

func (s *session) handleCommand(cmd *transaction.Command) {
	switch cmd.Name {
	case "join":
		s.handleJoin(cmd)
	default:
		log.Warn().Str("module", "signal").Str("cmd", cmd.Name).Msg("unknown command")
		cmd.Reject("unknown command")
	}
}

// handleJoin runs the join sequence: resolve the room, join it (snapshot
// of prior streams, init, mirroring and registration happen inside under
// the room lock), accept with the answer and the membership snapshot, and
// only then publish the joiner's own streams so its answer is never
// polluted by them.
func (s *session) handleJoin(cmd *transaction.Command) {
	s.mu.Lock()
	already := s.participant != nil
	s.mu.Unlock()
	if already {
		cmd.Reject("already joined")
		return
	}

	var p joinPayload
	if err := json.Unmarshal(cmd.Data, &p); err != nil {
		cmd.Reject("malformed join payload")
		return
	}

	remote, err := sdp.Parse(p.SDP)
	if err != nil {
		cmd.Reject(err.Error())
		return
	}

	room, participant, info, err := s.joinRoom(p.Name, remote)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", s.sid).Msg("join failed")
		cmd.Reject(err.Error())
		return
	}

	// Subscribing after Join leaves a short window where a membership
	// change is not pushed to this connection. The join response below
	// carries the registration-time snapshot, and every participants
	// event is a full snapshot rather than a delta, so the next event
	// brings the connection back in sync.
	unsubRoom := room.OnParticipantsChanged(func(info domain.RoomInfo) {
		if err := s.channel.Event("participants", info.Participants); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", s.sid).Msg("participants event dropped")
		}
	})

	unsubUpdate := participant.OnRenegotiationNeeded(func(rendered string) {
		if err := s.channel.Event("update", updateEvent{SDP: rendered}); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", s.sid).Msg("update event dropped")
		}
	})

	// The stopped notification closes the connection and releases every
	// subscription this session took.
	participant.OnStopped(func() {
		unsubRoom()
		unsubUpdate()
		s.channel.Close()
	})

	s.mu.Lock()
	s.participant = participant
	s.mu.Unlock()

	cmd.Accept(joinResponse{
		SDP:  participant.LocalDescription().String(),
		Room: info,
	})

	// Publishing after the accept keeps the joiner's answer free of its
	// own streams and fans out only once it is fully registered.
	for _, stream := range remote.Streams() {
		if err := participant.PublishStream(stream); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("sid", s.sid).
				Str("stream", stream.ID).Msg("publish failed")
		}
	}
}

// joinRoom resolves the room and joins it, retrying once when the room
// loses the race with registry eviction.
func (s *session) joinRoom(name string, remote *sdp.Description) (*core.Room, *core.Participant, domain.RoomInfo, error) {
	for attempt := 0; attempt < 2; attempt++ {
		room, err := s.registry.GetOrCreate(s.roomID)
		if err != nil {
			return nil, nil, domain.RoomInfo{}, err
		}
		participant, info, err := room.Join(name, remote)
		if errors.Is(err, core.ErrRoomClosed) {
			continue
		}
		if err != nil {
			return nil, nil, domain.RoomInfo{}, err
		}
		return room, participant, info, nil
	}
	return nil, nil, domain.RoomInfo{}, core.ErrRoomClosed
}

// connectionClosed treats a dropped socket as an implicit leave.
func (s *session) connectionClosed() {
	s.mu.Lock()
	participant := s.participant
	s.mu.Unlock()

	if participant != nil {
		log.Info().Str("module", "signal").Str("sid", s.sid).Msg("connection closed, stopping participant")
		participant.Stop()
	}
}
