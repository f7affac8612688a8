package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Chorus/internal/domain"
)

func newTestRoom(t *testing.T, onEmpty func(*Room)) (*Room, *fakeEndpoint) {
	t.Helper()
	endpoint := &fakeEndpoint{}
	return NewRoom("main", endpoint, DefaultCapabilities(), onEmpty), endpoint
}

func join(t *testing.T, r *Room, name string, withStream bool) (*Participant, domain.RoomInfo) {
	t.Helper()
	remote, err := testOffer(withStream)
	require.NoError(t, err)
	p, info, err := r.Join(name, remote)
	require.NoError(t, err)
	return p, info
}

func publish(t *testing.T, p *Participant) {
	t.Helper()
	remote, err := testOffer(true)
	require.NoError(t, err)
	for _, s := range remote.Streams() {
		require.NoError(t, p.PublishStream(s))
	}
}

func TestJoinAssignsMonotonicIDs(t *testing.T) {
	room, _ := newTestRoom(t, nil)

	alice, _ := join(t, room, "alice", false)
	bob, _ := join(t, room, "bob", false)
	require.Equal(t, domain.ParticipantID(0), alice.ID())
	require.Equal(t, domain.ParticipantID(1), bob.ID())

	alice.Stop()

	carol, _ := join(t, room, "carol", false)
	require.Equal(t, domain.ParticipantID(2), carol.ID())
}

func TestJoinReturnsMembershipSnapshot(t *testing.T) {
	room, _ := newTestRoom(t, nil)

	_, info := join(t, room, "alice", false)
	require.Equal(t, domain.RoomID("main"), info.ID)
	require.Len(t, info.Participants, 1)
	require.Equal(t, "alice", info.Participants[0].Name)
	require.Equal(t, domain.ParticipantID(0), info.Participants[0].ID)
	require.Empty(t, info.Participants[0].Streams)

	_, info = join(t, room, "bob", false)
	require.Len(t, info.Participants, 2)
	require.Equal(t, "alice", info.Participants[0].Name)
	require.Equal(t, "bob", info.Participants[1].Name)
}

func TestPublishFansOutToPeersOnly(t *testing.T) {
	room, _ := newTestRoom(t, nil)

	alice, _ := join(t, room, "alice", true)
	bob, _ := join(t, room, "bob", false)

	publish(t, alice)

	require.Equal(t, 0, alice.OutgoingCount(), "publisher must not mirror its own stream")
	require.Equal(t, 1, bob.OutgoingCount())
	require.Len(t, bob.LocalDescription().Streams(), 1)
	require.Empty(t, alice.LocalDescription().Streams())
}

func TestJoinerReceivesExistingStreams(t *testing.T) {
	room, _ := newTestRoom(t, nil)

	alice, _ := join(t, room, "alice", true)
	publish(t, alice)

	bob, info := join(t, room, "bob", false)
	require.Equal(t, 1, bob.OutgoingCount())
	require.Len(t, bob.LocalDescription().Streams(), 1)
	require.Len(t, info.Participants, 2)
	require.Len(t, info.Participants[0].Streams, 1)
	require.Equal(t, domain.StreamID("stream0"), info.Participants[0].Streams[0])
}

func TestSourceStopRemovesMirroredStreams(t *testing.T) {
	room, _ := newTestRoom(t, nil)

	alice, _ := join(t, room, "alice", true)
	bob, _ := join(t, room, "bob", false)
	publish(t, alice)
	require.Equal(t, 1, bob.OutgoingCount())

	var updates []string
	bob.OnRenegotiationNeeded(func(rendered string) { updates = append(updates, rendered) })

	alice.Stop()

	require.Equal(t, 0, bob.OutgoingCount())
	require.Empty(t, bob.LocalDescription().Streams())
	require.Len(t, updates, 1, "exactly one update per removed stream")
}

func TestParticipantsChangedFiresOnJoinAndLeave(t *testing.T) {
	room, _ := newTestRoom(t, nil)

	var snapshots []domain.RoomInfo
	unsub := room.OnParticipantsChanged(func(info domain.RoomInfo) {
		snapshots = append(snapshots, info)
	})

	alice, _ := join(t, room, "alice", false)
	_, _ = join(t, room, "bob", false)
	require.Len(t, snapshots, 2)
	require.Len(t, snapshots[0].Participants, 1)
	require.Len(t, snapshots[1].Participants, 2)

	alice.Stop()
	require.Len(t, snapshots, 3)
	require.Len(t, snapshots[2].Participants, 1)
	require.Equal(t, "bob", snapshots[2].Participants[0].Name)

	unsub()
	_, _ = join(t, room, "carol", false)
	require.Len(t, snapshots, 3, "unsubscribed observer must not fire")
}

func TestJoinClosedRoom(t *testing.T) {
	room, _ := newTestRoom(t, nil)
	require.True(t, room.closeIfEmpty())

	remote, err := testOffer(false)
	require.NoError(t, err)
	_, _, err = room.Join("alice", remote)
	require.ErrorIs(t, err, ErrRoomClosed)
}

func TestFailedJoinLeavesNoParticipant(t *testing.T) {
	var evicted []*Room
	room, endpoint := newTestRoom(t, func(r *Room) { evicted = append(evicted, r) })
	endpoint.failCreate = true

	remote, err := testOffer(false)
	require.NoError(t, err)
	_, _, err = room.Join("alice", remote)
	require.Error(t, err)
	require.Equal(t, 0, room.ParticipantCount())
	require.Len(t, evicted, 1, "failed first join must hand the room back for eviction")
}

func TestLastLeaveReportsEmptyRoom(t *testing.T) {
	var evicted []*Room
	room, _ := newTestRoom(t, func(r *Room) { evicted = append(evicted, r) })

	alice, _ := join(t, room, "alice", false)
	bob, _ := join(t, room, "bob", false)

	alice.Stop()
	require.Empty(t, evicted)

	bob.Stop()
	require.Len(t, evicted, 1)
	require.Same(t, room, evicted[0])
}

func TestRoomStreamsFlattensPublishers(t *testing.T) {
	room, _ := newTestRoom(t, nil)

	alice, _ := join(t, room, "alice", true)
	_, _ = join(t, room, "bob", false)
	require.Empty(t, room.Streams())

	publish(t, alice)
	streams := room.Streams()
	require.Len(t, streams, 1)
	require.Equal(t, "stream0", streams[0].ID())
}
