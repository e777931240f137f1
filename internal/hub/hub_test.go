package hub

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomhub/internal/apperr"
	"github.com/Tyrowin/roomhub/internal/event"
)

func alice() event.Identity {
	return event.Identity{UserID: 5, Username: "alice", Role: event.RoleUser}
}

func admin() event.Identity {
	return event.Identity{UserID: 7, Username: "root", Role: event.RoleAdmin}
}

func newHub(t *testing.T) (*Registry, *Rooms) {
	t.Helper()
	reg := NewRegistry(zerolog.Nop())
	rooms := NewRooms(reg, zerolog.Nop())
	reg.OnDeregister(func(c *Connection) { rooms.Leave(c.ID) })
	return reg, rooms
}

func drain(c *Connection) []string {
	var out []string
	for {
		select {
		case msg, ok := <-c.Outbound():
			if !ok {
				return out
			}
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

// TestRegisterAssignsUniqueIDs verifies that every registration gets its
// own id and is counted.
func TestRegisterAssignsUniqueIDs(t *testing.T) {
	reg, _ := newHub(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		c := reg.Register("127.0.0.1:1")
		assert.False(t, seen[c.ID], "duplicate id %s", c.ID)
		seen[c.ID] = true
	}
	assert.Equal(t, 50, reg.Count())
}

// TestDeregisterIsIdempotent verifies that a second deregistration is a
// no-op: the hook runs once and the queue is closed once.
func TestDeregisterIsIdempotent(t *testing.T) {
	reg, rooms := newHub(t)

	var hookCalls atomic.Int32
	reg.OnDeregister(func(*Connection) { hookCalls.Add(1) })

	c := reg.Register("127.0.0.1:1")
	other := reg.Register("127.0.0.1:2")
	_, err := rooms.Join(c.ID, 1, alice())
	require.NoError(t, err)
	_, err = rooms.Join(other.ID, 1, admin())
	require.NoError(t, err)

	assert.True(t, reg.Deregister(c.ID))
	assert.NotPanics(t, func() { assert.False(t, reg.Deregister(c.ID)) })

	assert.Equal(t, int32(1), hookCalls.Load())
	assert.Equal(t, 1, rooms.MemberCount(1))
	assert.Equal(t, 1, reg.Count())

	_, open := <-c.Outbound()
	assert.False(t, open, "queue must be closed after deregistration")
}

// TestSendFailsSoft verifies that sends to unknown, closed or saturated
// connections return false instead of panicking, and that a saturated
// connection is dropped.
func TestSendFailsSoft(t *testing.T) {
	reg, _ := newHub(t)

	assert.False(t, reg.Send("missing", []byte("x")))

	c := reg.Register("127.0.0.1:1")
	reg.Deregister(c.ID)
	assert.NotPanics(t, func() { assert.False(t, reg.Send(c.ID, []byte("x"))) })

	slow := reg.Register("127.0.0.1:2")
	for i := 0; i < DefaultQueueSize; i++ {
		require.True(t, reg.Send(slow.ID, []byte("x")))
	}
	assert.False(t, reg.Send(slow.ID, []byte("overflow")))

	assert.Eventually(t, func() bool {
		_, ok := reg.Get(slow.ID)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

// TestJoinTracksModerators verifies that privileged roles land in the
// moderator set and ordinary users do not.
func TestJoinTracksModerators(t *testing.T) {
	reg, rooms := newHub(t)
	user := reg.Register("a")
	mod := reg.Register("b")

	res, err := rooms.Join(user.ID, 1, alice())
	require.NoError(t, err)
	assert.Equal(t, 1, res.MemberCount)

	res, err = rooms.Join(mod.ID, 1, admin())
	require.NoError(t, err)
	assert.Equal(t, 2, res.MemberCount)

	assert.False(t, rooms.IsModerator(1, user.ID))
	assert.True(t, rooms.IsModerator(1, mod.ID))
	assert.False(t, rooms.IsModerator(2, mod.ID))

	// Rejoining with a demoted identity refreshes the moderator set.
	demoted := admin()
	demoted.Role = event.RoleUser
	res, err = rooms.Join(mod.ID, 1, demoted)
	require.NoError(t, err)
	assert.True(t, res.Rejoined)
	assert.Equal(t, 2, res.MemberCount)
	assert.False(t, rooms.IsModerator(1, mod.ID))
}

// TestJoinAnotherRoomLeavesPrevious verifies the one-room-per-connection
// rule and eviction of the emptied room.
func TestJoinAnotherRoomLeavesPrevious(t *testing.T) {
	reg, rooms := newHub(t)
	c := reg.Register("a")

	_, err := rooms.Join(c.ID, 1, alice())
	require.NoError(t, err)

	res, err := rooms.Join(c.ID, 2, alice())
	require.NoError(t, err)
	require.NotNil(t, res.Previous)
	assert.Equal(t, int64(1), res.Previous.RoomID)
	assert.Equal(t, 0, res.Previous.Remaining)

	assert.Equal(t, 0, rooms.MemberCount(1))
	assert.Equal(t, 1, rooms.MemberCount(2))
	assert.Equal(t, 1, rooms.RoomCount())

	roomID, identity, ok := rooms.Membership(c.ID)
	require.True(t, ok)
	assert.Equal(t, int64(2), roomID)
	assert.Equal(t, "alice", identity.Username)
}

func TestJoinRequiresRegistration(t *testing.T) {
	_, rooms := newHub(t)
	_, err := rooms.Join("ghost", 1, alice())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 0, rooms.MemberCount(1))
}

func TestLeave(t *testing.T) {
	reg, rooms := newHub(t)
	a := reg.Register("a")
	b := reg.Register("b")
	_, _ = rooms.Join(a.ID, 1, alice())
	_, _ = rooms.Join(b.ID, 1, admin())

	dep, ok := rooms.Leave(b.ID)
	require.True(t, ok)
	assert.Equal(t, int64(1), dep.RoomID)
	assert.Equal(t, 1, dep.Remaining)
	assert.Equal(t, "root", dep.Identity.Username)
	assert.False(t, rooms.IsModerator(1, b.ID))

	_, ok = rooms.Leave(b.ID)
	assert.False(t, ok)

	_, ok = rooms.Leave(a.ID)
	require.True(t, ok)
	assert.Equal(t, 0, rooms.RoomCount())
}

// TestBroadcastExcludesSender verifies fan-out to every member but the
// excluded one, and that rooms are isolated.
func TestBroadcastExcludesSender(t *testing.T) {
	reg, rooms := newHub(t)
	a := reg.Register("a")
	b := reg.Register("b")
	c := reg.Register("c")
	_, _ = rooms.Join(a.ID, 1, alice())
	_, _ = rooms.Join(b.ID, 1, admin())
	_, _ = rooms.Join(c.ID, 2, alice())

	assert.Equal(t, 2, rooms.Broadcast(1, []byte("all"), ""))
	assert.Equal(t, 1, rooms.Broadcast(1, []byte("others"), a.ID))
	assert.Equal(t, 0, rooms.Broadcast(99, []byte("nobody"), ""))

	assert.Equal(t, []string{"all"}, drain(a))
	assert.Equal(t, []string{"all", "others"}, drain(b))
	assert.Empty(t, drain(c))
}

// TestBroadcastSurvivesDeadMember verifies that one dead connection does not
// stop delivery to the rest of the room.
func TestBroadcastSurvivesDeadMember(t *testing.T) {
	reg, rooms := newHub(t)
	live := reg.Register("live")
	dead := reg.Register("dead")
	_, _ = rooms.Join(live.ID, 1, alice())
	_, _ = rooms.Join(dead.ID, 1, admin())

	// Mark the connection closed without running the leave hook, as if the
	// broadcast raced with a disconnect.
	reg.mu.Lock()
	dead.closed = true
	reg.mu.Unlock()

	assert.Equal(t, 1, rooms.Broadcast(1, []byte("hi"), ""))
	assert.Equal(t, []string{"hi"}, drain(live))
}

// TestSequenceOrdersBroadcasts verifies that operations sequenced on one
// room are delivered to members in the order they ran.
func TestSequenceOrdersBroadcasts(t *testing.T) {
	reg, rooms := newHub(t)
	member := reg.Register("m")
	_, _ = rooms.Join(member.ID, 1, alice())

	var (
		next int
		wg   sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = rooms.Sequence(1, func() error {
				next++
				rooms.Broadcast(1, []byte(fmt.Sprint(next)), "")
				return nil
			})
		}()
	}
	wg.Wait()

	got := drain(member)
	require.Len(t, got, 50)
	for i, msg := range got {
		assert.Equal(t, fmt.Sprint(i+1), msg)
	}
}

// TestSequenceDoesNotLeakRooms verifies that sequencing on a room with no
// members leaves nothing behind.
func TestSequenceDoesNotLeakRooms(t *testing.T) {
	_, rooms := newHub(t)

	err := rooms.Sequence(42, func() error { return apperr.Validation("nope") })
	assert.ErrorIs(t, err, apperr.ErrValidation)

	rooms.mu.RLock()
	defer rooms.mu.RUnlock()
	assert.Empty(t, rooms.rooms)
}

// TestMemberCountInvariant churns joins, leaves and disconnects
// concurrently and then checks MemberCount against the registry.
func TestMemberCountInvariant(t *testing.T) {
	reg, rooms := newHub(t)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := reg.Register(fmt.Sprintf("peer-%d", i))
			id := event.Identity{UserID: int64(i + 1), Username: fmt.Sprintf("u%d", i), Role: event.RoleUser}
			_, _ = rooms.Join(c.ID, int64(i%3+1), id)
			switch i % 4 {
			case 0:
				rooms.Leave(c.ID)
			case 1:
				reg.Deregister(c.ID)
			case 2:
				_, _ = rooms.Join(c.ID, int64((i+1)%3+1), id)
			}
		}(i)
	}
	wg.Wait()

	for roomID := int64(1); roomID <= 3; roomID++ {
		want := 0
		for _, m := range rooms.Members(roomID) {
			if _, ok := reg.Get(m.ConnID); ok {
				want++
			}
		}
		assert.Equal(t, want, rooms.MemberCount(roomID), "room %d", roomID)
		assert.Len(t, rooms.Members(roomID), want, "room %d holds deregistered connections", roomID)
	}
}
