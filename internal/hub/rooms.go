package hub

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomhub/internal/apperr"
	"github.com/Tyrowin/roomhub/internal/event"
	"github.com/Tyrowin/roomhub/internal/metrics"
)

// Member is one connection in a room and the identity it joined with.
type Member struct {
	ConnID   string
	Identity event.Identity
}

type room struct {
	id         int64
	members    map[string]event.Identity
	moderators map[string]struct{}

	// seq serializes persist-then-broadcast for the room.
	seq sync.Mutex
	// pending counts Sequence callers holding or waiting for seq; the room
	// is not evicted while it is non-zero.
	pending int
}

// JoinResult describes what a Join changed.
type JoinResult struct {
	// MemberCount is the room's size after the join.
	MemberCount int
	// Rejoined is set when the connection was already in the room and only
	// its identity was refreshed.
	Rejoined bool
	// Previous is set when the connection left another room to join this
	// one.
	Previous *Departure
}

// Departure describes a connection leaving a room.
type Departure struct {
	RoomID    int64
	Identity  event.Identity
	Remaining int
}

// Rooms owns room membership. A connection is in at most one room. Rooms
// are created on first join and evicted once empty.
type Rooms struct {
	mu       sync.RWMutex
	rooms    map[int64]*room
	memberOf map[string]int64
	registry *Registry
	log      zerolog.Logger
}

// NewRooms creates an empty room manager delivering through registry.
func NewRooms(registry *Registry, log zerolog.Logger) *Rooms {
	return &Rooms{
		rooms:    make(map[int64]*room),
		memberOf: make(map[string]int64),
		registry: registry,
		log:      log.With().Str("component", "rooms").Logger(),
	}
}

// Join puts connID in roomID under identity. Privileged roles are also added
// to the room's moderator set. Joining another room leaves the current one
// first. The connection must be registered.
func (rs *Rooms) Join(connID string, roomID int64, identity event.Identity) (JoinResult, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	// Checked under rs.mu so a concurrent Deregister's leave hook runs after
	// this join and removes it again.
	if _, ok := rs.registry.Get(connID); !ok {
		return JoinResult{}, apperr.NotFound("connection %s is not registered", connID)
	}

	var res JoinResult
	if prev, ok := rs.memberOf[connID]; ok {
		if prev == roomID {
			r := rs.rooms[roomID]
			r.members[connID] = identity
			rs.setModerator(r, connID, identity)
			res.Rejoined = true
			res.MemberCount = len(r.members)
			return res, nil
		}
		dep := rs.removeLocked(connID)
		res.Previous = &dep
	}

	r := rs.roomLocked(roomID)
	r.members[connID] = identity
	rs.setModerator(r, connID, identity)
	rs.memberOf[connID] = roomID
	res.MemberCount = len(r.members)

	rs.updateGauge()
	rs.log.Debug().Str("conn_id", connID).Int64("room_id", roomID).Int64("user_id", identity.UserID).Int("members", res.MemberCount).Msg("joined room")
	return res, nil
}

// Leave removes connID from its room. ok is false when it was in none.
func (rs *Rooms) Leave(connID string) (Departure, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, ok := rs.memberOf[connID]; !ok {
		return Departure{}, false
	}
	dep := rs.removeLocked(connID)
	rs.updateGauge()
	rs.log.Debug().Str("conn_id", connID).Int64("room_id", dep.RoomID).Int("members", dep.Remaining).Msg("left room")
	return dep, true
}

// removeLocked drops connID from its room and evicts the room when nothing
// else references it. rs.mu must be held and connID must be a member.
func (rs *Rooms) removeLocked(connID string) Departure {
	roomID := rs.memberOf[connID]
	delete(rs.memberOf, connID)

	r := rs.rooms[roomID]
	identity := r.members[connID]
	delete(r.members, connID)
	delete(r.moderators, connID)
	rs.evictLocked(r)

	return Departure{RoomID: roomID, Identity: identity, Remaining: len(r.members)}
}

func (rs *Rooms) roomLocked(roomID int64) *room {
	r, ok := rs.rooms[roomID]
	if !ok {
		r = &room{
			id:         roomID,
			members:    make(map[string]event.Identity),
			moderators: make(map[string]struct{}),
		}
		rs.rooms[roomID] = r
	}
	return r
}

func (rs *Rooms) evictLocked(r *room) {
	if len(r.members) == 0 && r.pending == 0 && rs.rooms[r.id] == r {
		delete(rs.rooms, r.id)
	}
}

func (rs *Rooms) setModerator(r *room, connID string, identity event.Identity) {
	if identity.Role.Privileged() {
		r.moderators[connID] = struct{}{}
	} else {
		delete(r.moderators, connID)
	}
}

func (rs *Rooms) updateGauge() {
	metrics.RoomsActive.Set(float64(rs.countLocked()))
}

func (rs *Rooms) countLocked() int {
	n := 0
	for _, r := range rs.rooms {
		if len(r.members) > 0 {
			n++
		}
	}
	return n
}

// Registry returns the registry the rooms draw their members from.
func (rs *Rooms) Registry() *Registry {
	return rs.registry
}

// Sequence runs fn while holding roomID's serialization lock. Everything
// the router persists and broadcasts for a room runs inside it, so members
// receive events in persistence order. Different rooms never contend.
// Sequence calls must not nest.
func (rs *Rooms) Sequence(roomID int64, fn func() error) error {
	rs.mu.Lock()
	r := rs.roomLocked(roomID)
	r.pending++
	rs.mu.Unlock()

	r.seq.Lock()
	defer func() {
		r.seq.Unlock()

		rs.mu.Lock()
		r.pending--
		rs.evictLocked(r)
		rs.mu.Unlock()
	}()

	return fn()
}

// Broadcast sends payload to every member of roomID except exclude (which
// may be empty) and returns how many sends succeeded. Failed sends are
// handled by the registry and never abort the loop.
func (rs *Rooms) Broadcast(roomID int64, payload []byte, exclude string) int {
	rs.mu.RLock()
	r, ok := rs.rooms[roomID]
	if !ok {
		rs.mu.RUnlock()
		return 0
	}
	targets := make([]string, 0, len(r.members))
	for connID := range r.members {
		if connID != exclude {
			targets = append(targets, connID)
		}
	}
	rs.mu.RUnlock()

	delivered := 0
	for _, connID := range targets {
		if rs.registry.Send(connID, payload) {
			delivered++
		}
	}
	return delivered
}

// MemberCount returns the number of connections in roomID.
func (rs *Rooms) MemberCount(roomID int64) int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if r, ok := rs.rooms[roomID]; ok {
		return len(r.members)
	}
	return 0
}

// IsModerator reports whether connID is in roomID's moderator set.
func (rs *Rooms) IsModerator(roomID int64, connID string) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	r, ok := rs.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = r.moderators[connID]
	return ok
}

// Members returns a snapshot of roomID's members.
func (rs *Rooms) Members(roomID int64) []Member {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	r, ok := rs.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Member, 0, len(r.members))
	for connID, identity := range r.members {
		out = append(out, Member{ConnID: connID, Identity: identity})
	}
	return out
}

// Membership returns the room connID is in and the identity it joined with.
func (rs *Rooms) Membership(connID string) (int64, event.Identity, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	roomID, ok := rs.memberOf[connID]
	if !ok {
		return 0, event.Identity{}, false
	}
	return roomID, rs.rooms[roomID].members[connID], true
}

// RoomCount returns the number of rooms with at least one member.
func (rs *Rooms) RoomCount() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	return rs.countLocked()
}
