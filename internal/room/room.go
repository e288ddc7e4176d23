// Package room maps workspace and channel names to the set of member session
// ids. Rooms hold references only; session ownership stays with the registry.
package room

import "sync"

// Index tracks room membership. Rooms are created lazily on first join and
// pruned when the last member leaves. A reverse index keeps LeaveAll
// proportional to the number of rooms the session actually joined.
type Index struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]struct{} // room -> session ids
	joined  map[string]map[string]struct{} // session id -> rooms
}

// NewIndex creates an empty room index.
func NewIndex() *Index {
	return &Index{
		rooms:  make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
	}
}

// Join adds the session to the room. Joining a room the session is already
// in is a no-op.
func (i *Index) Join(roomName, sessionID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	members, ok := i.rooms[roomName]
	if !ok {
		members = make(map[string]struct{})
		i.rooms[roomName] = members
	}
	members[sessionID] = struct{}{}

	rooms, ok := i.joined[sessionID]
	if !ok {
		rooms = make(map[string]struct{})
		i.joined[sessionID] = rooms
	}
	rooms[roomName] = struct{}{}
}

// Leave removes the session from the room. Leaving a room the session is not
// in is a no-op.
func (i *Index) Leave(roomName, sessionID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.leaveLocked(roomName, sessionID)
}

// LeaveAll removes the session from every room it belongs to. Used on
// disconnect; callers do not need to know which rooms the session joined.
func (i *Index) LeaveAll(sessionID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for roomName := range i.joined[sessionID] {
		i.leaveLocked(roomName, sessionID)
	}
}

func (i *Index) leaveLocked(roomName, sessionID string) {
	if members, ok := i.rooms[roomName]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(i.rooms, roomName)
		}
	}
	if rooms, ok := i.joined[sessionID]; ok {
		delete(rooms, roomName)
		if len(rooms) == 0 {
			delete(i.joined, sessionID)
		}
	}
}

// Members returns a snapshot of the room's current membership. The copy lets
// callers iterate and send outside the lock, so a session disconnecting
// mid-broadcast cannot corrupt the iteration. Unknown rooms yield an empty
// slice.
func (i *Index) Members(roomName string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	members := i.rooms[roomName]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// Rooms returns a snapshot of the rooms the session currently belongs to.
func (i *Index) Rooms(sessionID string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	rooms := i.joined[sessionID]
	out := make([]string, 0, len(rooms))
	for name := range rooms {
		out = append(out, name)
	}
	return out
}

// Contains reports whether the session is a member of the room.
func (i *Index) Contains(roomName, sessionID string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()

	_, ok := i.rooms[roomName][sessionID]
	return ok
}
