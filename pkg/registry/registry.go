// Package registry keeps track of which connections are in which rooms.
//
// Every room has its own lock, so joins and leaves of different rooms don't
// wait for each other. The index lock is held only for map lookups.
package registry

import (
	"errors"
	"sync"

	"github.com/meshrelay/meshrelay/pkg/com"
)

var ErrJoinedElsewhere = errors.New("already joined to another room")

type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
	// conn id -> room id
	where map[com.Uid]string
}

type room struct {
	id      string
	mu      sync.Mutex
	members map[com.Uid]struct{}
	// set when the room was emptied and removed from the index
	dead bool
}

func New() *Registry {
	return &Registry{rooms: map[string]*room{}, where: map[com.Uid]string{}}
}

// Join adds the connection to the room creating it if needed.
// It returns the members that had been in the room before the connection joined.
// Joining the same room again changes nothing.
func (r *Registry) Join(roomId string, id com.Uid) ([]com.Uid, error) {
	for {
		r.mu.Lock()
		if current, ok := r.where[id]; ok && current != roomId {
			r.mu.Unlock()
			return nil, ErrJoinedElsewhere
		}
		rm := r.rooms[roomId]
		if rm == nil {
			rm = &room{id: roomId, members: map[com.Uid]struct{}{}}
			r.rooms[roomId] = rm
		}
		r.mu.Unlock()

		rm.mu.Lock()
		if rm.dead {
			// lost the race with the last leave, look up again
			rm.mu.Unlock()
			continue
		}
		existing := rm.snapshot(id)
		if _, ok := rm.members[id]; !ok {
			r.mu.Lock()
			if current, ok := r.where[id]; ok && current != roomId {
				if len(rm.members) == 0 {
					rm.dead = true
					if r.rooms[roomId] == rm {
						delete(r.rooms, roomId)
					}
				}
				r.mu.Unlock()
				rm.mu.Unlock()
				return nil, ErrJoinedElsewhere
			}
			r.where[id] = roomId
			r.mu.Unlock()
			rm.members[id] = struct{}{}
		}
		rm.mu.Unlock()
		return existing, nil
	}
}

// Leave removes the connection from its room and deletes the room if
// it becomes empty. It returns false if the connection had not joined any room.
func (r *Registry) Leave(id com.Uid) (string, bool) {
	r.mu.Lock()
	roomId, ok := r.where[id]
	rm := r.rooms[roomId]
	r.mu.Unlock()
	if !ok || rm == nil {
		return "", false
	}

	rm.mu.Lock()
	delete(rm.members, id)
	empty := len(rm.members) == 0
	if empty {
		rm.dead = true
	}
	r.mu.Lock()
	delete(r.where, id)
	if empty && r.rooms[roomId] == rm {
		delete(r.rooms, roomId)
	}
	r.mu.Unlock()
	rm.mu.Unlock()
	return roomId, true
}

// Members returns a snapshot of the room members.
func (r *Registry) Members(roomId string) []com.Uid {
	r.mu.Lock()
	rm := r.rooms[roomId]
	r.mu.Unlock()
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.snapshot(com.NilUid)
}

// RoomOf returns the room of the connection.
func (r *Registry) RoomOf(id com.Uid) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomId, ok := r.where[id]
	return roomId, ok
}

// IsMember tells if the connection is currently in the room.
func (r *Registry) IsMember(roomId string, id com.Uid) bool {
	r.mu.Lock()
	rm := r.rooms[roomId]
	r.mu.Unlock()
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, ok := rm.members[id]
	return ok
}

// Count returns the number of rooms.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Rooms returns the number of members in each non-empty room.
func (r *Registry) Rooms() map[string]int {
	r.mu.Lock()
	list := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		list = append(list, rm)
	}
	r.mu.Unlock()

	out := make(map[string]int, len(list))
	for _, rm := range list {
		rm.mu.Lock()
		if !rm.dead && len(rm.members) > 0 {
			out[rm.id] = len(rm.members)
		}
		rm.mu.Unlock()
	}
	return out
}

func (rm *room) snapshot(except com.Uid) []com.Uid {
	out := make([]com.Uid, 0, len(rm.members))
	for id := range rm.members {
		if id != except {
			out = append(out, id)
		}
	}
	return out
}
