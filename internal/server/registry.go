package server

import (
	"errors"
	"sync"
)

// RoomRegistry owns the mapping from room code to live room. It is the only
// shared mutable container in the process; rooms themselves serialize their
// own state.
type RoomRegistry struct {
	rooms map[string]*Room
	mu    sync.RWMutex
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]*Room),
	}
}

// Create makes a new room in WAITING with a collision-checked code and
// stores it.
func (rg *RoomRegistry) Create(mode GameMode, hostConnectionID string) *Room {
	rg.mu.Lock()
	defer rg.mu.Unlock()

	code := GenerateRoomCode(func(c string) bool {
		_, live := rg.rooms[c]
		return live
	})
	room := NewRoom(code, mode, hostConnectionID)
	rg.rooms[code] = room
	return room
}

func (rg *RoomRegistry) Get(code string) (*Room, error) {
	rg.mu.RLock()
	defer rg.mu.RUnlock()

	room, exists := rg.rooms[code]
	if !exists {
		return nil, errors.New("ROOM_NOT_FOUND: Room not found")
	}
	return room, nil
}

// Delete removes a room; redundant deletes are no-ops. The code becomes
// available for reuse.
func (rg *RoomRegistry) Delete(code string) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	delete(rg.rooms, code)
}

func (rg *RoomRegistry) Count() int {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	return len(rg.rooms)
}
