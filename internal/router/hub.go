package router

import (
	"context"
	"sync"

	"github.com/AlexMickh/market-chat/pkg/logger"
	"go.uber.org/zap"
)

// Conn is one live socket as the router sees it.
type Conn interface {
	ID() string
	UserID() string
	// Send queues frame for writing and reports false when the connection
	// is gone or too slow to keep up.
	Send(frame []byte) bool
}

// Hub maps rooms to the connections joined to them on this instance.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Conn     // room -> conn id -> conn
	joined map[string]map[string]struct{} // conn id -> rooms
}

func NewHub() *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]Conn),
		joined: make(map[string]map[string]struct{}),
	}
}

// Join adds c to room and reports whether it was not a member yet.
func (h *Hub) Join(room string, c Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]Conn)
		h.rooms[room] = members
	}
	if _, ok := members[c.ID()]; ok {
		return false
	}
	members[c.ID()] = c

	if h.joined[c.ID()] == nil {
		h.joined[c.ID()] = make(map[string]struct{})
	}
	h.joined[c.ID()][room] = struct{}{}

	return true
}

// Leave removes c from room and reports whether it was a member.
func (h *Hub) Leave(room string, c Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.leave(room, c.ID())
}

// LeaveAll removes c from every room and returns the rooms it left.
func (h *Hub) LeaveAll(c Conn) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms := make([]string, 0, len(h.joined[c.ID()]))
	for room := range h.joined[c.ID()] {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		h.leave(room, c.ID())
	}

	return rooms
}

func (h *Hub) leave(room, connID string) bool {
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}

	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	delete(h.joined[connID], room)
	if len(h.joined[connID]) == 0 {
		delete(h.joined, connID)
	}

	return true
}

func (h *Hub) InRoom(room string, c Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.rooms[room][c.ID()]
	return ok
}

// Size returns the number of connections joined to room.
func (h *Hub) Size(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[room])
}

// Broadcast delivers frame to the local members of room.
func (h *Hub) Broadcast(ctx context.Context, room string, frame []byte, except string) error {
	h.Deliver(ctx, room, frame, except)
	return nil
}

// Deliver sends frame to every member of room but the connection with id
// except, and returns how many accepted it.
func (h *Hub) Deliver(ctx context.Context, room string, frame []byte, except string) int {
	h.mu.RLock()
	members := make([]Conn, 0, len(h.rooms[room]))
	for id, c := range h.rooms[room] {
		if id != except {
			members = append(members, c)
		}
	}
	h.mu.RUnlock()

	var sent int
	for _, c := range members {
		if c.Send(frame) {
			sent++
			continue
		}
		logger.GetFromCtx(ctx).Warn(ctx, "dropped frame for slow connection",
			zap.String("room", room),
			zap.String("conn_id", c.ID()),
		)
	}

	return sent
}
