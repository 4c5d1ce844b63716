// Package room fans realtime events out to the sessions joined to a room.
package room

import (
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/event"
)

// Session is one connected client as seen by the router.
type Session interface {
	ID() string
	UserID() int64
	// Send enqueues evt without blocking. It returns false when the event
	// was dropped.
	Send(evt event.Event) bool
}

// UserRoom returns the private room of a user.
func UserRoom(userID int64) string { return "user:" + strconv.FormatInt(userID, 10) }

// GroupRoom returns the room of a group.
func GroupRoom(groupID int64) string { return "group:" + strconv.FormatInt(groupID, 10) }

// Stats summarizes router occupancy.
type Stats struct {
	Sessions int
	Rooms    map[string]int
}

// Router maps rooms to sessions.
type Router struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]Session
	sessions map[string]map[string]struct{} // session id -> rooms
	byUser   map[int64]map[string]Session
	log      *zap.Logger
}

// NewRouter creates an empty router.
func NewRouter(log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		rooms:    make(map[string]map[string]Session),
		sessions: make(map[string]map[string]struct{}),
		byUser:   make(map[int64]map[string]Session),
		log:      log,
	}
}

// Join adds s to room. Joining twice is a no-op.
func (r *Router) Join(s Session, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joinLocked(s, room)
}

func (r *Router) joinLocked(s Session, room string) {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Session)
		r.rooms[room] = members
	}
	members[s.ID()] = s

	joined, ok := r.sessions[s.ID()]
	if !ok {
		joined = make(map[string]struct{})
		r.sessions[s.ID()] = joined
	}
	joined[room] = struct{}{}

	byUser, ok := r.byUser[s.UserID()]
	if !ok {
		byUser = make(map[string]Session)
		r.byUser[s.UserID()] = byUser
	}
	byUser[s.ID()] = s
}

// Leave removes s from room.
func (r *Router) Leave(s Session, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(s.ID(), room)
}

func (r *Router) leaveLocked(sessionID, room string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if joined, ok := r.sessions[sessionID]; ok {
		delete(joined, room)
	}
}

// LeaveAll removes s from every room it joined.
func (r *Router) LeaveAll(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room := range r.sessions[s.ID()] {
		r.leaveLocked(s.ID(), room)
	}
	delete(r.sessions, s.ID())
	if byUser, ok := r.byUser[s.UserID()]; ok {
		delete(byUser, s.ID())
		if len(byUser) == 0 {
			delete(r.byUser, s.UserID())
		}
	}
}

// JoinUser joins every live session of userID to room.
func (r *Router) JoinUser(userID int64, room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.byUser[userID] {
		r.joinLocked(s, room)
		n++
	}
	return n
}

// LeaveUser removes every live session of userID from room.
func (r *Router) LeaveUser(userID int64, room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id := range r.byUser[userID] {
		r.leaveLocked(id, room)
		n++
	}
	return n
}

// InRoom reports whether s has joined room.
func (r *Router) InRoom(s Session, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][s.ID()]
	return ok
}

// Broadcast sends evt to every session in room and returns how many accepted it.
func (r *Router) Broadcast(room string, evt event.Event) int {
	return r.deliver(r.snapshot(room, func(Session) bool { return true }), room, evt)
}

// BroadcastExcept sends evt to room, skipping the session with id excluded.
func (r *Router) BroadcastExcept(room string, evt event.Event, excluded string) int {
	return r.deliver(r.snapshot(room, func(s Session) bool { return s.ID() != excluded }), room, evt)
}

// BroadcastExceptUser sends evt to room, skipping every session of userID.
func (r *Router) BroadcastExceptUser(room string, evt event.Event, userID int64) int {
	return r.deliver(r.snapshot(room, func(s Session) bool { return s.UserID() != userID }), room, evt)
}

// BroadcastAll sends evt to every connected session.
func (r *Router) BroadcastAll(evt event.Event) int {
	r.mu.RLock()
	targets := make([]Session, 0, len(r.sessions))
	for _, byUser := range r.byUser {
		for _, s := range byUser {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()
	return r.deliver(targets, "*", evt)
}

// Stats returns the number of sessions and the occupancy of each room.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Stats{Sessions: len(r.sessions), Rooms: make(map[string]int, len(r.rooms))}
	for name, members := range r.rooms {
		st.Rooms[name] = len(members)
	}
	return st
}

// RoomNames returns the sorted names of non-empty rooms.
func (st Stats) RoomNames() []string {
	names := make([]string, 0, len(st.Rooms))
	for name := range st.Rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Router) snapshot(room string, keep func(Session) bool) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	out := make([]Session, 0, len(members))
	for _, s := range members {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

func (r *Router) deliver(targets []Session, room string, evt event.Event) int {
	sent := 0
	for _, s := range targets {
		if s.Send(evt) {
			sent++
			continue
		}
		r.log.Warn("dropped event for slow session",
			zap.String("room", room),
			zap.String("event", evt.Name()),
			zap.String("session", s.ID()),
			zap.Int64("user_id", s.UserID()),
		)
	}
	return sent
}
