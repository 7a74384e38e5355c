package realtime

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Deliverer hands an encoded frame to a live connection. It returns false
// when the connection is gone or cannot accept more frames.
type Deliverer interface {
	Deliver(connID string, frame []byte) bool
}

// Router tracks which connections joined which chat rooms. Membership is
// connection scoped so that closing one device does not pull the user's
// other devices out of a room.
type Router struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]struct{} // chatID -> connIDs
	joined  map[string]map[string]struct{} // connID -> chatIDs
	deliver Deliverer
	log     *slog.Logger
}

// NewRouter creates a Router delivering frames through d.
func NewRouter(d Deliverer, log *slog.Logger) *Router {
	return &Router{
		rooms:   make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
		deliver: d,
		log:     log,
	}
}

// Join adds connID to chatID. It reports whether the membership is new.
func (r *Router) Join(connID, chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[chatID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[chatID] = members
	}
	if _, exists := members[connID]; exists {
		return false
	}
	members[connID] = struct{}{}

	chats, ok := r.joined[connID]
	if !ok {
		chats = make(map[string]struct{})
		r.joined[connID] = chats
	}
	chats[chatID] = struct{}{}
	return true
}

// Leave removes connID from chatID. It reports whether a membership existed.
func (r *Router) Leave(connID, chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.leaveLocked(connID, chatID)
}

func (r *Router) leaveLocked(connID, chatID string) bool {
	members, ok := r.rooms[chatID]
	if !ok {
		return false
	}
	if _, exists := members[connID]; !exists {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, chatID)
	}

	if chats, ok := r.joined[connID]; ok {
		delete(chats, chatID)
		if len(chats) == 0 {
			delete(r.joined, connID)
		}
	}
	return true
}

// LeaveAll removes connID from every room and returns the rooms it left in
// sorted order.
func (r *Router) LeaveAll(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	chats := lo.Keys(r.joined[connID])
	sort.Strings(chats)
	for _, chatID := range chats {
		r.leaveLocked(connID, chatID)
	}
	return chats
}

// MembersOf returns the connections joined to chatID in sorted order.
func (r *Router) MembersOf(chatID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := lo.Keys(r.rooms[chatID])
	sort.Strings(members)
	return members
}

// roomsOf returns the rooms connID joined in sorted order.
func (r *Router) roomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chats := lo.Keys(r.joined[connID])
	sort.Strings(chats)
	return chats
}

// IsMember reports whether connID joined chatID.
func (r *Router) IsMember(connID, chatID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[chatID][connID]
	return ok
}

// Broadcast delivers event to every member of chatID except exclude and
// returns the number of connections that accepted the frame.
func (r *Router) Broadcast(chatID, event string, payload any, exclude string) int {
	frame, err := Encode(event, payload)
	if err != nil {
		r.log.Error("Failed to encode broadcast", "event", event, "chat_id", chatID, "error", err)
		return 0
	}

	targets := lo.Filter(r.MembersOf(chatID), func(connID string, _ int) bool {
		return connID != exclude
	})

	delivered := r.deliverAll(targets, frame)
	r.log.Debug("Broadcast event",
		"event", event, "chat_id", chatID, "targets", len(targets), "delivered", delivered)
	return delivered
}

// Send delivers event to the given connections regardless of room
// membership and returns the number that accepted the frame.
func (r *Router) Send(connIDs []string, event string, payload any) int {
	if len(connIDs) == 0 {
		return 0
	}
	frame, err := Encode(event, payload)
	if err != nil {
		r.log.Error("Failed to encode event", "event", event, "error", err)
		return 0
	}
	return r.deliverAll(connIDs, frame)
}

func (r *Router) deliverAll(connIDs []string, frame []byte) int {
	delivered := 0
	for _, connID := range connIDs {
		if r.deliver.Deliver(connID, frame) {
			delivered++
		}
	}
	return delivered
}
