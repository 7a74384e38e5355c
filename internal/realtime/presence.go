package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PresenceStore persists presence transitions.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
}

// Transition is an online or offline edge for one user.
type Transition struct {
	UserID string
	Online bool
	At     time.Time
}

// PresenceState is the derived presence view of a user.
type PresenceState struct {
	UserID      string
	IsOnline    bool
	Connections int
	LastSeen    time.Time
}

type onlineSource interface {
	IsOnline(userID string) bool
	ConnectionsFor(userID string) []string
}

type presenceEntry struct {
	online   bool
	lastSeen time.Time
}

// Presence turns registry changes into edge-triggered online/offline
// transitions and schedules the matching persistence writes. The registry
// is consulted under the presence lock, so racing add/remove calls for the
// same user settle on the registry's final state.
type Presence struct {
	mu sync.RWMutex
	// entries is the in-process lastSeen cache. It holds one entry per user
	// seen since start, reused across reconnects, so lastSeen stays
	// monotonic and the presence endpoint can answer without the store.
	entries map[string]*presenceEntry

	registry onlineSource
	store    PresenceStore
	writer   *Writer
	now      func() time.Time
	log      *slog.Logger
}

// NewPresence creates a Presence reading connection state from registry.
func NewPresence(registry onlineSource, store PresenceStore, writer *Writer, now func() time.Time, log *slog.Logger) *Presence {
	if now == nil {
		now = time.Now
	}
	return &Presence{
		entries:  make(map[string]*presenceEntry),
		registry: registry,
		store:    store,
		writer:   writer,
		now:      now,
		log:      log,
	}
}

// OnConnectionAdded must be called after a connection was registered for
// userID. It fires only when the user was offline.
func (p *Presence) OnConnectionAdded(userID string) (Transition, bool) {
	p.mu.Lock()
	entry := p.entry(userID)
	if entry.online || !p.registry.IsOnline(userID) {
		p.mu.Unlock()
		return Transition{}, false
	}
	entry.online = true
	p.writer.Enqueue("set_online", func(ctx context.Context) error {
		return p.store.SetOnline(ctx, userID)
	}, "user_id", userID)
	p.mu.Unlock()

	p.log.Info("User online", "user_id", userID)
	return Transition{UserID: userID, Online: true, At: p.now()}, true
}

// OnConnectionRemoved must be called after a connection was unregistered
// for userID. It fires only when that was the user's last connection.
func (p *Presence) OnConnectionRemoved(userID string) (Transition, bool) {
	p.mu.Lock()
	entry := p.entry(userID)
	if !entry.online || p.registry.IsOnline(userID) {
		p.mu.Unlock()
		return Transition{}, false
	}
	at := p.now()
	if at.Before(entry.lastSeen) {
		at = entry.lastSeen
	}
	entry.online = false
	entry.lastSeen = at
	p.writer.Enqueue("set_offline", func(ctx context.Context) error {
		return p.store.SetOffline(ctx, userID, at)
	}, "user_id", userID)
	p.mu.Unlock()

	p.log.Info("User offline", "user_id", userID, "last_seen", at)
	return Transition{UserID: userID, Online: false, At: at}, true
}

// State returns the presence view of userID. LastSeen is zero when the user
// has not gone offline since this process started.
func (p *Presence) State(userID string) PresenceState {
	conns := p.registry.ConnectionsFor(userID)

	p.mu.RLock()
	defer p.mu.RUnlock()

	state := PresenceState{
		UserID:      userID,
		IsOnline:    len(conns) > 0,
		Connections: len(conns),
	}
	if entry, ok := p.entries[userID]; ok {
		state.LastSeen = entry.lastSeen
	}
	return state
}

func (p *Presence) entry(userID string) *presenceEntry {
	entry, ok := p.entries[userID]
	if !ok {
		entry = &presenceEntry{}
		p.entries[userID] = entry
	}
	return entry
}
