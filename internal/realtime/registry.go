package realtime

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Registry is the bidirectional mapping between users and their live
// connections. Both directions are always updated under the same lock.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{} // userID -> connIDs
	byConn map[string]string              // connID -> userID
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]struct{}),
		byConn: make(map[string]string),
	}
}

// Register binds connID to userID and returns how many connections the user
// holds afterwards. Registering the same pair twice is a no-op. A connection
// id already bound to another user is rejected with ErrConnectionOwned.
func (r *Registry) Register(userID, connID string) (int, error) {
	if userID == "" || connID == "" {
		return 0, fmt.Errorf("%w: empty user or connection id", ErrMalformedEvent)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byConn[connID]; ok {
		if owner != userID {
			return len(r.byUser[owner]), fmt.Errorf("%w: %s", ErrConnectionOwned, connID)
		}
		return len(r.byUser[userID]), nil
	}

	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.byUser[userID] = conns
	}
	conns[connID] = struct{}{}
	r.byConn[connID] = userID
	return len(conns), nil
}

// Unregister removes connID and reports the owning user and how many
// connections that user still holds. Unknown ids return ok == false, which
// makes duplicate close notifications harmless.
func (r *Registry) Unregister(connID string) (userID string, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, found := r.byConn[connID]
	if !found {
		return "", 0, false
	}
	delete(r.byConn, connID)

	conns := r.byUser[userID]
	delete(conns, connID)
	remaining = len(conns)
	if remaining == 0 {
		delete(r.byUser, userID)
	}
	return userID, remaining, true
}

// ConnectionsFor returns the user's connection ids in sorted order.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := lo.Keys(r.byUser[userID])
	sort.Strings(ids)
	return ids
}

// UserFor returns the user owning connID.
func (r *Registry) UserFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.byConn[connID]
	return userID, ok
}

// IsOnline reports whether the user holds at least one connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byUser[userID]) > 0
}

// Counts returns the number of online users and live connections.
func (r *Registry) Counts() (users, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byUser), len(r.byConn)
}
