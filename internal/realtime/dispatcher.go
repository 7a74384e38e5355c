package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// ReadReceiptStore persists read receipts.
type ReadReceiptStore interface {
	MarkRead(ctx context.Context, chatID, userID string, readAt time.Time) error
}

// Dispatcher routes typing and read-receipt events to room members and
// remembers which connections are typing where, so a dropped connection
// never leaves a typing indicator behind.
type Dispatcher struct {
	registry *Registry
	router   *Router
	receipts ReadReceiptStore
	writer   *Writer
	now      func() time.Time
	log      *slog.Logger

	mu     sync.Mutex
	typing map[string]map[string]struct{} // connID -> chatIDs
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(registry *Registry, router *Router, receipts ReadReceiptStore, writer *Writer, now func() time.Time, log *slog.Logger) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		registry: registry,
		router:   router,
		receipts: receipts,
		writer:   writer,
		now:      now,
		log:      log,
		typing:   make(map[string]map[string]struct{}),
	}
}

// authorize resolves the sender and checks it joined chatID.
func (d *Dispatcher) authorize(connID, chatID string) (string, error) {
	userID, ok := d.registry.UserFor(connID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	if !d.router.IsMember(connID, chatID) {
		return "", fmt.Errorf("%w: connection %s has not joined chat %s", ErrUnauthorizedEvent, connID, chatID)
	}
	return userID, nil
}

// TypingStart broadcasts user_typing to the room. Repeated starts
// re-broadcast; clients treat them as a refresh.
func (d *Dispatcher) TypingStart(connID, chatID string) error {
	userID, err := d.authorize(connID, chatID)
	if err != nil {
		return err
	}
	d.setTyping(connID, chatID)
	d.router.Broadcast(chatID, EventUserTyping, TypingEvent{UserID: userID, ChatID: chatID}, connID)
	return nil
}

// TypingStop broadcasts user_stopped_typing to the room.
func (d *Dispatcher) TypingStop(connID, chatID string) error {
	userID, err := d.authorize(connID, chatID)
	if err != nil {
		return err
	}
	d.clearTyping(connID, chatID)
	d.router.Broadcast(chatID, EventUserStoppedTyping, TypingEvent{UserID: userID, ChatID: chatID}, connID)
	return nil
}

// MarkRead schedules the read-receipt write and broadcasts chat_read. The
// broadcast does not wait for the write.
func (d *Dispatcher) MarkRead(connID, chatID, userID string) error {
	sender, err := d.authorize(connID, chatID)
	if err != nil {
		return err
	}
	if userID != sender {
		return fmt.Errorf("%w: connection %s cannot mark chat %s read for user %s", ErrUnauthorizedEvent, connID, chatID, userID)
	}

	readAt := d.now().UTC()
	d.writer.Enqueue("mark_read", func(ctx context.Context) error {
		return d.receipts.MarkRead(ctx, chatID, userID, readAt)
	}, "chat_id", chatID, "user_id", userID)

	d.router.Broadcast(chatID, EventChatRead, ChatReadEvent{ChatID: chatID, UserID: userID, ReadAt: readAt}, connID)
	return nil
}

// LeaveRoom clears the typing state of connID in chatID and tells the room
// the user stopped typing if it was active. The caller removes the
// membership itself.
func (d *Dispatcher) LeaveRoom(userID, connID, chatID string) {
	if d.clearTyping(connID, chatID) {
		d.router.Broadcast(chatID, EventUserStoppedTyping, TypingEvent{UserID: userID, ChatID: chatID}, connID)
	}
}

// CleanupConnection emits one user_stopped_typing per active typing state of
// connID among chats and forgets every typing state of the connection.
// chats is the set returned by Router.LeaveAll. It returns the number of
// synthetic stop events emitted.
func (d *Dispatcher) CleanupConnection(userID, connID string, chats []string) int {
	d.mu.Lock()
	active := d.typing[connID]
	delete(d.typing, connID)
	d.mu.Unlock()

	stopped := lo.Filter(chats, func(chatID string, _ int) bool {
		_, ok := active[chatID]
		return ok
	})
	for _, chatID := range stopped {
		d.router.Broadcast(chatID, EventUserStoppedTyping, TypingEvent{UserID: userID, ChatID: chatID}, connID)
	}
	return len(stopped)
}

// typingIn returns the chats in which connID is currently typing.
func (d *Dispatcher) typingIn(connID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	chats := lo.Keys(d.typing[connID])
	sort.Strings(chats)
	return chats
}

func (d *Dispatcher) setTyping(connID, chatID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	chats, ok := d.typing[connID]
	if !ok {
		chats = make(map[string]struct{})
		d.typing[connID] = chats
	}
	chats[chatID] = struct{}{}
}

func (d *Dispatcher) clearTyping(connID, chatID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	chats, ok := d.typing[connID]
	if !ok {
		return false
	}
	if _, active := chats[chatID]; !active {
		return false
	}
	delete(chats, chatID)
	if len(chats) == 0 {
		delete(d.typing, connID)
	}
	return true
}
