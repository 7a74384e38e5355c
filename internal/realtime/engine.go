package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Membership answers whether a user participates in a chat.
type Membership interface {
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
}

// Store is every external capability the engine consumes.
type Store interface {
	PresenceStore
	ReadReceiptStore
	Membership
}

// Options configures an Engine.
type Options struct {
	Deliverer Deliverer
	Store     Store
	Writer    *Writer
	Log       *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine ties the registry, router, presence coordinator and dispatcher
// together and applies connection lifecycle changes to all of them in one
// step. Mutating methods are meant to be called from one goroutine.
type Engine struct {
	registry   *Registry
	router     *Router
	presence   *Presence
	dispatcher *Dispatcher
	membership Membership
	log        *slog.Logger
}

// NewEngine wires a new Engine.
func NewEngine(opts Options) *Engine {
	registry := NewRegistry()
	router := NewRouter(opts.Deliverer, opts.Log)
	return &Engine{
		registry:   registry,
		router:     router,
		presence:   NewPresence(registry, opts.Store, opts.Writer, opts.Now, opts.Log),
		dispatcher: NewDispatcher(registry, router, opts.Store, opts.Writer, opts.Now, opts.Log),
		membership: opts.Store,
		log:        opts.Log,
	}
}

// Registry exposes the connection registry for read access.
func (e *Engine) Registry() *Registry { return e.registry }

// Router exposes the room router for read access.
func (e *Engine) Router() *Router { return e.router }

// Dispatcher exposes the event dispatcher.
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// PresenceOf returns the presence view of userID.
func (e *Engine) PresenceOf(userID string) PresenceState {
	return e.presence.State(userID)
}

// Connect registers connID for userID and fires the online transition when
// it is the user's first connection.
func (e *Engine) Connect(userID, connID string) (Transition, bool, error) {
	count, err := e.registry.Register(userID, connID)
	if err != nil {
		return Transition{}, false, err
	}
	e.log.Debug("Connection registered", "user_id", userID, "conn_id", connID, "connections", count)

	t, fired := e.presence.OnConnectionAdded(userID)
	return t, fired, nil
}

// Disconnect unregisters connID, removes it from every room, stops any
// typing indicator it left behind and fires the offline transition when it
// was the user's last connection. Unknown ids are ignored.
func (e *Engine) Disconnect(connID string) (Transition, bool) {
	userID, remaining, ok := e.registry.Unregister(connID)
	if !ok {
		return Transition{}, false
	}
	chats := e.router.LeaveAll(connID)
	stopped := e.dispatcher.CleanupConnection(userID, connID, chats)
	e.log.Debug("Connection unregistered",
		"user_id", userID, "conn_id", connID, "remaining", remaining, "rooms", len(chats), "typing_stopped", stopped)

	t, fired := e.presence.OnConnectionRemoved(userID)
	if fired {
		for _, chatID := range chats {
			e.router.Broadcast(chatID, EventUserOffline, UserOfflineEvent{UserID: userID, LastSeen: t.At}, connID)
		}
	}
	return t, fired
}

// Prepare decodes a frame sent by userID over connID and resolves anything
// that needs an external lookup, so Handle can decide from memory alone.
// It may block on the membership capability and must not run on the
// goroutine that calls Handle.
func (e *Engine) Prepare(ctx context.Context, userID, connID string, frame []byte) (Inbound, error) {
	in, err := Decode(connID, frame)
	if err != nil {
		return Inbound{}, err
	}
	if in.Event != EventJoinChat {
		return in, nil
	}

	ok, err := e.membership.IsParticipant(ctx, in.ChatID, userID)
	if err != nil {
		return Inbound{}, fmt.Errorf("checking membership of chat %s: %w", in.ChatID, err)
	}
	if !ok {
		return Inbound{}, fmt.Errorf("%w: user %s in chat %s", ErrNotParticipant, userID, in.ChatID)
	}
	in.Participant = true
	return in, nil
}

// Handle applies a prepared inbound event.
func (e *Engine) Handle(in Inbound) error {
	switch in.Event {
	case EventUserConnected:
		owner, ok := e.registry.UserFor(in.ConnID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownConnection, in.ConnID)
		}
		if owner != in.UserID {
			return fmt.Errorf("%w: connection %s belongs to another user", ErrUnauthorizedEvent, in.ConnID)
		}
		_, _, err := e.Connect(in.UserID, in.ConnID)
		return err
	case EventJoinChat:
		return e.join(in.ConnID, in.ChatID, in.Participant)
	case EventLeaveChat:
		return e.leave(in.ConnID, in.ChatID)
	case EventTypingStart:
		return e.dispatcher.TypingStart(in.ConnID, in.ChatID)
	case EventTypingStop:
		return e.dispatcher.TypingStop(in.ConnID, in.ChatID)
	case EventMarkChatRead:
		return e.dispatcher.MarkRead(in.ConnID, in.ChatID, in.UserID)
	default:
		return fmt.Errorf("%w: unsupported event %q", ErrMalformedEvent, in.Event)
	}
}

func (e *Engine) join(connID, chatID string, participant bool) error {
	userID, ok := e.registry.UserFor(connID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	if !participant {
		return fmt.Errorf("%w: user %s in chat %s", ErrNotParticipant, userID, chatID)
	}
	if e.router.Join(connID, chatID) {
		e.log.Debug("Joined chat", "user_id", userID, "conn_id", connID, "chat_id", chatID)
	}
	return nil
}

func (e *Engine) leave(connID, chatID string) error {
	userID, ok := e.registry.UserFor(connID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	e.dispatcher.LeaveRoom(userID, connID, chatID)
	e.router.Leave(connID, chatID)
	return nil
}

// SendToUser delivers event to every live connection of userID and returns
// how many accepted it. Offline users receive nothing.
func (e *Engine) SendToUser(userID, event string, payload any) int {
	conns := e.registry.ConnectionsFor(userID)
	delivered := e.router.Send(conns, event, payload)
	e.log.Debug("Sent event to user",
		"event", event, "user_id", userID, "targets", len(conns), "delivered", delivered)
	return delivered
}

// Broadcast sends an event to every member of chatID except exclude.
func (e *Engine) Broadcast(chatID, event string, payload any, exclude string) int {
	return e.router.Broadcast(chatID, event, payload, exclude)
}
