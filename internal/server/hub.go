// Package server coordinates client registration, inbound event routing and
// connection cleanup for the chat websocket layer via the Hub type.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/chatrelay/internal/realtime"
)

// BroadcastRequest asks the hub to deliver an event from outside a
// websocket connection, e.g. from a REST handler. A non-empty UserID
// targets every live connection of that user; otherwise the event goes to
// the members of ChatID except Exclude.
type BroadcastRequest struct {
	ChatID  string
	UserID  string
	Event   string
	Payload any
	Exclude string
}

// clientEvent is one entry of a client's inbound stream. The read pump
// sends its frames and finally its close on the same channel, so the hub
// handles the close only after every frame read before it.
type clientEvent struct {
	client *Client
	in     realtime.Inbound
	closed bool
}

// Hub owns every live websocket client and is the single goroutine that
// mutates realtime state. Registration, inbound events, client closes and
// broadcast requests are all serialized through Run.
type Hub struct {
	clients   map[string]*Client
	register  chan *Client
	inbound   chan clientEvent
	broadcast chan BroadcastRequest
	engine    *realtime.Engine
	failed    []*Client
	mutex     sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	log       *slog.Logger
}

// NewHub creates a Hub and the realtime engine it drives. The hub itself is
// the engine's Deliverer.
func NewHub(store realtime.Store, writer *realtime.Writer, log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:   make(map[string]*Client),
		register:  make(chan *Client),
		inbound:   make(chan clientEvent, 256),
		broadcast: make(chan BroadcastRequest, 64),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		log:       log,
	}
	h.engine = realtime.NewEngine(realtime.Options{
		Deliverer: h,
		Store:     store,
		Writer:    writer,
		Log:       log,
	})
	return h
}

// Engine returns the realtime engine. Callers outside the hub goroutine may
// only use its read methods.
func (h *Hub) Engine() *realtime.Engine {
	return h.engine
}

// SendToUser queues event for every live connection of userID.
func (h *Hub) SendToUser(ctx context.Context, userID, event string, payload any) bool {
	return h.Broadcast(ctx, BroadcastRequest{UserID: userID, Event: event, Payload: payload})
}

// Broadcast queues a room broadcast. It returns false if the hub is shutting
// down or ctx expires first.
func (h *Hub) Broadcast(ctx context.Context, req BroadcastRequest) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.broadcast <- req:
		return true
	case <-h.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

// Deliver implements realtime.Deliverer. It never blocks; a client whose
// send buffer is full is dropped once the current event is processed.
func (h *Hub) Deliver(connID string, frame []byte) bool {
	h.mutex.RLock()
	client, ok := h.clients[connID]
	h.mutex.RUnlock()
	if !ok {
		return false
	}
	if h.safeSend(client, frame) {
		return true
	}
	h.failed = append(h.failed, client)
	return false
}

func (h *Hub) safeSend(client *Client, frame []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Recovered from panic in safeSend", "conn_id", client.id, "panic", r)
		}
	}()

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client.id]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- frame:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop. It should be called in its own
// goroutine and returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case ev := <-h.inbound:
			if ev.closed {
				h.handleUnregister(ev.client)
			} else {
				h.handleInbound(ev.in)
			}

		case req := <-h.broadcast:
			h.handleBroadcast(req)
		}
		h.removeFailedClients()
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		h.log.Warn("Received nil client registration; skipping")
		return
	}

	if _, _, err := h.engine.Connect(client.userID, client.id); err != nil {
		h.log.Error("Rejecting client registration", "conn_id", client.id, "user_id", client.userID, "error", err)
		client.closeConnection()
		return
	}

	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()
	h.log.Info("Client registered",
		"conn_id", client.id, "user_id", client.userID, "addr", client.addr, "clients", clientCount)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleUnregister(client *Client) {
	if !h.detach(client) {
		return
	}
	h.engine.Disconnect(client.id)
}

// detach removes the client from the hub and closes its send channel. It
// reports whether the client was still attached.
func (h *Hub) detach(client *Client) bool {
	h.mutex.Lock()
	if _, ok := h.clients[client.id]; !ok {
		h.mutex.Unlock()
		return false
	}
	delete(h.clients, client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	close(client.send)
	h.log.Info("Client unregistered",
		"conn_id", client.id, "user_id", client.userID, "addr", client.addr, "clients", clientCount)
	return true
}

func (h *Hub) handleBroadcast(req BroadcastRequest) {
	if req.UserID != "" {
		h.engine.SendToUser(req.UserID, req.Event, req.Payload)
		return
	}
	h.engine.Broadcast(req.ChatID, req.Event, req.Payload, req.Exclude)
}

func (h *Hub) handleInbound(in realtime.Inbound) {
	err := h.engine.Handle(in)
	if err == nil {
		return
	}

	attrs := []any{"conn_id", in.ConnID, "event", in.Event, "chat_id", in.ChatID, "error", err}
	switch {
	case errors.Is(err, realtime.ErrUnknownConnection):
		h.log.Debug("Dropping event from unknown connection", attrs...)
	default:
		h.log.Warn("Dropping event", attrs...)
	}
}

// removeFailedClients disconnects clients that could not keep up with their
// send buffer during the last event.
func (h *Hub) removeFailedClients() {
	if len(h.failed) == 0 {
		return
	}
	failed := h.failed
	h.failed = nil

	for _, client := range failed {
		if h.detach(client) {
			h.log.Warn("Client removed due to full send buffer", "conn_id", client.id, "addr", client.addr)
			h.engine.Disconnect(client.id)
		}
	}
}

// shutdownClients closes every connection and runs disconnect cleanup for
// it, so presence is persisted as offline before the process exits.
func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections...")

	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		client.closeConnection()
		if h.detach(client) {
			h.engine.Disconnect(client.id)
		}
	}
	h.failed = nil

	h.log.Info("Closed client connections", "count", len(clients))
}

// Shutdown stops the hub and waits for client goroutines to finish, or for
// timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
