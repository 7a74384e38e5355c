// Package server exposes HTTP handlers: the authenticated WebSocket upgrade,
// health checks and the read-only presence endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/auth"
	"github.com/Tyrowin/chatrelay/internal/store"
)

// LastSeenReader reads the persisted last-seen timestamp of a user.
type LastSeenReader interface {
	LastSeen(ctx context.Context, userID string) (time.Time, bool, error)
}

// Handlers holds the dependencies of the HTTP handlers.
type Handlers struct {
	hub       *Hub
	verifier  auth.Verifier
	lastSeen  LastSeenReader
	upgrader  websocket.Upgrader
	clientCfg ClientConfig
	log       *slog.Logger
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(hub *Hub, verifier auth.Verifier, lastSeen LastSeenReader, origins *OriginPolicy, clientCfg ClientConfig, log *slog.Logger) *Handlers {
	return &Handlers{
		hub:      hub,
		verifier: verifier,
		lastSeen: lastSeen,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.CheckOrigin,
		},
		clientCfg: clientCfg,
		log:       log,
	}
}

// WebSocket authenticates the request, upgrades it and hands the new client
// to the hub. Authentication happens before the upgrade so a rejected
// client never touches realtime state.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	userID, err := h.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		h.log.Warn("WebSocket handshake rejected", "addr", r.RemoteAddr, "error", err)
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing access token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, h.hub, uuid.NewString(), userID, r.RemoteAddr, h.clientCfg)

	// The hub launches the pump goroutines once the client is registered.
	select {
	case h.hub.register <- client:
	case <-h.hub.ctx.Done():
		client.closeConnection()
	}
}

// Health reports liveness and current connection counts.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	users, conns := h.hub.Engine().Registry().Counts()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "OK",
		Timestamp:   time.Now().UTC(),
		Users:       users,
		Connections: conns,
	})
}

// Presence returns the presence of the user in the path. It reads
// in-memory state and falls back to the store for last-seen.
func (h *Handlers) Presence(w http.ResponseWriter, r *http.Request) {
	if _, err := h.verifier.Verify(auth.TokenFromRequest(r)); err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing access token")
		return
	}

	userID := r.PathValue("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "userId is required")
		return
	}

	state := h.hub.Engine().PresenceOf(userID)
	resp := PresenceResponse{
		UserID:      userID,
		IsOnline:    state.IsOnline,
		Connections: state.Connections,
	}
	if !state.LastSeen.IsZero() {
		lastSeen := state.LastSeen.UTC()
		resp.LastSeen = &lastSeen
	} else if !state.IsOnline {
		lastSeen, ok, err := h.lastSeen.LastSeen(r.Context(), userID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
			return
		case err != nil:
			h.log.Error("Reading last seen failed", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
			return
		case ok:
			lastSeen = lastSeen.UTC()
			resp.LastSeen = &lastSeen
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}
