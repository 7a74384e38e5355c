// Package server defines HTTP response shapes and helpers shared by the
// handlers, the hub and the clients.
package server

import (
	"errors"
	"net"
	"strings"
	"time"
)

// PresenceResponse is the body of GET /api/v1/users/{userId}/presence.
type PresenceResponse struct {
	UserID      string     `json:"userId"`
	IsOnline    bool       `json:"isOnline"`
	Connections int        `json:"connections"`
	LastSeen    *time.Time `json:"lastSeen"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Users       int       `json:"users"`
	Connections int       `json:"connections"`
}

// ErrorBody is the error envelope of every JSON error response.
type ErrorBody struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail describes an error for API clients.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
