package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Inbound event names.
const (
	EventUserConnected = "user_connected"
	EventTypingStart   = "typing_start"
	EventTypingStop    = "typing_stop"
	EventMarkChatRead  = "mark_chat_read"
	EventJoinChat      = "join_chat"
	EventLeaveChat     = "leave_chat"
)

// Outbound event names.
const (
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventChatRead          = "chat_read"
	EventUserOffline       = "user_offline"
)

var validate = validator.New()

// ID is an identifier received from a client. Chat and user ids are primary
// keys of the relational store, so clients may send them as JSON numbers as
// well as strings.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("id must be an integer: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Envelope is the frame shape used in both directions.
type Envelope struct {
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type chatPayload struct {
	ChatID ID `json:"chatId" validate:"required"`
}

type markReadPayload struct {
	ChatID ID `json:"chatId" validate:"required"`
	UserID ID `json:"userId" validate:"required"`
}

type userPayload struct {
	UserID ID `json:"userId" validate:"required"`
}

// TypingEvent is the payload of user_typing and user_stopped_typing.
type TypingEvent struct {
	UserID string `json:"userId"`
	ChatID string `json:"chatId"`
}

// ChatReadEvent is the payload of chat_read.
type ChatReadEvent struct {
	ChatID string    `json:"chatId"`
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// UserOfflineEvent is the payload of user_offline.
type UserOfflineEvent struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

// Inbound is a decoded client frame bound to the connection it came from.
type Inbound struct {
	ConnID string
	Event  string
	ChatID string
	UserID string
	// Participant is set by Engine.Prepare once the membership capability
	// confirmed the sender belongs to ChatID. Only join_chat uses it.
	Participant bool
}

// Decode parses and validates a raw client frame. Every failure wraps
// ErrMalformedEvent.
func Decode(connID string, frame []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := validate.Struct(env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	in := Inbound{ConnID: connID, Event: env.Event}
	switch env.Event {
	case EventTypingStart, EventTypingStop, EventJoinChat, EventLeaveChat:
		var p chatPayload
		if err := decodePayload(env.Data, &p); err != nil {
			return Inbound{}, err
		}
		in.ChatID = string(p.ChatID)
	case EventMarkChatRead:
		var p markReadPayload
		if err := decodePayload(env.Data, &p); err != nil {
			return Inbound{}, err
		}
		in.ChatID, in.UserID = string(p.ChatID), string(p.UserID)
	case EventUserConnected:
		userID, err := decodeUserConnected(env.Data)
		if err != nil {
			return Inbound{}, err
		}
		in.UserID = userID
	default:
		return Inbound{}, fmt.Errorf("%w: unsupported event %q", ErrMalformedEvent, env.Event)
	}
	return in, nil
}

func decodePayload(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// decodeUserConnected accepts both {"userId": ...} and a bare id, since
// older clients emit the id directly.
func decodeUserConnected(data json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] != '{' {
		var id ID
		if err := json.Unmarshal(trimmed, &id); err != nil || id == "" {
			return "", fmt.Errorf("%w: invalid user id", ErrMalformedEvent)
		}
		return string(id), nil
	}
	var p userPayload
	if err := decodePayload(data, &p); err != nil {
		return "", err
	}
	return string(p.UserID), nil
}

// Encode builds an outbound frame.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
