package realtime

import "errors"

var (
	// ErrUnknownConnection is returned when a connection id is not registered.
	// Callers treat it as a benign no-op.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrUnauthorizedEvent is returned when the sender is not allowed to emit
	// the event, typically because it has not joined the target room.
	ErrUnauthorizedEvent = errors.New("unauthorized event")
	// ErrMalformedEvent is returned for frames that cannot be decoded or miss
	// required fields.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrNotParticipant is returned when a user tries to join a chat they do
	// not belong to.
	ErrNotParticipant = errors.New("not a chat participant")
	// ErrConnectionOwned is returned when a connection id is already bound to
	// a different user.
	ErrConnectionOwned = errors.New("connection owned by another user")
)
