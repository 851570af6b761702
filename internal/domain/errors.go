package domain

import "errors"

var (
	// ErrSessionNotFound is terminal for the attempted action: the caller
	// must restart its join flow rather than retry.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotPermitted means role or mode forbids the action. It is reported
	// to the acting client only and never mutates or broadcasts anything.
	ErrNotPermitted = errors.New("action not permitted")
	// ErrInvalidPayload marks a malformed event, dropped without mutation.
	ErrInvalidPayload = errors.New("invalid event payload")
	// ErrParticipantNotFound is returned when a student acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrDeckNotFound indicates deck content could not be loaded.
	ErrDeckNotFound = errors.New("deck not found")
	// ErrItemNotFound indicates a submitted deck item ID is invalid.
	ErrItemNotFound = errors.New("deck item not found")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = errors.New("option not found")
	// ErrSessionEnded is returned for actions against an ended session.
	ErrSessionEnded = errors.New("session has ended")
	// ErrConnectionDead marks a connection whose send buffer stayed full
	// past the send timeout; the registry drops it like a disconnect.
	ErrConnectionDead = errors.New("connection send timed out")
)

// ErrorCode maps the taxonomy to the wire codes clients switch on.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionEnded):
		return "SessionNotFound"
	case errors.Is(err, ErrNotPermitted):
		return "NotPermitted"
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrItemNotFound), errors.Is(err, ErrOptionNotFound):
		return "InvalidPayload"
	case errors.Is(err, ErrParticipantNotFound):
		return "ParticipantNotFound"
	case errors.Is(err, ErrDeckNotFound):
		return "DeckNotFound"
	default:
		return "Internal"
	}
}
