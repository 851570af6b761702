package domain

import (
	"encoding/json"
	"fmt"
)

// Inbound event types clients may send over the socket. The same names are
// used by the REST control surface, which funnels into the same dispatch.
const (
	EventNavigate          = "navigate"
	EventStudentNavigate   = "student-navigate"
	EventConfusionToggle   = "confusion-toggle"
	EventClearConfusion    = "clear-confusion"
	EventCompleteItem      = "complete-item"
	EventSubmitAnswer      = "submit-answer"
	EventSetMode           = "set-mode"
	EventSetCheckpoints    = "set-checkpoints"
	EventSetLock           = "set-lock"
	EventStartPresentation = "start-presentation"
	EventEndSession        = "end-session"
)

// Outbound event types the server emits.
const (
	EventSnapshot            = "snapshot"
	EventPresentationStarted = "presentation-started"
	EventTeacherNavigated    = "teacher-navigated"
	EventStudentPosition     = "student-position"
	EventConfusionUpdated    = "confusion-updated"
	EventConfusionCleared    = "confusion-cleared"
	EventProgressRecorded    = "progress-recorded"
	EventAnswerResult        = "answer-result"
	EventLeaderboard         = "leaderboard"
	EventModeChanged         = "mode-changed"
	EventCheckpointsChanged  = "checkpoints-changed"
	EventLockChanged         = "lock-changed"
	EventSessionEnded        = "session-ended"
	EventError               = "error"
)

// Envelope is the wire shape of every named event, inbound and outbound.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// ErrorPayload is the body of an "error" envelope, sent to the actor only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientEvent is the tagged union of all client-originated events. Having
// one union processed by one dispatch table keeps every permission and mode
// check in a single place.
type ClientEvent interface {
	EventType() string
}

// NavigateEvent moves the teacher's shared position pointer.
type NavigateEvent struct {
	Position int `json:"position"`
}

// StudentNavigateEvent moves one student's own position.
type StudentNavigateEvent struct {
	Position int `json:"position"`
}

// ConfusionToggleEvent sets or clears the acting student's confusion flag.
type ConfusionToggleEvent struct {
	Confused bool `json:"confused"`
}

// ClearConfusionEvent clears every currently-set confusion flag.
type ClearConfusionEvent struct{}

// CompleteItemEvent reports that the acting student finished a deck item.
// ItemID is optional; empty means the item at the student's position.
type CompleteItemEvent struct {
	ItemID      string `json:"itemId,omitempty"`
	TimeSpentMS int64  `json:"timeSpentMs,omitempty"`
}

// SubmitAnswerEvent answers a scored deck item.
type SubmitAnswerEvent struct {
	ItemID   string `json:"itemId"`
	OptionID string `json:"optionId"`
}

// SetModeEvent switches the pacing mode. It never resets the position.
type SetModeEvent struct {
	Mode Mode `json:"mode"`
}

// SetCheckpointsEvent replaces the ordered checkpoint set.
type SetCheckpointsEvent struct {
	Positions []int `json:"positions"`
}

// SetLockEvent flips the screen-lock flag, orthogonal to the mode.
type SetLockEvent struct {
	Enabled bool `json:"enabled"`
}

// StartPresentationEvent takes a pending session live.
type StartPresentationEvent struct{}

// EndSessionEvent ends and archives the session.
type EndSessionEvent struct{}

func (NavigateEvent) EventType() string          { return EventNavigate }
func (StudentNavigateEvent) EventType() string   { return EventStudentNavigate }
func (ConfusionToggleEvent) EventType() string   { return EventConfusionToggle }
func (ClearConfusionEvent) EventType() string    { return EventClearConfusion }
func (CompleteItemEvent) EventType() string      { return EventCompleteItem }
func (SubmitAnswerEvent) EventType() string      { return EventSubmitAnswer }
func (SetModeEvent) EventType() string           { return EventSetMode }
func (SetCheckpointsEvent) EventType() string    { return EventSetCheckpoints }
func (SetLockEvent) EventType() string           { return EventSetLock }
func (StartPresentationEvent) EventType() string { return EventStartPresentation }
func (EndSessionEvent) EventType() string        { return EventEndSession }

// ParseClientEvent decodes a raw payload into its typed variant. Unknown
// types and malformed payloads come back as ErrInvalidPayload so the router
// can drop them without mutation.
func ParseClientEvent(eventType string, payload json.RawMessage) (ClientEvent, error) {
	decode := func(v ClientEvent) (ClientEvent, error) {
		if len(payload) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(payload, v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, eventType, err)
		}
		return v, nil
	}

	switch eventType {
	case EventNavigate:
		return decode(&NavigateEvent{})
	case EventStudentNavigate:
		return decode(&StudentNavigateEvent{})
	case EventConfusionToggle:
		return decode(&ConfusionToggleEvent{})
	case EventClearConfusion:
		return &ClearConfusionEvent{}, nil
	case EventCompleteItem:
		return decode(&CompleteItemEvent{})
	case EventSubmitAnswer:
		return decode(&SubmitAnswerEvent{})
	case EventSetMode:
		return decode(&SetModeEvent{})
	case EventSetCheckpoints:
		return decode(&SetCheckpointsEvent{})
	case EventSetLock:
		return decode(&SetLockEvent{})
	case EventStartPresentation:
		return &StartPresentationEvent{}, nil
	case EventEndSession:
		return &EndSessionEvent{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidPayload, eventType)
	}
}

// FanoutScope names who receives an outbound event.
type FanoutScope string

const (
	FanoutBroadcastAll    FanoutScope = "broadcast-all"
	FanoutBroadcastOthers FanoutScope = "broadcast-others"
	FanoutUnicastStudent  FanoutScope = "unicast-student"
	FanoutUnicastTeacher  FanoutScope = "unicast-teacher"
	// FanoutViewers targets teacher and monitor connections.
	FanoutViewers FanoutScope = "viewers"
)

// Fanout is one outbound delivery instruction produced by the event router.
type Fanout struct {
	Scope FanoutScope
	// StudentID is set for unicast-student scopes.
	StudentID string
	Event     Envelope
}
