package domain

import "time"

// Outbound payload shapes. Kept next to the event constants so the wire
// contract reads in one place.

type PresentationStartedPayload struct {
	SessionID string `json:"sessionId"`
	Position  int    `json:"position"`
}

type TeacherNavigatedPayload struct {
	Position int `json:"position"`
	// Hard is true in teacher-paced mode: every client must move. In the
	// other modes the navigation is advisory and clients may ignore it.
	Hard bool `json:"hard"`
}

type StudentPositionPayload struct {
	StudentID string `json:"studentId"`
	Position  int    `json:"position"`
	Online    bool   `json:"online"`
}

type ConfusionUpdatedPayload struct {
	StudentID     string `json:"studentId"`
	Confused      bool   `json:"confused"`
	ConfusedCount int    `json:"confusedCount"`
}

type ConfusionClearedPayload struct {
	// StudentIDs lists exactly the students whose flag was set when the
	// teacher cleared, so clients can scope the signal.
	StudentIDs []string `json:"studentIds"`
}

type ProgressRecordedPayload struct {
	StudentID   string    `json:"studentId"`
	ItemID      string    `json:"itemId"`
	Position    int       `json:"position"`
	TimeSpentMS int64     `json:"timeSpentMs"`
	CompletedAt time.Time `json:"completedAt"`
}

type AnswerResultPayload struct {
	ItemID     string `json:"itemId"`
	Correct    bool   `json:"correct"`
	Awarded    int    `json:"awarded"`
	TotalScore int    `json:"totalScore"`
}

type ModeChangedPayload struct {
	Mode Mode `json:"mode"`
}

type CheckpointsChangedPayload struct {
	Positions []int `json:"positions"`
}

type LockChangedPayload struct {
	Enabled bool `json:"enabled"`
}

type SessionEndedPayload struct {
	SessionID string `json:"sessionId"`
}
