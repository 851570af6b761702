package domain

import "time"

// Role identifies what kind of client holds a connection.
type Role string

const (
	RoleTeacher   Role = "teacher"
	RoleStudent   Role = "student"
	RoleProjector Role = "projector"
	RoleMonitor   Role = "monitor"
)

// Valid reports whether the role is one the registry accepts.
func (r Role) Valid() bool {
	switch r {
	case RoleTeacher, RoleStudent, RoleProjector, RoleMonitor:
		return true
	}
	return false
}

// Mode is the pacing mode of a live session. It governs who may move the
// shared position pointer; see the permission matrix in app/modes.go.
type Mode string

const (
	ModeTeacherPaced Mode = "teacher-paced"
	ModeStudentPaced Mode = "student-paced"
	ModeBounded      Mode = "bounded"
)

// Valid reports whether the mode is a known pacing mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeTeacherPaced, ModeStudentPaced, ModeBounded:
		return true
	}
	return false
}

// SessionStatus tracks the session lifecycle: created (lobby), live, ended.
type SessionStatus string

const (
	StatusPending SessionStatus = "pending"
	StatusLive    SessionStatus = "live"
	StatusEnded   SessionStatus = "ended"
)

// SessionInfo is the descriptive part of a session, separate from the live
// sync state held by the engine.
type SessionInfo struct {
	ID        string        `json:"id"`
	DeckID    string        `json:"deckId"`
	TeacherID string        `json:"teacherId"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Actor identifies the originator of a client event: its role and, for
// teacher/student roles, the durable participant identity behind it.
type Actor struct {
	Role      Role
	StudentID string
}

// Participant is the durable identity of a student in a session. Progress
// history survives disconnects; only presence is ephemeral.
type Participant struct {
	ID          string           `json:"id"`
	DisplayName string           `json:"displayName"`
	DeviceType  string           `json:"deviceType,omitempty"`
	Confused    bool             `json:"confused"`
	Position    int              `json:"position"`
	Online      bool             `json:"online"`
	Progress    []ProgressRecord `json:"progress,omitempty"`
}

// ProgressRecord captures one completed deck item for a student.
type ProgressRecord struct {
	ItemID      string        `json:"itemId"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt time.Time     `json:"completedAt"`
	TimeSpent   time.Duration `json:"timeSpentMs"`
}

// Option is a possible answer for a scored deck item.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// DeckItem is one addressable unit of a deck: a plain slide or a scored
// activity with options. Position is 1-based slide order.
type DeckItem struct {
	ID      string   `json:"id"`
	Title   string   `json:"title,omitempty"`
	Scored  bool     `json:"scored"`
	Options []Option `json:"options,omitempty"`
	Points  int      `json:"points"` // defaults to 1 if zero on a scored item
}

// Deck is the ordered content a session presents. Immutable while live.
type Deck struct {
	ID    string     `json:"id"`
	Title string     `json:"title,omitempty"`
	Items []DeckItem `json:"items"`
}

// ItemAt returns the 1-based item, or nil when out of range.
func (d Deck) ItemAt(position int) *DeckItem {
	if position < 1 || position > len(d.Items) {
		return nil
	}
	return &d.Items[position-1]
}

// ItemByID returns the item with the given ID, or nil.
func (d Deck) ItemByID(id string) *DeckItem {
	for i := range d.Items {
		if d.Items[i].ID == id {
			return &d.Items[i]
		}
	}
	return nil
}

// Snapshot is the full-state push sent to a newly (re)joined connection
// before any delta event. Fields overwrite whatever the client cached;
// no replay or merge is ever attempted.
type Snapshot struct {
	SessionID   string        `json:"sessionId"`
	Status      SessionStatus `json:"status"`
	Mode        Mode          `json:"mode"`
	LockEnabled bool          `json:"lockEnabled"`
	Position    int           `json:"position"`
	Checkpoints []int         `json:"checkpoints"`
	DeckSize    int           `json:"deckSize"`

	// Student-only: the reconnecting student's own last-known state.
	SelfPosition int  `json:"selfPosition,omitempty"`
	SelfConfused bool `json:"selfConfused,omitempty"`

	// Teacher/monitor-only read models.
	Dashboard   *Dashboard   `json:"dashboard,omitempty"`
	Leaderboard *Leaderboard `json:"leaderboard,omitempty"`
}

// Dashboard is the monitoring read model: where students are and who looks
// stuck, updated incrementally from the event stream.
type Dashboard struct {
	SessionID    string        `json:"sessionId"`
	Distribution map[int]int   `json:"distribution"` // position -> logical student count
	Stuck        []StuckReport `json:"stuck"`
	ConfusedIDs  []string      `json:"confusedIds"`
	OnlineCount  int           `json:"onlineCount"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// StuckReport flags a student who has sat on one item past the threshold.
type StuckReport struct {
	StudentID string        `json:"studentId"`
	Position  int           `json:"position"`
	Elapsed   time.Duration `json:"elapsedMs"`
}

// LeaderboardEntry is one ranked row of the leaderboard.
type LeaderboardEntry struct {
	StudentID           string  `json:"studentId"`
	DisplayName         string  `json:"displayName"`
	Rank                int     `json:"rank"`
	TotalScore          int     `json:"totalScore"`
	AverageScore        float64 `json:"averageScore"`
	ActivitiesCompleted int     `json:"activitiesCompleted"`
}

// Leaderboard is the ranked scoreboard for a session. Ties keep prior
// relative order, so recomputing from the same event sequence is
// deterministic.
type Leaderboard struct {
	SessionID string             `json:"sessionId"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}
