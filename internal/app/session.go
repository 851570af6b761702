package app

import (
	"sort"
	"sync"
	"time"

	"classpace-sync-service/internal/domain"
)

// participantState is the engine-side record for one durable student:
// the participant fields plus runtime bookkeeping that never leaves the
// process.
type participantState struct {
	p         domain.Participant
	startedAt time.Time // when the student landed on their current item
	completed map[string]bool
	answered  map[string]bool
	grace     *time.Timer
	// gone is set when the offline grace period expires without a
	// reconnect; the student drops out of aggregation but keeps history.
	gone bool
}

// Session is the authoritative server-held state for one live session.
// All mutation happens through its handlers under mu, so writes to one
// session are serialized while different sessions run concurrently.
type Session struct {
	info       domain.SessionInfo
	deck       domain.Deck
	now        func() time.Time
	stuckAfter time.Duration

	mu           sync.Mutex
	mode         domain.Mode
	lockEnabled  bool
	checkpoints  []int // sorted ascending
	position     int
	participants map[string]*participantState
	distribution map[int]int
	board        *leaderboard
}

// NewSession builds a session around an immutable deck. The stuck threshold
// is injected rather than hard-coded so operators can tune it.
func NewSession(info domain.SessionInfo, deck domain.Deck, mode domain.Mode, stuckAfter time.Duration) *Session {
	return NewSessionWithClock(info, deck, mode, stuckAfter, time.Now)
}

// NewSessionWithClock allows deterministic timestamps in tests.
func NewSessionWithClock(info domain.SessionInfo, deck domain.Deck, mode domain.Mode, stuckAfter time.Duration, now func() time.Time) *Session {
	return &Session{
		info:         info,
		deck:         deck,
		now:          now,
		stuckAfter:   stuckAfter,
		mode:         mode,
		position:     1,
		participants: make(map[string]*participantState),
		distribution: make(map[int]int),
		board:        newLeaderboard(info.ID),
	}
}

// Info returns the descriptive session record.
func (s *Session) Info() domain.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// sideEffects describes the durable writes an event produced. They are
// applied after the in-memory mutation and never block it.
type sideEffects struct {
	participant *domain.Participant
	progress    *progressEffect
	score       *scoreEffect
	ended       bool
}

type progressEffect struct {
	studentID string
	rec       domain.ProgressRecord
}

type scoreEffect struct {
	studentID string
	itemID    string
	points    int
}

// handleLocked is the single dispatch table for client-originated events:
// it validates role and mode, mutates state, and returns the fanout plan.
// Validation always precedes mutation; an error means nothing changed and
// nothing is broadcast. Caller holds s.mu.
func (s *Session) handleLocked(actor domain.Actor, evt domain.ClientEvent) ([]domain.Fanout, sideEffects, error) {
	var none sideEffects
	if s.info.Status == domain.StatusEnded {
		return nil, none, domain.ErrSessionEnded
	}
	if !roleAllowed(evt.EventType(), actor.Role) {
		return nil, none, domain.ErrNotPermitted
	}

	switch e := evt.(type) {
	case *domain.NavigateEvent:
		return s.navigateLocked(e.Position)
	case *domain.StudentNavigateEvent:
		return s.studentNavigateLocked(actor.StudentID, e.Position)
	case *domain.ConfusionToggleEvent:
		return s.confusionLocked(actor.StudentID, e.Confused)
	case *domain.ClearConfusionEvent:
		return s.clearConfusionLocked()
	case *domain.CompleteItemEvent:
		return s.completeItemLocked(actor.StudentID, e)
	case *domain.SubmitAnswerEvent:
		return s.submitAnswerLocked(actor.StudentID, e)
	case *domain.SetModeEvent:
		return s.setModeLocked(e.Mode)
	case *domain.SetCheckpointsEvent:
		return s.setCheckpointsLocked(e.Positions)
	case *domain.SetLockEvent:
		return s.setLockLocked(e.Enabled)
	case *domain.StartPresentationEvent:
		return s.startLocked()
	case *domain.EndSessionEvent:
		return s.endLocked()
	default:
		return nil, none, domain.ErrInvalidPayload
	}
}

// navigateLocked moves the shared position pointer. In teacher-paced mode
// the navigation is hard: every student follows. In the other modes it is
// advisory and clients may ignore it.
func (s *Session) navigateLocked(target int) ([]domain.Fanout, sideEffects, error) {
	var none sideEffects
	if s.deck.ItemAt(target) == nil {
		return nil, none, domain.ErrInvalidPayload
	}
	s.position = target
	hard := s.mode == domain.ModeTeacherPaced
	if hard {
		for _, ps := range s.participants {
			if !ps.gone {
				s.moveParticipantLocked(ps, target)
			}
		}
	}
	return []domain.Fanout{{
		Scope: domain.FanoutBroadcastAll,
		Event: domain.Envelope{Type: domain.EventTeacherNavigated, Payload: domain.TeacherNavigatedPayload{Position: target, Hard: hard}},
	}}, none, nil
}

func (s *Session) studentNavigateLocked(studentID string, target int) ([]domain.Fanout, sideEffects, error) {
	var none sideEffects
	ps, ok := s.participants[studentID]
	if !ok {
		return nil, none, domain.ErrParticipantNotFound
	}
	if s.info.Status != domain.StatusLive {
		return nil, none, domain.ErrNotPermitted
	}
	if s.deck.ItemAt(target) == nil {
		return nil, none, domain.ErrInvalidPayload
	}
	if err := studentNavError(s.mode, s.lockEnabled, s.checkpoints, s.position, target); err != nil {
		return nil, none, err
	}
	s.moveParticipantLocked(ps, target)
	return []domain.Fanout{{
		Scope: domain.FanoutViewers,
		Event: domain.Envelope{Type: domain.EventStudentPosition, Payload: domain.StudentPositionPayload{StudentID: studentID, Position: target, Online: ps.p.Online}},
	}}, none, nil
}

func (s *Session) confusionLocked(studentID string, confused bool) ([]domain.Fanout, sideEffects, error) {
	var none sideEffects
	ps, ok := s.participants[studentID]
	if !ok {
		return nil, none, domain.ErrParticipantNotFound
	}
	if ps.p.Confused == confused {
		return nil, none, nil
	}
	ps.p.Confused = confused
	return []domain.Fanout{{
		Scope: domain.FanoutViewers,
		Event: domain.Envelope{Type: domain.EventConfusionUpdated, Payload: domain.ConfusionUpdatedPayload{
			StudentID:     studentID,
			Confused:      confused,
			ConfusedCount: s.confusedCountLocked(),
		}},
	}}, none, nil
}

// clearConfusionLocked clears every set flag at once. The flag is never
// cleared on a timer; only the student themself or this teacher action may
// clear it.
func (s *Session) clearConfusionLocked() ([]domain.Fanout, sideEffects, error) {
	var none sideEffects
	var cleared []string
	for id, ps := range s.participants {
		if ps.p.Confused {
			ps.p.Confused = false
			cleared = append(cleared, id)
		}
	}
	if len(cleared) == 0 {
		return nil, none, nil
	}
	sort.Strings(cleared)
	return []domain.Fanout{{
		Scope: domain.FanoutBroadcastAll,
		Event: domain.Envelope{Type: domain.EventConfusionCleared, Payload: domain.ConfusionClearedPayload{StudentIDs: cleared}},
	}}, none, nil
}

func (s *Session) completeItemLocked(studentID string, e *domain.CompleteItemEvent) ([]domain.Fanout, sideEffects, error) {
	var none sideEffects
	ps, ok := s.participants[studentID]
	if !ok {
		return nil, none, domain.ErrParticipantNotFound
	}
	if s.info.Status != domain.StatusLive || s.lockEnabled {
		return nil, none, domain.ErrNotPermitted
	}
	item := s.resolveItemLocked(ps, e.ItemID)
	if item == nil {
		return nil, none, domain.ErrItemNotFound
	}
	rec := s.progressRecordLocked(ps, item.ID, e.TimeSpentMS)
	ps.p.Progress = append(ps.p.Progress, rec)
	ps.completed[item.ID] = true

	fx := sideEffects{progress: &progressEffect{studentID: studentID, rec: rec}}
	return []domain.Fanout{{
		Scope: domain.FanoutViewers,
		Event: domain.Envelope{Type: domain.EventProgressRecorded, Payload: domain.ProgressRecordedPayload{
			StudentID:   studentID,
			ItemID:      item.ID,
			Position:    ps.p.Position,
			TimeSpentMS: rec.TimeSpent.Milliseconds(),
			CompletedAt: rec.CompletedAt,
		}},
	}}, fx, nil
}

func (s *Session) submitAnswerLocked(studentID string, e *domain.SubmitAnswerEvent) ([]domain.Fanout, sideEffects, error) {
	var none sideEffects
	ps, ok := s.participants[studentID]
	if !ok {
		return nil, none, domain.ErrParticipantNotFound
	}
	if s.info.Status != domain.StatusLive || s.lockEnabled {
		return nil, none, domain.ErrNotPermitted
	}
	item := s.deck.ItemByID(e.ItemID)
	if item == nil {
		return nil, none, domain.ErrItemNotFound
	}
	if !item.Scored {
		return nil, none, domain.ErrInvalidPayload
	}
	if ps.answered[item.ID] {
		// One response per student per item.
		return nil, none, domain.ErrNotPermitted
	}
	correct, awarded, err := scoreAnswer(item, e.OptionID)
	if err != nil {
		return nil, none, err
	}

	rec := s.progressRecordLocked(ps, item.ID, 0)
	ps.p.Progress = append(ps.p.Progress, rec)
	ps.completed[item.ID] = true
	ps.answered[item.ID] = true
	rankChanged := s.board.recordScore(studentID, ps.p.DisplayName, awarded)
	total := s.board.byID[studentID].total

	fx := sideEffects{
		progress: &progressEffect{studentID: studentID, rec: rec},
		score:    &scoreEffect{studentID: studentID, itemID: item.ID, points: awarded},
	}
	fanouts := []domain.Fanout{
		{
			Scope:     domain.FanoutUnicastStudent,
			StudentID: studentID,
			Event: domain.Envelope{Type: domain.EventAnswerResult, Payload: domain.AnswerResultPayload{
				ItemID:     item.ID,
				Correct:    correct,
				Awarded:    awarded,
				TotalScore: total,
			}},
		},
		{
			Scope: domain.FanoutViewers,
			Event: domain.Envelope{Type: domain.EventProgressRecorded, Payload: domain.ProgressRecordedPayload{
				StudentID:   studentID,
				ItemID:      item.ID,
				Position:    ps.p.Position,
				TimeSpentMS: rec.TimeSpent.Milliseconds(),
				CompletedAt: rec.CompletedAt,
			}},
		},
	}
	if rankChanged {
		fanouts = append(fanouts, domain.Fanout{
			Scope: domain.FanoutBroadcastAll,
			Event: domain.Envelope{Type: domain.EventLeaderboard, Payload: s.board.snapshot(s.now())},
		})
	}
	return fanouts, fx, nil
}

// setModeLocked switches the pacing mode. Transitions are instantaneous and
// never reset the position; only the legal action set changes.
func (s *Session) setModeLocked(mode domain.Mode) ([]domain.Fanout, sideEffects, error) {
	var none sideEffects
	if !mode.Valid() {
		return nil, none, domain.ErrInvalidPayload
	}
	if s.mode == mode {
		return nil, none, nil
	}
	s.mode = mode
	return []domain.Fanout{{
		Scope: domain.FanoutBroadcastAll,
		Event: domain.Envelope{Type: domain.EventModeChanged, Payload: domain.ModeChangedPayload{Mode: mode}},
	}}, none, nil
}

func (s *Session) setCheckpointsLocked(positions []int) ([]domain.Fanout, sideEffects, error) {
	var none sideEffects
	seen := make(map[int]bool, len(positions))
	cleaned := make([]int, 0, len(positions))
	for _, p := range positions {
		if s.deck.ItemAt(p) == nil {
			return nil, none, domain.ErrInvalidPayload
		}
		if !seen[p] {
			seen[p] = true
			cleaned = append(cleaned, p)
		}
	}
	sort.Ints(cleaned)
	s.checkpoints = cleaned
	return []domain.Fanout{{
		Scope: domain.FanoutBroadcastAll,
		Event: domain.Envelope{Type: domain.EventCheckpointsChanged, Payload: domain.CheckpointsChangedPayload{Positions: cleaned}},
	}}, none, nil
}

func (s *Session) setLockLocked(enabled bool) ([]domain.Fanout, sideEffects, error) {
	var none sideEffects
	if s.lockEnabled == enabled {
		return nil, none, nil
	}
	s.lockEnabled = enabled
	return []domain.Fanout{{
		Scope: domain.FanoutBroadcastAll,
		Event: domain.Envelope{Type: domain.EventLockChanged, Payload: domain.LockChangedPayload{Enabled: enabled}},
	}}, none, nil
}

func (s *Session) startLocked() ([]domain.Fanout, sideEffects, error) {
	var none sideEffects
	if s.info.Status == domain.StatusLive {
		return nil, none, nil
	}
	s.info.Status = domain.StatusLive
	return []domain.Fanout{{
		Scope: domain.FanoutBroadcastAll,
		Event: domain.Envelope{Type: domain.EventPresentationStarted, Payload: domain.PresentationStartedPayload{SessionID: s.info.ID, Position: s.position}},
	}}, none, nil
}

func (s *Session) endLocked() ([]domain.Fanout, sideEffects, error) {
	s.info.Status = domain.StatusEnded
	for _, ps := range s.participants {
		if ps.grace != nil {
			ps.grace.Stop()
			ps.grace = nil
		}
	}
	return []domain.Fanout{{
		Scope: domain.FanoutBroadcastAll,
		Event: domain.Envelope{Type: domain.EventSessionEnded, Payload: domain.SessionEndedPayload{SessionID: s.info.ID}},
	}}, sideEffects{ended: true}, nil
}

// joinLocked registers or refreshes a participant for a new connection and
// builds the snapshot that must reach the client before any delta.
func (s *Session) joinLocked(actor domain.Actor, displayName, deviceType string) (domain.Snapshot, []domain.Fanout, sideEffects) {
	var fanouts []domain.Fanout
	var fx sideEffects

	if actor.Role == domain.RoleStudent {
		ps, ok := s.participants[actor.StudentID]
		if !ok {
			ps = &participantState{
				p: domain.Participant{
					ID:          actor.StudentID,
					DisplayName: displayName,
					DeviceType:  deviceType,
					Position:    s.position,
				},
				startedAt: s.now(),
				completed: make(map[string]bool),
				answered:  make(map[string]bool),
			}
			s.participants[actor.StudentID] = ps
			s.distribution[ps.p.Position]++
			s.board.ensure(actor.StudentID, displayName)
		} else {
			if displayName != "" {
				ps.p.DisplayName = displayName
			}
			if deviceType != "" {
				ps.p.DeviceType = deviceType
			}
			if ps.grace != nil {
				ps.grace.Stop()
				ps.grace = nil
			}
			if ps.gone {
				// Back from durably-offline: re-enter aggregation.
				ps.gone = false
				s.distribution[ps.p.Position]++
			}
		}
		ps.p.Online = true
		fanouts = append(fanouts, domain.Fanout{
			Scope: domain.FanoutViewers,
			Event: domain.Envelope{Type: domain.EventStudentPosition, Payload: domain.StudentPositionPayload{
				StudentID: actor.StudentID,
				Position:  ps.p.Position,
				Online:    true,
			}},
		})
		p := ps.p
		fx.participant = &p
	}

	return s.snapshotLocked(actor), fanouts, fx
}

// snapshotLocked builds the role-shaped full snapshot: shared state for
// everyone, the student's own state for students, read models for viewers.
func (s *Session) snapshotLocked(actor domain.Actor) domain.Snapshot {
	snap := domain.Snapshot{
		SessionID:   s.info.ID,
		Status:      s.info.Status,
		Mode:        s.mode,
		LockEnabled: s.lockEnabled,
		Position:    s.position,
		Checkpoints: append([]int(nil), s.checkpoints...),
		DeckSize:    len(s.deck.Items),
	}
	switch actor.Role {
	case domain.RoleStudent:
		if ps, ok := s.participants[actor.StudentID]; ok {
			snap.SelfPosition = ps.p.Position
			snap.SelfConfused = ps.p.Confused
		}
	case domain.RoleTeacher, domain.RoleMonitor:
		snap.Dashboard = buildDashboard(s.info.ID, s.deck, s.participants, s.distribution, s.stuckAfter, s.now())
		lb := s.board.snapshot(s.now())
		snap.Leaderboard = &lb
	}
	return snap
}

// presenceDroppedLocked records that a student's last connection closed.
// It returns the fanout announcing the offline transition; the caller
// schedules the grace timer.
func (s *Session) presenceDroppedLocked(studentID string) []domain.Fanout {
	ps, ok := s.participants[studentID]
	if !ok || !ps.p.Online {
		return nil
	}
	ps.p.Online = false
	return []domain.Fanout{{
		Scope: domain.FanoutViewers,
		Event: domain.Envelope{Type: domain.EventStudentPosition, Payload: domain.StudentPositionPayload{
			StudentID: studentID,
			Position:  ps.p.Position,
			Online:    false,
		}},
	}}
}

// markGoneLocked fires when the grace period elapsed without a reconnect:
// the student leaves the aggregation views but keeps all history, including
// the confusion flag.
func (s *Session) markGoneLocked(studentID string) bool {
	ps, ok := s.participants[studentID]
	if !ok || ps.p.Online || ps.gone {
		return false
	}
	ps.gone = true
	if s.distribution[ps.p.Position] > 0 {
		s.distribution[ps.p.Position]--
	}
	return true
}

func (s *Session) moveParticipantLocked(ps *participantState, target int) {
	if ps.p.Position == target {
		return
	}
	if !ps.gone {
		if s.distribution[ps.p.Position] > 0 {
			s.distribution[ps.p.Position]--
		}
		s.distribution[target]++
	}
	ps.p.Position = target
	ps.startedAt = s.now()
}

func (s *Session) resolveItemLocked(ps *participantState, itemID string) *domain.DeckItem {
	if itemID != "" {
		return s.deck.ItemByID(itemID)
	}
	return s.deck.ItemAt(ps.p.Position)
}

func (s *Session) progressRecordLocked(ps *participantState, itemID string, timeSpentMS int64) domain.ProgressRecord {
	now := s.now()
	spent := time.Duration(timeSpentMS) * time.Millisecond
	started := ps.startedAt
	if spent > 0 {
		started = now.Add(-spent)
	} else if !started.IsZero() {
		spent = now.Sub(started)
	}
	return domain.ProgressRecord{
		ItemID:      itemID,
		StartedAt:   started,
		CompletedAt: now,
		TimeSpent:   spent,
	}
}

func (s *Session) confusedCountLocked() int {
	n := 0
	for _, ps := range s.participants {
		if ps.p.Confused && !ps.gone {
			n++
		}
	}
	return n
}

// rebuildDashboardLocked recomputes the distribution from scratch. Only the
// explicit manual-refresh path uses it; everything else stays incremental.
func (s *Session) rebuildDashboardLocked() {
	s.distribution = make(map[int]int)
	for _, ps := range s.participants {
		if !ps.gone {
			s.distribution[ps.p.Position]++
		}
	}
}

// scoreAnswer validates the option against the deck item and returns
// (correct, points awarded).
func scoreAnswer(item *domain.DeckItem, optionID string) (bool, int, error) {
	var selected *domain.Option
	for i := range item.Options {
		if item.Options[i].ID == optionID {
			selected = &item.Options[i]
			break
		}
	}
	if selected == nil {
		return false, 0, domain.ErrOptionNotFound
	}
	points := item.Points
	if points == 0 {
		points = 1
	}
	if selected.Correct {
		return true, points, nil
	}
	return false, 0, nil
}
