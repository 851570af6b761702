package app

import (
	"errors"
	"testing"
	"time"

	"classpace-sync-service/internal/domain"
)

func testDeck() domain.Deck {
	return domain.Deck{ID: "deck-1", Items: []domain.DeckItem{
		{ID: "i1", Title: "intro"},
		{ID: "i2", Title: "warmup"},
		{ID: "i3", Title: "quiz", Scored: true, Points: 2, Options: []domain.Option{
			{ID: "a", Correct: true},
			{ID: "b", Correct: false},
		}},
		{ID: "i4", Title: "practice"},
		{ID: "i5", Title: "wrapup"},
	}}
}

func newLiveSession(t *testing.T, mode domain.Mode) *Session {
	t.Helper()
	info := domain.SessionInfo{
		ID:        "sess-1",
		DeckID:    "deck-1",
		TeacherID: "t-1",
		Status:    domain.StatusLive,
		CreatedAt: time.Now(),
	}
	return NewSession(info, testDeck(), mode, 2*time.Minute)
}

func joinStudent(t *testing.T, s *Session, id string) {
	t.Helper()
	s.mu.Lock()
	s.joinLocked(domain.Actor{Role: domain.RoleStudent, StudentID: id}, "Student "+id, "laptop")
	s.mu.Unlock()
}

func dispatch(t *testing.T, s *Session, actor domain.Actor, evt domain.ClientEvent) []domain.Fanout {
	t.Helper()
	s.mu.Lock()
	fanouts, _, err := s.handleLocked(actor, evt)
	s.mu.Unlock()
	if err != nil {
		t.Fatalf("handle %s: %v", evt.EventType(), err)
	}
	return fanouts
}

func dispatchErr(s *Session, actor domain.Actor, evt domain.ClientEvent) error {
	s.mu.Lock()
	_, _, err := s.handleLocked(actor, evt)
	s.mu.Unlock()
	return err
}

var teacher = domain.Actor{Role: domain.RoleTeacher, StudentID: "t-1"}

func student(id string) domain.Actor {
	return domain.Actor{Role: domain.RoleStudent, StudentID: id}
}

func TestHardFollowNavigation(t *testing.T) {
	s := newLiveSession(t, domain.ModeTeacherPaced)
	joinStudent(t, s, "alice")
	joinStudent(t, s, "bob")

	fanouts := dispatch(t, s, teacher, &domain.NavigateEvent{Position: 2})
	if len(fanouts) != 1 || fanouts[0].Scope != domain.FanoutBroadcastAll {
		t.Fatalf("expected one broadcast-all fanout, got %+v", fanouts)
	}
	nav := fanouts[0].Event.Payload.(domain.TeacherNavigatedPayload)
	if nav.Position != 2 || !nav.Hard {
		t.Fatalf("expected hard navigation to 2, got %+v", nav)
	}
	for _, id := range []string{"alice", "bob"} {
		if got := s.participants[id].p.Position; got != 2 {
			t.Fatalf("student %s should follow to 2, got %d", id, got)
		}
	}
	if s.distribution[2] != 2 || s.distribution[1] != 0 {
		t.Fatalf("distribution not moved: %v", s.distribution)
	}
}

func TestAdvisoryNavigation(t *testing.T) {
	s := newLiveSession(t, domain.ModeStudentPaced)
	joinStudent(t, s, "alice")

	fanouts := dispatch(t, s, teacher, &domain.NavigateEvent{Position: 3})
	nav := fanouts[0].Event.Payload.(domain.TeacherNavigatedPayload)
	if nav.Hard {
		t.Fatal("student-paced navigation must be advisory")
	}
	if got := s.participants["alice"].p.Position; got != 1 {
		t.Fatalf("advisory navigation must not move students, alice at %d", got)
	}
	if s.position != 3 {
		t.Fatalf("shared position should still advance, got %d", s.position)
	}
}

func TestBoundedCheckpointSequence(t *testing.T) {
	s := newLiveSession(t, domain.ModeBounded)
	joinStudent(t, s, "alice")
	dispatch(t, s, teacher, &domain.SetCheckpointsEvent{Positions: []int{3}})

	dispatch(t, s, student("alice"), &domain.StudentNavigateEvent{Position: 2})
	dispatch(t, s, student("alice"), &domain.StudentNavigateEvent{Position: 3})

	err := dispatchErr(s, student("alice"), &domain.StudentNavigateEvent{Position: 4})
	if !errors.Is(err, domain.ErrNotPermitted) {
		t.Fatalf("navigation past checkpoint: expected ErrNotPermitted, got %v", err)
	}
	if got := s.participants["alice"].p.Position; got != 3 {
		t.Fatalf("rejected navigation must not move the student, at %d", got)
	}

	// The teacher advancing past the checkpoint releases the bound.
	dispatch(t, s, teacher, &domain.NavigateEvent{Position: 4})
	dispatch(t, s, student("alice"), &domain.StudentNavigateEvent{Position: 4})
	if got := s.participants["alice"].p.Position; got != 4 {
		t.Fatalf("expected alice at 4 after release, got %d", got)
	}
}

func TestCheckpointsDedupedAndSorted(t *testing.T) {
	s := newLiveSession(t, domain.ModeBounded)
	fanouts := dispatch(t, s, teacher, &domain.SetCheckpointsEvent{Positions: []int{4, 2, 4, 2}})
	pl := fanouts[0].Event.Payload.(domain.CheckpointsChangedPayload)
	if len(pl.Positions) != 2 || pl.Positions[0] != 2 || pl.Positions[1] != 4 {
		t.Fatalf("expected [2 4], got %v", pl.Positions)
	}
	if err := dispatchErr(s, teacher, &domain.SetCheckpointsEvent{Positions: []int{99}}); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("out-of-range checkpoint: expected ErrInvalidPayload, got %v", err)
	}
}

func TestConfusionLifecycle(t *testing.T) {
	s := newLiveSession(t, domain.ModeStudentPaced)
	joinStudent(t, s, "alice")
	joinStudent(t, s, "bob")

	fanouts := dispatch(t, s, student("alice"), &domain.ConfusionToggleEvent{Confused: true})
	if fanouts[0].Scope != domain.FanoutViewers {
		t.Fatalf("confusion updates go to viewers, got %s", fanouts[0].Scope)
	}
	upd := fanouts[0].Event.Payload.(domain.ConfusionUpdatedPayload)
	if !upd.Confused || upd.ConfusedCount != 1 {
		t.Fatalf("unexpected payload: %+v", upd)
	}

	// Toggling to the same value is a no-op with no fanout.
	if again := dispatch(t, s, student("alice"), &domain.ConfusionToggleEvent{Confused: true}); len(again) != 0 {
		t.Fatalf("duplicate toggle must not fan out, got %+v", again)
	}

	dispatch(t, s, student("bob"), &domain.ConfusionToggleEvent{Confused: true})
	fanouts = dispatch(t, s, teacher, &domain.ClearConfusionEvent{})
	cleared := fanouts[0].Event.Payload.(domain.ConfusionClearedPayload)
	if len(cleared.StudentIDs) != 2 || cleared.StudentIDs[0] != "alice" || cleared.StudentIDs[1] != "bob" {
		t.Fatalf("expected sorted [alice bob], got %v", cleared.StudentIDs)
	}
	for _, id := range []string{"alice", "bob"} {
		if s.participants[id].p.Confused {
			t.Fatalf("student %s still confused after clear-all", id)
		}
	}
	if again := dispatch(t, s, teacher, &domain.ClearConfusionEvent{}); len(again) != 0 {
		t.Fatalf("clear with nothing set must not fan out, got %+v", again)
	}
}

func TestConfusionSurvivesOfflineGrace(t *testing.T) {
	s := newLiveSession(t, domain.ModeStudentPaced)
	joinStudent(t, s, "alice")
	dispatch(t, s, student("alice"), &domain.ConfusionToggleEvent{Confused: true})

	s.mu.Lock()
	s.presenceDroppedLocked("alice")
	if !s.markGoneLocked("alice") {
		s.mu.Unlock()
		t.Fatal("expected markGoneLocked to fire for an offline student")
	}
	s.mu.Unlock()

	s.mu.Lock()
	snap, _, _ := s.joinLocked(student("alice"), "Alice", "laptop")
	s.mu.Unlock()
	if !snap.SelfConfused {
		t.Fatal("confusion flag must survive disconnect and grace expiry")
	}
	if s.distribution[1] != 1 {
		t.Fatalf("rejoin must restore the distribution, got %v", s.distribution)
	}
}

func TestLockBlocksNavigationNotConfusion(t *testing.T) {
	s := newLiveSession(t, domain.ModeStudentPaced)
	joinStudent(t, s, "alice")
	dispatch(t, s, teacher, &domain.SetLockEvent{Enabled: true})

	if err := dispatchErr(s, student("alice"), &domain.StudentNavigateEvent{Position: 2}); !errors.Is(err, domain.ErrNotPermitted) {
		t.Fatalf("locked navigation: expected ErrNotPermitted, got %v", err)
	}
	if err := dispatchErr(s, student("alice"), &domain.CompleteItemEvent{}); !errors.Is(err, domain.ErrNotPermitted) {
		t.Fatalf("locked completion: expected ErrNotPermitted, got %v", err)
	}
	// Signaling confusion stays available under lock.
	dispatch(t, s, student("alice"), &domain.ConfusionToggleEvent{Confused: true})

	dispatch(t, s, teacher, &domain.SetLockEvent{Enabled: false})
	dispatch(t, s, student("alice"), &domain.StudentNavigateEvent{Position: 2})
	if got := s.participants["alice"].p.Position; got != 2 {
		t.Fatalf("expected alice at 2 after unlock, got %d", got)
	}
}

func TestModeSwitchKeepsPosition(t *testing.T) {
	s := newLiveSession(t, domain.ModeTeacherPaced)
	joinStudent(t, s, "alice")
	dispatch(t, s, teacher, &domain.NavigateEvent{Position: 3})

	fanouts := dispatch(t, s, teacher, &domain.SetModeEvent{Mode: domain.ModeStudentPaced})
	if fanouts[0].Event.Type != domain.EventModeChanged {
		t.Fatalf("expected mode-changed, got %s", fanouts[0].Event.Type)
	}
	if s.position != 3 || s.participants["alice"].p.Position != 3 {
		t.Fatal("mode switch must not reset positions")
	}
	if err := dispatchErr(s, teacher, &domain.SetModeEvent{Mode: "free-for-all"}); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("invalid mode: expected ErrInvalidPayload, got %v", err)
	}
}

func TestValidationPrecedesMutation(t *testing.T) {
	s := newLiveSession(t, domain.ModeTeacherPaced)
	joinStudent(t, s, "alice")

	if err := dispatchErr(s, teacher, &domain.NavigateEvent{Position: 99}); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("out-of-range navigate: expected ErrInvalidPayload, got %v", err)
	}
	if s.position != 1 || s.participants["alice"].p.Position != 1 {
		t.Fatal("rejected navigation must leave all state untouched")
	}

	if err := dispatchErr(s, student("alice"), &domain.NavigateEvent{Position: 2}); !errors.Is(err, domain.ErrNotPermitted) {
		t.Fatalf("student sending a teacher event: expected ErrNotPermitted, got %v", err)
	}
	if err := dispatchErr(s, teacher, &domain.ConfusionToggleEvent{Confused: true}); !errors.Is(err, domain.ErrNotPermitted) {
		t.Fatalf("teacher sending a student event: expected ErrNotPermitted, got %v", err)
	}
}

func TestSubmitAnswerOncePerItem(t *testing.T) {
	s := newLiveSession(t, domain.ModeStudentPaced)
	joinStudent(t, s, "alice")

	fanouts := dispatch(t, s, student("alice"), &domain.SubmitAnswerEvent{ItemID: "i3", OptionID: "a"})
	var sawResult, sawBoard bool
	for _, f := range fanouts {
		switch f.Event.Type {
		case domain.EventAnswerResult:
			sawResult = true
			if f.Scope != domain.FanoutUnicastStudent || f.StudentID != "alice" {
				t.Fatalf("answer-result must unicast to the actor, got %+v", f)
			}
			res := f.Event.Payload.(domain.AnswerResultPayload)
			if !res.Correct || res.Awarded != 2 || res.TotalScore != 2 {
				t.Fatalf("unexpected answer result: %+v", res)
			}
		case domain.EventLeaderboard:
			sawBoard = true
			if f.Scope != domain.FanoutBroadcastAll {
				t.Fatalf("leaderboard goes to everyone, got %s", f.Scope)
			}
		}
	}
	if !sawResult || !sawBoard {
		t.Fatalf("expected answer-result and leaderboard fanouts, got %+v", fanouts)
	}

	if err := dispatchErr(s, student("alice"), &domain.SubmitAnswerEvent{ItemID: "i3", OptionID: "b"}); !errors.Is(err, domain.ErrNotPermitted) {
		t.Fatalf("second answer on same item: expected ErrNotPermitted, got %v", err)
	}
	if err := dispatchErr(s, student("alice"), &domain.SubmitAnswerEvent{ItemID: "i1", OptionID: "a"}); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("answer on unscored item: expected ErrInvalidPayload, got %v", err)
	}
}

func TestSnapshotShapes(t *testing.T) {
	s := newLiveSession(t, domain.ModeBounded)
	dispatch(t, s, teacher, &domain.SetCheckpointsEvent{Positions: []int{3}})
	joinStudent(t, s, "alice")
	dispatch(t, s, student("alice"), &domain.StudentNavigateEvent{Position: 2})
	dispatch(t, s, student("alice"), &domain.ConfusionToggleEvent{Confused: true})

	s.mu.Lock()
	stuSnap := s.snapshotLocked(student("alice"))
	teaSnap := s.snapshotLocked(teacher)
	projSnap := s.snapshotLocked(domain.Actor{Role: domain.RoleProjector})
	s.mu.Unlock()

	if stuSnap.SelfPosition != 2 || !stuSnap.SelfConfused {
		t.Fatalf("student snapshot missing self state: %+v", stuSnap)
	}
	if stuSnap.Dashboard != nil || stuSnap.Leaderboard != nil {
		t.Fatal("student snapshot must not carry aggregation views")
	}
	if stuSnap.DeckSize != 5 || len(stuSnap.Checkpoints) != 1 || stuSnap.Checkpoints[0] != 3 {
		t.Fatalf("shared state wrong in student snapshot: %+v", stuSnap)
	}

	if teaSnap.Dashboard == nil || teaSnap.Leaderboard == nil {
		t.Fatal("teacher snapshot must carry dashboard and leaderboard")
	}
	if teaSnap.Dashboard.Distribution[2] != 1 || len(teaSnap.Dashboard.ConfusedIDs) != 1 {
		t.Fatalf("unexpected dashboard in snapshot: %+v", teaSnap.Dashboard)
	}

	if projSnap.Dashboard != nil || projSnap.SelfPosition != 0 {
		t.Fatalf("projector snapshot carries only shared state: %+v", projSnap)
	}
}

func TestLobbyAndEndLifecycle(t *testing.T) {
	info := domain.SessionInfo{ID: "sess-1", DeckID: "deck-1", TeacherID: "t-1", Status: domain.StatusPending}
	s := NewSession(info, testDeck(), domain.ModeTeacherPaced, 2*time.Minute)
	joinStudent(t, s, "alice")

	// Students in the lobby cannot move yet.
	if err := dispatchErr(s, student("alice"), &domain.StudentNavigateEvent{Position: 2}); !errors.Is(err, domain.ErrNotPermitted) {
		t.Fatalf("lobby navigation: expected ErrNotPermitted, got %v", err)
	}

	fanouts := dispatch(t, s, teacher, &domain.StartPresentationEvent{})
	if fanouts[0].Event.Type != domain.EventPresentationStarted || fanouts[0].Scope != domain.FanoutBroadcastAll {
		t.Fatalf("expected presentation-started broadcast, got %+v", fanouts)
	}
	if s.info.Status != domain.StatusLive {
		t.Fatalf("expected live status, got %s", s.info.Status)
	}
	// Starting twice is idempotent.
	if again := dispatch(t, s, teacher, &domain.StartPresentationEvent{}); len(again) != 0 {
		t.Fatalf("second start must be a no-op, got %+v", again)
	}

	s.mu.Lock()
	fanouts, fx, err := s.handleLocked(teacher, &domain.EndSessionEvent{})
	s.mu.Unlock()
	if err != nil || !fx.ended {
		t.Fatalf("end-session: fanouts=%v fx=%+v err=%v", fanouts, fx, err)
	}
	if fanouts[0].Event.Type != domain.EventSessionEnded {
		t.Fatalf("expected session-ended broadcast, got %s", fanouts[0].Event.Type)
	}
	if err := dispatchErr(s, teacher, &domain.NavigateEvent{Position: 2}); !errors.Is(err, domain.ErrSessionEnded) {
		t.Fatalf("event after end: expected ErrSessionEnded, got %v", err)
	}
}

func TestDuplicateJoinKeepsOneLogicalPresence(t *testing.T) {
	s := newLiveSession(t, domain.ModeStudentPaced)
	joinStudent(t, s, "alice")
	joinStudent(t, s, "alice")

	if s.distribution[1] != 1 {
		t.Fatalf("duplicate join must not double-count, got %v", s.distribution)
	}
	dash := buildDashboard(s.info.ID, s.deck, s.participants, s.distribution, s.stuckAfter, time.Now())
	if dash.OnlineCount != 1 {
		t.Fatalf("expected one logical presence, got %d", dash.OnlineCount)
	}
}
