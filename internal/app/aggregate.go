package app

import (
	"sort"
	"time"

	"classpace-sync-service/internal/domain"
)

// boardEntry is the mutable per-student score row behind the leaderboard.
type boardEntry struct {
	studentID   string
	displayName string
	total       int
	responses   int // scored responses recorded
}

// leaderboard keeps the ranked scoreboard incrementally: each scored
// response updates one entry, then the full list is re-ranked with a stable
// sort so equal scores keep their prior relative order. Deterministic for
// an identical event sequence.
type leaderboard struct {
	sessionID string
	order     []*boardEntry
	byID      map[string]*boardEntry
}

func newLeaderboard(sessionID string) *leaderboard {
	return &leaderboard{
		sessionID: sessionID,
		byID:      make(map[string]*boardEntry),
	}
}

// ensure registers a student on the board with a zero score. Returns true
// when the board gained a new row.
func (b *leaderboard) ensure(studentID, displayName string) bool {
	if e, ok := b.byID[studentID]; ok {
		e.displayName = displayName
		return false
	}
	e := &boardEntry{studentID: studentID, displayName: displayName}
	b.byID[studentID] = e
	b.order = append(b.order, e)
	return true
}

// recordScore applies one scored response and re-ranks. Returns true when
// any student's rank moved.
func (b *leaderboard) recordScore(studentID, displayName string, points int) bool {
	b.ensure(studentID, displayName)
	e := b.byID[studentID]
	e.total += points
	e.responses++
	return b.rerank()
}

func (b *leaderboard) rerank() bool {
	before := make([]string, len(b.order))
	for i, e := range b.order {
		before[i] = e.studentID
	}
	// Stable: higher total wins, ties keep prior relative order.
	sort.SliceStable(b.order, func(i, j int) bool {
		return b.order[i].total > b.order[j].total
	})
	for i, e := range b.order {
		if before[i] != e.studentID {
			return true
		}
	}
	return false
}

func (b *leaderboard) snapshot(now time.Time) domain.Leaderboard {
	entries := make([]domain.LeaderboardEntry, len(b.order))
	for i, e := range b.order {
		avg := 0.0
		if e.responses > 0 {
			avg = float64(e.total) / float64(e.responses)
		}
		entries[i] = domain.LeaderboardEntry{
			StudentID:           e.studentID,
			DisplayName:         e.displayName,
			Rank:                i + 1,
			TotalScore:          e.total,
			AverageScore:        avg,
			ActivitiesCompleted: e.responses,
		}
	}
	return domain.Leaderboard{SessionID: b.sessionID, Entries: entries, UpdatedAt: now}
}

// buildDashboard projects the monitoring view from session state. The
// distribution map is maintained incrementally by the session; stuck
// classification derives from the per-student startedAt stamps against the
// injected threshold.
func buildDashboard(sessionID string, deck domain.Deck, parts map[string]*participantState, distribution map[int]int, stuckAfter time.Duration, now time.Time) *domain.Dashboard {
	dash := &domain.Dashboard{
		SessionID:    sessionID,
		Distribution: make(map[int]int, len(distribution)),
		UpdatedAt:    now,
	}
	for pos, n := range distribution {
		if n > 0 {
			dash.Distribution[pos] = n
		}
	}
	for id, ps := range parts {
		if ps.gone {
			continue
		}
		if ps.p.Online {
			dash.OnlineCount++
		}
		if ps.p.Confused {
			dash.ConfusedIDs = append(dash.ConfusedIDs, id)
		}
		if item := deck.ItemAt(ps.p.Position); item != nil && !ps.completed[item.ID] {
			if elapsed := now.Sub(ps.startedAt); !ps.startedAt.IsZero() && elapsed >= stuckAfter {
				dash.Stuck = append(dash.Stuck, domain.StuckReport{
					StudentID: id,
					Position:  ps.p.Position,
					Elapsed:   elapsed,
				})
			}
		}
	}
	sort.Strings(dash.ConfusedIDs)
	sort.Slice(dash.Stuck, func(i, j int) bool { return dash.Stuck[i].StudentID < dash.Stuck[j].StudentID })
	return dash
}
