package app

import (
	"context"
	"log"
	"time"

	"classpace-sync-service/internal/domain"
	"classpace-sync-service/internal/registry"
	"github.com/google/uuid"
)

// SessionRepository abstracts how live sessions are stored (in-memory,
// Redis-marked, etc).
type SessionRepository interface {
	Put(session *Session)
	Get(sessionID string) (*Session, bool)
	Delete(sessionID string)
}

// DeckRepository loads deck content (from cache/backing store).
type DeckRepository interface {
	GetDeck(ctx context.Context, deckID string) (domain.Deck, error)
}

// DurableStore is the append/update sink for records that must outlive the
// process. Write failures never block the live session; see persist.
type DurableStore interface {
	UpsertParticipant(ctx context.Context, sessionID string, p domain.Participant) error
	AppendProgressRecord(ctx context.Context, sessionID, studentID string, rec domain.ProgressRecord) error
	RecordScore(ctx context.Context, sessionID, studentID, itemID string, points int) error
}

// Options tunes the sync engine. Zero values fall back to defaults.
type Options struct {
	// StuckAfter is the elapsed time without progress after which a student
	// is classified as stuck on the dashboard.
	StuckAfter time.Duration
	// OfflineGrace is how long a dropped student may stay away before being
	// marked durably offline in aggregation views.
	OfflineGrace time.Duration
	Clock        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.StuckAfter <= 0 {
		o.StuckAfter = 2 * time.Minute
	}
	if o.OfflineGrace <= 0 {
		o.OfflineGrace = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// SyncService is the event router: every client action, whether it arrives
// over the socket or the REST control surface, funnels through Dispatch.
type SyncService struct {
	sessions SessionRepository
	decks    DeckRepository
	store    DurableStore // nil means memory-only operation
	registry *registry.Registry
	opts     Options
}

func NewSyncService(sessions SessionRepository, decks DeckRepository, store DurableStore, reg *registry.Registry, opts Options) *SyncService {
	return &SyncService{
		sessions: sessions,
		decks:    decks,
		store:    store,
		registry: reg,
		opts:     opts.withDefaults(),
	}
}

// Registry exposes the room registry to the transport layer.
func (s *SyncService) Registry() *registry.Registry { return s.registry }

// StartSession creates a session around a deck. It starts pending (lobby);
// the teacher's start-presentation event takes it live.
func (s *SyncService) StartSession(ctx context.Context, deckID, teacherID string, mode domain.Mode) (domain.SessionInfo, error) {
	if mode == "" {
		mode = domain.ModeTeacherPaced
	}
	if !mode.Valid() {
		return domain.SessionInfo{}, domain.ErrInvalidPayload
	}
	deck, err := s.decks.GetDeck(ctx, deckID)
	if err != nil {
		return domain.SessionInfo{}, err
	}
	info := domain.SessionInfo{
		ID:        uuid.New().String(),
		DeckID:    deckID,
		TeacherID: teacherID,
		Status:    domain.StatusPending,
		CreatedAt: s.opts.Clock(),
	}
	sess := NewSessionWithClock(info, deck, mode, s.opts.StuckAfter, s.opts.Clock)
	s.sessions.Put(sess)
	log.Printf("session %s created: deck=%s teacher=%s mode=%s", info.ID, deckID, teacherID, mode)
	return info, nil
}

// SessionInfo returns the descriptive record for a session.
func (s *SyncService) SessionInfo(sessionID string) (domain.SessionInfo, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.SessionInfo{}, domain.ErrSessionNotFound
	}
	return sess.Info(), nil
}

// Dispatch validates, mutates and fans out one client event. Mutation and
// fan-out happen under the session's lock, so events on one session are
// atomic with respect to each other; durable writes happen after, off the
// hot path. The returned plan is what was delivered.
func (s *SyncService) Dispatch(ctx context.Context, sessionID string, sender *registry.Conn, actor domain.Actor, evt domain.ClientEvent) ([]domain.Fanout, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	sess.mu.Lock()
	fanouts, fx, err := sess.handleLocked(actor, evt)
	if err != nil {
		sess.mu.Unlock()
		return nil, err
	}
	for _, f := range fanouts {
		s.registry.Apply(sessionID, sender, f)
	}
	sess.mu.Unlock()

	if fx.ended {
		s.registry.DropSession(sessionID)
		s.sessions.Delete(sessionID)
		log.Printf("session %s ended", sessionID)
	}
	s.persist(sessionID, fx)
	return fanouts, nil
}

// Connect joins a client to a session room. The snapshot is enqueued on the
// new connection under the session lock, before any later event can fan
// out, which is what guarantees snapshot-before-delta ordering.
func (s *SyncService) Connect(sessionID string, actor domain.Actor, displayName, deviceType string) (*registry.Conn, domain.Snapshot, error) {
	if !actor.Role.Valid() {
		return nil, domain.Snapshot{}, domain.ErrInvalidPayload
	}
	if (actor.Role == domain.RoleStudent || actor.Role == domain.RoleTeacher) && actor.StudentID == "" {
		return nil, domain.Snapshot{}, domain.ErrInvalidPayload
	}
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.Snapshot{}, domain.ErrSessionNotFound
	}

	conn := registry.NewConn(sessionID, actor.Role, actor.StudentID)

	sess.mu.Lock()
	snap, fanouts, fx := sess.joinLocked(actor, displayName, deviceType)
	s.registry.Add(conn)
	s.registry.Deliver(conn, domain.Envelope{Type: domain.EventSnapshot, Payload: snap})
	for _, f := range fanouts {
		s.registry.Apply(sessionID, conn, f)
	}
	sess.mu.Unlock()

	s.persist(sessionID, fx)
	log.Printf("conn %s joined session %s: role=%s student=%s", conn.ID, sessionID, actor.Role, actor.StudentID)
	return conn, snap, nil
}

// Disconnect removes a connection. When a student's last connection drops,
// presence goes offline immediately and the grace timer starts; if it fires
// before a reconnect the student is marked durably offline in aggregation,
// with all history (confusion flag included) retained.
func (s *SyncService) Disconnect(conn *registry.Conn) {
	s.registry.Remove(conn)
	if conn.Role != domain.RoleStudent {
		return
	}
	sess, ok := s.sessions.Get(conn.SessionID)
	if !ok {
		return
	}
	if s.registry.StudentConnCount(conn.SessionID, conn.StudentID) > 0 {
		// Another tab is still attached; one logical presence remains.
		return
	}

	sess.mu.Lock()
	fanouts := sess.presenceDroppedLocked(conn.StudentID)
	for _, f := range fanouts {
		s.registry.Apply(conn.SessionID, conn, f)
	}
	// Only the transition to offline starts the grace window; a repeated
	// disconnect for an already-offline student must not reset a running
	// timer.
	if len(fanouts) > 0 {
		if ps, ok := sess.participants[conn.StudentID]; ok {
			studentID := conn.StudentID
			sessionID := conn.SessionID
			ps.grace = time.AfterFunc(s.opts.OfflineGrace, func() {
				s.expireGrace(sessionID, studentID)
			})
		}
	}
	sess.mu.Unlock()
}

func (s *SyncService) expireGrace(sessionID, studentID string) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}
	sess.mu.Lock()
	marked := sess.markGoneLocked(studentID)
	sess.mu.Unlock()
	if marked {
		log.Printf("student %s in session %s missed the reconnect grace, marked offline", studentID, sessionID)
	}
}

// Dashboard returns the monitoring read model. refresh forces a rebuild of
// the distribution from the participant map; the normal path is purely
// incremental.
func (s *SyncService) Dashboard(sessionID string, refresh bool) (*domain.Dashboard, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if refresh {
		sess.rebuildDashboardLocked()
	}
	return buildDashboard(sess.info.ID, sess.deck, sess.participants, sess.distribution, sess.stuckAfter, sess.now()), nil
}

// Leaderboard returns the current ranked scoreboard.
func (s *SyncService) Leaderboard(sessionID string) (domain.Leaderboard, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.Leaderboard{}, domain.ErrSessionNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.board.snapshot(sess.now()), nil
}

// persist applies durable side effects in the background. A failed write
// degrades to an operator-visible warning after one retry; the live session
// never waits on the store.
func (s *SyncService) persist(sessionID string, fx sideEffects) {
	if s.store == nil {
		return
	}
	run := func(what string, op func(context.Context) error) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := op(ctx)
			if err != nil {
				time.Sleep(time.Second)
				err = op(ctx)
			}
			if err != nil {
				log.Printf("warning: session %s: %s not persisted: %v", sessionID, what, err)
			}
		}()
	}
	if fx.participant != nil {
		p := *fx.participant
		run("participant upsert", func(ctx context.Context) error {
			return s.store.UpsertParticipant(ctx, sessionID, p)
		})
	}
	if fx.progress != nil {
		eff := *fx.progress
		run("progress record", func(ctx context.Context) error {
			return s.store.AppendProgressRecord(ctx, sessionID, eff.studentID, eff.rec)
		})
	}
	if fx.score != nil {
		eff := *fx.score
		run("score", func(ctx context.Context) error {
			return s.store.RecordScore(ctx, sessionID, eff.studentID, eff.itemID, eff.points)
		})
	}
}
