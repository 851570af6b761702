package postgres

import (
	"context"
	"fmt"

	"classpace-sync-service/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Store is the Postgres implementation of app.DurableStore: the append and
// update sink for records that must outlive the process. The sync core
// calls it off the hot path and tolerates failures.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) UpsertParticipant(ctx context.Context, sessionID string, p domain.Participant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO participants (session_id, student_id, display_name, device_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, student_id)
		DO UPDATE SET display_name = EXCLUDED.display_name, device_type = EXCLUDED.device_type`,
		sessionID, p.ID, p.DisplayName, p.DeviceType)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

func (s *Store) AppendProgressRecord(ctx context.Context, sessionID, studentID string, rec domain.ProgressRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO progress_records (session_id, student_id, item_id, started_at, completed_at, time_spent_ms)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sessionID, studentID, rec.ItemID, rec.StartedAt, rec.CompletedAt, rec.TimeSpent.Milliseconds())
	if err != nil {
		return fmt.Errorf("append progress record: %w", err)
	}
	return nil
}

func (s *Store) RecordScore(ctx context.Context, sessionID, studentID, itemID string, points int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scores (session_id, student_id, item_id, points)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, student_id, item_id)
		DO UPDATE SET points = EXCLUDED.points`,
		sessionID, studentID, itemID, points)
	if err != nil {
		return fmt.Errorf("record score: %w", err)
	}
	return nil
}
