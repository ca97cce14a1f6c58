package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// Tracker maintains a quiz_stats row per quiz. Drop-offs are folded into a
// JSONB map keyed by element id.
type Tracker struct {
	pool *pgxpool.Pool
}

func NewTracker(pool *pgxpool.Pool) *Tracker {
	return &Tracker{pool: pool}
}

func (t *Tracker) RecordImpression(ctx context.Context, quizID string) error {
	return t.bump(ctx, quizID, "views")
}

func (t *Tracker) RecordCompletion(ctx context.Context, quizID string) error {
	return t.bump(ctx, quizID, "completions")
}

func (t *Tracker) RecordDropOff(ctx context.Context, quizID, elementID string) error {
	_, err := t.pool.Exec(ctx, `
		INSERT INTO quiz_stats (quiz_id, drop_offs)
		VALUES ($1, jsonb_build_object($2::text, 1))
		ON CONFLICT (quiz_id) DO UPDATE SET
			drop_offs = quiz_stats.drop_offs ||
				jsonb_build_object($2::text, COALESCE((quiz_stats.drop_offs->>$2)::int, 0) + 1)`,
		quizID, elementID)
	if err != nil {
		return fmt.Errorf("record drop-off: %w", err)
	}
	return nil
}

func (t *Tracker) bump(ctx context.Context, quizID, column string) error {
	_, err := t.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO quiz_stats (quiz_id, %s) VALUES ($1, 1)
		ON CONFLICT (quiz_id) DO UPDATE SET %s = quiz_stats.%s + 1`,
		column, column, column), quizID)
	if err != nil {
		return fmt.Errorf("record %s: %w", column, err)
	}
	return nil
}
