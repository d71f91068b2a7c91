package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-select-api/internal/models"
)

// MatchingRunRepository persists the audit trail of matching passes.
type MatchingRunRepository struct {
	db *sqlx.DB
}

// NewMatchingRunRepository constructs the repository.
func NewMatchingRunRepository(db *sqlx.DB) *MatchingRunRepository {
	return &MatchingRunRepository{db: db}
}

// Create records the start of a pass.
func (r *MatchingRunRepository) Create(ctx context.Context, run *models.MatchingRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	const query = `INSERT INTO matching_runs (id, term, strategy, matched, waitlisted, errors, triggered_by, started_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(ctx, query, run.ID, run.Term, run.Strategy, run.Matched, run.Waitlisted,
		run.Errors, run.TriggeredBy, run.StartedAt); err != nil {
		return fmt.Errorf("create matching run: %w", err)
	}
	return nil
}

// Finish stores the final tallies. A run row without finished_at signals an
// interrupted pass.
func (r *MatchingRunRepository) Finish(ctx context.Context, id string, result models.MatchingResult) error {
	const query = `UPDATE matching_runs SET matched = $2, waitlisted = $3, errors = $4, finished_at = $5 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, result.Matched, result.Waitlisted, result.Errors, time.Now().UTC()); err != nil {
		return fmt.Errorf("finish matching run: %w", err)
	}
	return nil
}

// ListByTerm returns runs for a term, newest first.
func (r *MatchingRunRepository) ListByTerm(ctx context.Context, term string) ([]models.MatchingRun, error) {
	const query = `SELECT id, term, strategy, matched, waitlisted, errors, triggered_by, started_at, finished_at
        FROM matching_runs WHERE term = $1 ORDER BY started_at DESC`
	var runs []models.MatchingRun
	if err := r.db.SelectContext(ctx, &runs, query, term); err != nil {
		return nil, fmt.Errorf("list matching runs: %w", err)
	}
	return runs, nil
}
