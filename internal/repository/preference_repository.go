package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-select-api/internal/models"
)

// PreferenceRepository handles persistence of ranked preference lists.
type PreferenceRepository struct {
	db *sqlx.DB
}

// NewPreferenceRepository constructs the repository.
func NewPreferenceRepository(db *sqlx.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

func (r *PreferenceRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindActiveByStudentAndTerm returns the non-withdrawn list for the
// combination, entries included, or sql.ErrNoRows.
func (r *PreferenceRepository) FindActiveByStudentAndTerm(ctx context.Context, studentID, term string) (*models.PreferenceList, error) {
	const query = `SELECT id, student_id, term, status, submitted_at, updated_at FROM preference_lists
        WHERE student_id = $1 AND term = $2 AND status = $3 LIMIT 1`
	var list models.PreferenceList
	if err := r.db.GetContext(ctx, &list, query, studentID, term, models.PreferenceListStatusActive); err != nil {
		return nil, err
	}
	entries, err := r.listEntries(ctx, list.ID)
	if err != nil {
		return nil, err
	}
	list.Entries = entries
	return &list, nil
}

// EntriesForList returns the ranked entries of a list ordered by rank.
func (r *PreferenceRepository) EntriesForList(ctx context.Context, listID string) ([]models.PreferenceEntry, error) {
	return r.listEntries(ctx, listID)
}

func (r *PreferenceRepository) listEntries(ctx context.Context, listID string) ([]models.PreferenceEntry, error) {
	const query = `SELECT list_id, course_id, rank, reason FROM preference_entries WHERE list_id = $1 ORDER BY rank ASC`
	var entries []models.PreferenceEntry
	if err := r.db.SelectContext(ctx, &entries, query, listID); err != nil {
		return nil, fmt.Errorf("list preference entries: %w", err)
	}
	return entries, nil
}

// Create persists a new list with its entries. exec may be a transaction so
// the list and the derived enrollment commit as one unit.
func (r *PreferenceRepository) Create(ctx context.Context, exec sqlx.ExtContext, list *models.PreferenceList) error {
	if list.ID == "" {
		list.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if list.SubmittedAt.IsZero() {
		list.SubmittedAt = now
	}
	list.UpdatedAt = now
	if list.Status == "" {
		list.Status = models.PreferenceListStatusActive
	}
	const query = `INSERT INTO preference_lists (id, student_id, term, status, submitted_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.exec(exec).ExecContext(ctx, query, list.ID, list.StudentID, list.Term, list.Status, list.SubmittedAt, list.UpdatedAt); err != nil {
		return fmt.Errorf("create preference list: %w", err)
	}
	return r.insertEntries(ctx, exec, list.ID, list.Entries)
}

// ReplaceEntries swaps the whole ranked list atomically within exec. No
// partial update is ever visible to a concurrent matching pass.
func (r *PreferenceRepository) ReplaceEntries(ctx context.Context, exec sqlx.ExtContext, listID string, entries []models.PreferenceEntry) error {
	if _, err := r.exec(exec).ExecContext(ctx, `DELETE FROM preference_entries WHERE list_id = $1`, listID); err != nil {
		return fmt.Errorf("clear preference entries: %w", err)
	}
	if err := r.insertEntries(ctx, exec, listID, entries); err != nil {
		return err
	}
	const query = `UPDATE preference_lists SET updated_at = $2 WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, listID, time.Now().UTC()); err != nil {
		return fmt.Errorf("touch preference list: %w", err)
	}
	return nil
}

// Withdraw marks the list withdrawn, re-opening submission for the term.
func (r *PreferenceRepository) Withdraw(ctx context.Context, exec sqlx.ExtContext, listID string) error {
	const query = `UPDATE preference_lists SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, listID, models.PreferenceListStatusWithdrawn, time.Now().UTC()); err != nil {
		return fmt.Errorf("withdraw preference list: %w", err)
	}
	return nil
}

func (r *PreferenceRepository) insertEntries(ctx context.Context, exec sqlx.ExtContext, listID string, entries []models.PreferenceEntry) error {
	const query = `INSERT INTO preference_entries (list_id, course_id, rank, reason) VALUES ($1, $2, $3, $4)`
	for _, entry := range entries {
		if _, err := r.exec(exec).ExecContext(ctx, query, listID, entry.CourseID, entry.Rank, entry.Reason); err != nil {
			return fmt.Errorf("insert preference entry rank %d: %w", entry.Rank, err)
		}
	}
	return nil
}
