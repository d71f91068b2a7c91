package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-select-api/internal/models"
)

// CapacityLedger is the single authority over the per-course enrolled
// counter. Every mutation is a guarded single-statement UPDATE so two
// concurrent writers can never both observe the same free seat: the row lock
// taken by the UPDATE serialises them, and the WHERE guard makes the loser's
// statement a no-op instead of an overbooking.
type CapacityLedger struct {
	db *sqlx.DB
}

// NewCapacityLedger constructs the ledger.
func NewCapacityLedger(db *sqlx.DB) *CapacityLedger {
	return &CapacityLedger{db: db}
}

func (l *CapacityLedger) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return l.db
}

// TryReserve atomically checks and increments the seat counter. It returns
// false when the course is full. exec may be a transaction so the reservation
// commits together with the enrollment status write.
func (l *CapacityLedger) TryReserve(ctx context.Context, exec sqlx.ExtContext, courseID string) (bool, error) {
	const query = `UPDATE courses SET enrolled = enrolled + 1 WHERE id = $1 AND enrolled < capacity`
	res, err := l.exec(exec).ExecContext(ctx, query, courseID)
	if err != nil {
		return false, fmt.Errorf("reserve seat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve seat result: %w", err)
	}
	return affected == 1, nil
}

// Release atomically decrements the seat counter. The guard keeps the counter
// from going negative if a release races a reconciliation rewrite.
func (l *CapacityLedger) Release(ctx context.Context, exec sqlx.ExtContext, courseID string) error {
	const query = `UPDATE courses SET enrolled = enrolled - 1 WHERE id = $1 AND enrolled > 0`
	if _, err := l.exec(exec).ExecContext(ctx, query, courseID); err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	return nil
}

// Snapshot returns the current seat counts for every published course in the
// term. The matching pass plans against this but always commits grants via
// TryReserve against the live counter.
func (l *CapacityLedger) Snapshot(ctx context.Context, term string) (map[string]models.SeatCount, error) {
	const query = `SELECT id, capacity, enrolled FROM courses WHERE term = $1 AND status = $2`
	var counts []models.SeatCount
	if err := l.db.SelectContext(ctx, &counts, query, term, models.CourseStatusPublished); err != nil {
		return nil, fmt.Errorf("snapshot seats: %w", err)
	}
	snapshot := make(map[string]models.SeatCount, len(counts))
	for _, c := range counts {
		snapshot[c.CourseID] = c
	}
	return snapshot, nil
}

// Audit recomputes held seats from enrollment records and reports courses
// whose live counter disagrees. Read-only: operators decide how to repair.
func (l *CapacityLedger) Audit(ctx context.Context, term string) ([]models.SeatDrift, error) {
	const query = `SELECT c.id AS course_id, c.enrolled,
        COALESCE(h.held, 0) AS held,
        c.enrolled - COALESCE(h.held, 0) AS drift
        FROM courses c
        LEFT JOIN (
            SELECT course_id, COUNT(*) AS held FROM enrollments
            WHERE term = $1 AND status IN ($2, $3)
            GROUP BY course_id
        ) h ON h.course_id = c.id
        WHERE c.term = $1 AND c.enrolled <> COALESCE(h.held, 0)
        ORDER BY c.id`
	var drifts []models.SeatDrift
	err := l.db.SelectContext(ctx, &drifts, query, term,
		models.EnrollmentStatusSelected, models.EnrollmentStatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("audit seats: %w", err)
	}
	return drifts, nil
}
