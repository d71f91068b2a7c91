package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-select-api/internal/models"
)

const enrollmentColumns = `id, student_id, course_id, term, status, submitted_at, selected_at, confirmed_at,
rejected_at, dropped_at, rejected_reason, match_note, approval_approved, approval_by, approval_at,
approval_comment, final_grade, created_at, updated_at`

// EnrollmentRepository handles persistence of enrollment records.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

func (r *EnrollmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN students s ON s.id = e.student_id
LEFT JOIN courses c ON c.id = e.course_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Term != "" {
		conditions = append(conditions, fmt.Sprintf("e.term = $%d", len(args)+1))
		args = append(args, filter.Term)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"submitted_at": "e.submitted_at",
		"status":       "e.status",
		"student_name": "s.full_name",
		"course_name":  "c.name",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "submitted_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "e.submitted_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.*, s.full_name AS student_name, s.department AS student_department,
        c.code AS course_code, c.name AS course_name, c.professor_id
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with student and course context.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.*, s.full_name AS student_name, s.department AS student_department,
        c.code AS course_code, c.name AS course_name, c.professor_id
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN courses c ON c.id = e.course_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindActiveByStudentAndTerm returns the student's non-terminal enrollment for
// the term, if any. At most one exists by invariant.
func (r *EnrollmentRepository) FindActiveByStudentAndTerm(ctx context.Context, studentID, term string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 AND term = $2 AND status IN ($3, $4, $5, $6) LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	err := r.db.GetContext(ctx, &enrollment, query, studentID, term,
		models.EnrollmentStatusPending, models.EnrollmentStatusSelected,
		models.EnrollmentStatusConfirmed, models.EnrollmentStatusWaitlisted)
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ListByStudent returns every enrollment for a student, newest first.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.*, s.full_name AS student_name, s.department AS student_department,
        c.code AS course_code, c.name AS course_name, c.professor_id
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN courses c ON c.id = e.course_id
        WHERE e.student_id = $1 ORDER BY e.created_at DESC`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}

// ListPendingByTerm returns PENDING enrollments for a matching pass, ordered
// by original submission time ascending. Earlier submission wins ties.
func (r *EnrollmentRepository) ListPendingByTerm(ctx context.Context, term string) ([]models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE term = $1 AND status = $2 ORDER BY submitted_at ASC, id ASC`, enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, term, models.EnrollmentStatusPending); err != nil {
		return nil, fmt.Errorf("list pending enrollments: %w", err)
	}
	return enrollments, nil
}

// ListWaitlistedByCourse returns the course waitlist in strict FIFO order
// keyed on the original submission timestamp.
func (r *EnrollmentRepository) ListWaitlistedByCourse(ctx context.Context, courseID string, limit int) ([]models.EnrollmentDetail, error) {
	query := `SELECT e.*, s.full_name AS student_name, s.department AS student_department,
        c.code AS course_code, c.name AS course_name, c.professor_id
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN courses c ON c.id = e.course_id
        WHERE e.course_id = $1 AND e.status = $2 ORDER BY e.submitted_at ASC, e.id ASC`
	args := []interface{}{courseID, models.EnrollmentStatusWaitlisted}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("list course waitlist: %w", err)
	}
	return enrollments, nil
}

// ListPendingReviewByCourses returns SELECTED enrollments on the given courses
// that have not yet been reviewed by a professor.
func (r *EnrollmentRepository) ListPendingReviewByCourses(ctx context.Context, courseIDs []string) ([]models.EnrollmentDetail, error) {
	if len(courseIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(courseIDs))
	args := make([]interface{}, 0, len(courseIDs)+1)
	for i, id := range courseIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, id)
	}
	args = append(args, models.EnrollmentStatusSelected)
	query := fmt.Sprintf(`SELECT e.*, s.full_name AS student_name, s.department AS student_department,
        c.code AS course_code, c.name AS course_name, c.professor_id
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN courses c ON c.id = e.course_id
        WHERE e.course_id IN (%s) AND e.status = $%d AND e.approval_approved IS NULL
        ORDER BY e.submitted_at ASC`, strings.Join(placeholders, ","), len(args))
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("list pending reviews: %w", err)
	}
	return enrollments, nil
}

// ListByTerm returns every enrollment for a term with context, for exports.
func (r *EnrollmentRepository) ListByTerm(ctx context.Context, term string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.*, s.full_name AS student_name, s.department AS student_department,
        c.code AS course_code, c.name AS course_name, c.professor_id
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN courses c ON c.id = e.course_id
        WHERE e.term = $1 ORDER BY c.code ASC, e.submitted_at ASC`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, term); err != nil {
		return nil, fmt.Errorf("list term enrollments: %w", err)
	}
	return enrollments, nil
}

// Create persists a new enrollment record. exec may be a transaction.
func (r *EnrollmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.SubmittedAt.IsZero() {
		enrollment.SubmittedAt = now
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPending
	}
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now
	const query = `INSERT INTO enrollments (id, student_id, course_id, term, status, submitted_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.exec(exec).ExecContext(ctx, query, enrollment.ID, enrollment.StudentID, enrollment.CourseID,
		enrollment.Term, enrollment.Status, enrollment.SubmittedAt, enrollment.CreatedAt, enrollment.UpdatedAt); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UpdateCourse repoints a PENDING enrollment at a new first preference.
func (r *EnrollmentRepository) UpdateCourse(ctx context.Context, exec sqlx.ExtContext, id, courseID string) error {
	const query = `UPDATE enrollments SET course_id = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id, courseID, time.Now().UTC()); err != nil {
		return fmt.Errorf("update enrollment course: %w", err)
	}
	return nil
}

// MarkSelected records a seat grant: status, granted course and timestamp.
// The guard on the current status keeps a resumed matching pass idempotent.
func (r *EnrollmentRepository) MarkSelected(ctx context.Context, exec sqlx.ExtContext, id, courseID string, from models.EnrollmentStatus) error {
	now := time.Now().UTC()
	const query = `UPDATE enrollments SET course_id = $2, status = $3, selected_at = $4, match_note = NULL, updated_at = $4
        WHERE id = $1 AND status = $5`
	res, err := r.exec(exec).ExecContext(ctx, query, id, courseID, models.EnrollmentStatusSelected, now, from)
	if err != nil {
		return fmt.Errorf("mark enrollment selected: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkWaitlisted places a PENDING enrollment on the waitlist of the course.
func (r *EnrollmentRepository) MarkWaitlisted(ctx context.Context, exec sqlx.ExtContext, id, courseID string) error {
	now := time.Now().UTC()
	const query = `UPDATE enrollments SET course_id = $2, status = $3, match_note = NULL, updated_at = $4
        WHERE id = $1 AND status = $5`
	res, err := r.exec(exec).ExecContext(ctx, query, id, courseID, models.EnrollmentStatusWaitlisted, now, models.EnrollmentStatusPending)
	if err != nil {
		return fmt.Errorf("mark enrollment waitlisted: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkConfirmed transitions SELECTED -> CONFIRMED.
func (r *EnrollmentRepository) MarkConfirmed(ctx context.Context, id string) error {
	now := time.Now().UTC()
	const query = `UPDATE enrollments SET status = $2, confirmed_at = $3, updated_at = $3 WHERE id = $1 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusConfirmed, now, models.EnrollmentStatusSelected)
	if err != nil {
		return fmt.Errorf("confirm enrollment: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkDropped transitions to DROPPED with a reason. exec may be a transaction
// so the seat release commits with the status write.
func (r *EnrollmentRepository) MarkDropped(ctx context.Context, exec sqlx.ExtContext, id string, from models.EnrollmentStatus, reason string) error {
	now := time.Now().UTC()
	var reasonArg *string
	if reason != "" {
		reasonArg = &reason
	}
	const query = `UPDATE enrollments SET status = $2, dropped_at = $3, rejected_reason = COALESCE($4, rejected_reason), updated_at = $3
        WHERE id = $1 AND status = $5`
	res, err := r.exec(exec).ExecContext(ctx, query, id, models.EnrollmentStatusDropped, now, reasonArg, from)
	if err != nil {
		return fmt.Errorf("drop enrollment: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordReview stores the professor's decision. A negative review also moves
// the row to REJECTED; capacity is untouched either way.
func (r *EnrollmentRepository) RecordReview(ctx context.Context, id, reviewerID string, approved bool, comment string) error {
	now := time.Now().UTC()
	var commentArg *string
	if comment != "" {
		commentArg = &comment
	}
	if approved {
		const query = `UPDATE enrollments SET approval_approved = TRUE, approval_by = $2, approval_at = $3, approval_comment = $4, updated_at = $3
            WHERE id = $1 AND status = $5`
		res, err := r.db.ExecContext(ctx, query, id, reviewerID, now, commentArg, models.EnrollmentStatusSelected)
		if err != nil {
			return fmt.Errorf("record approval: %w", err)
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	}
	const query = `UPDATE enrollments SET approval_approved = FALSE, approval_by = $2, approval_at = $3, approval_comment = $4,
        status = $5, rejected_at = $3, rejected_reason = $4, updated_at = $3
        WHERE id = $1 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, id, reviewerID, now, commentArg, models.EnrollmentStatusRejected, models.EnrollmentStatusSelected)
	if err != nil {
		return fmt.Errorf("record rejection: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AnnotateMatchFailure leaves a PENDING row marked for operator follow-up.
func (r *EnrollmentRepository) AnnotateMatchFailure(ctx context.Context, id, note string) error {
	const query = `UPDATE enrollments SET match_note = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, note, time.Now().UTC()); err != nil {
		return fmt.Errorf("annotate enrollment: %w", err)
	}
	return nil
}
