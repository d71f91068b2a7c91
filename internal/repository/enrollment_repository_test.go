package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-select-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func enrollmentRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "student_id", "course_id", "term", "status", "submitted_at",
		"selected_at", "confirmed_at", "rejected_at", "dropped_at", "rejected_reason", "match_note",
		"approval_approved", "approval_by", "approval_at", "approval_comment", "final_grade",
		"created_at", "updated_at"})
	now := time.Now()
	for i, id := range ids {
		rows.AddRow(id, "student-"+id, "course-1", "2026-1", "PENDING", now.Add(time.Duration(i)*time.Minute),
			nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, now, now)
	}
	return rows
}

func TestEnrollmentRepositoryCreateDefaultsStatus(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO enrollments").
		WithArgs(sqlmock.AnyArg(), "student-1", "course-1", "2026-1", models.EnrollmentStatusPending,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	enrollment := &models.Enrollment{StudentID: "student-1", CourseID: "course-1", Term: "2026-1"}
	require.NoError(t, repo.Create(context.Background(), nil, enrollment))
	assert.NotEmpty(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	assert.False(t, enrollment.SubmittedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListPendingByTermOrder(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM enrollments WHERE term = \\$1 AND status = \\$2 ORDER BY submitted_at ASC, id ASC").
		WithArgs("2026-1", models.EnrollmentStatusPending).
		WillReturnRows(enrollmentRows("e1", "e2"))

	pending, err := repo.ListPendingByTerm(context.Background(), "2026-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "e1", pending[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryMarkSelectedGuard(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("UPDATE enrollments SET course_id = \\$2, status = \\$3, selected_at = \\$4").
		WithArgs("e1", "course-1", models.EnrollmentStatusSelected, sqlmock.AnyArg(), models.EnrollmentStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkSelected(context.Background(), nil, "e1", "course-1", models.EnrollmentStatusPending))

	// The same transition again touches zero rows and must surface as
	// sql.ErrNoRows so callers treat it as already decided.
	mock.ExpectExec("UPDATE enrollments SET course_id = \\$2, status = \\$3, selected_at = \\$4").
		WithArgs("e1", "course-1", models.EnrollmentStatusSelected, sqlmock.AnyArg(), models.EnrollmentStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkSelected(context.Background(), nil, "e1", "course-1", models.EnrollmentStatusPending)
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryMarkConfirmedRequiresSelected(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, confirmed_at = $3, updated_at = $3 WHERE id = $1 AND status = $4")).
		WithArgs("e1", models.EnrollmentStatusConfirmed, sqlmock.AnyArg(), models.EnrollmentStatusSelected).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkConfirmed(context.Background(), "e1")
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryMarkDroppedInsideTransaction(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enrollments SET status = \\$2, dropped_at = \\$3").
		WithArgs("e1", models.EnrollmentStatusDropped, sqlmock.AnyArg(), sqlmock.AnyArg(), models.EnrollmentStatusConfirmed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET enrolled = enrolled - 1 WHERE id = $1 AND enrolled > 0")).
		WithArgs("course-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, repo.MarkDropped(context.Background(), tx, "e1", models.EnrollmentStatusConfirmed, "schedule clash"))
	require.NoError(t, NewCapacityLedger(db).Release(context.Background(), tx, "course-1"))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryRecordReviewRejection(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("UPDATE enrollments SET approval_approved = FALSE").
		WithArgs("e1", "prof-1", sqlmock.AnyArg(), sqlmock.AnyArg(), models.EnrollmentStatusRejected, models.EnrollmentStatusSelected).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RecordReview(context.Background(), "e1", "prof-1", false, "prerequisites missing"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListWaitlistedByCourseLimit(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_id", "course_id", "term", "status", "submitted_at",
		"selected_at", "confirmed_at", "rejected_at", "dropped_at", "rejected_reason", "match_note",
		"approval_approved", "approval_by", "approval_at", "approval_comment", "final_grade",
		"created_at", "updated_at", "student_name", "student_department", "course_code", "course_name", "professor_id"}).
		AddRow("e1", "student-1", "course-1", "2026-1", "WAITLISTED", time.Now(),
			nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, time.Now(), time.Now(),
			"Student One", "CS", "CS101", "Algorithms", "prof-1")
	mock.ExpectQuery("WHERE e.course_id = \\$1 AND e.status = \\$2 ORDER BY e.submitted_at ASC, e.id ASC LIMIT \\$3").
		WithArgs("course-1", models.EnrollmentStatusWaitlisted, 1).
		WillReturnRows(rows)

	waitlist, err := repo.ListWaitlistedByCourse(context.Background(), "course-1", 1)
	require.NoError(t, err)
	require.Len(t, waitlist, 1)
	assert.Equal(t, "Student One", waitlist[0].StudentName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
