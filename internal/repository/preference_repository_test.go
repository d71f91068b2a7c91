package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-select-api/internal/models"
)

func newPreferenceRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestPreferenceRepositoryCreateWithEntries(t *testing.T) {
	db, mock, cleanup := newPreferenceRepoMock(t)
	defer cleanup()
	repo := NewPreferenceRepository(db)

	mock.ExpectExec("INSERT INTO preference_lists").
		WithArgs(sqlmock.AnyArg(), "student-1", "2026-1", models.PreferenceListStatusActive, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO preference_entries").
		WithArgs(sqlmock.AnyArg(), "course-1", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO preference_entries").
		WithArgs(sqlmock.AnyArg(), "course-2", 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	list := &models.PreferenceList{
		StudentID: "student-1",
		Term:      "2026-1",
		Entries: []models.PreferenceEntry{
			{CourseID: "course-1", Rank: 1},
			{CourseID: "course-2", Rank: 2},
		},
	}
	require.NoError(t, repo.Create(context.Background(), nil, list))
	assert.NotEmpty(t, list.ID)
	assert.Equal(t, models.PreferenceListStatusActive, list.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreferenceRepositoryFindActiveLoadsEntriesInRankOrder(t *testing.T) {
	db, mock, cleanup := newPreferenceRepoMock(t)
	defer cleanup()
	repo := NewPreferenceRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, term, status, submitted_at, updated_at FROM preference_lists")).
		WithArgs("student-1", "2026-1", models.PreferenceListStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "term", "status", "submitted_at", "updated_at"}).
			AddRow("list-1", "student-1", "2026-1", "ACTIVE", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT list_id, course_id, rank, reason FROM preference_entries WHERE list_id = $1 ORDER BY rank ASC")).
		WithArgs("list-1").
		WillReturnRows(sqlmock.NewRows([]string{"list_id", "course_id", "rank", "reason"}).
			AddRow("list-1", "course-1", 1, nil).
			AddRow("list-1", "course-2", 2, nil))

	list, err := repo.FindActiveByStudentAndTerm(context.Background(), "student-1", "2026-1")
	require.NoError(t, err)
	require.Len(t, list.Entries, 2)
	assert.Equal(t, "course-1", list.Entries[0].CourseID)
	assert.Equal(t, 1, list.Entries[0].Rank)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreferenceRepositoryReplaceEntries(t *testing.T) {
	db, mock, cleanup := newPreferenceRepoMock(t)
	defer cleanup()
	repo := NewPreferenceRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM preference_entries WHERE list_id = $1")).
		WithArgs("list-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO preference_entries").
		WithArgs("list-1", "course-3", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE preference_lists SET updated_at = $2 WHERE id = $1")).
		WithArgs("list-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, repo.ReplaceEntries(context.Background(), tx, "list-1",
		[]models.PreferenceEntry{{CourseID: "course-3", Rank: 1}}))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreferenceRepositoryWithdraw(t *testing.T) {
	db, mock, cleanup := newPreferenceRepoMock(t)
	defer cleanup()
	repo := NewPreferenceRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE preference_lists SET status = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("list-1", models.PreferenceListStatusWithdrawn, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Withdraw(context.Background(), nil, "list-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
