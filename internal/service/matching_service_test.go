package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-select-api/internal/models"
)

type txProviderMock struct {
	db *sqlx.DB
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

func newTxProviderMock(t *testing.T) (*txProviderMock, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlxdb}, mock
}

type enrollmentStoreStub struct {
	enrollments map[string]*models.Enrollment
	order       []string
	notes       map[string]string
}

func newEnrollmentStoreStub(enrollments ...*models.Enrollment) *enrollmentStoreStub {
	stub := &enrollmentStoreStub{enrollments: map[string]*models.Enrollment{}, notes: map[string]string{}}
	for _, e := range enrollments {
		stub.enrollments[e.ID] = e
		stub.order = append(stub.order, e.ID)
	}
	return stub
}

func (s *enrollmentStoreStub) ListPendingByTerm(ctx context.Context, term string) ([]models.Enrollment, error) {
	var pending []models.Enrollment
	for _, id := range s.order {
		e := s.enrollments[id]
		if e.Term == term && e.Status == models.EnrollmentStatusPending {
			pending = append(pending, *e)
		}
	}
	return pending, nil
}

func (s *enrollmentStoreStub) MarkSelected(ctx context.Context, exec sqlx.ExtContext, id, courseID string, from models.EnrollmentStatus) error {
	e, ok := s.enrollments[id]
	if !ok || e.Status != from {
		return sql.ErrNoRows
	}
	e.Status = models.EnrollmentStatusSelected
	e.CourseID = courseID
	return nil
}

func (s *enrollmentStoreStub) MarkWaitlisted(ctx context.Context, exec sqlx.ExtContext, id, courseID string) error {
	e, ok := s.enrollments[id]
	if !ok || e.Status != models.EnrollmentStatusPending {
		return sql.ErrNoRows
	}
	e.Status = models.EnrollmentStatusWaitlisted
	e.CourseID = courseID
	return nil
}

func (s *enrollmentStoreStub) AnnotateMatchFailure(ctx context.Context, id, note string) error {
	s.notes[id] = note
	return nil
}

type preferenceReaderStub struct {
	lists map[string]*models.PreferenceList
}

func (s *preferenceReaderStub) FindActiveByStudentAndTerm(ctx context.Context, studentID, term string) (*models.PreferenceList, error) {
	list, ok := s.lists[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return list, nil
}

type seatLedgerStub struct {
	counts map[string]*models.SeatCount
}

func (s *seatLedgerStub) TryReserve(ctx context.Context, exec sqlx.ExtContext, courseID string) (bool, error) {
	c, ok := s.counts[courseID]
	if !ok || c.Enrolled >= c.Capacity {
		return false, nil
	}
	c.Enrolled++
	return true, nil
}

func (s *seatLedgerStub) Snapshot(ctx context.Context, term string) (map[string]models.SeatCount, error) {
	snapshot := make(map[string]models.SeatCount, len(s.counts))
	for id, c := range s.counts {
		snapshot[id] = *c
	}
	return snapshot, nil
}

type runRecorderStub struct {
	finished []models.MatchingResult
}

func (s *runRecorderStub) Create(ctx context.Context, run *models.MatchingRun) error {
	run.ID = "run-1"
	return nil
}

func (s *runRecorderStub) Finish(ctx context.Context, id string, result models.MatchingResult) error {
	s.finished = append(s.finished, result)
	return nil
}

func (s *runRecorderStub) ListByTerm(ctx context.Context, term string) ([]models.MatchingRun, error) {
	return []models.MatchingRun{{ID: "run-1", Term: term}}, nil
}

type notifierStub struct {
	events []models.Notification
}

func (s *notifierStub) Emit(notification models.Notification) {
	s.events = append(s.events, notification)
}

func prefList(studentID string, courseIDs ...string) *models.PreferenceList {
	list := &models.PreferenceList{ID: "list-" + studentID, StudentID: studentID, Term: "2026-1", Status: models.PreferenceListStatusActive}
	for i, id := range courseIDs {
		list.Entries = append(list.Entries, models.PreferenceEntry{ListID: list.ID, CourseID: id, Rank: i + 1})
	}
	return list
}

func pendingEnrollment(id, studentID string, submitted time.Time) *models.Enrollment {
	return &models.Enrollment{ID: id, StudentID: studentID, Term: "2026-1", Status: models.EnrollmentStatusPending, SubmittedAt: submitted}
}

func TestMatchingServicePriorityPass(t *testing.T) {
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	store := newEnrollmentStoreStub(
		pendingEnrollment("e1", "s1", base),
		pendingEnrollment("e2", "s2", base.Add(time.Minute)),
		pendingEnrollment("e3", "s3", base.Add(2*time.Minute)),
	)
	prefs := &preferenceReaderStub{lists: map[string]*models.PreferenceList{
		"s1": prefList("s1", "course-a", "course-b"),
		"s2": prefList("s2", "course-a", "course-b"),
		"s3": prefList("s3", "course-a", "course-b"),
	}}
	ledger := &seatLedgerStub{counts: map[string]*models.SeatCount{
		"course-a": {CourseID: "course-a", Capacity: 1},
		"course-b": {CourseID: "course-b", Capacity: 1},
	}}
	runs := &runRecorderStub{}
	notifier := &notifierStub{}
	txProvider, mock := newTxProviderMock(t)

	// s1 grants course-a, s2 falls through to course-b, s3 exhausts both
	// ranks and lands on the waitlist of its first preference.
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	service := NewMatchingService(store, prefs, ledger, runs, txProvider, notifier, nil, nil)
	result, err := service.Run(context.Background(), "2026-1", "leader-1")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Matched)
	assert.Equal(t, 1, result.Waitlisted)
	assert.Equal(t, 0, result.Errors)

	assert.Equal(t, models.EnrollmentStatusSelected, store.enrollments["e1"].Status)
	assert.Equal(t, "course-a", store.enrollments["e1"].CourseID)
	assert.Equal(t, models.EnrollmentStatusSelected, store.enrollments["e2"].Status)
	assert.Equal(t, "course-b", store.enrollments["e2"].CourseID)
	assert.Equal(t, models.EnrollmentStatusWaitlisted, store.enrollments["e3"].Status)
	assert.Equal(t, "course-a", store.enrollments["e3"].CourseID, "waitlist lands on the first valid preference")

	require.Len(t, runs.finished, 1)
	assert.Equal(t, 2, runs.finished[0].Matched)

	require.Len(t, notifier.events, 3)
	assert.Equal(t, models.NotificationSeatGranted, notifier.events[0].Event)
	assert.Equal(t, models.NotificationWaitlisted, notifier.events[2].Event)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchingServiceRerunOnlyTouchesPending(t *testing.T) {
	store := newEnrollmentStoreStub(pendingEnrollment("e1", "s1", time.Now()))
	prefs := &preferenceReaderStub{lists: map[string]*models.PreferenceList{
		"s1": prefList("s1", "course-a"),
	}}
	ledger := &seatLedgerStub{counts: map[string]*models.SeatCount{
		"course-a": {CourseID: "course-a", Capacity: 5},
	}}
	txProvider, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	service := NewMatchingService(store, prefs, ledger, &runRecorderStub{}, txProvider, nil, nil, nil)

	first, err := service.Run(context.Background(), "2026-1", "leader-1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Matched)

	// Everything is decided; a second pass must be a no-op.
	second, err := service.Run(context.Background(), "2026-1", "leader-1")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Matched)
	assert.Equal(t, 0, second.Waitlisted)
	assert.Equal(t, 1, ledger.counts["course-a"].Enrolled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchingServiceAnnotatesUndecidableEnrollments(t *testing.T) {
	store := newEnrollmentStoreStub(
		pendingEnrollment("e1", "s1", time.Now()),
		pendingEnrollment("e2", "s2", time.Now().Add(time.Minute)),
	)
	prefs := &preferenceReaderStub{lists: map[string]*models.PreferenceList{
		// s1 has no active list at all; s2 ranked only an unpublished course.
		"s2": prefList("s2", "course-gone"),
	}}
	ledger := &seatLedgerStub{counts: map[string]*models.SeatCount{
		"course-a": {CourseID: "course-a", Capacity: 5},
	}}
	txProvider, _ := newTxProviderMock(t)

	service := NewMatchingService(store, prefs, ledger, &runRecorderStub{}, txProvider, nil, nil, nil)
	result, err := service.Run(context.Background(), "2026-1", "leader-1")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Errors)
	assert.Equal(t, models.EnrollmentStatusPending, store.enrollments["e1"].Status)
	assert.Equal(t, models.EnrollmentStatusPending, store.enrollments["e2"].Status)
	assert.Equal(t, "no active preference list", store.notes["e1"])
	assert.Equal(t, "no ranked course is published for this term", store.notes["e2"])
}
