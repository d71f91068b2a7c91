package service

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-select-api/internal/models"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
)

type prefRepoStub struct {
	lists     map[string]*models.PreferenceList // keyed by studentID
	created   []*models.PreferenceList
	replaced  map[string][]models.PreferenceEntry
	withdrawn []string
}

func newPrefRepoStub() *prefRepoStub {
	return &prefRepoStub{lists: map[string]*models.PreferenceList{}, replaced: map[string][]models.PreferenceEntry{}}
}

func (s *prefRepoStub) FindActiveByStudentAndTerm(ctx context.Context, studentID, term string) (*models.PreferenceList, error) {
	list, ok := s.lists[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return list, nil
}

func (s *prefRepoStub) Create(ctx context.Context, exec sqlx.ExtContext, list *models.PreferenceList) error {
	list.ID = "list-new"
	s.created = append(s.created, list)
	return nil
}

func (s *prefRepoStub) ReplaceEntries(ctx context.Context, exec sqlx.ExtContext, listID string, entries []models.PreferenceEntry) error {
	s.replaced[listID] = entries
	return nil
}

func (s *prefRepoStub) Withdraw(ctx context.Context, exec sqlx.ExtContext, listID string) error {
	s.withdrawn = append(s.withdrawn, listID)
	return nil
}

type prefEnrollmentStub struct {
	active  map[string]*models.Enrollment // keyed by studentID
	created []*models.Enrollment
	moved   map[string]string // enrollmentID -> new courseID
	dropped map[string]string // enrollmentID -> reason
}

func newPrefEnrollmentStub() *prefEnrollmentStub {
	return &prefEnrollmentStub{active: map[string]*models.Enrollment{}, moved: map[string]string{}, dropped: map[string]string{}}
}

func (s *prefEnrollmentStub) FindActiveByStudentAndTerm(ctx context.Context, studentID, term string) (*models.Enrollment, error) {
	e, ok := s.active[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return e, nil
}

func (s *prefEnrollmentStub) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	enrollment.ID = "enrollment-new"
	s.created = append(s.created, enrollment)
	return nil
}

func (s *prefEnrollmentStub) UpdateCourse(ctx context.Context, exec sqlx.ExtContext, id, courseID string) error {
	s.moved[id] = courseID
	return nil
}

func (s *prefEnrollmentStub) MarkDropped(ctx context.Context, exec sqlx.ExtContext, id string, from models.EnrollmentStatus, reason string) error {
	if from != models.EnrollmentStatusPending {
		return sql.ErrNoRows
	}
	s.dropped[id] = reason
	return nil
}

type courseReaderStub struct {
	courses map[string]*models.Course
}

func (s *courseReaderStub) FindByID(ctx context.Context, id string) (*models.Course, error) {
	course, ok := s.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return course, nil
}

type studentReaderStub struct {
	students map[string]*models.Student
}

func (s *studentReaderStub) FindByID(ctx context.Context, id string) (*models.Student, error) {
	student, ok := s.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

func publishedCourse(id string) *models.Course {
	return &models.Course{ID: id, Term: "2026-1", Status: models.CourseStatusPublished, Capacity: 30}
}

type prefFixture struct {
	prefs       *prefRepoStub
	enrollments *prefEnrollmentStub
	courses     *courseReaderStub
	students    *studentReaderStub
	mock        sqlmock.Sqlmock
	service     *PreferenceService
}

func newPrefFixture(t *testing.T) *prefFixture {
	prefs := newPrefRepoStub()
	enrollments := newPrefEnrollmentStub()
	courses := &courseReaderStub{courses: map[string]*models.Course{
		"course-1": publishedCourse("course-1"),
		"course-2": publishedCourse("course-2"),
		"course-3": publishedCourse("course-3"),
	}}
	students := &studentReaderStub{students: map[string]*models.Student{
		"student-1": {ID: "student-1", Active: true},
		"student-2": {ID: "student-2", Active: false},
	}}
	txProvider, mock := newTxProviderMock(t)
	service := NewPreferenceService(prefs, enrollments, courses, students, txProvider,
		PreferenceBounds{Min: 1, Max: 3}, nil, nil)
	return &prefFixture{prefs: prefs, enrollments: enrollments, courses: courses, students: students, mock: mock, service: service}
}

func submitReq(studentID string, courseIDs ...string) SubmitPreferencesRequest {
	req := SubmitPreferencesRequest{StudentID: studentID, Term: "2026-1"}
	for _, id := range courseIDs {
		req.Entries = append(req.Entries, PreferenceEntryRequest{CourseID: id})
	}
	return req
}

func TestPreferenceServiceSubmitCreatesListAndPendingEnrollment(t *testing.T) {
	f := newPrefFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	list, err := f.service.Submit(context.Background(), submitReq("student-1", "course-2", "course-1"))
	require.NoError(t, err)

	require.Len(t, list.Entries, 2)
	assert.Equal(t, "course-2", list.Entries[0].CourseID)
	assert.Equal(t, 1, list.Entries[0].Rank)
	assert.Equal(t, 2, list.Entries[1].Rank)

	require.Len(t, f.enrollments.created, 1)
	created := f.enrollments.created[0]
	assert.Equal(t, models.EnrollmentStatusPending, created.Status)
	assert.Equal(t, "course-2", created.CourseID, "enrollment points at the first-ranked course")
	assert.Equal(t, list.SubmittedAt, created.SubmittedAt)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestPreferenceServiceSubmitRejectsDuplicate(t *testing.T) {
	f := newPrefFixture(t)
	f.prefs.lists["student-1"] = prefList("s1", "course-1")

	_, err := f.service.Submit(context.Background(), submitReq("student-1", "course-1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicateSubmission))
}

func TestPreferenceServiceSubmitRejectsInactiveStudent(t *testing.T) {
	f := newPrefFixture(t)

	_, err := f.service.Submit(context.Background(), submitReq("student-2", "course-1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestPreferenceServiceSubmitValidatesEntries(t *testing.T) {
	f := newPrefFixture(t)

	_, err := f.service.Submit(context.Background(), submitReq("student-1", "course-1", "course-2", "course-3", "course-1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrRankViolation), "over the max length")

	_, err = f.service.Submit(context.Background(), submitReq("student-1", "course-1", "course-1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrRankViolation), "duplicate course")

	_, err = f.service.Submit(context.Background(), submitReq("student-1", "course-unknown"))
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCourse))

	f.courses.courses["course-draft"] = &models.Course{ID: "course-draft", Term: "2026-1", Status: models.CourseStatusDraft}
	_, err = f.service.Submit(context.Background(), submitReq("student-1", "course-draft"))
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCourse), "unpublished course")
}

func TestPreferenceServiceUpdateRequiresPendingEnrollment(t *testing.T) {
	f := newPrefFixture(t)
	f.prefs.lists["student-1"] = prefList("student-1", "course-1")
	f.enrollments.active["student-1"] = &models.Enrollment{ID: "e1", Status: models.EnrollmentStatusSelected}

	_, err := f.service.Update(context.Background(), submitReq("student-1", "course-2"))
	assert.True(t, appErrors.Is(err, appErrors.ErrStateConflict))
	assert.Empty(t, f.prefs.replaced)
}

func TestPreferenceServiceUpdateRepointsEnrollment(t *testing.T) {
	f := newPrefFixture(t)
	existing := prefList("student-1", "course-1")
	f.prefs.lists["student-1"] = existing
	f.enrollments.active["student-1"] = &models.Enrollment{ID: "e1", Status: models.EnrollmentStatusPending}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	list, err := f.service.Update(context.Background(), submitReq("student-1", "course-3", "course-1"))
	require.NoError(t, err)

	assert.Equal(t, "course-3", list.Entries[0].CourseID)
	assert.Equal(t, "course-3", f.enrollments.moved["e1"])
	require.Len(t, f.prefs.replaced[existing.ID], 2)
}

func TestPreferenceServiceWithdrawDropsPendingEnrollment(t *testing.T) {
	f := newPrefFixture(t)
	existing := prefList("student-1", "course-1")
	f.prefs.lists["student-1"] = existing
	f.enrollments.active["student-1"] = &models.Enrollment{ID: "e1", Status: models.EnrollmentStatusPending}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	require.NoError(t, f.service.Withdraw(context.Background(), "student-1", "2026-1"))
	assert.Equal(t, []string{existing.ID}, f.prefs.withdrawn)
	assert.Equal(t, "withdrawn", f.enrollments.dropped["e1"])
}

func TestPreferenceServiceWithdrawRefusesAfterMatching(t *testing.T) {
	f := newPrefFixture(t)
	f.prefs.lists["student-1"] = prefList("student-1", "course-1")
	f.enrollments.active["student-1"] = &models.Enrollment{ID: "e1", Status: models.EnrollmentStatusConfirmed}

	err := f.service.Withdraw(context.Background(), "student-1", "2026-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrStateConflict))
	assert.Empty(t, f.prefs.withdrawn)
}
