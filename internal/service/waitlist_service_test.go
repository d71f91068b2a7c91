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
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
)

// waitlistQueueStub keeps the queue in submission order. Poisoned IDs simulate
// a candidate decided by a concurrent writer between the list read and the
// guarded update.
type waitlistQueueStub struct {
	queue    []models.EnrollmentDetail
	poisoned map[string]bool
	selected []string
}

func (s *waitlistQueueStub) ListWaitlistedByCourse(ctx context.Context, courseID string, limit int) ([]models.EnrollmentDetail, error) {
	var out []models.EnrollmentDetail
	for _, d := range s.queue {
		if d.CourseID != courseID {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *waitlistQueueStub) MarkSelected(ctx context.Context, exec sqlx.ExtContext, id, courseID string, from models.EnrollmentStatus) error {
	for i, d := range s.queue {
		if d.ID != id {
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		if s.poisoned[id] {
			return sql.ErrNoRows
		}
		s.selected = append(s.selected, id)
		return nil
	}
	return sql.ErrNoRows
}

type reserveLedgerStub struct {
	free     int
	attempts int
}

func (s *reserveLedgerStub) TryReserve(ctx context.Context, exec sqlx.ExtContext, courseID string) (bool, error) {
	s.attempts++
	if s.free <= 0 {
		return false, nil
	}
	s.free--
	return true, nil
}

func waitlisted(id, studentID, courseID string, submitted time.Time) models.EnrollmentDetail {
	return models.EnrollmentDetail{
		Enrollment: models.Enrollment{
			ID:          id,
			StudentID:   studentID,
			CourseID:    courseID,
			Term:        "2026-1",
			Status:      models.EnrollmentStatusWaitlisted,
			SubmittedAt: submitted,
		},
	}
}

type waitlistFixture struct {
	queue    *waitlistQueueStub
	ledger   *reserveLedgerStub
	notifier *notifierStub
	metrics  *seatMetricsStub
	mock     sqlmock.Sqlmock
	service  *WaitlistService
}

func newWaitlistFixture(t *testing.T, free int) *waitlistFixture {
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	queue := &waitlistQueueStub{
		queue: []models.EnrollmentDetail{
			waitlisted("e1", "student-1", "course-1", base),
			waitlisted("e2", "student-2", "course-1", base.Add(time.Minute)),
			waitlisted("e3", "student-3", "course-1", base.Add(2*time.Minute)),
		},
		poisoned: map[string]bool{},
	}
	ledger := &reserveLedgerStub{free: free}
	courses := &courseReaderStub{courses: map[string]*models.Course{
		"course-1": {ID: "course-1", Term: "2026-1", Status: models.CourseStatusPublished},
	}}
	notifier := &notifierStub{}
	metrics := &seatMetricsStub{}
	txProvider, mock := newTxProviderMock(t)
	service := NewWaitlistService(queue, ledger, courses, txProvider, notifier, metrics, nil, nil)
	return &waitlistFixture{queue: queue, ledger: ledger, notifier: notifier, metrics: metrics, mock: mock, service: service}
}

func TestWaitlistServicePromoteFIFO(t *testing.T) {
	f := newWaitlistFixture(t, 2)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	promoted, err := f.service.Promote(context.Background(), "course-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, promoted)
	assert.Equal(t, []string{"e1", "e2"}, f.queue.selected, "earliest submission wins the freed seat")

	require.Len(t, f.notifier.events, 2)
	assert.Equal(t, models.NotificationPromoted, f.notifier.events[0].Event)
	assert.Equal(t, "student-1", f.notifier.events[0].UserID)
	assert.Equal(t, 2, f.metrics.reserved)
	assert.Equal(t, 2, f.metrics.promotions)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestWaitlistServicePromoteStopsWhenFull(t *testing.T) {
	f := newWaitlistFixture(t, 0)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	promoted, err := f.service.Promote(context.Background(), "course-1", 3)
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)
	assert.Empty(t, f.queue.selected)
	assert.Empty(t, f.notifier.events)
	assert.Equal(t, 1, f.ledger.attempts, "one failed reservation ends the pass")
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestWaitlistServicePromoteDefaultsToOne(t *testing.T) {
	f := newWaitlistFixture(t, 2)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	promoted, err := f.service.Promote(context.Background(), "course-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)
	assert.Equal(t, []string{"e1"}, f.queue.selected)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestWaitlistServicePromoteSkipsDecidedCandidate(t *testing.T) {
	f := newWaitlistFixture(t, 2)
	f.queue.poisoned["e1"] = true
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	promoted, err := f.service.Promote(context.Background(), "course-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)
	assert.Equal(t, []string{"e2"}, f.queue.selected, "a concurrently decided head does not block the queue")
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestWaitlistServiceList(t *testing.T) {
	f := newWaitlistFixture(t, 0)

	list, err := f.service.List(context.Background(), "course-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "e1", list[0].ID)

	_, err = f.service.List(context.Background(), "missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}
