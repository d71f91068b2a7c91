package service

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-select-api/internal/models"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
)

type waitlistEnrollmentRepo interface {
	ListWaitlistedByCourse(ctx context.Context, courseID string, limit int) ([]models.EnrollmentDetail, error)
	MarkSelected(ctx context.Context, exec sqlx.ExtContext, id, courseID string, from models.EnrollmentStatus) error
}

type waitlistLedger interface {
	TryReserve(ctx context.Context, exec sqlx.ExtContext, courseID string) (bool, error)
}

type waitlistMetrics interface {
	RecordSeatReserved()
	RecordPromotion()
}

// WaitlistService advances waitlisted enrollments into freed seats in strict
// FIFO order on the original submission timestamp.
type WaitlistService struct {
	enrollments waitlistEnrollmentRepo
	ledger      waitlistLedger
	courses     courseReader
	tx          txProvider
	notifier    notifier
	metrics     waitlistMetrics
	cache       *CacheService
	logger      *zap.Logger
}

// NewWaitlistService wires promotion dependencies. notifier, metrics and
// cache may be nil.
func NewWaitlistService(enrollments waitlistEnrollmentRepo, ledger waitlistLedger, courses courseReader, tx txProvider, notifier notifier, metrics waitlistMetrics, cache *CacheService, logger *zap.Logger) *WaitlistService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WaitlistService{enrollments: enrollments, ledger: ledger, courses: courses, tx: tx, notifier: notifier, metrics: metrics, cache: cache, logger: logger}
}

// List returns the FIFO waitlist for a course.
func (s *WaitlistService) List(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error) {
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	key := ""
	if s.cache.Enabled() {
		key = s.cache.Key("waitlist", courseID)
		var cached []models.EnrollmentDetail
		if s.cache.Get(ctx, key, &cached) {
			return cached, nil
		}
	}

	waitlist, err := s.enrollments.ListWaitlistedByCourse(ctx, courseID, 0)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list waitlist")
	}
	if key != "" {
		s.cache.Set(ctx, key, waitlist)
	}
	return waitlist, nil
}

// Promote fills up to maxCount freed seats from the course waitlist. Each
// promotion reserves a seat and flips the enrollment in one transaction, so a
// concurrent drop or submit can never double-grant the same seat. It stops as
// soon as the course is full or the waitlist is exhausted and returns the
// number promoted.
func (s *WaitlistService) Promote(ctx context.Context, courseID string, maxCount int) (int, error) {
	if maxCount <= 0 {
		maxCount = 1
	}
	promoted := 0
	for promoted < maxCount {
		candidates, err := s.enrollments.ListWaitlistedByCourse(ctx, courseID, maxCount)
		if err != nil {
			return promoted, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read waitlist")
		}
		if len(candidates) == 0 {
			break
		}

		advanced := false
		full := false
		for _, candidate := range candidates {
			ok, stop, err := s.promoteOne(ctx, courseID, candidate)
			if err != nil {
				return promoted, err
			}
			if stop {
				full = true
				break
			}
			if ok {
				promoted++
				advanced = true
				break
			}
			// Candidate changed state concurrently; try the next in line.
		}
		if full || !advanced {
			break
		}
	}

	if promoted > 0 && s.cache.Enabled() {
		s.cache.Invalidate(ctx, "waitlist", courseID)
	}
	return promoted, nil
}

// promoteOne reserves a seat and promotes the candidate atomically. stop means
// the course is full and the pass should end; ok false without stop means the
// candidate was already decided and the next in line may still fit.
func (s *WaitlistService) promoteOne(ctx context.Context, courseID string, candidate models.EnrollmentDetail) (ok, stop bool, err error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return false, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin promotion")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	reserved, err := s.ledger.TryReserve(ctx, tx, courseID)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve seat")
		return false, false, err
	}
	if !reserved {
		_ = tx.Rollback()
		return false, true, nil
	}

	if markErr := s.enrollments.MarkSelected(ctx, tx, candidate.ID, courseID, models.EnrollmentStatusWaitlisted); markErr != nil {
		_ = tx.Rollback()
		if markErr == sql.ErrNoRows {
			return false, false, nil
		}
		err = appErrors.Wrap(markErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to promote enrollment")
		return false, false, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit promotion")
		return false, false, err
	}

	if s.metrics != nil {
		s.metrics.RecordSeatReserved()
		s.metrics.RecordPromotion()
	}
	if s.notifier != nil {
		s.notifier.Emit(models.Notification{
			UserID:       candidate.StudentID,
			Event:        models.NotificationPromoted,
			EnrollmentID: candidate.ID,
			CourseID:     courseID,
			Term:         candidate.Term,
		})
	}
	s.logger.Info("waitlist promotion",
		zap.String("course_id", courseID),
		zap.String("enrollment_id", candidate.ID),
		zap.String("student_id", candidate.StudentID))
	return true, false, nil
}
