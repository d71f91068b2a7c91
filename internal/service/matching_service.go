package service

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-select-api/internal/models"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
)

// StrategyPriority is the first-submitted priority matching strategy.
const StrategyPriority = "priority"

type matchingEnrollmentRepo interface {
	ListPendingByTerm(ctx context.Context, term string) ([]models.Enrollment, error)
	MarkSelected(ctx context.Context, exec sqlx.ExtContext, id, courseID string, from models.EnrollmentStatus) error
	MarkWaitlisted(ctx context.Context, exec sqlx.ExtContext, id, courseID string) error
	AnnotateMatchFailure(ctx context.Context, id, note string) error
}

type matchingPreferenceReader interface {
	FindActiveByStudentAndTerm(ctx context.Context, studentID, term string) (*models.PreferenceList, error)
}

type seatReserver interface {
	TryReserve(ctx context.Context, exec sqlx.ExtContext, courseID string) (bool, error)
	Snapshot(ctx context.Context, term string) (map[string]models.SeatCount, error)
}

type matchingRunRecorder interface {
	Create(ctx context.Context, run *models.MatchingRun) error
	Finish(ctx context.Context, id string, result models.MatchingResult) error
	ListByTerm(ctx context.Context, term string) ([]models.MatchingRun, error)
}

type notifier interface {
	Emit(notification models.Notification)
}

type matchingMetrics interface {
	RecordMatchingDecision(outcome string)
	RecordSeatReserved()
}

// MatchingService runs the batch allocation pass for a term. The strategy is
// pluggable in principle; the priority strategy (earliest submission wins) is
// the one implemented.
type MatchingService struct {
	enrollments matchingEnrollmentRepo
	prefs       matchingPreferenceReader
	ledger      seatReserver
	runs        matchingRunRecorder
	tx          txProvider
	notifier    notifier
	metrics     matchingMetrics
	logger      *zap.Logger
}

// NewMatchingService wires matching dependencies. notifier and metrics may be
// nil.
func NewMatchingService(enrollments matchingEnrollmentRepo, prefs matchingPreferenceReader, ledger seatReserver, runs matchingRunRecorder, tx txProvider, notifier notifier, metrics matchingMetrics, logger *zap.Logger) *MatchingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatchingService{enrollments: enrollments, prefs: prefs, ledger: ledger, runs: runs, tx: tx, notifier: notifier, metrics: metrics, logger: logger}
}

// Run executes one matching pass over every PENDING enrollment for the term,
// in submission order. Each decision commits in its own transaction, so an
// interrupted pass leaves decided records in place and the rest PENDING; a
// re-run only touches PENDING records, which makes the pass idempotent.
func (s *MatchingService) Run(ctx context.Context, term, triggeredBy string) (*models.MatchingResult, error) {
	pending, err := s.enrollments.ListPendingByTerm(ctx, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pending enrollments")
	}
	snapshot, err := s.ledger.Snapshot(ctx, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to snapshot capacity")
	}

	run := &models.MatchingRun{Term: term, Strategy: StrategyPriority, TriggeredBy: triggeredBy}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record matching run")
	}

	result := &models.MatchingResult{}
	for _, enrollment := range pending {
		if err := s.decide(ctx, term, enrollment, snapshot, result); err != nil {
			// Infrastructure failure: stop here. Decisions already made are
			// committed; the rest stay PENDING for a safe re-run.
			s.logger.Error("matching pass interrupted",
				zap.String("term", term),
				zap.String("enrollment_id", enrollment.ID),
				zap.Error(err))
			_ = s.runs.Finish(ctx, run.ID, *result)
			return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "matching pass interrupted")
		}
	}

	if err := s.runs.Finish(ctx, run.ID, *result); err != nil {
		s.logger.Warn("failed to finalise matching run", zap.String("run_id", run.ID), zap.Error(err))
	}
	s.logger.Info("matching pass completed",
		zap.String("term", term),
		zap.Int("matched", result.Matched),
		zap.Int("waitlisted", result.Waitlisted),
		zap.Int("errors", result.Errors))
	return result, nil
}

// decide settles one enrollment: seat grant, waitlist placement, or an error
// annotation. The capacity increment and the status write commit atomically.
func (s *MatchingService) decide(ctx context.Context, term string, enrollment models.Enrollment, snapshot map[string]models.SeatCount, result *models.MatchingResult) error {
	list, err := s.prefs.FindActiveByStudentAndTerm(ctx, enrollment.StudentID, term)
	if err != nil {
		if err == sql.ErrNoRows {
			return s.annotate(ctx, enrollment, result, "no active preference list")
		}
		return err
	}

	// Preferences are walked in rank order against the published-course set.
	// The snapshot scopes validity; grants go through the live counter.
	var valid []models.PreferenceEntry
	for _, entry := range list.Entries {
		if _, ok := snapshot[entry.CourseID]; ok {
			valid = append(valid, entry)
		}
	}
	if len(valid) == 0 {
		return s.annotate(ctx, enrollment, result, "no ranked course is published for this term")
	}

	for _, entry := range valid {
		granted, err := s.grant(ctx, enrollment.ID, entry.CourseID)
		if err != nil {
			return err
		}
		if granted {
			result.Matched++
			if s.metrics != nil {
				s.metrics.RecordMatchingDecision("matched")
				s.metrics.RecordSeatReserved()
			}
			s.emit(enrollment, entry.CourseID, models.NotificationSeatGranted)
			return nil
		}
	}

	// Everything ranked is full: FIFO-waitlist on the first valid preference,
	// keyed by the original submission timestamp.
	waitlistCourse := valid[0].CourseID
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := s.enrollments.MarkWaitlisted(ctx, tx, enrollment.ID, waitlistCourse); err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			// Already decided by a concurrent or resumed pass.
			return nil
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	result.Waitlisted++
	if s.metrics != nil {
		s.metrics.RecordMatchingDecision("waitlisted")
	}
	s.emit(enrollment, waitlistCourse, models.NotificationWaitlisted)
	return nil
}

// grant attempts an atomic check-and-increment plus status write for one
// course. A full course is not an error, just a fallthrough to the next rank.
func (s *MatchingService) grant(ctx context.Context, enrollmentID, courseID string) (bool, error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	reserved, err := s.ledger.TryReserve(ctx, tx, courseID)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if !reserved {
		_ = tx.Rollback()
		return false, nil
	}
	if err := s.enrollments.MarkSelected(ctx, tx, enrollmentID, courseID, models.EnrollmentStatusPending); err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			// Decided concurrently; the rollback returns the reserved seat
			// and the waitlist fallthrough is a guarded no-op too.
			return false, nil
		}
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *MatchingService) annotate(ctx context.Context, enrollment models.Enrollment, result *models.MatchingResult, note string) error {
	result.Errors++
	if s.metrics != nil {
		s.metrics.RecordMatchingDecision("error")
	}
	s.logger.Warn("enrollment left pending",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", enrollment.StudentID),
		zap.String("note", note))
	return s.enrollments.AnnotateMatchFailure(ctx, enrollment.ID, note)
}

func (s *MatchingService) emit(enrollment models.Enrollment, courseID string, event models.NotificationEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.Emit(models.Notification{
		UserID:       enrollment.StudentID,
		Event:        event,
		EnrollmentID: enrollment.ID,
		CourseID:     courseID,
		Term:         enrollment.Term,
	})
}

// Runs lists the audit records of past passes for a term.
func (s *MatchingService) Runs(ctx context.Context, term string) ([]models.MatchingRun, error) {
	runs, err := s.runs.ListByTerm(ctx, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list matching runs")
	}
	return runs, nil
}
