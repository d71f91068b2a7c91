package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-select-api/internal/models"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
	"github.com/noah-isme/course-select-api/pkg/export"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
	ListPendingReviewByCourses(ctx context.Context, courseIDs []string) ([]models.EnrollmentDetail, error)
	ListByTerm(ctx context.Context, term string) ([]models.EnrollmentDetail, error)
	MarkConfirmed(ctx context.Context, id string) error
	MarkDropped(ctx context.Context, exec sqlx.ExtContext, id string, from models.EnrollmentStatus, reason string) error
	RecordReview(ctx context.Context, id, reviewerID string, approved bool, comment string) error
}

type seatReleaser interface {
	Release(ctx context.Context, exec sqlx.ExtContext, courseID string) error
	Snapshot(ctx context.Context, term string) (map[string]models.SeatCount, error)
	Audit(ctx context.Context, term string) ([]models.SeatDrift, error)
}

type professorCourseReader interface {
	ListIDsByProfessor(ctx context.Context, professorID string) ([]string, error)
}

type promoter interface {
	Promote(ctx context.Context, courseID string, maxCount int) (int, error)
}

type enrollmentMetrics interface {
	RecordSeatReleased()
}

// Actor identifies the authenticated caller for access checks. StudentID is
// resolved by the handler layer for STUDENT users and empty otherwise.
type Actor struct {
	UserID    string
	Role      models.UserRole
	StudentID string
}

func (a Actor) staff() bool {
	return a.Role == models.RoleLeader || a.Role == models.RoleSecretary
}

// EnrollmentService covers the enrollment lifecycle after matching: student
// confirmation, drops with seat release, professor review, and the query and
// export surface.
type EnrollmentService struct {
	enrollments enrollmentRepository
	ledger      seatReleaser
	courses     courseReader
	profCourses professorCourseReader
	tx          txProvider
	promoter    promoter
	notifier    notifier
	metrics     enrollmentMetrics
	cache       *CacheService
	csv         *export.CSVExporter
	pdf         *export.PDFExporter
	logger      *zap.Logger
}

// NewEnrollmentService wires the enrollment lifecycle dependencies. promoter,
// notifier, metrics and cache may be nil.
func NewEnrollmentService(enrollments enrollmentRepository, ledger seatReleaser, courses courseReader, profCourses professorCourseReader, tx txProvider, promoter promoter, notifier notifier, metrics enrollmentMetrics, cache *CacheService, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		enrollments: enrollments,
		ledger:      ledger,
		courses:     courses,
		profCourses: profCourses,
		tx:          tx,
		promoter:    promoter,
		notifier:    notifier,
		metrics:     metrics,
		cache:       cache,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		logger:      logger,
	}
}

// List returns enrollments scoped to what the actor may see: students only
// their own, professors only their courses, staff everything.
func (s *EnrollmentService) List(ctx context.Context, actor Actor, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	switch actor.Role {
	case models.RoleStudent:
		if actor.StudentID == "" {
			return nil, 0, appErrors.Clone(appErrors.ErrForbidden, "no student profile for this account")
		}
		filter.StudentID = actor.StudentID
	case models.RoleProfessor:
		if filter.CourseID == "" {
			return nil, 0, appErrors.Clone(appErrors.ErrValidation, "course_id is required for professor queries")
		}
		course, err := s.courses.FindByID(ctx, filter.CourseID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, 0, appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
		}
		if course.ProfessorID != actor.UserID {
			return nil, 0, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another professor")
		}
	}

	list, total, err := s.enrollments.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return list, total, nil
}

// Get returns one enrollment with the same visibility rules as List.
func (s *EnrollmentService) Get(ctx context.Context, actor Actor, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.enrollments.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !s.canView(actor, detail) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this enrollment")
	}
	return detail, nil
}

func (s *EnrollmentService) canView(actor Actor, detail *models.EnrollmentDetail) bool {
	if actor.staff() {
		return true
	}
	if actor.Role == models.RoleStudent {
		return actor.StudentID != "" && actor.StudentID == detail.StudentID
	}
	if actor.Role == models.RoleProfessor {
		return actor.UserID == detail.ProfessorID
	}
	return false
}

// MyEnrollments returns the full history for one student, newest term first.
func (s *EnrollmentService) MyEnrollments(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	list, err := s.enrollments.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return list, nil
}

// Confirm locks in a granted seat. Only the owning student may confirm, and
// only from SELECTED.
func (s *EnrollmentService) Confirm(ctx context.Context, actor Actor, id string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.StudentID == "" || actor.StudentID != enrollment.StudentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another student")
	}
	if enrollment.Status != models.EnrollmentStatusSelected {
		return nil, appErrors.Clone(appErrors.ErrStateConflict, fmt.Sprintf("cannot confirm from status %s", enrollment.Status))
	}

	if err := s.enrollments.MarkConfirmed(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrStateConflict, "enrollment changed state, reload and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to confirm enrollment")
	}
	s.logger.Info("enrollment confirmed",
		zap.String("enrollment_id", id),
		zap.String("student_id", enrollment.StudentID),
		zap.String("course_id", enrollment.CourseID))
	return s.Get(ctx, actor, id)
}

// Drop moves an enrollment to DROPPED. When the row held a seat the seat is
// released in the same transaction and exactly one waitlist promotion attempt
// runs for the freed course. Staff may drop on a student's behalf.
func (s *EnrollmentService) Drop(ctx context.Context, actor Actor, id, reason string) error {
	enrollment, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !actor.staff() && (actor.StudentID == "" || actor.StudentID != enrollment.StudentID) {
		return appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another student")
	}
	if !enrollment.Status.CanTransitionTo(models.EnrollmentStatusDropped) {
		return appErrors.Clone(appErrors.ErrStateConflict, fmt.Sprintf("cannot drop from status %s", enrollment.Status))
	}
	if reason == "" {
		reason = "dropped by student"
	}
	heldSeat := enrollment.Status.HoldsSeat()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin drop")
	}
	if err := s.enrollments.MarkDropped(ctx, tx, id, enrollment.Status, reason); err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrStateConflict, "enrollment changed state, reload and retry")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop enrollment")
	}
	if heldSeat {
		if err := s.ledger.Release(ctx, tx, enrollment.CourseID); err != nil {
			_ = tx.Rollback()
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release seat")
		}
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit drop")
	}

	s.logger.Info("enrollment dropped",
		zap.String("enrollment_id", id),
		zap.String("course_id", enrollment.CourseID),
		zap.Bool("seat_released", heldSeat))

	if heldSeat {
		if s.metrics != nil {
			s.metrics.RecordSeatReleased()
		}
		if s.cache.Enabled() {
			s.cache.Invalidate(ctx, "waitlist", enrollment.CourseID)
		}
		if s.promoter != nil {
			if _, err := s.promoter.Promote(ctx, enrollment.CourseID, 1); err != nil {
				// The seat is already free; the next promotion attempt or
				// matching pass will pick it up.
				s.logger.Error("waitlist promotion after drop failed",
					zap.String("course_id", enrollment.CourseID),
					zap.Error(err))
			}
		}
	}
	return nil
}

// Review records a professor decision on a SELECTED enrollment. Rejection
// moves the row to REJECTED but does not free the seat; the student must
// drop explicitly, and the capacity audit flags the difference.
func (s *EnrollmentService) Review(ctx context.Context, actor Actor, id string, approved bool, comment string) (*models.EnrollmentDetail, error) {
	detail, err := s.enrollments.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if actor.Role == models.RoleProfessor && detail.ProfessorID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another professor")
	}
	if detail.Status != models.EnrollmentStatusSelected {
		return nil, appErrors.Clone(appErrors.ErrStateConflict, fmt.Sprintf("cannot review from status %s", detail.Status))
	}
	if !approved && comment == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a rejection requires a comment")
	}

	if err := s.enrollments.RecordReview(ctx, id, actor.UserID, approved, comment); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrStateConflict, "enrollment changed state, reload and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record review")
	}

	if s.notifier != nil {
		s.notifier.Emit(models.Notification{
			UserID:       detail.StudentID,
			Event:        models.NotificationProfessorDecision,
			EnrollmentID: id,
			CourseID:     detail.CourseID,
			Term:         detail.Term,
			Payload:      map[string]interface{}{"approved": approved, "comment": comment},
		})
	}
	s.logger.Info("enrollment reviewed",
		zap.String("enrollment_id", id),
		zap.String("reviewer_id", actor.UserID),
		zap.Bool("approved", approved))
	return s.Get(ctx, actor, id)
}

// PendingReviews lists SELECTED enrollments awaiting a decision across all of
// the professor's courses.
func (s *EnrollmentService) PendingReviews(ctx context.Context, professorID string) ([]models.EnrollmentDetail, error) {
	courseIDs, err := s.profCourses.ListIDsByProfessor(ctx, professorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	if len(courseIDs) == 0 {
		return []models.EnrollmentDetail{}, nil
	}
	list, err := s.enrollments.ListPendingReviewByCourses(ctx, courseIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending reviews")
	}
	return list, nil
}

// SeatCounts returns the live per-course seat snapshot for a term.
func (s *EnrollmentService) SeatCounts(ctx context.Context, term string) (map[string]models.SeatCount, error) {
	snapshot, err := s.ledger.Snapshot(ctx, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to snapshot seats")
	}
	return snapshot, nil
}

// CapacityAudit recomputes seat holds from enrollment rows and reports any
// drift against the counters, including seats still counted for rejected
// enrollments.
func (s *EnrollmentService) CapacityAudit(ctx context.Context, term string) ([]models.SeatDrift, error) {
	drifts, err := s.ledger.Audit(ctx, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to audit capacity")
	}
	return drifts, nil
}

// Export renders all enrollments of a term as CSV or PDF.
func (s *EnrollmentService) Export(ctx context.Context, term, format string) ([]byte, string, error) {
	list, err := s.enrollments.ListByTerm(ctx, term)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}

	data := export.Dataset{
		Headers: []string{"Student", "Department", "Course Code", "Course", "Status", "Submitted At", "Final Grade"},
		Rows:    make([]map[string]string, 0, len(list)),
	}
	for _, e := range list {
		grade := ""
		if e.FinalGrade != nil {
			grade = strconv.FormatFloat(*e.FinalGrade, 'f', 2, 64)
		}
		data.Rows = append(data.Rows, map[string]string{
			"Student":      e.StudentName,
			"Department":   e.StudentDepartment,
			"Course Code":  e.CourseCode,
			"Course":       e.CourseName,
			"Status":       string(e.Status),
			"Submitted At": e.SubmittedAt.UTC().Format(time.RFC3339),
			"Final Grade":  grade,
		})
	}

	switch format {
	case "csv", "":
		out, err := s.csv.Render(data)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return out, "text/csv", nil
	case "pdf":
		out, err := s.pdf.Render(data, fmt.Sprintf("Enrollments %s", term))
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return out, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

func (s *EnrollmentService) load(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}
