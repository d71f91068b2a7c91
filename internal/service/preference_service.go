package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-select-api/internal/models"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
)

type preferenceRepository interface {
	FindActiveByStudentAndTerm(ctx context.Context, studentID, term string) (*models.PreferenceList, error)
	Create(ctx context.Context, exec sqlx.ExtContext, list *models.PreferenceList) error
	ReplaceEntries(ctx context.Context, exec sqlx.ExtContext, listID string, entries []models.PreferenceEntry) error
	Withdraw(ctx context.Context, exec sqlx.ExtContext, listID string) error
}

type preferenceEnrollmentRepo interface {
	FindActiveByStudentAndTerm(ctx context.Context, studentID, term string) (*models.Enrollment, error)
	Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error
	UpdateCourse(ctx context.Context, exec sqlx.ExtContext, id, courseID string) error
	MarkDropped(ctx context.Context, exec sqlx.ExtContext, id string, from models.EnrollmentStatus, reason string) error
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// PreferenceEntryRequest is one ranked choice in a submission.
type PreferenceEntryRequest struct {
	CourseID string `json:"course_id" validate:"required"`
	Reason   string `json:"reason"`
}

// SubmitPreferencesRequest creates a student's ranked list for a term.
// Entry order is rank order.
type SubmitPreferencesRequest struct {
	StudentID string                   `json:"student_id" validate:"required"`
	Term      string                   `json:"term" validate:"required"`
	Entries   []PreferenceEntryRequest `json:"preferences" validate:"required,min=1,dive"`
}

// PreferenceBounds configures the allowed list length.
type PreferenceBounds struct {
	Min int
	Max int
}

// PreferenceService owns preference intake: submission, replacement and
// withdrawal, plus the derived PENDING enrollment.
type PreferenceService struct {
	prefs       preferenceRepository
	enrollments preferenceEnrollmentRepo
	courses     courseReader
	students    studentReader
	tx          txProvider
	bounds      PreferenceBounds
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewPreferenceService constructs PreferenceService.
func NewPreferenceService(prefs preferenceRepository, enrollments preferenceEnrollmentRepo, courses courseReader, students studentReader, tx txProvider, bounds PreferenceBounds, validate *validator.Validate, logger *zap.Logger) *PreferenceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if bounds.Min < 1 {
		bounds.Min = 1
	}
	if bounds.Max < bounds.Min {
		bounds.Max = 5
	}
	return &PreferenceService{prefs: prefs, enrollments: enrollments, courses: courses, students: students, tx: tx, bounds: bounds, validator: validate, logger: logger}
}

// Submit validates and stores a new preference list, creating the PENDING
// enrollment pointed at the first-ranked course. The list and the enrollment
// commit as one unit.
func (s *PreferenceService) Submit(ctx context.Context, req SubmitPreferencesRequest) (*models.PreferenceList, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid preference payload")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student inactive")
	}

	if _, err := s.prefs.FindActiveByStudentAndTerm(ctx, req.StudentID, req.Term); err == nil {
		return nil, appErrors.Clone(appErrors.ErrDuplicateSubmission, "")
	} else if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing preferences")
	}

	entries, err := s.buildEntries(ctx, req.Term, req.Entries)
	if err != nil {
		return nil, err
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	list := &models.PreferenceList{StudentID: req.StudentID, Term: req.Term, Entries: entries}
	if err = s.prefs.Create(ctx, tx, list); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store preferences")
		return nil, err
	}

	enrollment := &models.Enrollment{
		StudentID:   req.StudentID,
		CourseID:    entries[0].CourseID,
		Term:        req.Term,
		Status:      models.EnrollmentStatusPending,
		SubmittedAt: list.SubmittedAt,
	}
	if err = s.enrollments.Create(ctx, tx, enrollment); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit preferences")
		return nil, err
	}

	s.logger.Info("preferences submitted",
		zap.String("student_id", req.StudentID),
		zap.String("term", req.Term),
		zap.Int("choices", len(entries)))
	return list, nil
}

// Get returns the student's active preference list for a term.
func (s *PreferenceService) Get(ctx context.Context, studentID, term string) (*models.PreferenceList, error) {
	list, err := s.prefs.FindActiveByStudentAndTerm(ctx, studentID, term)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active preferences for this term")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preferences")
	}
	return list, nil
}

// Update replaces the ranked list while the enrollment is still PENDING. A
// consumed list (matching has run) is immutable.
func (s *PreferenceService) Update(ctx context.Context, req SubmitPreferencesRequest) (*models.PreferenceList, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid preference payload")
	}
	list, err := s.prefs.FindActiveByStudentAndTerm(ctx, req.StudentID, req.Term)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no preferences submitted for this term")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preferences")
	}
	enrollment, err := s.enrollments.FindActiveByStudentAndTerm(ctx, req.StudentID, req.Term)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no enrollment found for this term")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrStateConflict, "preferences already consumed by a matching run")
	}

	entries, err := s.buildEntries(ctx, req.Term, req.Entries)
	if err != nil {
		return nil, err
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.prefs.ReplaceEntries(ctx, tx, list.ID, entries); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace preferences")
		return nil, err
	}
	if err = s.enrollments.UpdateCourse(ctx, tx, enrollment.ID, entries[0].CourseID); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to repoint enrollment")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit preferences")
		return nil, err
	}

	list.Entries = entries
	s.logger.Info("preferences updated", zap.String("student_id", req.StudentID), zap.String("term", req.Term))
	return list, nil
}

// Withdraw retires a still-pending submission, dropping the derived
// enrollment and re-opening submission for the term.
func (s *PreferenceService) Withdraw(ctx context.Context, studentID, term string) error {
	list, err := s.prefs.FindActiveByStudentAndTerm(ctx, studentID, term)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "no preferences submitted for this term")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preferences")
	}
	enrollment, err := s.enrollments.FindActiveByStudentAndTerm(ctx, studentID, term)
	if err != nil && err != sql.ErrNoRows {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment != nil && enrollment.Status != models.EnrollmentStatusPending {
		return appErrors.Clone(appErrors.ErrStateConflict, "only pending submissions can be withdrawn")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.prefs.Withdraw(ctx, tx, list.ID); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to withdraw preferences")
		return err
	}
	if enrollment != nil {
		if err = s.enrollments.MarkDropped(ctx, tx, enrollment.ID, models.EnrollmentStatusPending, "withdrawn"); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop enrollment")
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit withdrawal")
		return err
	}

	s.logger.Info("preferences withdrawn", zap.String("student_id", studentID), zap.String("term", term))
	return nil
}

// buildEntries checks rank bounds and course validity, assigning ranks from
// entry order.
func (s *PreferenceService) buildEntries(ctx context.Context, term string, reqs []PreferenceEntryRequest) ([]models.PreferenceEntry, error) {
	if len(reqs) < s.bounds.Min || len(reqs) > s.bounds.Max {
		return nil, appErrors.Clone(appErrors.ErrRankViolation, "preference list length out of bounds")
	}
	seen := make(map[string]struct{}, len(reqs))
	entries := make([]models.PreferenceEntry, 0, len(reqs))
	for i, req := range reqs {
		if _, dup := seen[req.CourseID]; dup {
			return nil, appErrors.Clone(appErrors.ErrRankViolation, "duplicate course in preference list")
		}
		seen[req.CourseID] = struct{}{}

		course, err := s.courses.FindByID(ctx, req.CourseID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrInvalidCourse, "unknown course: "+req.CourseID)
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
		}
		if course.Status != models.CourseStatusPublished || course.Term != term {
			return nil, appErrors.Clone(appErrors.ErrInvalidCourse, "course not published for this term: "+req.CourseID)
		}
		entries = append(entries, models.PreferenceEntry{CourseID: req.CourseID, Rank: i + 1, Reason: req.Reason})
	}
	return entries, nil
}
