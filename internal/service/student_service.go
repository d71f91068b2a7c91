package service

import (
	"context"
	"database/sql"

	"github.com/noah-isme/course-select-api/internal/models"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
)

type studentDirectory interface {
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

// StudentService resolves student profiles for authenticated users. Accounts
// live in the identity service; this maps a user reference onto the local
// student record.
type StudentService struct {
	students studentDirectory
}

// NewStudentService constructs StudentService.
func NewStudentService(students studentDirectory) *StudentService {
	return &StudentService{students: students}
}

// ByUserID returns the student profile linked to a user account.
func (s *StudentService) ByUserID(ctx context.Context, userID string) (*models.Student, error) {
	student, err := s.students.FindByUserID(ctx, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no student profile for this account")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
	}
	return student, nil
}
