package service

import (
	"context"
	"database/sql"

	"github.com/noah-isme/course-select-api/internal/models"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
)

type courseCatalog interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	ListPublishedByTerm(ctx context.Context, term string) ([]models.Course, error)
}

// CourseService serves the published course catalogue students rank.
type CourseService struct {
	courses courseCatalog
	cache   *CacheService
}

// NewCourseService constructs CourseService. cache may be nil.
func NewCourseService(courses courseCatalog, cache *CacheService) *CourseService {
	return &CourseService{courses: courses, cache: cache}
}

// ListPublished returns the published courses open for a term.
func (s *CourseService) ListPublished(ctx context.Context, term string) ([]models.Course, error) {
	key := ""
	if s.cache.Enabled() {
		key = s.cache.Key("courses", term)
		var cached []models.Course
		if s.cache.Get(ctx, key, &cached) {
			return cached, nil
		}
	}
	courses, err := s.courses.ListPublishedByTerm(ctx, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	if key != "" {
		s.cache.Set(ctx, key, courses)
	}
	return courses, nil
}

// Get returns one course.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}
