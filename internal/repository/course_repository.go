package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-select-api/internal/models"
)

// CourseRepository reads the Course Registry. Everything but the enrolled
// counter is owned by the catalog service; the counter belongs to the
// CapacityLedger.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByID returns a course by its ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, code, name, professor_id, credits, capacity, enrolled, term, status, published_at
        FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// ListPublishedByTerm returns the matchable courses for a term.
func (r *CourseRepository) ListPublishedByTerm(ctx context.Context, term string) ([]models.Course, error) {
	const query = `SELECT id, code, name, professor_id, credits, capacity, enrolled, term, status, published_at
        FROM courses WHERE term = $1 AND status = $2 ORDER BY code ASC`
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, term, models.CourseStatusPublished); err != nil {
		return nil, fmt.Errorf("list published courses: %w", err)
	}
	return courses, nil
}

// ListIDsByProfessor returns the published course IDs taught by a professor.
func (r *CourseRepository) ListIDsByProfessor(ctx context.Context, professorID string) ([]string, error) {
	const query = `SELECT id FROM courses WHERE professor_id = $1 AND status = $2`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, professorID, models.CourseStatusPublished); err != nil {
		return nil, fmt.Errorf("list professor courses: %w", err)
	}
	return ids, nil
}
