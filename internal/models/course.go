package models

import "time"

// CourseStatus mirrors the Course Registry publication lifecycle. Only
// published courses are matchable.
type CourseStatus string

const (
	CourseStatusDraft           CourseStatus = "DRAFT"
	CourseStatusPendingApproval CourseStatus = "PENDING_APPROVAL"
	CourseStatusApproved        CourseStatus = "APPROVED"
	CourseStatusPublished       CourseStatus = "PUBLISHED"
	CourseStatusArchived        CourseStatus = "ARCHIVED"
)

// Course is the engine's view of a Course Registry row. Capacity is fixed for
// the term once published; the engine is the sole writer of Enrolled.
type Course struct {
	ID          string       `db:"id" json:"id"`
	Code        string       `db:"code" json:"code"`
	Name        string       `db:"name" json:"name"`
	ProfessorID string       `db:"professor_id" json:"professor_id"`
	Credits     float64      `db:"credits" json:"credits"`
	Capacity    int          `db:"capacity" json:"capacity"`
	Enrolled    int          `db:"enrolled" json:"enrolled"`
	Term        string       `db:"term" json:"term"`
	Status      CourseStatus `db:"status" json:"status"`
	PublishedAt *time.Time   `db:"published_at" json:"published_at,omitempty"`
}

// SeatCount is a point-in-time capacity snapshot entry for one course.
type SeatCount struct {
	CourseID string `db:"id" json:"course_id"`
	Capacity int    `db:"capacity" json:"capacity"`
	Enrolled int    `db:"enrolled" json:"enrolled"`
}

// Free reports the number of unreserved seats in the snapshot.
func (s SeatCount) Free() int {
	return s.Capacity - s.Enrolled
}

// SeatDrift is one row of the capacity reconciliation audit: the live counter
// versus the count recomputed from enrollment records.
type SeatDrift struct {
	CourseID string `db:"course_id" json:"course_id"`
	Enrolled int    `db:"enrolled" json:"enrolled"`
	Held     int    `db:"held" json:"held"`
	Drift    int    `db:"drift" json:"drift"`
}
