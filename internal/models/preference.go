package models

import "time"

// PreferenceListStatus tracks whether a submitted list is still in force.
type PreferenceListStatus string

const (
	PreferenceListStatusActive    PreferenceListStatus = "ACTIVE"
	PreferenceListStatusWithdrawn PreferenceListStatus = "WITHDRAWN"
)

// PreferenceList is a student's ranked course wishlist for a term. At most one
// non-withdrawn list exists per (student, term); the list is immutable once a
// matching pass has consumed the associated enrollment.
type PreferenceList struct {
	ID          string               `db:"id" json:"id"`
	StudentID   string               `db:"student_id" json:"student_id"`
	Term        string               `db:"term" json:"term"`
	Status      PreferenceListStatus `db:"status" json:"status"`
	SubmittedAt time.Time            `db:"submitted_at" json:"submitted_at"`
	UpdatedAt   time.Time            `db:"updated_at" json:"updated_at"`
	Entries     []PreferenceEntry    `json:"entries"`
}

// PreferenceEntry is one ranked course choice. Ranks are contiguous 1..N with
// each rank unique within the list.
type PreferenceEntry struct {
	ListID   string `db:"list_id" json:"-"`
	CourseID string `db:"course_id" json:"course_id"`
	Rank     int    `db:"rank" json:"rank"`
	Reason   string `db:"reason" json:"reason,omitempty"`
}
