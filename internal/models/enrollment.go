package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending    EnrollmentStatus = "PENDING"
	EnrollmentStatusSelected   EnrollmentStatus = "SELECTED"
	EnrollmentStatusConfirmed  EnrollmentStatus = "CONFIRMED"
	EnrollmentStatusWaitlisted EnrollmentStatus = "WAITLISTED"
	EnrollmentStatusRejected   EnrollmentStatus = "REJECTED"
	EnrollmentStatusDropped    EnrollmentStatus = "DROPPED"
)

// Valid returns true when the status is a supported value.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusPending, EnrollmentStatusSelected, EnrollmentStatusConfirmed,
		EnrollmentStatusWaitlisted, EnrollmentStatusRejected, EnrollmentStatusDropped:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are allowed from s.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentStatusRejected || s == EnrollmentStatusDropped
}

// Active reports whether s counts against the one-active-enrollment-per-term
// rule.
func (s EnrollmentStatus) Active() bool {
	switch s {
	case EnrollmentStatusPending, EnrollmentStatusSelected, EnrollmentStatusConfirmed, EnrollmentStatusWaitlisted:
		return true
	default:
		return false
	}
}

// HoldsSeat reports whether s occupies a unit of course capacity.
func (s EnrollmentStatus) HoldsSeat() bool {
	return s == EnrollmentStatusSelected || s == EnrollmentStatusConfirmed
}

// CanTransitionTo encodes the state machine. Illegal transitions are a
// STATE_CONFLICT, never a silent mutation.
func (s EnrollmentStatus) CanTransitionTo(next EnrollmentStatus) bool {
	switch s {
	case EnrollmentStatusPending:
		// DROPPED from PENDING is the withdrawal path.
		return next == EnrollmentStatusSelected || next == EnrollmentStatusWaitlisted || next == EnrollmentStatusDropped
	case EnrollmentStatusSelected:
		return next == EnrollmentStatusConfirmed || next == EnrollmentStatusRejected || next == EnrollmentStatusDropped
	case EnrollmentStatusConfirmed:
		return next == EnrollmentStatusDropped
	case EnrollmentStatusWaitlisted:
		return next == EnrollmentStatusSelected || next == EnrollmentStatusDropped
	default:
		return false
	}
}

// Enrollment is the central allocation record: one student's seat (or
// candidacy for a seat) in a course for a term. CourseID is the currently
// relevant course: the first preference until a matching pass assigns the
// granted one. Rows are never physically deleted; DROPPED and REJECTED rows
// remain for audit.
type Enrollment struct {
	ID        string           `db:"id" json:"id"`
	StudentID string           `db:"student_id" json:"student_id"`
	CourseID  string           `db:"course_id" json:"course_id"`
	Term      string           `db:"term" json:"term"`
	Status    EnrollmentStatus `db:"status" json:"status"`

	// SubmittedAt is the original preference submission time. It is both the
	// matching-order tie break and the FIFO waitlist key.
	SubmittedAt time.Time  `db:"submitted_at" json:"submitted_at"`
	SelectedAt  *time.Time `db:"selected_at" json:"selected_at,omitempty"`
	ConfirmedAt *time.Time `db:"confirmed_at" json:"confirmed_at,omitempty"`
	RejectedAt  *time.Time `db:"rejected_at" json:"rejected_at,omitempty"`
	DroppedAt   *time.Time `db:"dropped_at" json:"dropped_at,omitempty"`

	RejectedReason *string `db:"rejected_reason" json:"rejected_reason,omitempty"`

	// MatchNote annotates rows a matching pass could not decide, e.g. every
	// ranked course was unpublished. The row stays PENDING for operator
	// follow-up.
	MatchNote *string `db:"match_note" json:"match_note,omitempty"`

	ApprovalApproved *bool      `db:"approval_approved" json:"approval_approved,omitempty"`
	ApprovalBy       *string    `db:"approval_by" json:"approval_by,omitempty"`
	ApprovalAt       *time.Time `db:"approval_at" json:"approval_at,omitempty"`
	ApprovalComment  *string    `db:"approval_comment" json:"approval_comment,omitempty"`

	FinalGrade *float64 `db:"final_grade" json:"final_grade,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student and course info.
type EnrollmentDetail struct {
	Enrollment
	StudentName       string `db:"student_name" json:"student_name"`
	StudentDepartment string `db:"student_department" json:"student_department"`
	CourseCode        string `db:"course_code" json:"course_code"`
	CourseName        string `db:"course_name" json:"course_name"`
	ProfessorID       string `db:"professor_id" json:"professor_id"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	CourseID  string
	Term      string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
