package models

import "time"

// MatchingResult summarises one matching pass for the caller.
type MatchingResult struct {
	Matched    int `json:"matched"`
	Waitlisted int `json:"waitlisted"`
	Errors     int `json:"errors"`
}

// MatchingRun is the persisted audit record of a matching pass. Each decision
// inside the pass commits independently, so an interrupted run leaves a row
// with FinishedAt unset and a safe re-run picks up the remaining PENDING
// enrollments.
type MatchingRun struct {
	ID          string     `db:"id" json:"id"`
	Term        string     `db:"term" json:"term"`
	Strategy    string     `db:"strategy" json:"strategy"`
	Matched     int        `db:"matched" json:"matched"`
	Waitlisted  int        `db:"waitlisted" json:"waitlisted"`
	Errors      int        `db:"errors" json:"errors"`
	TriggeredBy string     `db:"triggered_by" json:"triggered_by"`
	StartedAt   time.Time  `db:"started_at" json:"started_at"`
	FinishedAt  *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}
