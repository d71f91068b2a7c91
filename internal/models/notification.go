package models

import "time"

// NotificationEvent identifies the enrollment lifecycle events fanned out to
// the notification service after commit.
type NotificationEvent string

const (
	NotificationSeatGranted       NotificationEvent = "enrollment.seat_granted"
	NotificationWaitlisted        NotificationEvent = "enrollment.waitlisted"
	NotificationPromoted          NotificationEvent = "enrollment.promoted"
	NotificationProfessorDecision NotificationEvent = "enrollment.professor_decision"
)

// Notification is the fire-and-forget payload published to the notification
// channel. Delivery is best effort and never part of a transaction.
type Notification struct {
	UserID       string                 `json:"user_id"`
	Event        NotificationEvent      `json:"event"`
	EnrollmentID string                 `json:"enrollment_id"`
	CourseID     string                 `json:"course_id"`
	Term         string                 `json:"term"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	EmittedAt    time.Time              `json:"emitted_at"`
}
