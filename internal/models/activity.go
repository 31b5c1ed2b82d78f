package models

import "time"

// ActivityAction identifies what happened.
type ActivityAction string

const (
	ActivityReflectionSubmitted   ActivityAction = "reflection_submitted"
	ActivityReflectionResubmitted ActivityAction = "reflection_resubmitted"
	ActivityReflectionGraded      ActivityAction = "reflection_graded"
	ActivitySessionAdvanced       ActivityAction = "session_advanced"
	ActivityAttendanceMarked      ActivityAction = "attendance_marked"
	ActivityEnrollmentCreated     ActivityAction = "enrollment_created"
	ActivityEnrollmentWithdrawn   ActivityAction = "enrollment_withdrawn"
	ActivityLoginRecorded         ActivityAction = "login_recorded"
)

// ActivityEntry is an append-only observational record; it never feeds back
// into business rules.
type ActivityEntry struct {
	ID            string         `db:"id" json:"id"`
	CohortID      string         `db:"cohort_id" json:"cohort_id"`
	ActorID       *string        `db:"actor_id" json:"actor_id,omitempty"`
	ActorName     string         `db:"actor_name" json:"actor_name"`
	Action        ActivityAction `db:"action" json:"action"`
	SessionNumber *int           `db:"session_number" json:"session_number,omitempty"`
	Detail        string         `db:"detail" json:"detail"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}
