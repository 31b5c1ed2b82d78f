package models

import "time"

// AttendanceRecord is one mark for an enrollment at a numbered session.
// Marks are keyed UNIQUE (enrollment_id, session_number); re-marking
// overwrites the previous value rather than appending.
type AttendanceRecord struct {
	ID            string    `db:"id" json:"id"`
	EnrollmentID  string    `db:"enrollment_id" json:"enrollment_id"`
	CohortID      string    `db:"cohort_id" json:"cohort_id"`
	SessionNumber int       `db:"session_number" json:"session_number"`
	Present       bool      `db:"present" json:"present"`
	MarkedBy      *string   `db:"marked_by" json:"marked_by,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
