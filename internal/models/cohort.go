package models

import "time"

// CohortStatus is the lifecycle of a scheduled course run.
//
// scheduled/active/completed/withdrawn are stored values; upcoming and active
// may additionally be derived at read time from current_session. A stored
// completed status is sticky and never overridden by derivation.
type CohortStatus string

const (
	CohortStatusScheduled CohortStatus = "scheduled"
	CohortStatusUpcoming  CohortStatus = "upcoming"
	CohortStatusActive    CohortStatus = "active"
	CohortStatusCompleted CohortStatus = "completed"
	CohortStatusWithdrawn CohortStatus = "withdrawn"
)

// Cohort is a scheduled run of a course. CurrentSession is advanced
// manually by an admin and acts as the cohort's progress clock.
type Cohort struct {
	ID             string       `db:"id" json:"id"`
	CourseID       string       `db:"course_id" json:"course_id"`
	Name           string       `db:"name" json:"name"`
	Status         CohortStatus `db:"status" json:"status"`
	CurrentSession int          `db:"current_session" json:"current_session"`
	StartDate      *time.Time   `db:"start_date" json:"start_date,omitempty"`
	EndDate        *time.Time   `db:"end_date" json:"end_date,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updated_at"`
}

// CohortDetail enriches Cohort with course info and enrollment counts.
type CohortDetail struct {
	Cohort
	CourseName   string `db:"course_name" json:"course_name"`
	CourseSlug   string `db:"course_slug" json:"course_slug"`
	StudentCount int    `db:"student_count" json:"student_count"`
}

// CohortFilter provides filters for listing cohorts.
type CohortFilter struct {
	CourseID        string
	Status          CohortStatus
	IncludeArchived bool
	Page            int
	PageSize        int
}
