package models

import "time"

// ReflectionStatus tracks a learner's submission through review.
type ReflectionStatus string

const (
	ReflectionStatusDraft         ReflectionStatus = "draft"
	ReflectionStatusSubmitted     ReflectionStatus = "submitted"
	ReflectionStatusUnderReview   ReflectionStatus = "under_review"
	ReflectionStatusNeedsRevision ReflectionStatus = "needs_revision"
	ReflectionStatusResubmitted   ReflectionStatus = "resubmitted"
	ReflectionStatusPassed        ReflectionStatus = "passed"
)

// PendingReflectionStatuses are the states awaiting grader attention.
var PendingReflectionStatuses = []ReflectionStatus{
	ReflectionStatusSubmitted,
	ReflectionStatusUnderReview,
	ReflectionStatusResubmitted,
}

// ReflectionQuestion is one prompt tied to a session.
type ReflectionQuestion struct {
	ID            string    `db:"id" json:"id"`
	SessionID     string    `db:"session_id" json:"session_id"`
	SessionNumber int       `db:"session_number" json:"session_number"`
	CourseID      string    `db:"course_id" json:"course_id"`
	QuestionText  string    `db:"question_text" json:"question_text"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// ReflectionResponse is a learner's answer to a question, unique per
// (enrollment, question). MarkedBy/MarkedAt are set only by graders.
type ReflectionResponse struct {
	ID            string           `db:"id" json:"id"`
	EnrollmentID  string           `db:"enrollment_id" json:"enrollment_id"`
	QuestionID    string           `db:"question_id" json:"question_id"`
	CohortID      string           `db:"cohort_id" json:"cohort_id"`
	SessionID     string           `db:"session_id" json:"session_id"`
	SessionNumber int              `db:"session_number" json:"session_number"`
	ResponseText  string           `db:"response_text" json:"response_text"`
	IsPublic      bool             `db:"is_public" json:"is_public"`
	Status        ReflectionStatus `db:"status" json:"status"`
	Feedback      *string          `db:"feedback" json:"feedback,omitempty"`
	MarkedBy      *string          `db:"marked_by" json:"marked_by,omitempty"`
	MarkedAt      *time.Time       `db:"marked_at" json:"marked_at,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// ReflectionDetail enriches a response with learner and question context.
type ReflectionDetail struct {
	ReflectionResponse
	UserName     string `db:"user_name" json:"user_name"`
	UserEmail    string `db:"user_email" json:"user_email"`
	QuestionText string `db:"question_text" json:"question_text"`
	CohortName   string `db:"cohort_name" json:"cohort_name"`
}

// ReflectionFilter provides filters for grading queues and learner lists.
type ReflectionFilter struct {
	EnrollmentID string
	CohortID     string
	SessionID    string
	Statuses     []ReflectionStatus
	Page         int
	PageSize     int
}
