package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. Withdrawn is a soft delete.
const (
	EnrollmentStatusInvited   EnrollmentStatus = "invited"
	EnrollmentStatusAccepted  EnrollmentStatus = "accepted"
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusWithdrawn EnrollmentStatus = "withdrawn"
)

// PaymentState tracks whether the enrollment has been paid for.
type PaymentState string

const (
	PaymentStateUnpaid PaymentState = "unpaid"
	PaymentStatePaid   PaymentState = "paid"
	PaymentStateWaived PaymentState = "waived"
)

// Enrollment captures a user's membership in a cohort.
//
// CurrentSession is the learner's personal progress counter; it may lag the
// cohort's and is raised to the cohort's value only on first login, only
// upward. LoginCount distinguishes first logins from returning ones.
type Enrollment struct {
	ID             string           `db:"id" json:"id"`
	UserID         string           `db:"user_id" json:"user_id"`
	CohortID       string           `db:"cohort_id" json:"cohort_id"`
	Role           UserRole         `db:"role" json:"role"`
	Status         EnrollmentStatus `db:"status" json:"status"`
	PaymentState   PaymentState     `db:"payment_state" json:"payment_state"`
	CurrentSession int              `db:"current_session" json:"current_session"`
	LoginCount     int              `db:"login_count" json:"login_count"`
	LastLoginAt    *time.Time       `db:"last_login_at" json:"last_login_at,omitempty"`
	ViewCount      int              `db:"view_count" json:"view_count"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with user and cohort info.
type EnrollmentDetail struct {
	Enrollment
	UserName   string `db:"user_name" json:"user_name"`
	UserEmail  string `db:"user_email" json:"user_email"`
	CohortName string `db:"cohort_name" json:"cohort_name"`
	CourseName string `db:"course_name" json:"course_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	UserID    string
	CohortID  string
	CourseID  string
	Role      UserRole
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
