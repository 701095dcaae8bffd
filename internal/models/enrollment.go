package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. COMPLETED and CANCELLED are terminal.
const (
	EnrollmentStatusPending   EnrollmentStatus = "PENDING"
	EnrollmentStatusApproved  EnrollmentStatus = "APPROVED"
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are permitted.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentStatusCompleted || s == EnrollmentStatusCancelled
}

var enrollmentTransitions = map[EnrollmentStatus][]EnrollmentStatus{
	EnrollmentStatusPending:  {EnrollmentStatusApproved, EnrollmentStatusActive, EnrollmentStatusCancelled},
	EnrollmentStatusApproved: {EnrollmentStatusActive, EnrollmentStatusCancelled},
	EnrollmentStatusActive:   {EnrollmentStatusCompleted, EnrollmentStatusCancelled},
}

// CanTransition reports whether moving to next is a legal transition.
func (s EnrollmentStatus) CanTransition(next EnrollmentStatus) bool {
	for _, allowed := range enrollmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Enrollment captures a student's commitment to join a school, optionally
// bound to specific classes and a payment. Records are never deleted; a
// cancelled enrollment stays as audit trail.
type Enrollment struct {
	ID             string           `db:"id" json:"id"`
	StudentID      string           `db:"student_id" json:"student_id"`
	SchoolID       string           `db:"school_id" json:"school_id"`
	Status         EnrollmentStatus `db:"status" json:"status"`
	EnrollmentDate time.Time        `db:"enrollment_date" json:"enrollment_date"`
	CompletionDate *time.Time       `db:"completion_date" json:"completion_date,omitempty"`
	// PaymentID references the Payment backing a paid enrollment; free
	// enrollments carry none.
	PaymentID  *string    `db:"payment_id" json:"payment_id,omitempty"`
	ApprovedBy *string    `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`

	// ClassIDs holds the ordered class links loaded from enrollment_classes.
	ClassIDs []string `db:"-" json:"class_ids"`
}

// EnrollmentDetail enriches Enrollment with student and school info.
type EnrollmentDetail struct {
	Enrollment
	StudentName  string `db:"student_name" json:"student_name"`
	StudentEmail string `db:"student_email" json:"student_email"`
	SchoolName   string `db:"school_name" json:"school_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	SchoolID  string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// ClassEnrollmentResult records the per-class outcome of an activation
// sequence. A class that was full is reported, not fatal, because school
// membership and payment have already been committed.
type ClassEnrollmentResult struct {
	ClassID string `json:"class_id"`
	Added   bool   `json:"added"`
	Reason  string `json:"reason,omitempty"`
}
