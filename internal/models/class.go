package models

import "time"

// Class is a scheduled course group within a school.
//
// CurrentEnrollment mirrors the class_students membership count and must
// equal it after every roster mutation; the repository updates both inside
// one transaction with a compare-and-increment guard against MaxCapacity.
type Class struct {
	ID                string    `db:"id" json:"id"`
	SchoolID          string    `db:"school_id" json:"school_id"`
	Title             string    `db:"title" json:"title"`
	MaxCapacity       int       `db:"max_capacity" json:"max_capacity"`
	CurrentEnrollment int       `db:"current_enrollment" json:"current_enrollment"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}
