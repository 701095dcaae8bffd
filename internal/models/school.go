package models

import "time"

// School is a martial-arts school with a bounded student roster.
type School struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	// MaxStudents caps roster size; zero means unbounded.
	MaxStudents int `db:"max_students" json:"max_students"`
	// EnrollmentFee is the school's configured fee in major units.
	EnrollmentFee float64   `db:"enrollment_fee" json:"enrollment_fee"`
	Currency      string    `db:"currency" json:"currency"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
