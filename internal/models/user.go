package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleUser        UserRole = "USER"
	RoleStudent     UserRole = "STUDENT"
	RoleInstructor  UserRole = "INSTRUCTOR"
	RoleSchoolAdmin UserRole = "SCHOOL_ADMIN"
	RoleSuperAdmin  UserRole = "SUPER_ADMIN"
)

var roleRank = map[UserRole]int{
	RoleUser:        0,
	RoleStudent:     1,
	RoleInstructor:  2,
	RoleSchoolAdmin: 3,
	RoleSuperAdmin:  4,
}

// AtLeast reports whether the role ranks at or above other.
func (r UserRole) AtLeast(other UserRole) bool {
	return roleRank[r] >= roleRank[other]
}

// Valid reports whether the role is part of the known ladder.
func (r UserRole) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// User represents an application user stored in the users table.
type User struct {
	ID           string   `db:"id" json:"id"`
	Email        string   `db:"email" json:"email"`
	PasswordHash string   `db:"password_hash" json:"-"`
	FullName     string   `db:"full_name" json:"full_name"`
	Role         UserRole `db:"role" json:"role"`
	// ProviderCustomerID is the payment provider's customer reference,
	// created lazily on the first payment.
	ProviderCustomerID *string   `db:"provider_customer_id" json:"-"`
	Active             bool      `db:"active" json:"active"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
