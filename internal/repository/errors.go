package repository

import (
	"errors"

	"github.com/lib/pq"
)

// Sentinel errors surfaced by repositories so services can map persistence
// conflicts onto the domain error taxonomy.
var (
	// ErrDuplicate is returned when a uniqueness constraint rejects a write
	// (duplicate roster membership, duplicate non-cancelled enrollment,
	// duplicate provider intent reference).
	ErrDuplicate = errors.New("duplicate record")
	// ErrCapacityFull is returned when a compare-and-increment against a
	// capacity bound affects no rows.
	ErrCapacityFull = errors.New("capacity full")
	// ErrNotMember is returned when a removal targets an absent membership.
	ErrNotMember = errors.New("not a member")
)

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
