package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/e-lglioui/giao-long-api/internal/models"
)

// ClassRepository handles persistence of classes and their membership.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// FindByID returns a class by its ID.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	const query = `SELECT id, school_id, title, max_capacity, current_enrollment, created_at FROM classes WHERE id = $1`
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find class: %w", err)
	}
	return &class, nil
}

// HasStudent reports whether the student is enrolled in the class.
func (r *ClassRepository) HasStudent(ctx context.Context, classID, studentID string) (bool, error) {
	const query = `SELECT 1 FROM class_students WHERE class_id = $1 AND student_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, classID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check class membership: %w", err)
	}
	return true, nil
}

// AddStudent enrolls the student and increments the enrollment counter in the
// same transaction. The counter update is a compare-and-increment bounded by
// max_capacity, so concurrent adds against a nearly-full class cannot both
// succeed past the limit.
func (r *ClassRepository) AddStudent(ctx context.Context, classID, studentID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add class student: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.GetContext(ctx, &exists, `SELECT 1 FROM classes WHERE id = $1`, classID); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("find class: %w", err)
	}

	const insert = `INSERT INTO class_students (class_id, student_id, added_at) VALUES ($1, $2, $3)`
	if _, err := tx.ExecContext(ctx, insert, classID, studentID, time.Now().UTC()); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert class membership: %w", err)
	}

	const bump = `UPDATE classes SET current_enrollment = current_enrollment + 1 WHERE id = $1 AND current_enrollment < max_capacity`
	res, err := tx.ExecContext(ctx, bump, classID)
	if err != nil {
		return fmt.Errorf("increment class enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment class enrollment: %w", err)
	}
	if affected == 0 {
		return ErrCapacityFull
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add class student: %w", err)
	}
	return nil
}

// RemoveStudent removes the student and decrements the counter in the same
// transaction, keeping counter and membership in lockstep.
func (r *ClassRepository) RemoveStudent(ctx context.Context, classID, studentID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove class student: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM class_students WHERE class_id = $1 AND student_id = $2`, classID, studentID)
	if err != nil {
		return fmt.Errorf("remove class membership: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove class membership: %w", err)
	}
	if affected == 0 {
		return ErrNotMember
	}

	const drop = `UPDATE classes SET current_enrollment = current_enrollment - 1 WHERE id = $1 AND current_enrollment > 0`
	if _, err := tx.ExecContext(ctx, drop, classID); err != nil {
		return fmt.Errorf("decrement class enrollment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove class student: %w", err)
	}
	return nil
}
