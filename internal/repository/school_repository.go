package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/e-lglioui/giao-long-api/internal/models"
)

// SchoolRepository handles persistence of schools and their student roster.
type SchoolRepository struct {
	db *sqlx.DB
}

// NewSchoolRepository constructs the repository.
func NewSchoolRepository(db *sqlx.DB) *SchoolRepository {
	return &SchoolRepository{db: db}
}

// FindByID returns a school by its ID.
func (r *SchoolRepository) FindByID(ctx context.Context, id string) (*models.School, error) {
	const query = `SELECT id, name, max_students, enrollment_fee, currency, created_at, updated_at FROM schools WHERE id = $1`
	var school models.School
	if err := r.db.GetContext(ctx, &school, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find school: %w", err)
	}
	return &school, nil
}

// CountStudents returns the live roster size of a school.
func (r *SchoolRepository) CountStudents(ctx context.Context, schoolID string) (int, error) {
	const query = `SELECT COUNT(*) FROM school_students WHERE school_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, schoolID); err != nil {
		return 0, fmt.Errorf("count school students: %w", err)
	}
	return count, nil
}

// HasStudent reports whether the student is on the school roster.
func (r *SchoolRepository) HasStudent(ctx context.Context, schoolID, studentID string) (bool, error) {
	const query = `SELECT 1 FROM school_students WHERE school_id = $1 AND student_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, schoolID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check school membership: %w", err)
	}
	return true, nil
}

// AddStudent inserts the student into the school roster. The school row is
// locked so the capacity check reads the live membership count rather than a
// stale one under concurrent enrollments.
func (r *SchoolRepository) AddStudent(ctx context.Context, schoolID, studentID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add school student: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var maxStudents int
	if err := tx.GetContext(ctx, &maxStudents, `SELECT max_students FROM schools WHERE id = $1 FOR UPDATE`, schoolID); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("lock school: %w", err)
	}

	if maxStudents > 0 {
		var count int
		if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM school_students WHERE school_id = $1`, schoolID); err != nil {
			return fmt.Errorf("count school students: %w", err)
		}
		if count >= maxStudents {
			return ErrCapacityFull
		}
	}

	const insert = `INSERT INTO school_students (school_id, student_id, added_at) VALUES ($1, $2, $3)`
	if _, err := tx.ExecContext(ctx, insert, schoolID, studentID, time.Now().UTC()); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert school membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add school student: %w", err)
	}
	return nil
}

// RemoveStudent deletes the student from the school roster.
func (r *SchoolRepository) RemoveStudent(ctx context.Context, schoolID, studentID string) error {
	const query = `DELETE FROM school_students WHERE school_id = $1 AND student_id = $2`
	res, err := r.db.ExecContext(ctx, query, schoolID, studentID)
	if err != nil {
		return fmt.Errorf("remove school membership: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove school membership: %w", err)
	}
	if affected == 0 {
		return ErrNotMember
	}
	return nil
}
