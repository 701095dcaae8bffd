package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/e-lglioui/giao-long-api/internal/models"
)

const enrollmentColumns = `id, student_id, school_id, status, enrollment_date, completion_date, payment_id, approved_by, approved_at, created_at, updated_at`

// EnrollmentRepository handles persistence of enrollments. A partial unique
// index on (student_id, school_id) scoped to non-cancelled statuses is the
// concurrency guard against duplicate enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Create persists a new enrollment and its class links atomically.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.EnrollmentDate.IsZero() {
		enrollment.EnrollmentDate = now
	}
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPending
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create enrollment: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insert = `INSERT INTO enrollments (id, student_id, school_id, status, enrollment_date, completion_date, payment_id, approved_by, approved_at, created_at, updated_at)
        VALUES (:id, :student_id, :school_id, :status, :enrollment_date, :completion_date, :payment_id, :approved_by, :approved_at, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insert, enrollment); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create enrollment: %w", err)
	}

	for _, classID := range enrollment.ClassIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO enrollment_classes (enrollment_id, class_id, added_at) VALUES ($1, $2, $3)`, enrollment.ID, classID, now); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("link enrollment class: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create enrollment: %w", err)
	}
	return nil
}

// FindByID returns an enrollment with its class links.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	if err := r.loadClassIDs(ctx, &enrollment); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with contextual info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.school_id, e.status, e.enrollment_date, e.completion_date, e.payment_id, e.approved_by, e.approved_at, e.created_at, e.updated_at,
        u.full_name AS student_name, u.email AS student_email, s.name AS school_name
        FROM enrollments e
        LEFT JOIN users u ON u.id = e.student_id
        LEFT JOIN schools s ON s.id = e.school_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment detail: %w", err)
	}
	if err := r.loadClassIDs(ctx, &detail.Enrollment); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindByPaymentID returns the enrollment referencing the given payment.
func (r *EnrollmentRepository) FindByPaymentID(ctx context.Context, paymentID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE payment_id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, paymentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment by payment: %w", err)
	}
	if err := r.loadClassIDs(ctx, &enrollment); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ExistsNonCancelled checks whether a live enrollment exists for the pair.
func (r *EnrollmentRepository) ExistsNonCancelled(ctx context.Context, studentID, schoolID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND school_id = $2 AND status <> $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, schoolID, models.EnrollmentStatusCancelled); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check live enrollment: %w", err)
	}
	return true, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN users u ON u.id = e.student_id
LEFT JOIN schools s ON s.id = e.school_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SchoolID != "" {
		conditions = append(conditions, fmt.Sprintf("e.school_id = $%d", len(args)+1))
		args = append(args, filter.SchoolID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrollment_date": "e.enrollment_date",
		"student_name":    "u.full_name",
		"school_name":     "s.name",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "enrollment_date"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "e.enrollment_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.school_id, e.status, e.enrollment_date, e.completion_date, e.payment_id, e.approved_by, e.approved_at, e.created_at, e.updated_at,
        u.full_name AS student_name, u.email AS student_email, s.name AS school_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// UpdateStatus updates status and completion_date for an enrollment.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, completionDate *time.Time) error {
	const query = `UPDATE enrollments SET status = $2, completion_date = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, completionDate, time.Now().UTC()); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// RecordApproval stamps the approver on an enrollment.
func (r *EnrollmentRepository) RecordApproval(ctx context.Context, id, approverID string, approvedAt time.Time) error {
	const query = `UPDATE enrollments SET approved_by = $2, approved_at = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, approverID, approvedAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("record enrollment approval: %w", err)
	}
	return nil
}

// AddClass links an additional class to the enrollment.
func (r *EnrollmentRepository) AddClass(ctx context.Context, enrollmentID, classID string) error {
	const query = `INSERT INTO enrollment_classes (enrollment_id, class_id, added_at) VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, enrollmentID, classID, time.Now().UTC()); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("add enrollment class: %w", err)
	}
	return nil
}

// RemoveClass unlinks a class from the enrollment.
func (r *EnrollmentRepository) RemoveClass(ctx context.Context, enrollmentID, classID string) error {
	const query = `DELETE FROM enrollment_classes WHERE enrollment_id = $1 AND class_id = $2`
	res, err := r.db.ExecContext(ctx, query, enrollmentID, classID)
	if err != nil {
		return fmt.Errorf("remove enrollment class: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove enrollment class: %w", err)
	}
	if affected == 0 {
		return ErrNotMember
	}
	return nil
}

// Delete removes an enrollment and its class links. Used to discard a row
// whose synchronous activation could not finish.
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete enrollment: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM enrollment_classes WHERE enrollment_id = $1`, id); err != nil {
		return fmt.Errorf("delete enrollment classes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return tx.Commit()
}

func (r *EnrollmentRepository) loadClassIDs(ctx context.Context, enrollment *models.Enrollment) error {
	const query = `SELECT class_id FROM enrollment_classes WHERE enrollment_id = $1 ORDER BY added_at`
	if err := r.db.SelectContext(ctx, &enrollment.ClassIDs, query, enrollment.ID); err != nil {
		return fmt.Errorf("load enrollment classes: %w", err)
	}
	return nil
}
