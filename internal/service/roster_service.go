package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/e-lglioui/giao-long-api/internal/models"
	"github.com/e-lglioui/giao-long-api/internal/repository"
	appErrors "github.com/e-lglioui/giao-long-api/pkg/errors"
)

type schoolRoster interface {
	FindByID(ctx context.Context, id string) (*models.School, error)
	HasStudent(ctx context.Context, schoolID, studentID string) (bool, error)
	AddStudent(ctx context.Context, schoolID, studentID string) error
	RemoveStudent(ctx context.Context, schoolID, studentID string) error
}

type classRoster interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	HasStudent(ctx context.Context, classID, studentID string) (bool, error)
	AddStudent(ctx context.Context, classID, studentID string) error
	RemoveStudent(ctx context.Context, classID, studentID string) error
}

// RosterService manages school and class membership. Capacity and
// duplicate-membership enforcement live in the repositories' transactions;
// this layer maps their sentinels onto the API error taxonomy.
type RosterService struct {
	schools schoolRoster
	classes classRoster
	logger  *zap.Logger
}

// NewRosterService constructs RosterService.
func NewRosterService(schools schoolRoster, classes classRoster, logger *zap.Logger) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{schools: schools, classes: classes, logger: logger}
}

// AddStudentToSchool places a student on a school roster. Re-adding an
// existing member is reported as a conflict.
func (s *RosterService) AddStudentToSchool(ctx context.Context, schoolID, studentID string) error {
	if err := s.schools.AddStudent(ctx, schoolID, studentID); err != nil {
		switch {
		case err == sql.ErrNoRows:
			return appErrors.Clone(appErrors.ErrNotFound, "school not found")
		case errors.Is(err, repository.ErrDuplicate):
			return appErrors.Clone(appErrors.ErrConflict, "student already on school roster")
		case errors.Is(err, repository.ErrCapacityFull):
			return appErrors.Clone(appErrors.ErrCapacityExceeded, "school roster is full")
		default:
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add student to school")
		}
	}
	return nil
}

// EnsureStudentInSchool is the orchestrator's re-entrant variant: an
// existing membership is success, capacity and lookup failures are not.
func (s *RosterService) EnsureStudentInSchool(ctx context.Context, schoolID, studentID string) error {
	err := s.AddStudentToSchool(ctx, schoolID, studentID)
	if err != nil && appErrors.HasCode(err, appErrors.ErrConflict) {
		return nil
	}
	return err
}

// RemoveStudentFromSchool drops a student from a school roster.
func (s *RosterService) RemoveStudentFromSchool(ctx context.Context, schoolID, studentID string) error {
	if err := s.schools.RemoveStudent(ctx, schoolID, studentID); err != nil {
		if errors.Is(err, repository.ErrNotMember) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not on school roster")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove student from school")
	}
	return nil
}

// AddStudentToClass places a student in a class, bumping the enrollment
// counter atomically against capacity.
func (s *RosterService) AddStudentToClass(ctx context.Context, classID, studentID string) error {
	if err := s.classes.AddStudent(ctx, classID, studentID); err != nil {
		switch {
		case err == sql.ErrNoRows:
			return appErrors.Clone(appErrors.ErrNotFound, "class not found")
		case errors.Is(err, repository.ErrDuplicate):
			return appErrors.Clone(appErrors.ErrConflict, "student already in class")
		case errors.Is(err, repository.ErrCapacityFull):
			return appErrors.Clone(appErrors.ErrCapacityExceeded, "class is full")
		default:
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add student to class")
		}
	}
	return nil
}

// RemoveStudentFromClass drops a student from a class and decrements the
// enrollment counter.
func (s *RosterService) RemoveStudentFromClass(ctx context.Context, classID, studentID string) error {
	if err := s.classes.RemoveStudent(ctx, classID, studentID); err != nil {
		if errors.Is(err, repository.ErrNotMember) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not in class")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove student from class")
	}
	return nil
}

// SchoolByID loads a school, mapping a missing row to NotFound.
func (s *RosterService) SchoolByID(ctx context.Context, id string) (*models.School, error) {
	school, err := s.schools.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "school not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school")
	}
	return school, nil
}

// ClassByID loads a class, mapping a missing row to NotFound.
func (s *RosterService) ClassByID(ctx context.Context, id string) (*models.Class, error) {
	class, err := s.classes.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	return class, nil
}
