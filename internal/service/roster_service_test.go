package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/e-lglioui/giao-long-api/internal/models"
	"github.com/e-lglioui/giao-long-api/internal/repository"
	appErrors "github.com/e-lglioui/giao-long-api/pkg/errors"
)

type mockSchoolRoster struct {
	schools   map[string]*models.School
	members   map[string]bool
	addErr    error
	removeErr error
	added     []string
	removed   []string
}

func (m *mockSchoolRoster) FindByID(ctx context.Context, id string) (*models.School, error) {
	if s, ok := m.schools[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSchoolRoster) HasStudent(ctx context.Context, schoolID, studentID string) (bool, error) {
	return m.members[schoolID+"/"+studentID], nil
}

func (m *mockSchoolRoster) AddStudent(ctx context.Context, schoolID, studentID string) error {
	if m.addErr != nil {
		return m.addErr
	}
	m.added = append(m.added, schoolID+"/"+studentID)
	return nil
}

func (m *mockSchoolRoster) RemoveStudent(ctx context.Context, schoolID, studentID string) error {
	if m.removeErr != nil {
		return m.removeErr
	}
	m.removed = append(m.removed, schoolID+"/"+studentID)
	return nil
}

type mockClassRoster struct {
	classes   map[string]*models.Class
	addErr    map[string]error
	removeErr map[string]error
	added     []string
	removed   []string
}

func (m *mockClassRoster) FindByID(ctx context.Context, id string) (*models.Class, error) {
	if c, ok := m.classes[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockClassRoster) HasStudent(ctx context.Context, classID, studentID string) (bool, error) {
	return false, nil
}

func (m *mockClassRoster) AddStudent(ctx context.Context, classID, studentID string) error {
	if err, ok := m.addErr[classID]; ok {
		return err
	}
	m.added = append(m.added, classID+"/"+studentID)
	return nil
}

func (m *mockClassRoster) RemoveStudent(ctx context.Context, classID, studentID string) error {
	if err, ok := m.removeErr[classID]; ok {
		return err
	}
	m.removed = append(m.removed, classID+"/"+studentID)
	return nil
}

func TestRosterServiceAddStudentToSchool(t *testing.T) {
	schools := &mockSchoolRoster{}
	svc := NewRosterService(schools, &mockClassRoster{}, zap.NewNop())

	require.NoError(t, svc.AddStudentToSchool(context.Background(), "sch-1", "stu-1"))
	assert.Contains(t, schools.added, "sch-1/stu-1")
}

func TestRosterServiceAddStudentToSchoolCapacity(t *testing.T) {
	schools := &mockSchoolRoster{addErr: repository.ErrCapacityFull}
	svc := NewRosterService(schools, &mockClassRoster{}, zap.NewNop())

	err := svc.AddStudentToSchool(context.Background(), "sch-1", "stu-1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCapacityExceeded))
}

func TestRosterServiceAddStudentToSchoolDuplicate(t *testing.T) {
	schools := &mockSchoolRoster{addErr: repository.ErrDuplicate}
	svc := NewRosterService(schools, &mockClassRoster{}, zap.NewNop())

	err := svc.AddStudentToSchool(context.Background(), "sch-1", "stu-1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict))
}

func TestRosterServiceEnsureStudentInSchoolIdempotent(t *testing.T) {
	schools := &mockSchoolRoster{addErr: repository.ErrDuplicate}
	svc := NewRosterService(schools, &mockClassRoster{}, zap.NewNop())

	require.NoError(t, svc.EnsureStudentInSchool(context.Background(), "sch-1", "stu-1"))
}

func TestRosterServiceEnsureStudentInSchoolCapacityStillFails(t *testing.T) {
	schools := &mockSchoolRoster{addErr: repository.ErrCapacityFull}
	svc := NewRosterService(schools, &mockClassRoster{}, zap.NewNop())

	err := svc.EnsureStudentInSchool(context.Background(), "sch-1", "stu-1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCapacityExceeded))
}

func TestRosterServiceAddStudentToClassCapacity(t *testing.T) {
	classes := &mockClassRoster{addErr: map[string]error{"c1": repository.ErrCapacityFull}}
	svc := NewRosterService(&mockSchoolRoster{}, classes, zap.NewNop())

	err := svc.AddStudentToClass(context.Background(), "c1", "stu-1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCapacityExceeded))
}

func TestRosterServiceRemoveStudentFromClassNotMember(t *testing.T) {
	classes := &mockClassRoster{removeErr: map[string]error{"c1": repository.ErrNotMember}}
	svc := NewRosterService(&mockSchoolRoster{}, classes, zap.NewNop())

	err := svc.RemoveStudentFromClass(context.Background(), "c1", "stu-1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}

func TestRosterServiceSchoolByIDNotFound(t *testing.T) {
	svc := NewRosterService(&mockSchoolRoster{}, &mockClassRoster{}, zap.NewNop())

	_, err := svc.SchoolByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}
