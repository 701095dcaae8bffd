package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/e-lglioui/giao-long-api/internal/models"
	appErrors "github.com/e-lglioui/giao-long-api/pkg/errors"
)

type mockUserRepo struct {
	users   map[string]*models.User
	updated map[string]models.UserRole
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		copy := *u
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	if m.updated == nil {
		m.updated = make(map[string]models.UserRole)
	}
	m.updated[id] = role
	if u, ok := m.users[id]; ok {
		u.Role = role
	}
	return nil
}

func TestPromoteOnEnrollment(t *testing.T) {
	assert.Equal(t, models.RoleStudent, PromoteOnEnrollment(models.RoleUser))
	assert.Equal(t, models.RoleStudent, PromoteOnEnrollment(models.RoleStudent))
	assert.Equal(t, models.RoleInstructor, PromoteOnEnrollment(models.RoleInstructor))
	assert.Equal(t, models.RoleSchoolAdmin, PromoteOnEnrollment(models.RoleSchoolAdmin))
	assert.Equal(t, models.RoleSuperAdmin, PromoteOnEnrollment(models.RoleSuperAdmin))
}

func TestRoleServicePromotesUser(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{"u1": {ID: "u1", Role: models.RoleUser}}}
	svc := NewRoleService(repo, zap.NewNop())

	role, err := svc.ApplyEnrollmentPromotion(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, role)
	assert.Equal(t, models.RoleStudent, repo.updated["u1"])
}

func TestRoleServiceNeverDemotes(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{"u1": {ID: "u1", Role: models.RoleInstructor}}}
	svc := NewRoleService(repo, zap.NewNop())

	role, err := svc.ApplyEnrollmentPromotion(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleInstructor, role)
	assert.Empty(t, repo.updated)
}

func TestRoleServiceUserNotFound(t *testing.T) {
	svc := NewRoleService(&mockUserRepo{}, zap.NewNop())

	_, err := svc.ApplyEnrollmentPromotion(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}
