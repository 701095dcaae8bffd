package service

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/e-lglioui/giao-long-api/internal/models"
	appErrors "github.com/e-lglioui/giao-long-api/pkg/errors"
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateRole(ctx context.Context, id string, role models.UserRole) error
}

// RoleService applies enrollment-driven role transitions. Promotion is
// monotonic: activation lifts USER to STUDENT and leaves every higher role
// untouched, and nothing here ever demotes.
type RoleService struct {
	users  userRepository
	logger *zap.Logger
}

// NewRoleService constructs RoleService.
func NewRoleService(users userRepository, logger *zap.Logger) *RoleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleService{users: users, logger: logger}
}

// PromoteOnEnrollment returns the role a user should hold after an
// enrollment activates. Only USER is promoted; every other role is kept.
func PromoteOnEnrollment(current models.UserRole) models.UserRole {
	if current == models.RoleUser {
		return models.RoleStudent
	}
	return current
}

// ApplyEnrollmentPromotion persists the promotion for a user if one is due.
// It returns the role the user holds afterwards.
func (s *RoleService) ApplyEnrollmentPromotion(ctx context.Context, userID string) (models.UserRole, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	next := PromoteOnEnrollment(user.Role)
	if next == user.Role {
		return user.Role, nil
	}
	if err := s.users.UpdateRole(ctx, userID, next); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update role")
	}
	s.logger.Sugar().Infow("role promoted on enrollment", "user_id", userID, "from", user.Role, "to", next)
	return next, nil
}
