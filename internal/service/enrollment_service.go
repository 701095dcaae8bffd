package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/e-lglioui/giao-long-api/internal/models"
	"github.com/e-lglioui/giao-long-api/internal/repository"
	appErrors "github.com/e-lglioui/giao-long-api/pkg/errors"
	"github.com/e-lglioui/giao-long-api/pkg/payment"
)

type enrollmentRepository interface {
	Create(ctx context.Context, enrollment *models.Enrollment) error
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*models.Enrollment, error)
	ExistsNonCancelled(ctx context.Context, studentID, schoolID string) (bool, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, completionDate *time.Time) error
	RecordApproval(ctx context.Context, id, approverID string, approvedAt time.Time) error
	AddClass(ctx context.Context, enrollmentID, classID string) error
	RemoveClass(ctx context.Context, enrollmentID, classID string) error
	Delete(ctx context.Context, id string) error
}

type rosterManager interface {
	SchoolByID(ctx context.Context, id string) (*models.School, error)
	ClassByID(ctx context.Context, id string) (*models.Class, error)
	EnsureStudentInSchool(ctx context.Context, schoolID, studentID string) error
	RemoveStudentFromSchool(ctx context.Context, schoolID, studentID string) error
	AddStudentToClass(ctx context.Context, classID, studentID string) error
	RemoveStudentFromClass(ctx context.Context, classID, studentID string) error
}

type rolePromoter interface {
	ApplyEnrollmentPromotion(ctx context.Context, userID string) (models.UserRole, error)
}

type paymentLedger interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*models.Payment, string, error)
	ConfirmByIntent(ctx context.Context, intentID string) (*models.Payment, bool, error)
}

type eventDispatcher interface {
	Dispatch(eventType string, event EnrollmentEvent)
}

// RequestEnrollmentRequest describes a student's enrollment request.
type RequestEnrollmentRequest struct {
	StudentID string   `json:"student_id" validate:"required"`
	SchoolID  string   `json:"school_id" validate:"required"`
	ClassIDs  []string `json:"class_ids"`
	Type      string   `json:"type"`
}

// EnrollmentOutcome is the result of requesting an enrollment. For paid
// schools the enrollment stays PENDING until the payment intent settles;
// ClientSecret lets the client complete the provider flow.
type EnrollmentOutcome struct {
	Enrollment      *models.EnrollmentDetail       `json:"enrollment"`
	PaymentRequired bool                           `json:"payment_required"`
	PaymentID       string                         `json:"payment_id,omitempty"`
	ClientSecret    string                         `json:"client_secret,omitempty"`
	ClassResults    []models.ClassEnrollmentResult `json:"class_results,omitempty"`
}

// EnrollmentService orchestrates the enrollment lifecycle across payments,
// rosters and roles. School membership and payment settlement are the
// hard prerequisites of activation; class placement is best effort and
// reported per class, because the money has already moved.
type EnrollmentService struct {
	repo      enrollmentRepository
	roster    rosterManager
	roles     rolePromoter
	payments  paymentLedger
	events    eventDispatcher
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, roster rosterManager, roles rolePromoter, payments paymentLedger, events eventDispatcher, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:      repo,
		roster:    roster,
		roles:     roles,
		payments:  payments,
		events:    events,
		validator: validate,
		logger:    logger,
	}
}

// Request opens an enrollment. Schools with a configured fee get a PENDING
// enrollment tied to a fresh payment intent; free schools activate
// synchronously.
func (s *EnrollmentService) Request(ctx context.Context, req RequestEnrollmentRequest) (*EnrollmentOutcome, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	school, err := s.roster.SchoolByID(ctx, req.SchoolID)
	if err != nil {
		return nil, err
	}
	for _, classID := range req.ClassIDs {
		class, err := s.roster.ClassByID(ctx, classID)
		if err != nil {
			return nil, err
		}
		if class.SchoolID != school.ID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "class does not belong to school")
		}
	}
	exists, err := s.repo.ExistsNonCancelled(ctx, req.StudentID, req.SchoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already has an enrollment with this school")
	}

	enrollment := &models.Enrollment{
		StudentID:      req.StudentID,
		SchoolID:       req.SchoolID,
		Status:         models.EnrollmentStatusPending,
		EnrollmentDate: time.Now().UTC(),
		ClassIDs:       req.ClassIDs,
	}

	outcome := &EnrollmentOutcome{}
	if school.EnrollmentFee > 0 {
		enrollmentType := req.Type
		if enrollmentType == "" {
			enrollmentType = "standard"
		}
		record, clientSecret, err := s.payments.CreatePayment(ctx, CreatePaymentRequest{
			UserID:   req.StudentID,
			Amount:   school.EnrollmentFee,
			Currency: school.Currency,
			Type:     models.PaymentTypeEnrollment,
			Metadata: payment.Metadata{
				SchoolID:       school.ID,
				ClassIDs:       req.ClassIDs,
				EnrollmentType: enrollmentType,
			},
		})
		if err != nil {
			return nil, err
		}
		enrollment.PaymentID = &record.ID
		outcome.PaymentRequired = true
		outcome.PaymentID = record.ID
		outcome.ClientSecret = clientSecret
	}

	if err := s.repo.Create(ctx, enrollment); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student already has an enrollment with this school")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	if !outcome.PaymentRequired {
		results, err := s.activate(ctx, enrollment)
		if err != nil {
			// no payment anchors this row; remove it so the student can
			// retry once the school has room
			if delErr := s.repo.Delete(ctx, enrollment.ID); delErr != nil {
				s.logger.Sugar().Errorw("failed to discard enrollment after activation failure",
					"enrollment_id", enrollment.ID, "error", delErr)
			}
			return nil, err
		}
		outcome.ClassResults = results
	}

	detail, err := s.repo.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	outcome.Enrollment = detail
	return outcome, nil
}

// ConfirmByIntent is the webhook path: it settles the payment and activates
// the linked enrollment. The whole sequence is idempotent under redelivery;
// an enrollment that already left PENDING/APPROVED is returned unchanged,
// and one stuck in PENDING after an earlier partial failure is recovered.
func (s *EnrollmentService) ConfirmByIntent(ctx context.Context, intentID string) (*EnrollmentOutcome, error) {
	record, _, err := s.payments.ConfirmByIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.repo.FindByPaymentID(ctx, record.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no enrollment for payment")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	outcome := &EnrollmentOutcome{PaymentID: record.ID}
	if enrollment.Status == models.EnrollmentStatusPending || enrollment.Status == models.EnrollmentStatusApproved {
		results, err := s.activate(ctx, enrollment)
		if err != nil {
			return nil, err
		}
		outcome.ClassResults = results
	}

	detail, err := s.repo.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	outcome.Enrollment = detail
	return outcome, nil
}

// activate performs the activation sequence. A school membership or role
// failure aborts before the status change, leaving the enrollment where it
// was for a later retry; class placement failures are recorded per class
// and never abort.
func (s *EnrollmentService) activate(ctx context.Context, enrollment *models.Enrollment) ([]models.ClassEnrollmentResult, error) {
	if err := s.roster.EnsureStudentInSchool(ctx, enrollment.SchoolID, enrollment.StudentID); err != nil {
		return nil, err
	}

	var results []models.ClassEnrollmentResult
	for _, classID := range enrollment.ClassIDs {
		result := models.ClassEnrollmentResult{ClassID: classID, Added: true}
		if err := s.roster.AddStudentToClass(ctx, classID, enrollment.StudentID); err != nil {
			if appErrors.HasCode(err, appErrors.ErrConflict) {
				// already placed, e.g. webhook redelivery
				results = append(results, result)
				continue
			}
			result.Added = false
			result.Reason = appErrors.FromError(err).Message
			s.logger.Sugar().Warnw("class placement failed",
				"enrollment_id", enrollment.ID, "class_id", classID, "reason", result.Reason)
		}
		results = append(results, result)
	}

	if _, err := s.roles.ApplyEnrollmentPromotion(ctx, enrollment.StudentID); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateStatus(ctx, enrollment.ID, models.EnrollmentStatusActive, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate enrollment")
	}
	enrollment.Status = models.EnrollmentStatusActive
	s.events.Dispatch(EventEnrollmentActivated, EnrollmentEvent{
		EnrollmentID: enrollment.ID,
		StudentID:    enrollment.StudentID,
		SchoolID:     enrollment.SchoolID,
	})
	return results, nil
}

// Approve is the administrative bypass: it stamps the approval and runs the
// full activation sequence without waiting on any payment. An enrollment
// left APPROVED by an earlier activation failure can be approved again to
// retry the activation.
func (s *EnrollmentService) Approve(ctx context.Context, id, approverID string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch enrollment.Status {
	case models.EnrollmentStatusPending:
		now := time.Now().UTC()
		if err := s.repo.RecordApproval(ctx, enrollment.ID, approverID, now); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record approval")
		}
		if err := s.repo.UpdateStatus(ctx, enrollment.ID, models.EnrollmentStatusApproved, nil); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve enrollment")
		}
		enrollment.Status = models.EnrollmentStatusApproved
		s.events.Dispatch(EventEnrollmentApproved, EnrollmentEvent{
			EnrollmentID: enrollment.ID,
			StudentID:    enrollment.StudentID,
			SchoolID:     enrollment.SchoolID,
		})
	case models.EnrollmentStatusApproved:
		// approval already recorded, activation still outstanding
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("cannot approve enrollment in status %s", enrollment.Status))
	}

	if _, err := s.activate(ctx, enrollment); err != nil {
		return nil, err
	}
	return s.detail(ctx, enrollment.ID)
}

// Cancel terminates an enrollment. Cancelling an ACTIVE enrollment reverses
// its roster placements; the student's role is never demoted.
func (s *EnrollmentService) Cancel(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.findForTransition(ctx, id, models.EnrollmentStatusCancelled)
	if err != nil {
		return nil, err
	}

	if enrollment.Status == models.EnrollmentStatusActive {
		for _, classID := range enrollment.ClassIDs {
			if err := s.roster.RemoveStudentFromClass(ctx, classID, enrollment.StudentID); err != nil {
				if !appErrors.HasCode(err, appErrors.ErrNotFound) {
					return nil, err
				}
			}
		}
		if err := s.roster.RemoveStudentFromSchool(ctx, enrollment.SchoolID, enrollment.StudentID); err != nil {
			if !appErrors.HasCode(err, appErrors.ErrNotFound) {
				return nil, err
			}
		}
	}

	if err := s.repo.UpdateStatus(ctx, enrollment.ID, models.EnrollmentStatusCancelled, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel enrollment")
	}
	s.events.Dispatch(EventEnrollmentCancelled, EnrollmentEvent{
		EnrollmentID: enrollment.ID,
		StudentID:    enrollment.StudentID,
		SchoolID:     enrollment.SchoolID,
	})
	return s.detail(ctx, enrollment.ID)
}

// Complete closes out an active enrollment with a completion date.
func (s *EnrollmentService) Complete(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.findForTransition(ctx, id, models.EnrollmentStatusCompleted)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, enrollment.ID, models.EnrollmentStatusCompleted, &now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete enrollment")
	}
	s.events.Dispatch(EventEnrollmentCompleted, EnrollmentEvent{
		EnrollmentID: enrollment.ID,
		StudentID:    enrollment.StudentID,
		SchoolID:     enrollment.SchoolID,
	})
	return s.detail(ctx, enrollment.ID)
}

// AddClass places the enrolled student into an additional class.
func (s *EnrollmentService) AddClass(ctx context.Context, enrollmentID, classID string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.findByID(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "enrollment is closed")
	}
	class, err := s.roster.ClassByID(ctx, classID)
	if err != nil {
		return nil, err
	}
	if class.SchoolID != enrollment.SchoolID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "class does not belong to school")
	}
	if err := s.repo.AddClass(ctx, enrollment.ID, classID); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "class already on enrollment")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add class")
	}
	if enrollment.Status == models.EnrollmentStatusActive {
		if err := s.roster.AddStudentToClass(ctx, classID, enrollment.StudentID); err != nil {
			if !appErrors.HasCode(err, appErrors.ErrConflict) {
				// roll the link back so the enrollment stays consistent
				if rerr := s.repo.RemoveClass(ctx, enrollment.ID, classID); rerr != nil {
					s.logger.Sugar().Errorw("failed to unlink class after placement failure",
						"enrollment_id", enrollment.ID, "class_id", classID, "error", rerr)
				}
				return nil, err
			}
		}
	}
	return s.detail(ctx, enrollment.ID)
}

// RemoveClass takes the student out of one of the enrollment's classes.
func (s *EnrollmentService) RemoveClass(ctx context.Context, enrollmentID, classID string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.findByID(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "enrollment is closed")
	}
	if err := s.repo.RemoveClass(ctx, enrollment.ID, classID); err != nil {
		if errors.Is(err, repository.ErrNotMember) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not on enrollment")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove class")
	}
	if enrollment.Status == models.EnrollmentStatusActive {
		if err := s.roster.RemoveStudentFromClass(ctx, classID, enrollment.StudentID); err != nil {
			if !appErrors.HasCode(err, appErrors.ErrNotFound) {
				return nil, err
			}
		}
	}
	return s.detail(ctx, enrollment.ID)
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// FindByID returns one enrollment with student and school detail.
func (s *EnrollmentService) FindByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	return s.detail(ctx, id)
}

func (s *EnrollmentService) findByID(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

func (s *EnrollmentService) findForTransition(ctx context.Context, id string, next models.EnrollmentStatus) (*models.Enrollment, error) {
	enrollment, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !enrollment.Status.CanTransition(next) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "illegal enrollment transition")
	}
	return enrollment, nil
}

func (s *EnrollmentService) detail(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}
