package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/e-lglioui/giao-long-api/internal/models"
	"github.com/e-lglioui/giao-long-api/internal/repository"
	appErrors "github.com/e-lglioui/giao-long-api/pkg/errors"
	"github.com/e-lglioui/giao-long-api/pkg/export"
	"github.com/e-lglioui/giao-long-api/pkg/payment"
)

type paymentRepository interface {
	Create(ctx context.Context, p *models.Payment) error
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	FindByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	MarkCompleted(ctx context.Context, id string, receiptURL *string) error
	MarkRefunded(ctx context.Context, id string, reason *string) error
	List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error)
}

type paymentUserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateProviderCustomerID(ctx context.Context, id, customerID string) error
}

// CreatePaymentRequest describes a new payment for a user.
type CreatePaymentRequest struct {
	UserID   string             `json:"user_id" validate:"required"`
	Amount   float64            `json:"amount" validate:"required,gt=0"`
	Currency string             `json:"currency" validate:"required,len=3"`
	Type     models.PaymentType `json:"type" validate:"required"`
	Metadata payment.Metadata   `json:"metadata"`
}

// RefundRequest describes an admin-initiated refund.
type RefundRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// PaymentService is the ledger between users and the payment provider.
// The provider intent is always created before the local record, so a
// gateway failure leaves no ledger row behind; the unique intent index
// makes confirmation idempotent under webhook redelivery.
type PaymentService struct {
	repo      paymentRepository
	users     paymentUserStore
	gateway   payment.Gateway
	receipts  *export.ReceiptRenderer
	exporter  *export.CSVExporter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(repo paymentRepository, users paymentUserStore, gateway payment.Gateway, validate *validator.Validate, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		repo:      repo,
		users:     users,
		gateway:   gateway,
		receipts:  export.NewReceiptRenderer(),
		exporter:  export.NewCSVExporter(),
		validator: validate,
		logger:    logger,
	}
}

// ensureCustomer returns the provider customer reference for a user,
// creating and persisting one on first use.
func (s *PaymentService) ensureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.ProviderCustomerID != nil && *user.ProviderCustomerID != "" {
		return *user.ProviderCustomerID, nil
	}
	customerID, err := s.gateway.CreateCustomer(ctx, user.Email, user.FullName)
	if err != nil {
		return "", err
	}
	if err := s.users.UpdateProviderCustomerID(ctx, user.ID, customerID); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store provider customer")
	}
	return customerID, nil
}

// CreatePayment creates a provider intent and records the pending ledger
// entry. The intent's client secret is returned for client-side completion.
func (s *PaymentService) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*models.Payment, string, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return nil, "", err
	}

	meta := req.Metadata
	meta.UserID = user.ID
	intent, err := s.gateway.CreateIntent(ctx, payment.IntentRequest{
		Amount:     req.Amount,
		Currency:   req.Currency,
		CustomerID: customerID,
		Metadata:   meta,
	})
	if err != nil {
		return nil, "", err
	}

	record := &models.Payment{
		UserID:             user.ID,
		Amount:             req.Amount,
		Currency:           req.Currency,
		Type:               req.Type,
		Status:             models.PaymentStatusPending,
		ProviderIntentID:   intent.ID,
		ProviderCustomerID: customerID,
		Metadata: models.PaymentMetadata{
			SchoolID:       meta.SchoolID,
			ClassIDs:       meta.ClassIDs,
			EnrollmentType: meta.EnrollmentType,
		},
	}
	if err := s.repo.Create(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, "", appErrors.Clone(appErrors.ErrConflict, "payment intent already recorded")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}
	s.logger.Sugar().Infow("payment created", "payment_id", record.ID, "intent_id", intent.ID, "user_id", user.ID)
	return record, intent.ClientSecret, nil
}

// ConfirmByIntent settles the ledger entry for a provider intent. Redelivery
// of a confirmation for an already-completed payment is a no-op; the second
// return reports whether this call performed the settlement.
func (s *PaymentService) ConfirmByIntent(ctx context.Context, intentID string) (*models.Payment, bool, error) {
	record, err := s.repo.FindByIntentID(ctx, intentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "payment not found for intent")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if record.Status == models.PaymentStatusCompleted {
		return record, false, nil
	}
	if record.Status == models.PaymentStatusRefunded {
		return nil, false, appErrors.Clone(appErrors.ErrInvalidState, "payment already refunded")
	}

	confirmation, err := s.gateway.ConfirmIntent(ctx, intentID)
	if err != nil {
		return nil, false, err
	}
	var receiptURL *string
	if confirmation.ReceiptURL != "" {
		receiptURL = &confirmation.ReceiptURL
	}
	if err := s.repo.MarkCompleted(ctx, record.ID, receiptURL); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to settle payment")
	}
	record.Status = models.PaymentStatusCompleted
	record.ReceiptURL = receiptURL
	s.logger.Sugar().Infow("payment completed", "payment_id", record.ID, "intent_id", intentID, "charge_id", confirmation.ChargeID)
	return record, true, nil
}

// Refund reverses a completed payment through the provider.
func (s *PaymentService) Refund(ctx context.Context, paymentID string, req RefundRequest) (*models.Payment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refund payload")
	}
	record, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if record.Status != models.PaymentStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only completed payments can be refunded")
	}
	if _, err := s.gateway.Refund(ctx, record.ProviderIntentID, req.Reason); err != nil {
		return nil, err
	}
	reason := req.Reason
	if err := s.repo.MarkRefunded(ctx, record.ID, &reason); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record refund")
	}
	record.Status = models.PaymentStatusRefunded
	record.RefundReason = &reason
	s.logger.Sugar().Infow("payment refunded", "payment_id", record.ID, "reason", req.Reason)
	return record, nil
}

// FindByID returns a payment by identifier.
func (s *PaymentService) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	return record, nil
}

// List returns payments with pagination metadata.
func (s *PaymentService) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, *models.Pagination, error) {
	payments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return payments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// RenderReceipt produces a PDF receipt for a completed payment.
func (s *PaymentService) RenderReceipt(ctx context.Context, paymentID string) ([]byte, error) {
	record, err := s.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if record.Status != models.PaymentStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "receipt available only for completed payments")
	}
	user, err := s.users.FindByID(ctx, record.UserID)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payer")
	}
	receipt := export.Receipt{
		Number:      record.ID,
		IssuedAt:    record.UpdatedAt,
		Description: fmt.Sprintf("%s payment", record.Type),
		Amount:      record.Amount,
		Currency:    record.Currency,
	}
	if user != nil {
		receipt.CustomerName = user.FullName
		receipt.CustomerEmail = user.Email
	}
	if record.ReceiptURL != nil {
		receipt.ReceiptURL = *record.ReceiptURL
	}
	rendered, err := s.receipts.Render(receipt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render receipt")
	}
	return rendered, nil
}

// ExportCSV renders a payment listing as CSV.
func (s *PaymentService) ExportCSV(ctx context.Context, filter models.PaymentFilter) ([]byte, error) {
	filter.PageSize = 100
	payments, _, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	dataset := export.Dataset{
		Headers: []string{"id", "user_id", "amount", "currency", "type", "status", "created_at"},
	}
	for _, p := range payments {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"id":         p.ID,
			"user_id":    p.UserID,
			"amount":     strconv.FormatFloat(p.Amount, 'f', 2, 64),
			"currency":   p.Currency,
			"type":       string(p.Type),
			"status":     string(p.Status),
			"created_at": p.CreatedAt.Format(time.RFC3339),
		})
	}
	rendered, err := s.exporter.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
	}
	return rendered, nil
}
