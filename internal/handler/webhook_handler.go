package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/e-lglioui/giao-long-api/internal/service"
	appErrors "github.com/e-lglioui/giao-long-api/pkg/errors"
	"github.com/e-lglioui/giao-long-api/pkg/payment"
	"github.com/e-lglioui/giao-long-api/pkg/response"
)

type eventDedup interface {
	MarkSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type enrollmentConfirmer interface {
	ConfirmByIntent(ctx context.Context, intentID string) (*service.EnrollmentOutcome, error)
}

// WebhookHandler is the provider-facing ingress. It never trusts the body
// before the signature verifies, and it acknowledges everything it is not
// interested in so the provider stops redelivering.
type WebhookHandler struct {
	gateway     payment.Gateway
	enrollments enrollmentConfirmer
	dedup       eventDedup
	metrics     *service.MetricsService
	logger      *zap.Logger
}

// NewWebhookHandler constructs WebhookHandler.
func NewWebhookHandler(gateway payment.Gateway, enrollments enrollmentConfirmer, dedup eventDedup, metrics *service.MetricsService, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		gateway:     gateway,
		enrollments: enrollments,
		dedup:       dedup,
		metrics:     metrics,
		logger:      logger,
	}
}

// Handle godoc
// @Summary Provider webhook ingress
// @Tags Payments
// @Accept json
// @Produce json
// @Param Signature header string true "Webhook signature"
// @Success 200 {object} response.Envelope
// @Router /payments/webhook [post]
func (h *WebhookHandler) Handle(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable body"))
		return
	}

	event, err := h.gateway.VerifyWebhookSignature(body, c.GetHeader("Signature"))
	if err != nil {
		h.metrics.RecordWebhookEvent("unknown", "rejected")
		response.Error(c, err)
		return
	}

	if h.dedup != nil {
		first, err := h.dedup.MarkSeen(c.Request.Context(), event.ID)
		if err != nil {
			// dedup store down: fall through, the ledger guard still holds
			h.logger.Sugar().Warnw("webhook dedup unavailable", "event_id", event.ID, "error", err)
		} else if !first {
			h.metrics.RecordWebhookEvent(event.Type, "duplicate")
			response.JSON(c, http.StatusOK, gin.H{"received": true, "duplicate": true}, nil)
			return
		}
	}

	switch event.Type {
	case payment.EventIntentSucceeded:
		outcome, err := h.enrollments.ConfirmByIntent(c.Request.Context(), event.IntentID)
		if err != nil {
			h.metrics.RecordWebhookEvent(event.Type, "failed")
			h.logger.Sugar().Errorw("webhook confirmation failed",
				"event_id", event.ID, "intent_id", event.IntentID, "error", err)
			// release the event ID so the provider's redelivery is not
			// answered as a duplicate
			if h.dedup != nil {
				if derr := h.dedup.Forget(c.Request.Context(), event.ID); derr != nil {
					h.logger.Sugar().Warnw("webhook dedup release failed", "event_id", event.ID, "error", derr)
				}
			}
			response.Error(c, err)
			return
		}
		h.metrics.RecordWebhookEvent(event.Type, "processed")
		h.metrics.RecordEnrollmentTransition(string(outcome.Enrollment.Status))
		response.JSON(c, http.StatusOK, gin.H{"received": true, "enrollment": outcome.Enrollment.ID}, nil)
	case payment.EventIntentFailed:
		h.metrics.RecordWebhookEvent(event.Type, "processed")
		h.logger.Sugar().Infow("payment intent failed", "event_id", event.ID, "intent_id", event.IntentID)
		response.JSON(c, http.StatusOK, gin.H{"received": true}, nil)
	default:
		h.metrics.RecordWebhookEvent(event.Type, "ignored")
		response.JSON(c, http.StatusOK, gin.H{"received": true}, nil)
	}
}
