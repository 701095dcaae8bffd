package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e-lglioui/giao-long-api/internal/models"
	"github.com/e-lglioui/giao-long-api/internal/service"
	appErrors "github.com/e-lglioui/giao-long-api/pkg/errors"
	"github.com/e-lglioui/giao-long-api/pkg/payment"
)

const webhookTestSecret = "whsec_test"

type stubConfirmer struct {
	outcome  *service.EnrollmentOutcome
	err      error
	failOnce error
	calls    []string
}

func (s *stubConfirmer) ConfirmByIntent(_ context.Context, intentID string) (*service.EnrollmentOutcome, error) {
	s.calls = append(s.calls, intentID)
	if s.failOnce != nil {
		err := s.failOnce
		s.failOnce = nil
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.outcome, nil
}

type stubDedup struct {
	seen    map[string]bool
	err     error
	marks   []string
	forgets []string
}

func newStubDedup() *stubDedup {
	return &stubDedup{seen: make(map[string]bool)}
}

func (s *stubDedup) MarkSeen(_ context.Context, eventID string) (bool, error) {
	s.marks = append(s.marks, eventID)
	if s.err != nil {
		return false, s.err
	}
	if s.seen[eventID] {
		return false, nil
	}
	s.seen[eventID] = true
	return true, nil
}

func (s *stubDedup) Forget(_ context.Context, eventID string) error {
	s.forgets = append(s.forgets, eventID)
	if s.err != nil {
		return s.err
	}
	delete(s.seen, eventID)
	return nil
}

func activatedOutcome(enrollmentID string) *service.EnrollmentOutcome {
	return &service.EnrollmentOutcome{
		Enrollment: &models.EnrollmentDetail{
			Enrollment: models.Enrollment{ID: enrollmentID, Status: models.EnrollmentStatusActive},
		},
	}
}

func webhookGateway() payment.Gateway {
	return payment.NewClient(payment.ClientConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: webhookTestSecret,
	})
}

func webhookEventBody(t *testing.T, eventID, eventType, intentID string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"id":   eventID,
		"type": eventType,
		"data": map[string]interface{}{
			"object": map[string]interface{}{"id": intentID},
		},
	})
	require.NoError(t, err)
	return body
}

func performWebhook(h *WebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(body))
	if signature != "" {
		c.Request.Header.Set("Signature", signature)
	}
	h.Handle(c)
	return w
}

func TestWebhookHandlerSucceededEventConfirmsEnrollment(t *testing.T) {
	confirmer := &stubConfirmer{outcome: activatedOutcome("enr-1")}
	dedup := newStubDedup()
	h := NewWebhookHandler(webhookGateway(), confirmer, dedup, service.NewMetricsService(), nil)

	body := webhookEventBody(t, "evt-1", payment.EventIntentSucceeded, "pi-1")
	w := performWebhook(h, body, payment.SignPayload(webhookTestSecret, time.Now(), body))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"pi-1"}, confirmer.calls)
	assert.Equal(t, []string{"evt-1"}, dedup.marks)
	assert.Empty(t, dedup.forgets)
	assert.Contains(t, w.Body.String(), "enr-1")
}

func TestWebhookHandlerRejectsBadSignature(t *testing.T) {
	confirmer := &stubConfirmer{outcome: activatedOutcome("enr-1")}
	h := NewWebhookHandler(webhookGateway(), confirmer, newStubDedup(), service.NewMetricsService(), nil)

	body := webhookEventBody(t, "evt-1", payment.EventIntentSucceeded, "pi-1")
	w := performWebhook(h, body, payment.SignPayload("wrong-secret", time.Now(), body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, confirmer.calls)
}

func TestWebhookHandlerRejectsMissingSignature(t *testing.T) {
	confirmer := &stubConfirmer{outcome: activatedOutcome("enr-1")}
	h := NewWebhookHandler(webhookGateway(), confirmer, newStubDedup(), service.NewMetricsService(), nil)

	body := webhookEventBody(t, "evt-1", payment.EventIntentSucceeded, "pi-1")
	w := performWebhook(h, body, "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, confirmer.calls)
}

func TestWebhookHandlerRejectsStaleTimestamp(t *testing.T) {
	confirmer := &stubConfirmer{outcome: activatedOutcome("enr-1")}
	h := NewWebhookHandler(webhookGateway(), confirmer, newStubDedup(), service.NewMetricsService(), nil)

	body := webhookEventBody(t, "evt-1", payment.EventIntentSucceeded, "pi-1")
	w := performWebhook(h, body, payment.SignPayload(webhookTestSecret, time.Now().Add(-time.Hour), body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, confirmer.calls)
}

func TestWebhookHandlerDuplicateEventAcknowledgedOnce(t *testing.T) {
	confirmer := &stubConfirmer{outcome: activatedOutcome("enr-1")}
	dedup := newStubDedup()
	h := NewWebhookHandler(webhookGateway(), confirmer, dedup, service.NewMetricsService(), nil)

	body := webhookEventBody(t, "evt-1", payment.EventIntentSucceeded, "pi-1")
	sig := payment.SignPayload(webhookTestSecret, time.Now(), body)

	first := performWebhook(h, body, sig)
	require.Equal(t, http.StatusOK, first.Code)

	second := performWebhook(h, body, sig)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, []string{"pi-1"}, confirmer.calls, "duplicate must not reprocess")
	assert.Contains(t, second.Body.String(), "duplicate")
}

func TestWebhookHandlerDedupOutageFailsOpen(t *testing.T) {
	confirmer := &stubConfirmer{outcome: activatedOutcome("enr-1")}
	dedup := newStubDedup()
	dedup.err = errors.New("redis: connection refused")
	h := NewWebhookHandler(webhookGateway(), confirmer, dedup, service.NewMetricsService(), nil)

	body := webhookEventBody(t, "evt-1", payment.EventIntentSucceeded, "pi-1")
	w := performWebhook(h, body, payment.SignPayload(webhookTestSecret, time.Now(), body))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"pi-1"}, confirmer.calls)
}

func TestWebhookHandlerConfirmationErrorSurfaces(t *testing.T) {
	confirmer := &stubConfirmer{err: appErrors.Clone(appErrors.ErrNotFound, "no payment with intent pi-1")}
	dedup := newStubDedup()
	h := NewWebhookHandler(webhookGateway(), confirmer, dedup, service.NewMetricsService(), nil)

	body := webhookEventBody(t, "evt-1", payment.EventIntentSucceeded, "pi-1")
	w := performWebhook(h, body, payment.SignPayload(webhookTestSecret, time.Now(), body))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, []string{"evt-1"}, dedup.forgets, "failed event must be released for redelivery")
}

func TestWebhookHandlerRedeliveryAfterTransientFailure(t *testing.T) {
	confirmer := &stubConfirmer{
		outcome:  activatedOutcome("enr-1"),
		failOnce: appErrors.Clone(appErrors.ErrProviderUnavailable, "provider unreachable"),
	}
	dedup := newStubDedup()
	h := NewWebhookHandler(webhookGateway(), confirmer, dedup, service.NewMetricsService(), nil)

	body := webhookEventBody(t, "evt-1", payment.EventIntentSucceeded, "pi-1")
	sig := payment.SignPayload(webhookTestSecret, time.Now(), body)

	first := performWebhook(h, body, sig)
	require.Equal(t, appErrors.ErrProviderUnavailable.Status, first.Code)
	assert.Contains(t, dedup.forgets, "evt-1")

	// provider redelivers the same event once confirmation can succeed
	second := performWebhook(h, body, sig)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, []string{"pi-1", "pi-1"}, confirmer.calls)
	assert.Contains(t, second.Body.String(), "enr-1")
}

func TestWebhookHandlerFailedIntentAcknowledged(t *testing.T) {
	confirmer := &stubConfirmer{outcome: activatedOutcome("enr-1")}
	h := NewWebhookHandler(webhookGateway(), confirmer, newStubDedup(), service.NewMetricsService(), nil)

	body := webhookEventBody(t, "evt-2", payment.EventIntentFailed, "pi-1")
	w := performWebhook(h, body, payment.SignPayload(webhookTestSecret, time.Now(), body))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, confirmer.calls)
}

func TestWebhookHandlerUnknownEventIgnored(t *testing.T) {
	confirmer := &stubConfirmer{outcome: activatedOutcome("enr-1")}
	h := NewWebhookHandler(webhookGateway(), confirmer, newStubDedup(), service.NewMetricsService(), nil)

	body := webhookEventBody(t, "evt-3", "charge.updated", "pi-1")
	w := performWebhook(h, body, payment.SignPayload(webhookTestSecret, time.Now(), body))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, confirmer.calls)
}
