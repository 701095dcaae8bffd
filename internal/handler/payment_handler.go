package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/e-lglioui/giao-long-api/internal/models"
	"github.com/e-lglioui/giao-long-api/internal/service"
	appErrors "github.com/e-lglioui/giao-long-api/pkg/errors"
	"github.com/e-lglioui/giao-long-api/pkg/response"
)

type paymentReader interface {
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, *models.Pagination, error)
	Refund(ctx context.Context, paymentID string, req service.RefundRequest) (*models.Payment, error)
	RenderReceipt(ctx context.Context, paymentID string) ([]byte, error)
	ExportCSV(ctx context.Context, filter models.PaymentFilter) ([]byte, error)
}

// PaymentHandler exposes the payment read surface plus admin refunds.
type PaymentHandler struct {
	payments paymentReader
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments paymentReader) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// List godoc
// @Summary List payments
// @Tags Payments
// @Produce json
// @Param userId query string false "Filter by user"
// @Param status query string false "Filter by status"
// @Param type query string false "Filter by type"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /payments [get]
func (h *PaymentHandler) List(c *gin.Context) {
	filter := h.filterFromQuery(c)
	payments, pagination, err := h.payments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, pagination)
}

// Get godoc
// @Summary Get one payment
// @Tags Payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Router /payments/{id} [get]
func (h *PaymentHandler) Get(c *gin.Context) {
	record, err := h.payments.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if claims, ok := currentClaims(c); ok && !claims.Role.AtLeast(models.RoleSchoolAdmin) && record.UserID != claims.UserID {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Refund godoc
// @Summary Refund a completed payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Param payload body service.RefundRequest true "Refund payload"
// @Success 200 {object} response.Envelope
// @Router /payments/{id}/refund [post]
func (h *PaymentHandler) Refund(c *gin.Context) {
	var req service.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.payments.Refund(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Receipt godoc
// @Summary Download a PDF receipt for a completed payment
// @Tags Payments
// @Produce application/pdf
// @Param id path string true "Payment ID"
// @Success 200 {file} binary
// @Router /payments/{id}/receipt [get]
func (h *PaymentHandler) Receipt(c *gin.Context) {
	id := c.Param("id")
	pdf, err := h.payments.RenderReceipt(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="receipt-%s.pdf"`, id))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// ExportCSV godoc
// @Summary Export payments as CSV
// @Tags Payments
// @Produce text/csv
// @Param userId query string false "Filter by user"
// @Param status query string false "Filter by status"
// @Success 200 {file} binary
// @Router /payments/export [get]
func (h *PaymentHandler) ExportCSV(c *gin.Context) {
	filter := h.filterFromQuery(c)
	out, err := h.payments.ExportCSV(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="payments.csv"`)
	c.Data(http.StatusOK, "text/csv", out)
}

func (h *PaymentHandler) filterFromQuery(c *gin.Context) models.PaymentFilter {
	var filter models.PaymentFilter
	filter.UserID = c.Query("userId")
	filter.Status = models.PaymentStatus(strings.ToUpper(c.Query("status")))
	filter.Type = models.PaymentType(strings.ToUpper(c.Query("type")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	// non-admins only ever see their own payments
	if claims, ok := currentClaims(c); ok && !claims.Role.AtLeast(models.RoleSchoolAdmin) {
		filter.UserID = claims.UserID
	}
	return filter
}
