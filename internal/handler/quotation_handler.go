package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quotelane/quotelane-api/internal/dto"
	"github.com/quotelane/quotelane-api/internal/models"
	"github.com/quotelane/quotelane-api/internal/service"
	appErrors "github.com/quotelane/quotelane-api/pkg/errors"
	"github.com/quotelane/quotelane-api/pkg/response"
)

type quotationService interface {
	Create(ctx context.Context, customerID, idemKey string, req dto.CreateQuotationRequest) (*models.Quotation, bool, error)
	Get(ctx context.Context, id string, viewer *models.User) (*models.Quotation, error)
	List(ctx context.Context, viewer *models.User, query dto.QuotationQuery) ([]models.Quotation, *models.Pagination, error)
	Update(ctx context.Context, id string, viewer *models.User, req dto.UpdateQuotationRequest) (*models.Quotation, error)
}

type quoteExporter interface {
	QuoteComparison(q *models.Quotation, format service.ExportFormat) (*service.ExportResult, error)
}

// QuotationHandler exposes REST endpoints for the quote competition workflow.
type QuotationHandler struct {
	service  quotationService
	exporter quoteExporter
}

// NewQuotationHandler constructs the handler.
func NewQuotationHandler(svc quotationService, exporter quoteExporter) *QuotationHandler {
	return &QuotationHandler{service: svc, exporter: exporter}
}

func viewerFromContext(c *gin.Context) *models.User {
	claims := claimsFromContext(c)
	if claims == nil {
		return nil
	}
	return &models.User{ID: claims.UserID, Email: claims.Email, FullName: claims.FullName, Role: claims.Role}
}

// Create godoc
// @Summary Open a quote request
// @Description Customer opens a quote competition for a vehicle repair
// @Tags Quotations
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Client idempotency key"
// @Param payload body dto.CreateQuotationRequest true "Quote request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /quotations [post]
func (h *QuotationHandler) Create(c *gin.Context) {
	viewer := viewerFromContext(c)
	if viewer == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateQuotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid quote request payload"))
		return
	}

	idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	quotation, created, err := h.service.Create(c.Request.Context(), viewer.ID, idemKey, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	response.JSON(c, status, quotation, nil)
}

// List godoc
// @Summary List quote requests
// @Description List requests visible to the caller
// @Tags Quotations
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /quotations [get]
func (h *QuotationHandler) List(c *gin.Context) {
	viewer := viewerFromContext(c)
	if viewer == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	query := dto.QuotationQuery{}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			query.Status = append(query.Status, models.QuotationStatus(part))
		}
	}
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	rows, pagination, err := h.service.List(c.Request.Context(), viewer, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}

// Get godoc
// @Summary Get quote request detail
// @Description Request detail with quotes scoped to the caller
// @Tags Quotations
// @Produce json
// @Param id path string true "Quotation ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /quotations/{id} [get]
func (h *QuotationHandler) Get(c *gin.Context) {
	viewer := viewerFromContext(c)
	if viewer == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	quotation, err := h.service.Get(c.Request.Context(), c.Param("id"), viewer)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quotation, nil)
}

// Update godoc
// @Summary Update a quote request
// @Description Workshops submit quotes; customers accept, decline, cancel or complete
// @Tags Quotations
// @Accept json
// @Produce json
// @Param id path string true "Quotation ID"
// @Param payload body dto.UpdateQuotationRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /quotations/{id} [put]
func (h *QuotationHandler) Update(c *gin.Context) {
	viewer := viewerFromContext(c)
	if viewer == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.UpdateQuotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid update payload"))
		return
	}
	quotation, err := h.service.Update(c.Request.Context(), c.Param("id"), viewer, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quotation, nil)
}

// Export godoc
// @Summary Export quote comparison
// @Description Download the request's quotes as CSV or PDF
// @Tags Quotations
// @Produce octet-stream
// @Param id path string true "Quotation ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Router /quotations/{id}/export [get]
func (h *QuotationHandler) Export(c *gin.Context) {
	viewer := viewerFromContext(c)
	if viewer == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	quotation, err := h.service.Get(c.Request.Context(), c.Param("id"), viewer)
	if err != nil {
		response.Error(c, err)
		return
	}

	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	result, err := h.exporter.QuoteComparison(quotation, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Header("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}
