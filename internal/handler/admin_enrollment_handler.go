package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	"github.com/noah-isme/kidcare-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/kidcare-enrollment-api/pkg/errors"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/response"
)

type adminEnrollmentService interface {
	ListAllForAdmin(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error)
	Approve(ctx context.Context, actor models.Actor, id string, req service.ReviewRequest) (*models.Enrollment, error)
	Reject(ctx context.Context, actor models.Actor, id string, req service.ReviewRequest) (*models.Enrollment, error)
	ResetToPending(ctx context.Context, actor models.Actor, id string, req service.ReviewRequest) (*models.Enrollment, error)
	UpdatePayment(ctx context.Context, actor models.Actor, id string, req service.PaymentUpdateRequest) (*models.Enrollment, error)
}

type rosterExporter interface {
	Export(ctx context.Context, filter models.EnrollmentFilter, format string) (*service.RosterFile, error)
}

type reviewFunc func(ctx context.Context, actor models.Actor, id string, req service.ReviewRequest) (*models.Enrollment, error)

// AdminEnrollmentHandler exposes enrollment review and reporting for administrators.
type AdminEnrollmentHandler struct {
	enrollments adminEnrollmentService
	exporter    rosterExporter
}

// NewAdminEnrollmentHandler constructs AdminEnrollmentHandler.
func NewAdminEnrollmentHandler(enrollments adminEnrollmentService, exporter rosterExporter) *AdminEnrollmentHandler {
	return &AdminEnrollmentHandler{enrollments: enrollments, exporter: exporter}
}

// List godoc
// @Summary List enrollments
// @Tags Admin Enrollments
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param classId query string false "Filter by class"
// @Param sessionId query string false "Filter by session"
// @Param status query string false "pending, approved or rejected"
// @Param type query string false "active or historical"
// @Param from query string false "Enrolled at or after (RFC3339 or YYYY-MM-DD)"
// @Param to query string false "Enrolled at or before (RFC3339 or YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param sort query string false "enrolled_at, updated_at or status"
// @Param order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /admin/enrollments [get]
func (h *AdminEnrollmentHandler) List(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	enrollments, pagination, err := h.enrollments.ListAllForAdmin(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Export godoc
// @Summary Export the enrollment roster
// @Tags Admin Enrollments
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Router /admin/enrollments/export [get]
func (h *AdminEnrollmentHandler) Export(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.exporter.Export(c.Request.Context(), filter, c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, file.Filename, file.ContentType, file.Body)
}

// Approve godoc
// @Summary Approve a pending enrollment
// @Tags Admin Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.ReviewRequest false "Review notes"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/enrollments/{id}/approve [post]
func (h *AdminEnrollmentHandler) Approve(c *gin.Context) {
	h.review(c, h.enrollments.Approve)
}

// Reject godoc
// @Summary Reject a pending enrollment
// @Tags Admin Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.ReviewRequest false "Review notes"
// @Success 200 {object} response.Envelope
// @Router /admin/enrollments/{id}/reject [post]
func (h *AdminEnrollmentHandler) Reject(c *gin.Context) {
	h.review(c, h.enrollments.Reject)
}

// Reset godoc
// @Summary Reopen review of an enrollment
// @Tags Admin Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.ReviewRequest false "Review notes"
// @Success 200 {object} response.Envelope
// @Router /admin/enrollments/{id}/reset [post]
func (h *AdminEnrollmentHandler) Reset(c *gin.Context) {
	h.review(c, h.enrollments.ResetToPending)
}

// Payment godoc
// @Summary Update the payment status of an enrollment
// @Tags Admin Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.PaymentUpdateRequest true "Payment status"
// @Success 200 {object} response.Envelope
// @Router /admin/enrollments/{id}/payment [post]
func (h *AdminEnrollmentHandler) Payment(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.PaymentUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	enrollment, err := h.enrollments.UpdatePayment(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// review accepts an empty body since notes are optional.
func (h *AdminEnrollmentHandler) review(c *gin.Context, fn reviewFunc) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.ReviewRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, invalidPayload(err))
			return
		}
	}
	enrollment, err := fn(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

func filterFromQuery(c *gin.Context) (models.EnrollmentFilter, error) {
	filter := models.EnrollmentFilter{
		StudentID: c.Query("studentId"),
		ClassID:   c.Query("classId"),
		SessionID: c.Query("sessionId"),
		Status:    models.EnrollmentStatus(strings.ToLower(c.Query("status"))),
		Type:      models.EnrollmentType(strings.ToLower(c.Query("type"))),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "limit", 20),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	var err error
	if filter.From, err = parseDateParam(c.Query("from")); err != nil {
		return filter, err
	}
	if filter.To, err = parseDateParam(c.Query("to")); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseDateParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid date %q", raw))
}
