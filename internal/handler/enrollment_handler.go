package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	"github.com/noah-isme/kidcare-enrollment-api/internal/service"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/response"
)

type enrollmentService interface {
	Enroll(ctx context.Context, actor models.Actor, req service.EnrollRequest) (*service.EnrollResult, error)
	Cancel(ctx context.Context, actor models.Actor, classID string) (*models.Enrollment, error)
	ListForStudent(ctx context.Context, studentID string) (*service.StudentEnrollments, error)
}

// EnrollmentHandler exposes the student enrollment endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Create godoc
// @Summary Enroll in a class session
// @Description Reserves a seat and creates a pending enrollment. A full session answers 409 SESSION_FULL with meta.next_action=join_waitlist, or 202 with the waitlist entry when auto-waitlisting is enabled.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.enrollments.Enroll(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Waitlist != nil {
		response.Accepted(c, result, map[string]interface{}{"waitlisted": true, "position": result.Waitlist.Position})
		return
	}
	response.Created(c, result)
}

// Cancel godoc
// @Summary Cancel my enrollment for a class
// @Tags Enrollments
// @Produce json
// @Param classId path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/classes/{classId} [delete]
func (h *EnrollmentHandler) Cancel(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	enrollment, err := h.enrollments.Cancel(c.Request.Context(), actor, c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Mine godoc
// @Summary List my enrollments and waitlist entries
// @Tags Enrollments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /enrollments/me [get]
func (h *EnrollmentHandler) Mine(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	out, err := h.enrollments.ListForStudent(c.Request.Context(), actor.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, out, nil)
}
