package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kidcare-enrollment-api/internal/middleware"
	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/response"
)

type waitlistService interface {
	JoinWaitlist(ctx context.Context, actor models.Actor, sessionID string) (*models.WaitlistEntry, error)
	LeaveWaitlist(ctx context.Context, actor models.Actor, sessionID string) error
	WaitlistStatus(ctx context.Context, actor models.Actor, sessionID string) (*models.WaitlistEntry, error)
	Availability(ctx context.Context, sessionID string) (*models.SessionAvailability, bool, error)
}

// WaitlistHandler exposes waitlist and seat availability endpoints.
type WaitlistHandler struct {
	waitlist waitlistService
}

// NewWaitlistHandler constructs WaitlistHandler.
func NewWaitlistHandler(waitlist waitlistService) *WaitlistHandler {
	return &WaitlistHandler{waitlist: waitlist}
}

// Join godoc
// @Summary Join a full session's waitlist
// @Tags Waitlist
// @Produce json
// @Param sessionId path string true "Session ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{sessionId}/waitlist [post]
func (h *WaitlistHandler) Join(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	entry, err := h.waitlist.JoinWaitlist(c.Request.Context(), actor, c.Param("sessionId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// Leave godoc
// @Summary Leave a session's waitlist
// @Tags Waitlist
// @Param sessionId path string true "Session ID"
// @Success 204
// @Router /sessions/{sessionId}/waitlist [delete]
func (h *WaitlistHandler) Leave(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.waitlist.LeaveWaitlist(c.Request.Context(), actor, c.Param("sessionId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Status godoc
// @Summary My waitlist entry for a session
// @Tags Waitlist
// @Produce json
// @Param sessionId path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{sessionId}/waitlist/me [get]
func (h *WaitlistHandler) Status(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	entry, err := h.waitlist.WaitlistStatus(c.Request.Context(), actor, c.Param("sessionId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Availability godoc
// @Summary Seat availability of a session
// @Tags Waitlist
// @Produce json
// @Param sessionId path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{sessionId}/availability [get]
func (h *WaitlistHandler) Availability(c *gin.Context) {
	availability, hit, err := h.waitlist.Availability(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, availability, nil, middleware.ExtractMeta(c))
}
