package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	"github.com/noah-isme/kidcare-enrollment-api/internal/service"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/response"
)

type sessionAdminService interface {
	SetSessionStatus(ctx context.Context, actor models.Actor, sessionID string, req service.SessionStatusRequest) (*models.Session, error)
	DeleteSession(ctx context.Context, actor models.Actor, sessionID string) error
	PromoteNext(ctx context.Context, sessionID string) (*models.Enrollment, error)
	Broadcast(ctx context.Context, actor models.Actor, sessionID string, req service.BroadcastRequest) (*service.BroadcastResult, error)
}

type broadcastLister interface {
	ListBroadcasts(ctx context.Context, page, size int) ([]models.BroadcastSummary, *models.Pagination, error)
}

// SessionAdminHandler exposes session lifecycle and messaging endpoints.
type SessionAdminHandler struct {
	sessions   sessionAdminService
	broadcasts broadcastLister
}

// NewSessionAdminHandler constructs SessionAdminHandler.
func NewSessionAdminHandler(sessions sessionAdminService, broadcasts broadcastLister) *SessionAdminHandler {
	return &SessionAdminHandler{sessions: sessions, broadcasts: broadcasts}
}

// SetStatus godoc
// @Summary Complete or cancel a session
// @Tags Admin Sessions
// @Accept json
// @Produce json
// @Param sessionId path string true "Session ID"
// @Param payload body service.SessionStatusRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Router /admin/sessions/{sessionId}/status [patch]
func (h *SessionAdminHandler) SetStatus(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.SessionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	session, err := h.sessions.SetSessionStatus(c.Request.Context(), actor, c.Param("sessionId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Delete godoc
// @Summary Delete a session, archiving its enrollments
// @Tags Admin Sessions
// @Param sessionId path string true "Session ID"
// @Success 204
// @Router /admin/sessions/{sessionId} [delete]
func (h *SessionAdminHandler) Delete(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.sessions.DeleteSession(c.Request.Context(), actor, c.Param("sessionId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Promote godoc
// @Summary Offer a free seat to the head of the waitlist
// @Tags Admin Sessions
// @Produce json
// @Param sessionId path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /admin/sessions/{sessionId}/promote [post]
func (h *SessionAdminHandler) Promote(c *gin.Context) {
	enrollment, err := h.sessions.PromoteNext(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"promoted": enrollment != nil, "enrollment": enrollment}, nil)
}

// Broadcast godoc
// @Summary Message every seat holder of a session
// @Tags Admin Sessions
// @Accept json
// @Produce json
// @Param sessionId path string true "Session ID"
// @Param payload body service.BroadcastRequest true "Message"
// @Success 202 {object} response.Envelope
// @Router /admin/sessions/{sessionId}/broadcasts [post]
func (h *SessionAdminHandler) Broadcast(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.sessions.Broadcast(c.Request.Context(), actor, c.Param("sessionId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, result, nil)
}

// ListBroadcasts godoc
// @Summary List broadcast batches
// @Tags Admin Sessions
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/broadcasts [get]
func (h *SessionAdminHandler) ListBroadcasts(c *gin.Context) {
	summaries, pagination, err := h.broadcasts.ListBroadcasts(c.Request.Context(), queryInt(c, "page", 1), queryInt(c, "limit", 20))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summaries, pagination)
}
