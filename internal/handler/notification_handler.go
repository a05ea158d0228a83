package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/turnos-api/internal/models"
	"github.com/noah-isme/turnos-api/internal/service"
	"github.com/noah-isme/turnos-api/pkg/response"
)

type notificationService interface {
	List(ctx context.Context, actor *models.JWTClaims, unreadOnly bool, limit, offset int) (*service.NotificationList, error)
	MarkRead(ctx context.Context, actor *models.JWTClaims, id string) (*models.Notification, error)
	Acknowledge(ctx context.Context, actor *models.JWTClaims, id string) (*models.Notification, error)
}

// NotificationHandler exposes the caller's inbox.
type NotificationHandler struct {
	service notificationService
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(svc notificationService) *NotificationHandler {
	return &NotificationHandler{service: svc}
}

// List godoc
// @Summary List my notifications
// @Tags Notifications
// @Produce json
// @Param unread query bool false "Only unread"
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	unread, _ := strconv.ParseBool(c.Query("unread"))
	list, err := h.service.List(c.Request.Context(), claimsFromContext(c), unread, queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// MarkRead godoc
// @Summary Mark a notification as read
// @Tags Notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	n, err := h.service.MarkRead(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, n)
}

// Acknowledge godoc
// @Summary Confirm a notification
// @Tags Notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /notifications/{id}/acknowledge [post]
func (h *NotificationHandler) Acknowledge(c *gin.Context) {
	n, err := h.service.Acknowledge(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, n)
}
