package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/turnos-api/internal/dto"
	"github.com/noah-isme/turnos-api/pkg/response"
)

type reconciliationService interface {
	Failed(ctx context.Context, limit int) ([]dto.ReconciliationItem, error)
	Retry(ctx context.Context, eventID string) error
}

// ReconciliationHandler lets operators inspect and replay reactor events that exhausted their retries.
type ReconciliationHandler struct {
	service reconciliationService
}

// NewReconciliationHandler constructs the handler.
func NewReconciliationHandler(svc reconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{service: svc}
}

// List godoc
// @Summary List unreconciled workflow events
// @Tags Admin
// @Produce json
// @Param limit query int false "Limit"
// @Success 200 {object} response.Envelope
// @Router /admin/reconciliation [get]
func (h *ReconciliationHandler) List(c *gin.Context) {
	items, err := h.service.Failed(c.Request.Context(), queryInt(c, "limit", 100))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items)
}

// Retry godoc
// @Summary Replay a workflow event
// @Tags Admin
// @Produce json
// @Param id path string true "Event ID"
// @Success 202 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /admin/reconciliation/{id}/retry [post]
func (h *ReconciliationHandler) Retry(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Retry(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"eventId": id})
}
