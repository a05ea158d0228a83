package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/turnos-api/internal/dto"
	"github.com/noah-isme/turnos-api/internal/models"
	"github.com/noah-isme/turnos-api/pkg/response"
)

type shiftService interface {
	ListMine(ctx context.Context, actor *models.JWTClaims, query dto.ShiftQuery) ([]models.Shift, error)
	List(ctx context.Context, actor *models.JWTClaims, query dto.ShiftQuery) ([]models.Shift, error)
	Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.Shift, error)
	Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateShiftRequest) (*models.Shift, error)
	CreateBatch(ctx context.Context, actor *models.JWTClaims, req dto.BatchCreateShiftsRequest) ([]models.Shift, error)
}

// ShiftHandler exposes shift reads and schedule publication.
type ShiftHandler struct {
	service shiftService
}

// NewShiftHandler constructs the handler.
func NewShiftHandler(svc shiftService) *ShiftHandler {
	return &ShiftHandler{service: svc}
}

func shiftQuery(c *gin.Context) (dto.ShiftQuery, error) {
	var query dto.ShiftQuery
	var err error
	if query.From, err = queryTime(c, "from"); err != nil {
		return query, err
	}
	if query.To, err = queryTime(c, "to"); err != nil {
		return query, err
	}
	query.UserID = c.Query("user_id")
	for _, s := range queryList(c, "status") {
		query.Status = append(query.Status, models.ShiftStatus(s))
	}
	return query, nil
}

// ListMine godoc
// @Summary List my shifts
// @Tags Shifts
// @Produce json
// @Param from query string false "RFC3339 lower bound, defaults to now"
// @Param to query string false "RFC3339 upper bound"
// @Success 200 {object} response.Envelope
// @Router /shifts/mine [get]
func (h *ShiftHandler) ListMine(c *gin.Context) {
	query, err := shiftQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	shifts, err := h.service.ListMine(c.Request.Context(), claimsFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, shifts)
}

// List godoc
// @Summary List shifts
// @Tags Shifts
// @Produce json
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param user_id query string false "Owner filter"
// @Param status query string false "Comma separated statuses"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /shifts [get]
func (h *ShiftHandler) List(c *gin.Context) {
	query, err := shiftQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	shifts, err := h.service.List(c.Request.Context(), claimsFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, shifts)
}

// Get godoc
// @Summary Get shift
// @Tags Shifts
// @Produce json
// @Param id path string true "Shift ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /shifts/{id} [get]
func (h *ShiftHandler) Get(c *gin.Context) {
	shift, err := h.service.Get(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, shift)
}

// Create godoc
// @Summary Publish a shift
// @Tags Shifts
// @Accept json
// @Produce json
// @Param payload body dto.CreateShiftRequest true "Shift"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /shifts [post]
func (h *ShiftHandler) Create(c *gin.Context) {
	var req dto.CreateShiftRequest
	if !bindJSON(c, &req, "invalid shift payload") {
		return
	}
	shift, err := h.service.Create(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, shift)
}

// CreateBatch godoc
// @Summary Publish a schedule
// @Description Every shift is validated first; the batch is stored atomically.
// @Tags Shifts
// @Accept json
// @Produce json
// @Param payload body dto.BatchCreateShiftsRequest true "Shifts"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /shifts/batch [post]
func (h *ShiftHandler) CreateBatch(c *gin.Context) {
	var req dto.BatchCreateShiftsRequest
	if !bindJSON(c, &req, "invalid schedule payload") {
		return
	}
	shifts, err := h.service.CreateBatch(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, shifts, nil, map[string]interface{}{"count": len(shifts)})
}
