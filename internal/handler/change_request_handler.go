package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/turnos-api/internal/dto"
	"github.com/noah-isme/turnos-api/internal/models"
	"github.com/noah-isme/turnos-api/internal/service"
	"github.com/noah-isme/turnos-api/pkg/response"
)

type employeeCoordinator interface {
	RequestChange(ctx context.Context, actor *models.JWTClaims, shiftID string, req dto.RequestChangeRequest) (*models.ChangeRequest, error)
	DecideOnProposal(ctx context.Context, actor *models.JWTClaims, requestID string, req dto.DecisionRequest) (*models.ChangeRequest, error)
}

type managerCoordinator interface {
	OpenRequest(ctx context.Context, actor *models.JWTClaims, requestID string) (*dto.RequestReview, error)
	AssignCandidate(ctx context.Context, actor *models.JWTClaims, requestID string, req dto.AssignCandidateRequest) (*models.ChangeRequest, error)
	RejectRequest(ctx context.Context, actor *models.JWTClaims, requestID string, req dto.RejectChangeRequestRequest) (*models.ChangeRequest, error)
	ApproveRequest(ctx context.Context, actor *models.JWTClaims, requestID string, req dto.ApproveChangeRequestRequest) (*models.ChangeRequest, error)
}

type changeRequestQueries interface {
	List(ctx context.Context, actor *models.JWTClaims, query dto.ChangeRequestQuery) ([]dto.ChangeRequestView, error)
	Get(ctx context.Context, actor *models.JWTClaims, id string) (*dto.ChangeRequestView, error)
}

type changeRequestExporter interface {
	Export(ctx context.Context, actor *models.JWTClaims, format string, query dto.ChangeRequestQuery) (*service.ExportFile, error)
}

// ChangeRequestHandler exposes the coverage workflow. Transition endpoints answer 202:
// the status change is committed, its shift and notification effects follow from the reactor.
type ChangeRequestHandler struct {
	employees employeeCoordinator
	managers  managerCoordinator
	queries   changeRequestQueries
	exporter  changeRequestExporter
}

// NewChangeRequestHandler constructs the handler.
func NewChangeRequestHandler(employees employeeCoordinator, managers managerCoordinator, queries changeRequestQueries, exporter changeRequestExporter) *ChangeRequestHandler {
	return &ChangeRequestHandler{employees: employees, managers: managers, queries: queries, exporter: exporter}
}

func changeRequestQuery(c *gin.Context) dto.ChangeRequestQuery {
	query := dto.ChangeRequestQuery{
		ShiftID: c.Query("shift_id"),
		Limit:   queryInt(c, "limit", 0),
		Offset:  queryInt(c, "offset", 0),
	}
	for _, s := range queryList(c, "status") {
		query.Status = append(query.Status, models.ChangeRequestStatus(s))
	}
	return query
}

// Create godoc
// @Summary Request coverage for a shift
// @Tags ChangeRequests
// @Accept json
// @Produce json
// @Param id path string true "Shift ID"
// @Param payload body dto.RequestChangeRequest false "Reason"
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /shifts/{id}/change-requests [post]
func (h *ChangeRequestHandler) Create(c *gin.Context) {
	var req dto.RequestChangeRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req, "invalid change request payload") {
		return
	}
	created, err := h.employees.RequestChange(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, created)
}

// List godoc
// @Summary List change requests
// @Description Managers see every request; employees see those they requested or were proposed for.
// @Tags ChangeRequests
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param shift_id query string false "Shift filter"
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /change-requests [get]
func (h *ChangeRequestHandler) List(c *gin.Context) {
	items, err := h.queries.List(c.Request.Context(), claimsFromContext(c), changeRequestQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items)
}

// Get godoc
// @Summary Get change request
// @Tags ChangeRequests
// @Produce json
// @Param id path string true "Change request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /change-requests/{id} [get]
func (h *ChangeRequestHandler) Get(c *gin.Context) {
	item, err := h.queries.Get(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, item)
}

// Candidates godoc
// @Summary Open a request with its replacement candidates
// @Tags ChangeRequests
// @Produce json
// @Param id path string true "Change request ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /change-requests/{id}/candidates [get]
func (h *ChangeRequestHandler) Candidates(c *gin.Context) {
	review, err := h.managers.OpenRequest(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, review)
}

// Assign godoc
// @Summary Propose a replacement
// @Tags ChangeRequests
// @Accept json
// @Produce json
// @Param id path string true "Change request ID"
// @Param payload body dto.AssignCandidateRequest true "Candidate"
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 428 {object} response.Envelope
// @Router /change-requests/{id}/assign [post]
func (h *ChangeRequestHandler) Assign(c *gin.Context) {
	var req dto.AssignCandidateRequest
	if !bindJSON(c, &req, "invalid assignment payload") {
		return
	}
	updated, err := h.managers.AssignCandidate(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, updated)
}

// Reject godoc
// @Summary Reject a pending request
// @Tags ChangeRequests
// @Accept json
// @Produce json
// @Param id path string true "Change request ID"
// @Param payload body dto.RejectChangeRequestRequest true "Reason"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /change-requests/{id}/reject [post]
func (h *ChangeRequestHandler) Reject(c *gin.Context) {
	var req dto.RejectChangeRequestRequest
	if !bindJSON(c, &req, "invalid rejection payload") {
		return
	}
	updated, err := h.managers.RejectRequest(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, updated)
}

// Approve godoc
// @Summary Approve an accepted proposal
// @Tags ChangeRequests
// @Accept json
// @Produce json
// @Param id path string true "Change request ID"
// @Param payload body dto.ApproveChangeRequestRequest false "Expected version"
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /change-requests/{id}/approve [post]
func (h *ChangeRequestHandler) Approve(c *gin.Context) {
	var req dto.ApproveChangeRequestRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req, "invalid approval payload") {
		return
	}
	updated, err := h.managers.ApproveRequest(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, updated)
}

// Decision godoc
// @Summary Accept or decline a proposal
// @Tags ChangeRequests
// @Accept json
// @Produce json
// @Param id path string true "Change request ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 202 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /change-requests/{id}/decision [post]
func (h *ChangeRequestHandler) Decision(c *gin.Context) {
	var req dto.DecisionRequest
	if !bindJSON(c, &req, "invalid decision payload") {
		return
	}
	updated, err := h.employees.DecideOnProposal(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, updated)
}

// Export godoc
// @Summary Export change request history
// @Tags ChangeRequests
// @Produce octet-stream
// @Param format query string false "csv, pdf or xlsx"
// @Param status query string false "Comma separated statuses"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /change-requests/export [get]
func (h *ChangeRequestHandler) Export(c *gin.Context) {
	file, err := h.exporter.Export(c.Request.Context(), claimsFromContext(c), c.Query("format"), changeRequestQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\""+file.Filename+"\"")
	c.Header("X-Export-Rows", strconv.Itoa(file.Rows))
	c.Data(http.StatusOK, file.ContentType, file.Data)
}
