package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/turnos-api/internal/dto"
	"github.com/noah-isme/turnos-api/internal/models"
	"github.com/noah-isme/turnos-api/internal/repository"
	appErrors "github.com/noah-isme/turnos-api/pkg/errors"
)

// EmployeeCoordinator handles the employee side of coverage requests. It never writes
// shift ownership; the reactor does.
type EmployeeCoordinator struct {
	workflowBase
	shifts shiftReader
}

// NewEmployeeCoordinator constructs the coordinator.
func NewEmployeeCoordinator(requests changeRequestStore, shifts shiftReader, dispatcher EventDispatcher, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EmployeeCoordinator {
	return &EmployeeCoordinator{
		workflowBase: newWorkflowBase(requests, dispatcher, metrics, validate, logger),
		shifts:       shifts,
	}
}

// RequestChange asks for coverage of one of the caller's future confirmed shifts. The shift
// flip and the request creation commit together or not at all.
func (c *EmployeeCoordinator) RequestChange(ctx context.Context, actor *models.JWTClaims, shiftID string, req dto.RequestChangeRequest) (*models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := c.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change request payload")
	}

	shift, err := c.shifts.GetByID(ctx, shiftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "shift not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load shift")
	}
	if shift.OwnerID() != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the shift owner can request a change")
	}
	if _, err := c.requests.FindActiveByShift(ctx, shift.ID); err == nil {
		return nil, appErrors.ErrActiveRequestExists
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check active requests")
	}
	if shift.Status != models.ShiftStatusConfirmed {
		return nil, appErrors.Clone(appErrors.ErrShiftNotEligible, "only confirmed shifts can be changed; this one is "+string(shift.Status))
	}
	now := c.now()
	if !shift.StartsAt.After(now) {
		return nil, appErrors.Clone(appErrors.ErrShiftNotEligible, "shift has already started")
	}

	request := &models.ChangeRequest{
		OriginalShiftID: shift.ID,
		RequesterID:     actor.UserID,
		RequesterName:   displayName(actor, shift),
		Reason:          strings.TrimSpace(req.Reason),
	}
	ev, err := c.requests.CreateWithShiftFlip(ctx, repository.CreateParams{Request: request, Now: now})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrShiftNotEligible):
			return nil, appErrors.Clone(appErrors.ErrShiftNotEligible, "shift changed before the request was saved")
		case errors.Is(err, repository.ErrActiveRequestExists):
			return nil, appErrors.ErrActiveRequestExists
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create change request")
	}
	c.committed(ev)
	return request, nil
}

// DecideOnProposal records the proposed user's answer.
func (c *EmployeeCoordinator) DecideOnProposal(ctx context.Context, actor *models.JWTClaims, requestID string, req dto.DecisionRequest) (*models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := c.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}
	current, err := c.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if current.ProposedUserID == nil || *current.ProposedUserID != actor.UserID {
		return nil, appErrors.ErrNotProposedUser
	}

	action := models.ActionDecline
	if *req.Accept {
		action = models.ActionAccept
	}
	return c.advance(ctx, current, action, actor.UserID, req.ExpectedVersion, nil)
}

func displayName(actor *models.JWTClaims, shift *models.Shift) string {
	if name := strings.TrimSpace(actor.FullName); name != "" {
		return name
	}
	return shift.UserName
}
