package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/turnos-api/internal/dto"
	"github.com/noah-isme/turnos-api/internal/models"
	appErrors "github.com/noah-isme/turnos-api/pkg/errors"
)

const occupancyPageSize = 500

type rosterSource interface {
	ActiveUsers(ctx context.Context, role *models.UserRole) ([]models.User, error)
}

// ManagerCoordinator drives the manager side of the workflow: reviewing candidates,
// proposing one, rejecting and approving.
type ManagerCoordinator struct {
	workflowBase
	shifts shiftReader
	users  userReader
	roster rosterSource
	finder *ReplacementFinder
}

// NewManagerCoordinator constructs the coordinator.
func NewManagerCoordinator(
	requests changeRequestStore,
	shifts shiftReader,
	users userReader,
	roster rosterSource,
	finder *ReplacementFinder,
	dispatcher EventDispatcher,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *ManagerCoordinator {
	return &ManagerCoordinator{
		workflowBase: newWorkflowBase(requests, dispatcher, metrics, validate, logger),
		shifts:       shifts,
		users:        users,
		roster:       roster,
		finder:       finder,
	}
}

// OpenRequest returns the request, its shift and the classified replacement candidates.
func (c *ManagerCoordinator) OpenRequest(ctx context.Context, actor *models.JWTClaims, requestID string) (*dto.RequestReview, error) {
	if err := requireManagement(actor); err != nil {
		return nil, err
	}
	req, err := c.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	shift, err := c.loadShift(ctx, req.OriginalShiftID)
	if err != nil {
		return nil, err
	}
	candidates, err := c.searchCandidates(ctx, req, shift)
	if err != nil {
		return nil, err
	}
	now := c.now()
	return &dto.RequestReview{
		Request:    newRequestView(*req, shift, now),
		Shift:      *shift,
		Candidates: candidates,
	}, nil
}

// AssignCandidate proposes a replacement. A candidate that closed the previous evening
// needs ConfirmClopening.
func (c *ManagerCoordinator) AssignCandidate(ctx context.Context, actor *models.JWTClaims, requestID string, req dto.AssignCandidateRequest) (*models.ChangeRequest, error) {
	if err := requireManagement(actor); err != nil {
		return nil, err
	}
	if err := c.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	current, err := c.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if _, err := models.NextStatus(current.Status, models.ActionPropose); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidTransition.Code, appErrors.ErrInvalidTransition.Status,
			"only pending requests accept a candidate; this one is "+string(current.Status))
	}
	shift, err := c.loadShift(ctx, current.OriginalShiftID)
	if err != nil {
		return nil, err
	}
	result, err := c.searchCandidates(ctx, current, shift)
	if err != nil {
		return nil, err
	}

	candidate, ok := result.Find(req.CandidateID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrCandidateUnavailable, "candidate is not eligible for this shift")
	}
	if candidate.Category == models.CandidateUnavailable {
		return nil, appErrors.Clone(appErrors.ErrCandidateUnavailable, "candidate is unavailable: "+string(candidate.Reason))
	}
	if candidate.Clopening && !req.ConfirmClopening {
		return nil, appErrors.ErrClopeningConfirmation
	}

	return c.advance(ctx, current, models.ActionPropose, actor.UserID, req.ExpectedVersion, func(next *models.ChangeRequest) {
		next.ProposedUserID = strPtr(candidate.UserID)
		next.ProposedUserName = strPtr(candidate.FullName)
		next.ManagerID = strPtr(actor.UserID)
		next.ManagerNote = nil
	})
}

// RejectRequest declines a pending request; the shift goes back to its owner as confirmed.
func (c *ManagerCoordinator) RejectRequest(ctx context.Context, actor *models.JWTClaims, requestID string, req dto.RejectChangeRequestRequest) (*models.ChangeRequest, error) {
	if err := requireManagement(actor); err != nil {
		return nil, err
	}
	if err := c.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "a rejection reason is required")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a rejection reason is required")
	}
	current, err := c.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return c.advance(ctx, current, models.ActionManagerReject, actor.UserID, req.ExpectedVersion, func(next *models.ChangeRequest) {
		next.ManagerID = strPtr(actor.UserID)
		next.ManagerNote = strPtr(reason)
	})
}

// ApproveRequest gives final approval to an accepted proposal.
func (c *ManagerCoordinator) ApproveRequest(ctx context.Context, actor *models.JWTClaims, requestID string, req dto.ApproveChangeRequestRequest) (*models.ChangeRequest, error) {
	if err := requireManagement(actor); err != nil {
		return nil, err
	}
	current, err := c.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return c.advance(ctx, current, models.ActionApprove, actor.UserID, req.ExpectedVersion, func(next *models.ChangeRequest) {
		next.ManagerID = strPtr(actor.UserID)
	})
}

func (c *ManagerCoordinator) loadShift(ctx context.Context, id string) (*models.Shift, error) {
	shift, err := c.shifts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "shift not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load shift")
	}
	return shift, nil
}

// loadOccupancy pages through every shift the roster holds inside the occupancy window.
func (c *ManagerCoordinator) loadOccupancy(ctx context.Context, shift models.Shift, roster []models.User) (map[string][]models.Shift, error) {
	occupancy := make(map[string][]models.Shift, len(roster))
	if len(roster) == 0 {
		return occupancy, nil
	}
	ids := make([]string, 0, len(roster))
	for _, u := range roster {
		ids = append(ids, u.ID)
	}
	from, to := c.finder.Rules().OccupancyWindow(shift)
	filter := models.ShiftFilter{UserIDs: ids, From: &from, To: &to, Limit: occupancyPageSize}
	for {
		page, err := c.shifts.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, s := range page {
			if owner := s.OwnerID(); owner != "" {
				occupancy[owner] = append(occupancy[owner], s)
			}
		}
		if len(page) < occupancyPageSize {
			return occupancy, nil
		}
		filter.Offset += len(page)
	}
}

func (c *ManagerCoordinator) searchCandidates(ctx context.Context, req *models.ChangeRequest, shift *models.Shift) (models.CandidateSearchResult, error) {
	started := time.Now()
	defer func() { c.metrics.ObserveCandidateSearch(time.Since(started)) }()

	role := shift.Role
	if requester, err := c.users.FindByID(ctx, req.RequesterID); err == nil {
		role = requester.Role
	} else if !errors.Is(err, sql.ErrNoRows) {
		return models.CandidateSearchResult{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load requester")
	}

	roster, err := c.roster.ActiveUsers(ctx, nil)
	if err != nil {
		return models.CandidateSearchResult{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	occupancy, err := c.loadOccupancy(ctx, *shift, roster)
	if err != nil {
		return models.CandidateSearchResult{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load occupancy")
	}

	return c.finder.Find(FinderInput{
		Shift:         *shift,
		RequesterID:   req.RequesterID,
		RequesterRole: role,
		Roster:        roster,
		Occupancy:     occupancy,
	}), nil
}

func requireManagement(actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if !actor.Role.IsManagement() {
		return appErrors.Clone(appErrors.ErrForbidden, "only managers can review change requests")
	}
	return nil
}
