package service

import (
	"context"
	"fmt"
	"time"

	"github.com/noah-isme/turnos-api/internal/dto"
	"github.com/noah-isme/turnos-api/internal/models"
	appErrors "github.com/noah-isme/turnos-api/pkg/errors"
)

// ChangeRequestService answers read queries over change requests.
type ChangeRequestService struct {
	requests changeRequestStore
	shifts   shiftReader
	now      func() time.Time
}

// NewChangeRequestService constructs the query service.
func NewChangeRequestService(requests changeRequestStore, shifts shiftReader) *ChangeRequestService {
	return &ChangeRequestService{
		requests: requests,
		shifts:   shifts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// List returns requests visible to the actor. Managers see all; everyone else sees the
// requests they created or were proposed for.
func (s *ChangeRequestService) List(ctx context.Context, actor *models.JWTClaims, query dto.ChangeRequestQuery) ([]dto.ChangeRequestView, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	for _, status := range query.Status {
		if !status.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
		}
	}
	filter := models.ChangeRequestFilter{
		Status:  query.Status,
		ShiftID: query.ShiftID,
		Limit:   query.Limit,
		Offset:  query.Offset,
	}
	if !actor.Role.IsManagement() {
		filter.ParticipantID = actor.UserID
	}

	items, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list change requests")
	}
	shifts, err := s.shiftsFor(ctx, items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	views := make([]dto.ChangeRequestView, 0, len(items))
	for _, item := range items {
		views = append(views, newRequestView(item, shifts[item.OriginalShiftID], now))
	}
	return views, nil
}

// Get returns one request if the actor may see it.
func (s *ChangeRequestService) Get(ctx context.Context, actor *models.JWTClaims, id string) (*dto.ChangeRequestView, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	base := workflowBase{requests: s.requests}
	req, err := base.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsManagement() && !isParticipant(req, actor.UserID) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "change request not found")
	}
	shifts, err := s.shiftsFor(ctx, []models.ChangeRequest{*req})
	if err != nil {
		return nil, err
	}
	view := newRequestView(*req, shifts[req.OriginalShiftID], s.now())
	return &view, nil
}

func (s *ChangeRequestService) shiftsFor(ctx context.Context, items []models.ChangeRequest) (map[string]*models.Shift, error) {
	byID := make(map[string]*models.Shift, len(items))
	if len(items) == 0 {
		return byID, nil
	}
	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.OriginalShiftID]; ok {
			continue
		}
		seen[item.OriginalShiftID] = struct{}{}
		ids = append(ids, item.OriginalShiftID)
	}
	shifts, err := s.shifts.List(ctx, models.ShiftFilter{IDs: ids, Limit: 1000})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load shifts")
	}
	for i := range shifts {
		byID[shifts[i].ID] = &shifts[i]
	}
	return byID, nil
}

func isParticipant(req *models.ChangeRequest, userID string) bool {
	if req.RequesterID == userID {
		return true
	}
	return req.ProposedUserID != nil && *req.ProposedUserID == userID
}

// newRequestView adds the triage hints. Active requests whose shift already started are stale.
func newRequestView(req models.ChangeRequest, shift *models.Shift, now time.Time) dto.ChangeRequestView {
	view := dto.ChangeRequestView{ChangeRequest: req}
	if !req.CreatedAt.IsZero() {
		view.AgeSeconds = int64(now.Sub(req.CreatedAt) / time.Second)
	}
	if shift != nil && !req.Status.Terminal() {
		view.Stale = !shift.StartsAt.After(now)
	}
	return view
}
