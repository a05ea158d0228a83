package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/turnos-api/internal/dto"
	"github.com/noah-isme/turnos-api/internal/models"
	appErrors "github.com/noah-isme/turnos-api/pkg/errors"
)

type shiftRepository interface {
	shiftReader
	CreateBatch(ctx context.Context, shifts []*models.Shift) error
}

// ShiftService exposes shift reads and schedule publication.
type ShiftService struct {
	shifts      shiftRepository
	users       userReader
	broadcaster Broadcaster
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewShiftService constructs the service.
func NewShiftService(shifts shiftRepository, users userReader, broadcaster Broadcaster, validate *validator.Validate, logger *zap.Logger) *ShiftService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ShiftService{
		shifts:      shifts,
		users:       users,
		broadcaster: broadcaster,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ListMine returns the caller's shifts ending from now on unless a window is given.
func (s *ShiftService) ListMine(ctx context.Context, actor *models.JWTClaims, query dto.ShiftQuery) ([]models.Shift, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if query.From == nil {
		now := s.now()
		query.From = &now
	}
	return s.list(ctx, models.ShiftFilter{UserIDs: []string{actor.UserID}, From: query.From, To: query.To, Status: query.Status})
}

// List returns shifts in a window; managers only.
func (s *ShiftService) List(ctx context.Context, actor *models.JWTClaims, query dto.ShiftQuery) ([]models.Shift, error) {
	if err := requireManagement(actor); err != nil {
		return nil, err
	}
	if query.From != nil && query.To != nil && !query.From.Before(*query.To) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "from must be before to")
	}
	filter := models.ShiftFilter{From: query.From, To: query.To, Status: query.Status}
	if query.UserID != "" {
		filter.UserIDs = []string{query.UserID}
	}
	return s.list(ctx, filter)
}

func (s *ShiftService) list(ctx context.Context, filter models.ShiftFilter) ([]models.Shift, error) {
	shifts, err := s.shifts.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list shifts")
	}
	if shifts == nil {
		shifts = []models.Shift{}
	}
	return shifts, nil
}

// Get returns one shift. Employees only see their own.
func (s *ShiftService) Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.Shift, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	shift, err := s.shifts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "shift not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load shift")
	}
	if !actor.Role.IsManagement() && shift.OwnerID() != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "shift not found")
	}
	return shift, nil
}

// Create publishes a single shift.
func (s *ShiftService) Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateShiftRequest) (*models.Shift, error) {
	shifts, err := s.CreateBatch(ctx, actor, dto.BatchCreateShiftsRequest{Shifts: []dto.CreateShiftRequest{req}})
	if err != nil {
		return nil, err
	}
	return &shifts[0], nil
}

// CreateBatch publishes a schedule. Every shift is validated first and the batch is
// written in one transaction.
func (s *ShiftService) CreateBatch(ctx context.Context, actor *models.JWTClaims, req dto.BatchCreateShiftsRequest) ([]models.Shift, error) {
	if err := requireManagement(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid shift payload")
	}

	owners := make(map[string]*models.User)
	batch := make([]*models.Shift, 0, len(req.Shifts))
	for i, item := range req.Shifts {
		if !item.StartsAt.Before(item.EndsAt) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("shift %d must start before it ends", i))
		}
		owner, ok := owners[item.UserID]
		if !ok {
			user, err := s.users.FindByID(ctx, item.UserID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("shift %d: unknown user %s", i, item.UserID))
				}
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load shift owner")
			}
			owner = user
			owners[item.UserID] = user
		}
		if !owner.Active {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("shift %d: user %s is inactive", i, owner.ID))
		}
		role := item.Role
		if role == "" {
			role = owner.Role
		}
		if !role.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("shift %d: unknown role %q", i, role))
		}
		ownerID := owner.ID
		batch = append(batch, &models.Shift{
			UserID:    &ownerID,
			UserName:  owner.FullName,
			Role:      role,
			StartsAt:  item.StartsAt.UTC(),
			EndsAt:    item.EndsAt.UTC(),
			ShiftType: strings.ToLower(strings.TrimSpace(item.ShiftType)),
			Status:    models.ShiftStatusConfirmed,
			Notes:     strings.TrimSpace(item.Notes),
		})
	}

	if err := s.shifts.CreateBatch(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish shifts")
	}

	created := make([]models.Shift, 0, len(batch))
	for _, shift := range batch {
		created = append(created, *shift)
		if s.broadcaster != nil {
			topics := []string{TopicManagers, UserTopic(shift.OwnerID())}
			if err := s.broadcaster.Publish(ctx, MessageShiftUpdated, shift, topics...); err != nil {
				s.logger.Warn("failed to broadcast shift", zap.String("shift_id", shift.ID), zap.Error(err))
			}
		}
	}
	s.logger.Info("shifts published", zap.String("actor_id", actor.UserID), zap.Int("count", len(created)))
	return created, nil
}
