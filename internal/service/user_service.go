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
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/turnos-api/internal/dto"
	"github.com/noah-isme/turnos-api/internal/models"
	"github.com/noah-isme/turnos-api/internal/repository"
	appErrors "github.com/noah-isme/turnos-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Deactivate(ctx context.Context, id string, now time.Time, notify repository.NotifyFunc) (*repository.DeactivationResult, error)
}

type rosterDirectory interface {
	Managers(ctx context.Context) ([]models.User, error)
	Invalidate(ctx context.Context) error
}

// UserService handles roster membership.
type UserService struct {
	repo        userRepository
	roster      rosterDirectory
	broadcaster Broadcaster
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, roster rosterDirectory, broadcaster Broadcaster, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{
		repo:        repo,
		roster:      roster,
		broadcaster: broadcaster,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// List returns roster members in name order.
func (s *UserService) List(ctx context.Context, query dto.UserQuery) ([]models.User, error) {
	if query.Role != nil && !query.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown role %q", *query.Role))
	}
	users, err := s.repo.List(ctx, models.UserFilter{Role: query.Role, Active: query.Active})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Create adds a new active user.
func (s *UserService) Create(ctx context.Context, req dto.CreateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}
	if !req.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown role %q", req.Role))
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:        email,
		FullName:     strings.TrimSpace(req.FullName),
		Role:         req.Role,
		Active:       true,
		PasswordHash: string(passwordHash),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}
	s.invalidateRoster(ctx)
	return user, nil
}

// Deactivate removes a user from the roster. Future shifts are released and every
// active manager is told in the same transaction. Users taking part in an open change
// request cannot be deactivated until it resolves.
func (s *UserService) Deactivate(ctx context.Context, actor *models.JWTClaims, id string) (*dto.DeactivationSummary, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.UserID == id {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot deactivate yourself")
	}

	managers, err := s.roster.Managers(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load managers")
	}

	notify := func(res repository.DeactivationResult) []models.Notification {
		items := make([]models.Notification, 0, len(managers))
		for _, m := range managers {
			if m.ID == res.User.ID {
				continue
			}
			items = append(items, models.Notification{
				UserID:   m.ID,
				Title:    "Usuario desactivado",
				Message:  fmt.Sprintf("%s fue dado de baja; %d turnos quedaron sin asignar.", res.User.FullName, len(res.ClearedShiftIDs)),
				Severity: models.SeverityWarning,
			})
		}
		return items
	}

	result, err := s.repo.Deactivate(ctx, id, s.now(), notify)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "active user not found")
		case errors.Is(err, repository.ErrUserHasActiveRequests):
			return nil, appErrors.Clone(appErrors.ErrConflict, "user takes part in an open change request")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate user")
	}
	s.invalidateRoster(ctx)

	s.logger.Info("user deactivated",
		zap.String("user_id", result.User.ID),
		zap.String("actor_id", actor.UserID),
		zap.Int("released_shifts", len(result.ClearedShiftIDs)))

	if s.broadcaster != nil {
		for _, n := range result.Notifications {
			if err := s.broadcaster.Publish(ctx, MessageNotificationCreated, n, UserTopic(n.UserID)); err != nil {
				s.logger.Warn("failed to broadcast notification", zap.Error(err))
			}
		}
	}

	released := result.ClearedShiftIDs
	if released == nil {
		released = []string{}
	}
	return &dto.DeactivationSummary{
		User:             result.User,
		ReleasedShifts:   released,
		NotifiedManagers: len(result.Notifications),
	}, nil
}

func (s *UserService) invalidateRoster(ctx context.Context) {
	if s.roster == nil {
		return
	}
	if err := s.roster.Invalidate(ctx); err != nil {
		s.logger.Warn("failed to invalidate roster cache", zap.Error(err))
	}
}
