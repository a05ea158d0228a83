package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/turnos-api/internal/models"
	"github.com/noah-isme/turnos-api/internal/repository"
	appErrors "github.com/noah-isme/turnos-api/pkg/errors"
)

// EventDispatcher hands committed outbox events to the reactor.
type EventDispatcher interface {
	Dispatch(ev *models.ChangeRequestEvent)
}

type changeRequestStore interface {
	CreateWithShiftFlip(ctx context.Context, params repository.CreateParams) (*models.ChangeRequestEvent, error)
	GetByID(ctx context.Context, id string) (*models.ChangeRequest, error)
	FindActiveByShift(ctx context.Context, shiftID string) (*models.ChangeRequest, error)
	List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error)
	Transition(ctx context.Context, params repository.TransitionParams) (*models.ChangeRequestEvent, error)
}

type shiftReader interface {
	GetByID(ctx context.Context, id string) (*models.Shift, error)
	List(ctx context.Context, filter models.ShiftFilter) ([]models.Shift, error)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// workflowBase carries what every coordinator needs to commit a transition.
type workflowBase struct {
	requests   changeRequestStore
	dispatcher EventDispatcher
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

func newWorkflowBase(requests changeRequestStore, dispatcher EventDispatcher, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) workflowBase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return workflowBase{
		requests:   requests,
		dispatcher: dispatcher,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (b *workflowBase) loadRequest(ctx context.Context, id string) (*models.ChangeRequest, error) {
	req, err := b.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "change request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load change request")
	}
	return req, nil
}

// advance checks the edge, validates the resulting row shape and commits it with its event.
func (b *workflowBase) advance(ctx context.Context, current *models.ChangeRequest, action models.TransitionAction, actorID string, expectedVersion *int, mutate func(next *models.ChangeRequest)) (*models.ChangeRequest, error) {
	to, err := models.NextStatus(current.Status, action)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidTransition.Code, appErrors.ErrInvalidTransition.Status,
			"change request is "+string(current.Status)+" and cannot "+string(action))
	}
	if expectedVersion != nil && *expectedVersion != current.Version {
		return nil, appErrors.ErrStaleRequest
	}

	now := b.now()
	next := *current
	next.Status = to
	if mutate != nil {
		mutate(&next)
	}
	if to.Terminal() {
		next.ResolvedAt = &now
	}
	if err := next.Validate(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "transition would produce an invalid change request")
	}

	ev, err := b.requests.Transition(ctx, repository.TransitionParams{
		Next:            next,
		ExpectedStatus:  current.Status,
		ExpectedVersion: current.Version,
		Action:          action,
		ActorID:         actorID,
		Now:             now,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStaleRequest):
			return nil, appErrors.ErrStaleRequest
		case errors.Is(err, repository.ErrCandidateInactive):
			return nil, appErrors.Clone(appErrors.ErrCandidateUnavailable, "candidate is no longer active")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save change request")
	}
	next.Version = ev.Version
	next.UpdatedAt = now
	b.committed(ev)
	return &next, nil
}

func (b *workflowBase) committed(ev *models.ChangeRequestEvent) {
	b.metrics.RecordTransition(ev)
	b.logger.Info("change request transition committed",
		zap.String("request_id", ev.RequestID),
		zap.String("shift_id", ev.ShiftID),
		zap.String("action", string(ev.Action)),
		zap.String("from", string(ev.FromStatus)),
		zap.String("to", string(ev.ToStatus)),
		zap.Int("version", ev.Version),
	)
	if b.dispatcher != nil {
		b.dispatcher.Dispatch(ev)
	}
}

func strPtr(v string) *string {
	return &v
}
