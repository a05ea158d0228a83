package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/turnos-api/internal/dto"
	"github.com/noah-isme/turnos-api/internal/models"
	"github.com/noah-isme/turnos-api/internal/repository"
	appErrors "github.com/noah-isme/turnos-api/pkg/errors"
	"github.com/noah-isme/turnos-api/pkg/jobs"
)

const (
	reactorQueueName = "change-request-reactor"
	reactorJobType   = "change_request_event"
	reactorActorID   = "system"
)

type eventStore interface {
	GetByID(ctx context.Context, id string) (*models.ChangeRequestEvent, error)
	ListPending(ctx context.Context, maxAttempts, limit int) ([]models.ChangeRequestEvent, error)
	ListPendingBefore(ctx context.Context, requestID string, version int) ([]models.ChangeRequestEvent, error)
	ListFailed(ctx context.Context, maxAttempts, limit int) ([]models.ChangeRequestEvent, error)
	RecordFailure(ctx context.Context, id string, cause string) (int, error)
	ResetAttempts(ctx context.Context, id string) error
}

type reactionStore interface {
	Apply(ctx context.Context, plan repository.ReactionPlan) (*repository.ReactionOutcome, error)
}

type managerDirectory interface {
	Managers(ctx context.Context) ([]models.User, error)
}

// ReactorConfig tunes the reactor queue and its backlog sweep.
type ReactorConfig struct {
	QueueBuffer   int
	MaxRetries    int
	RetryDelay    time.Duration
	SweepInterval time.Duration
	SweepBatch    int
}

// ChangeRequestReactor is the only writer of shift state caused by request transitions.
// It consumes outbox events one at a time and applies each one's effects atomically with
// its claim, so redelivery is harmless.
type ChangeRequestReactor struct {
	events      eventStore
	reactions   reactionStore
	managers    managerDirectory
	broadcaster Broadcaster
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         ReactorConfig
	now         func() time.Time

	mu       sync.Mutex
	queue    *jobs.Queue
	inflight map[string]struct{}
	cancel   context.CancelFunc
	sweeps   sync.WaitGroup
}

// NewChangeRequestReactor constructs the reactor. Call Start before dispatching.
func NewChangeRequestReactor(events eventStore, reactions reactionStore, managers managerDirectory, broadcaster Broadcaster, metrics *MetricsService, cfg ReactorConfig, logger *zap.Logger) *ChangeRequestReactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	return &ChangeRequestReactor{
		events:      events,
		reactions:   reactions,
		managers:    managers,
		broadcaster: broadcaster,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
		inflight:    make(map[string]struct{}),
	}
}

// maxAttempts counts the first delivery plus every retry.
func (r *ChangeRequestReactor) maxAttempts() int {
	return r.cfg.MaxRetries + 1
}

// Start launches the single-worker queue and the backlog sweep.
func (r *ChangeRequestReactor) Start(ctx context.Context) {
	r.mu.Lock()
	if r.queue != nil {
		r.mu.Unlock()
		return
	}
	queue := jobs.NewQueue(reactorQueueName, r.handle, jobs.QueueConfig{
		Workers:     1,
		BufferSize:  r.cfg.QueueBuffer,
		MaxRetries:  r.cfg.MaxRetries,
		RetryDelay:  r.cfg.RetryDelay,
		Logger:      r.logger,
		OnExhausted: r.exhausted,
	})
	queue.Start(ctx)
	r.queue = queue
	sweepCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	r.sweeps.Add(1)
	go r.sweepLoop(sweepCtx)
}

// Stop halts the sweep and drains the queue workers.
func (r *ChangeRequestReactor) Stop() {
	r.mu.Lock()
	queue, cancel := r.queue, r.cancel
	r.mu.Unlock()
	if queue == nil {
		return
	}
	cancel()
	r.sweeps.Wait()
	queue.Stop()
}

// Dispatch enqueues a committed event. Events that cannot be enqueued are picked up by the sweep.
func (r *ChangeRequestReactor) Dispatch(ev *models.ChangeRequestEvent) {
	if ev == nil {
		return
	}
	r.enqueue(ev.ID)
}

func (r *ChangeRequestReactor) enqueue(eventID string) {
	r.mu.Lock()
	queue := r.queue
	if queue == nil {
		r.mu.Unlock()
		r.logger.Debug("reactor not started, event left for sweep", zap.String("event_id", eventID))
		return
	}
	if _, busy := r.inflight[eventID]; busy {
		r.mu.Unlock()
		return
	}
	r.inflight[eventID] = struct{}{}
	r.mu.Unlock()

	if err := queue.Enqueue(jobs.Job{ID: eventID, Type: reactorJobType}); err != nil {
		r.release(eventID)
		r.logger.Warn("failed to enqueue change request event", zap.String("event_id", eventID), zap.Error(err))
	}
}

func (r *ChangeRequestReactor) release(eventID string) {
	r.mu.Lock()
	delete(r.inflight, eventID)
	r.mu.Unlock()
}

func (r *ChangeRequestReactor) sweepLoop(ctx context.Context) {
	defer r.sweeps.Done()
	r.sweep(ctx)
	if r.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *ChangeRequestReactor) sweep(ctx context.Context) {
	pending, err := r.events.ListPending(ctx, r.maxAttempts(), r.cfg.SweepBatch)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("reactor sweep failed", zap.Error(err))
		}
		return
	}
	for _, ev := range pending {
		r.enqueue(ev.ID)
	}
}

func (r *ChangeRequestReactor) handle(ctx context.Context, job jobs.Job) error {
	if err := r.Process(ctx, job.ID); err != nil {
		return err
	}
	r.release(job.ID)
	return nil
}

func (r *ChangeRequestReactor) exhausted(ctx context.Context, job jobs.Job, err error) {
	defer r.release(job.ID)
	r.metrics.RecordInconsistency()
	fields := []zap.Field{zap.String("event_id", job.ID), zap.Int("attempts", job.Attempt), zap.Error(err)}
	if ev, getErr := r.events.GetByID(ctx, job.ID); getErr == nil {
		r.metrics.RecordReactorEvent(ev.Action, ReactorResultFailed, r.now().Sub(ev.CreatedAt))
		fields = append(fields,
			zap.String("request_id", ev.RequestID),
			zap.String("shift_id", ev.ShiftID),
			zap.String("action", string(ev.Action)))
	}
	r.logger.Error("change request event needs reconciliation", fields...)
}

// Process applies one event together with any unprocessed earlier events of the same request.
func (r *ChangeRequestReactor) Process(ctx context.Context, eventID string) error {
	ev, err := r.events.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Warn("change request event not found", zap.String("event_id", eventID))
			return nil
		}
		return fmt.Errorf("load event %s: %w", eventID, err)
	}
	if ev.ProcessedAt != nil {
		r.metrics.RecordReactorEvent(ev.Action, ReactorResultDuplicate, 0)
		return nil
	}

	earlier, err := r.events.ListPendingBefore(ctx, ev.RequestID, ev.Version)
	if err != nil {
		return fmt.Errorf("load earlier events of %s: %w", ev.RequestID, err)
	}
	for i := range earlier {
		if err := r.apply(ctx, &earlier[i]); err != nil {
			return r.fail(ctx, ev, fmt.Errorf("earlier event %s blocks %s: %w", earlier[i].ID, ev.ID, err))
		}
	}
	return r.apply(ctx, ev)
}

func (r *ChangeRequestReactor) apply(ctx context.Context, ev *models.ChangeRequestEvent) error {
	plan, err := r.plan(ctx, ev)
	if err != nil {
		return r.fail(ctx, ev, err)
	}
	outcome, err := r.reactions.Apply(ctx, plan)
	if err != nil {
		if errors.Is(err, repository.ErrEventClaimed) {
			r.metrics.RecordReactorEvent(ev.Action, ReactorResultDuplicate, 0)
			return nil
		}
		return r.fail(ctx, ev, err)
	}

	result := ReactorResultApplied
	if !ev.Changed() {
		result = ReactorResultNoop
	}
	r.metrics.RecordReactorEvent(ev.Action, result, r.now().Sub(ev.CreatedAt))
	r.logger.Debug("change request event applied",
		zap.String("event_id", ev.ID),
		zap.String("action", string(ev.Action)),
		zap.Bool("shift_changed", outcome.ShiftChanged))

	r.broadcast(ctx, ev, outcome)

	if outcome.FollowUp != nil {
		r.metrics.RecordTransition(outcome.FollowUp)
		return r.apply(ctx, outcome.FollowUp)
	}
	return nil
}

func (r *ChangeRequestReactor) fail(ctx context.Context, ev *models.ChangeRequestEvent, cause error) error {
	attempts, err := r.events.RecordFailure(ctx, ev.ID, cause.Error())
	if err != nil && !errors.Is(err, repository.ErrEventClaimed) {
		r.logger.Warn("failed to record reactor failure", zap.String("event_id", ev.ID), zap.Error(err))
	}
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("request_id", ev.RequestID),
		zap.String("action", string(ev.Action)),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	}
	if errors.Is(cause, repository.ErrShiftStateMismatch) {
		r.logger.Error("shift state disagrees with change request", fields...)
	} else {
		r.logger.Warn("change request event failed", fields...)
	}
	return cause
}

// plan maps one event to its shift mutation, follow-up transition and notifications.
func (r *ChangeRequestReactor) plan(ctx context.Context, ev *models.ChangeRequestEvent) (repository.ReactionPlan, error) {
	now := r.now()
	plan := repository.ReactionPlan{EventID: ev.ID, Now: now}
	if !ev.Changed() {
		return plan, nil
	}
	requestID := ev.RequestID
	candidate, hasCandidate := ev.Candidate()
	notify := func(userID, title, message string, severity models.NotificationSeverity, confirm bool) {
		if userID == "" {
			return
		}
		plan.Notifications = append(plan.Notifications, models.Notification{
			UserID:               userID,
			Title:                title,
			Message:              message,
			Severity:             severity,
			RequiresConfirmation: confirm,
			RequestID:            &requestID,
		})
	}

	switch ev.Action {
	case models.ActionCreate:
		managers, err := r.managers.Managers(ctx)
		if err != nil {
			return plan, fmt.Errorf("load managers: %w", err)
		}
		for _, m := range managers {
			notify(m.ID, "Nueva solicitud de cambio",
				fmt.Sprintf("%s solicita cobertura para su turno.", ev.RequesterName),
				models.SeverityInfo, false)
		}

	case models.ActionPropose:
		if !hasCandidate {
			return plan, fmt.Errorf("%w: propose event without candidate", models.ErrMalformedRequest)
		}
		plan.Shift = &repository.ShiftMutation{
			ShiftID: ev.ShiftID,
			From:    models.ShiftStatusChangeRequested,
			To:      models.ShiftStatusChangeInProcess,
		}
		notify(candidate.UserID, "Te propusieron cubrir un turno",
			fmt.Sprintf("Un gerente te propuso cubrir el turno de %s. Acepta o rechaza la propuesta.", ev.RequesterName),
			models.SeverityInfo, false)

	case models.ActionAccept:
		notify(valueOf(ev.ManagerID), "Propuesta aceptada",
			fmt.Sprintf("%s aceptó cubrir el turno de %s. Falta tu aprobación.", candidate.Name, ev.RequesterName),
			models.SeverityInfo, true)

	case models.ActionDecline:
		plan.Shift = &repository.ShiftMutation{
			ShiftID: ev.ShiftID,
			From:    models.ShiftStatusChangeInProcess,
			To:      models.ShiftStatusChangeRequested,
		}
		plan.FollowUp = &repository.TransitionParams{
			Next: models.ChangeRequest{
				ID:              ev.RequestID,
				OriginalShiftID: ev.ShiftID,
				RequesterID:     ev.RequesterID,
				RequesterName:   ev.RequesterName,
				Status:          models.RequestStatusPendingManager,
			},
			ExpectedStatus:  models.RequestStatusRejectedEmployee,
			ExpectedVersion: ev.Version,
			Action:          models.ActionRecycle,
			ActorID:         reactorActorID,
			Now:             now,
		}
		notify(valueOf(ev.ManagerID), "Propuesta rechazada",
			fmt.Sprintf("%s rechazó cubrir el turno de %s. La solicitud volvió a pendientes.", candidate.Name, ev.RequesterName),
			models.SeverityWarning, false)

	case models.ActionApprove:
		if !hasCandidate {
			return plan, fmt.Errorf("%w: approve event without candidate", models.ErrMalformedRequest)
		}
		plan.Shift = &repository.ShiftMutation{
			ShiftID:  ev.ShiftID,
			From:     models.ShiftStatusChangeInProcess,
			To:       models.ShiftStatusChangeApproved,
			NewOwner: &candidate,
		}
		notify(ev.RequesterID, "Cambio aprobado",
			fmt.Sprintf("Tu turno ahora lo cubre %s.", candidate.Name),
			models.SeveritySuccess, false)
		notify(candidate.UserID, "Cambio aprobado",
			fmt.Sprintf("Ahora cubres el turno de %s.", ev.RequesterName),
			models.SeveritySuccess, false)

	case models.ActionManagerReject:
		plan.Shift = &repository.ShiftMutation{
			ShiftID: ev.ShiftID,
			From:    models.ShiftStatusChangeRequested,
			To:      models.ShiftStatusConfirmed,
		}
		notify(ev.RequesterID, "Solicitud rechazada",
			fmt.Sprintf("Tu solicitud de cambio fue rechazada: %s", valueOf(ev.Note)),
			models.SeverityWarning, true)

	case models.ActionRecycle:
		// the shift already moved back with the decline
	}
	return plan, nil
}

func (r *ChangeRequestReactor) broadcast(ctx context.Context, ev *models.ChangeRequestEvent, outcome *repository.ReactionOutcome) {
	if r.broadcaster == nil {
		return
	}
	topics := []string{TopicManagers, ShiftTopic(ev.ShiftID), UserTopic(ev.RequesterID)}
	if candidate, ok := ev.Candidate(); ok {
		topics = append(topics, UserTopic(candidate.UserID))
	}
	if err := r.broadcaster.Publish(ctx, MessageChangeRequestUpdated, ev, topics...); err != nil {
		r.logger.Warn("failed to broadcast change request", zap.String("event_id", ev.ID), zap.Error(err))
	}

	if outcome.ShiftChanged && outcome.Shift != nil {
		shiftTopics := []string{TopicManagers, ShiftTopic(outcome.Shift.ID), UserTopic(ev.RequesterID)}
		if owner := outcome.Shift.OwnerID(); owner != "" && owner != ev.RequesterID {
			shiftTopics = append(shiftTopics, UserTopic(owner))
		}
		if err := r.broadcaster.Publish(ctx, MessageShiftUpdated, outcome.Shift, shiftTopics...); err != nil {
			r.logger.Warn("failed to broadcast shift", zap.String("shift_id", outcome.Shift.ID), zap.Error(err))
		}
	}

	for _, n := range outcome.Notifications {
		if err := r.broadcaster.Publish(ctx, MessageNotificationCreated, n, UserTopic(n.UserID)); err != nil {
			r.logger.Warn("failed to broadcast notification", zap.String("notification_id", n.ID), zap.Error(err))
		}
	}
}

// Failed lists events that exhausted their attempts and need an operator.
func (r *ChangeRequestReactor) Failed(ctx context.Context, limit int) ([]dto.ReconciliationItem, error) {
	events, err := r.events.ListFailed(ctx, r.maxAttempts(), limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list unreconciled events")
	}
	items := make([]dto.ReconciliationItem, 0, len(events))
	for _, ev := range events {
		items = append(items, dto.ReconciliationItem{
			EventID:    ev.ID,
			RequestID:  ev.RequestID,
			ShiftID:    ev.ShiftID,
			Action:     ev.Action,
			FromStatus: ev.FromStatus,
			ToStatus:   ev.ToStatus,
			Attempts:   ev.Attempts,
			LastError:  valueOf(ev.LastError),
			CreatedAt:  ev.CreatedAt,
		})
	}
	return items, nil
}

// Retry clears an event's failure count and hands it back to the queue.
func (r *ChangeRequestReactor) Retry(ctx context.Context, eventID string) error {
	r.mu.Lock()
	started := r.queue != nil
	r.mu.Unlock()
	if !started {
		return appErrors.ErrReconciliationUnavailable
	}
	if err := r.events.ResetAttempts(ctx, eventID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "no unprocessed event with that id")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset event")
	}
	r.logger.Info("change request event retried by operator", zap.String("event_id", eventID))
	r.enqueue(eventID)
	return nil
}

func valueOf(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
