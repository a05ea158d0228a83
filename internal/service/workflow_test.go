package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/turnos-api/internal/dto"
	"github.com/noah-isme/turnos-api/internal/models"
	"github.com/noah-isme/turnos-api/internal/repository"
	appErrors "github.com/noah-isme/turnos-api/pkg/errors"
)

func errCode(err error) string {
	if err == nil {
		return ""
	}
	return appErrors.FromError(err).Code
}

func TestCoverageRequestApprovedEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)

	req, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-1", dto.RequestChangeRequest{Reason: "Cita médica"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPendingManager, req.Status)
	assert.Equal(t, 1, req.Version)
	assert.Equal(t, models.ShiftStatusChangeRequested, f.db.shift("s-1").Status)
	require.Len(t, f.db.notificationsFor("m1"), 1)
	assert.Equal(t, "Nueva solicitud de cambio", f.db.notificationsFor("m1")[0].Title)

	review, err := f.manager.OpenRequest(ctx, f.claims("m1"), req.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"e2"}, candidateIDs(review.Candidates.Ideal))
	assert.Equal(t, []string{"e3"}, candidateIDs(review.Candidates.Alternative))
	require.Equal(t, []string{"m1"}, candidateIDs(review.Candidates.Unavailable))
	assert.Equal(t, models.ReasonIncompatibleRole, review.Candidates.Unavailable[0].Reason)
	assert.False(t, review.Request.Stale)

	proposed, err := f.manager.AssignCandidate(ctx, f.claims("m1"), req.ID, dto.AssignCandidateRequest{CandidateID: "e2", ExpectedVersion: intPtr(1)})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusProposedEmployee, proposed.Status)
	assert.Equal(t, 2, proposed.Version)
	assert.Equal(t, models.ShiftStatusChangeInProcess, f.db.shift("s-1").Status)
	require.Len(t, f.db.notificationsFor("e2"), 1)

	accepted, err := f.employee.DecideOnProposal(ctx, f.claims("e2"), req.ID, dto.DecisionRequest{Accept: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusAcceptedEmployee, accepted.Status)
	managerInbox := f.db.notificationsFor("m1")
	require.Len(t, managerInbox, 2)
	assert.True(t, managerInbox[1].RequiresConfirmation)
	assert.Equal(t, models.ShiftStatusChangeInProcess, f.db.shift("s-1").Status)

	approved, err := f.manager.ApproveRequest(ctx, f.claims("m1"), req.ID, dto.ApproveChangeRequestRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApprovedManager, approved.Status)
	require.NotNil(t, approved.ResolvedAt)

	shift := f.db.shift("s-1")
	assert.Equal(t, "e2", shift.OwnerID())
	assert.Equal(t, "Beto Ruiz", shift.UserName)
	assert.Equal(t, models.ShiftStatusChangeApproved, shift.Status)

	requesterInbox := f.db.notificationsFor("e1")
	require.Len(t, requesterInbox, 1)
	assert.Equal(t, models.SeveritySuccess, requesterInbox[0].Severity)
	candidateInbox := f.db.notificationsFor("e2")
	require.Len(t, candidateInbox, 2)
	assert.Equal(t, models.SeveritySuccess, candidateInbox[1].Severity)

	events := f.db.eventsOf(req.ID)
	require.Len(t, events, 4)
	for _, ev := range events {
		assert.NotNil(t, ev.ProcessedAt, "event %s left unprocessed", ev.Action)
	}
	assert.Empty(t, f.dispatcher.failures())
	assert.Equal(t, uint64(4), f.metrics.Snapshot().Transitions)
	assert.GreaterOrEqual(t, f.hub.count(MessageShiftUpdated, UserTopic("e2")), 1)
	assert.GreaterOrEqual(t, f.hub.count(MessageChangeRequestUpdated, TopicManagers), 4)

	_, err = f.manager.RejectRequest(ctx, f.claims("m1"), req.ID, dto.RejectChangeRequestRequest{Reason: "tarde"})
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, errCode(err))
}

func TestDeclinedProposalReturnsToManagerQueue(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)

	req, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-1", dto.RequestChangeRequest{})
	require.NoError(t, err)
	_, err = f.manager.AssignCandidate(ctx, f.claims("m1"), req.ID, dto.AssignCandidateRequest{CandidateID: "e2"})
	require.NoError(t, err)

	declined, err := f.employee.DecideOnProposal(ctx, f.claims("e2"), req.ID, dto.DecisionRequest{Accept: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejectedEmployee, declined.Status)

	stored := f.db.request(req.ID)
	assert.Equal(t, models.RequestStatusPendingManager, stored.Status)
	assert.Nil(t, stored.ProposedUserID)
	assert.Nil(t, stored.ProposedUserName)
	assert.Nil(t, stored.ManagerID)
	assert.Equal(t, 4, stored.Version)
	require.NoError(t, stored.Validate())
	assert.Equal(t, models.ShiftStatusChangeRequested, f.db.shift("s-1").Status)
	assert.Equal(t, "e1", f.db.shift("s-1").OwnerID())

	inbox := f.db.notificationsFor("m1")
	require.Len(t, inbox, 2)
	assert.Equal(t, models.SeverityWarning, inbox[1].Severity)

	events := f.db.eventsOf(req.ID)
	require.Len(t, events, 4)
	assert.Equal(t, models.ActionRecycle, events[3].Action)
	assert.Equal(t, reactorActorID, events[3].ActorID)
	assert.NotNil(t, events[3].ProcessedAt)

	again, err := f.manager.AssignCandidate(ctx, f.claims("m1"), req.ID, dto.AssignCandidateRequest{CandidateID: "e3", ExpectedVersion: intPtr(4)})
	require.NoError(t, err)
	assert.Equal(t, "e3", *again.ProposedUserID)
	assert.Equal(t, models.ShiftStatusChangeInProcess, f.db.shift("s-1").Status)
	assert.Empty(t, f.dispatcher.failures())
}

func TestManagerRejectionRestoresShift(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)

	req, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-1", dto.RequestChangeRequest{})
	require.NoError(t, err)

	_, err = f.manager.RejectRequest(ctx, f.claims("m1"), req.ID, dto.RejectChangeRequestRequest{Reason: "  "})
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))

	rejected, err := f.manager.RejectRequest(ctx, f.claims("m1"), req.ID, dto.RejectChangeRequestRequest{Reason: "Sin personal disponible"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejectedManager, rejected.Status)
	assert.Equal(t, "Sin personal disponible", *rejected.ManagerNote)
	assert.Equal(t, models.ShiftStatusConfirmed, f.db.shift("s-1").Status)

	inbox := f.db.notificationsFor("e1")
	require.Len(t, inbox, 1)
	assert.True(t, inbox[0].RequiresConfirmation)
	assert.Contains(t, inbox[0].Message, "Sin personal disponible")

	second, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-1", dto.RequestChangeRequest{})
	require.NoError(t, err)
	assert.NotEqual(t, req.ID, second.ID)
}

func TestRequestChangePreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("not the owner", func(t *testing.T) {
		f := newWorkflowFixture(t)
		_, err := f.employee.RequestChange(ctx, f.claims("e2"), "s-1", dto.RequestChangeRequest{})
		assert.Equal(t, appErrors.ErrForbidden.Code, errCode(err))
	})
	t.Run("shift already started", func(t *testing.T) {
		f := newWorkflowFixture(t)
		f.db.addShift(testShift("s-old", "e1", "Ana López", models.RoleMesero, testNow.Add(-time.Hour), 4*time.Hour, "manana"))
		_, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-old", dto.RequestChangeRequest{})
		assert.Equal(t, appErrors.ErrShiftNotEligible.Code, errCode(err))
	})
	t.Run("shift not confirmed", func(t *testing.T) {
		f := newWorkflowFixture(t)
		s := testShift("s-x", "e1", "Ana López", models.RoleMesero, testNow.Add(48*time.Hour), 4*time.Hour, "manana")
		s.Status = models.ShiftStatusChangeApproved
		f.db.addShift(s)
		_, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-x", dto.RequestChangeRequest{})
		assert.Equal(t, appErrors.ErrShiftNotEligible.Code, errCode(err))
	})
	t.Run("active request exists", func(t *testing.T) {
		f := newWorkflowFixture(t)
		_, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-1", dto.RequestChangeRequest{})
		require.NoError(t, err)
		_, err = f.employee.RequestChange(ctx, f.claims("e1"), "s-1", dto.RequestChangeRequest{})
		assert.Equal(t, appErrors.ErrActiveRequestExists.Code, errCode(err))
	})
	t.Run("unknown shift", func(t *testing.T) {
		f := newWorkflowFixture(t)
		_, err := f.employee.RequestChange(ctx, f.claims("e1"), "nope", dto.RequestChangeRequest{})
		assert.Equal(t, appErrors.ErrNotFound.Code, errCode(err))
	})
	t.Run("store rejects the flip", func(t *testing.T) {
		f := newWorkflowFixture(t)
		f.employee.requests = flipRacer{memRequests{f.db}}
		_, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-1", dto.RequestChangeRequest{})
		assert.Equal(t, appErrors.ErrShiftNotEligible.Code, errCode(err))
		assert.Equal(t, models.ShiftStatusConfirmed, f.db.shift("s-1").Status)
	})
}

// flipRacer behaves as if another writer changed the shift between the read and the flip.
type flipRacer struct{ memRequests }

func (flipRacer) CreateWithShiftFlip(context.Context, repository.CreateParams) (*models.ChangeRequestEvent, error) {
	return nil, repository.ErrShiftNotEligible
}

// staleWriter loses every optimistic race.
type staleWriter struct{ memRequests }

func (staleWriter) Transition(context.Context, repository.TransitionParams) (*models.ChangeRequestEvent, error) {
	return nil, repository.ErrStaleRequest
}

func TestWorkflowGuards(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)
	req, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-1", dto.RequestChangeRequest{})
	require.NoError(t, err)

	_, err = f.employee.DecideOnProposal(ctx, f.claims("e2"), req.ID, dto.DecisionRequest{Accept: boolPtr(true)})
	assert.Equal(t, appErrors.ErrNotProposedUser.Code, errCode(err), "no proposal yet")

	_, err = f.manager.ApproveRequest(ctx, f.claims("m1"), req.ID, dto.ApproveChangeRequestRequest{})
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, errCode(err))

	_, err = f.manager.OpenRequest(ctx, f.claims("e2"), req.ID)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(err))

	_, err = f.manager.OpenRequest(ctx, f.claims("m1"), "missing")
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(err))

	_, err = f.manager.AssignCandidate(ctx, f.claims("m1"), req.ID, dto.AssignCandidateRequest{CandidateID: "e2", ExpectedVersion: intPtr(7)})
	assert.Equal(t, appErrors.ErrStaleRequest.Code, errCode(err))

	_, err = f.manager.AssignCandidate(ctx, f.claims("m1"), req.ID, dto.AssignCandidateRequest{})
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))

	_, err = f.employee.DecideOnProposal(ctx, f.claims("e2"), req.ID, dto.DecisionRequest{})
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err), "accept is required")

	_, err = f.manager.AssignCandidate(ctx, f.claims("m1"), req.ID, dto.AssignCandidateRequest{CandidateID: "e2"})
	require.NoError(t, err)

	_, err = f.employee.DecideOnProposal(ctx, f.claims("e3"), req.ID, dto.DecisionRequest{Accept: boolPtr(true)})
	assert.Equal(t, appErrors.ErrNotProposedUser.Code, errCode(err))

	f.manager.requests = staleWriter{memRequests{f.db}}
	_, err = f.manager.RejectRequest(ctx, f.claims("m1"), req.ID, dto.RejectChangeRequestRequest{Reason: "x"})
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, errCode(err), "proposed requests cannot be rejected")

	_, err = f.employee.DecideOnProposal(ctx, f.claims("e2"), req.ID, dto.DecisionRequest{Accept: boolPtr(true)})
	require.NoError(t, err)
	_, err = f.manager.ApproveRequest(ctx, f.claims("m1"), req.ID, dto.ApproveChangeRequestRequest{})
	assert.Equal(t, appErrors.ErrStaleRequest.Code, errCode(err))
	assert.Equal(t, models.RequestStatusAcceptedEmployee, f.db.request(req.ID).Status)
}

// frozenRoster keeps serving the roster it was built with.
type frozenRoster []models.User

func (r frozenRoster) ActiveUsers(context.Context, *models.UserRole) ([]models.User, error) {
	return r, nil
}

func TestAssignCandidateDeactivatedAfterRosterRead(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)
	snapshot, err := f.roster.ActiveUsers(ctx, nil)
	require.NoError(t, err)
	f.manager.roster = frozenRoster(snapshot)

	req, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-1", dto.RequestChangeRequest{})
	require.NoError(t, err)
	_, err = memUsers{f.db}.Deactivate(ctx, "e2", testNow, nil)
	require.NoError(t, err)

	_, err = f.manager.AssignCandidate(ctx, f.claims("m1"), req.ID, dto.AssignCandidateRequest{CandidateID: "e2"})
	assert.Equal(t, appErrors.ErrCandidateUnavailable.Code, errCode(err))
	stored := f.db.request(req.ID)
	assert.Equal(t, models.RequestStatusPendingManager, stored.Status)
	assert.Nil(t, stored.ProposedUserID)
	assert.Equal(t, models.ShiftStatusChangeRequested, f.db.shift("s-1").Status)
}

func TestAssignCandidateEligibility(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)
	f.db.addUser(models.User{ID: "e4", FullName: "Diego Soto", Role: models.RoleMesero, Active: true})
	f.db.addUser(models.User{ID: "e5", FullName: "Elena Mora", Role: models.RoleMesero, Active: true})
	f.db.addUser(models.User{ID: "k1", FullName: "Kiko Chef", Role: models.RoleCocinero, Active: true})
	f.db.addShift(testShift("s-3", "e4", "Diego Soto", models.RoleMesero, time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC), 8*time.Hour, "noche"))
	f.db.addShift(testShift("s-4", "e5", "Elena Mora", models.RoleMesero, time.Date(2024, 6, 9, 18, 0, 0, 0, time.UTC), 5*time.Hour, "cierre"))

	req, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-1", dto.RequestChangeRequest{})
	require.NoError(t, err)

	review, err := f.manager.OpenRequest(ctx, f.claims("m1"), req.ID)
	require.NoError(t, err)
	busy, ok := review.Candidates.Find("e4")
	require.True(t, ok)
	assert.Equal(t, models.ReasonAlreadyScheduled, busy.Reason)
	require.NotNil(t, busy.Conflict)
	assert.Equal(t, time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC), busy.Conflict.Start)
	closer, ok := review.Candidates.Find("e5")
	require.True(t, ok)
	assert.Equal(t, models.CandidateIdeal, closer.Category)
	assert.True(t, closer.Clopening)
	cook, ok := review.Candidates.Find("k1")
	require.True(t, ok)
	assert.Equal(t, models.ReasonIncompatibleRole, cook.Reason)

	for _, id := range []string{"e4", "k1", "e1", "o1", "ghost"} {
		_, err = f.manager.AssignCandidate(ctx, f.claims("m1"), req.ID, dto.AssignCandidateRequest{CandidateID: id})
		assert.Equal(t, appErrors.ErrCandidateUnavailable.Code, errCode(err), id)
	}

	_, err = f.manager.AssignCandidate(ctx, f.claims("m1"), req.ID, dto.AssignCandidateRequest{CandidateID: "e5"})
	assert.Equal(t, appErrors.ErrClopeningConfirmation.Code, errCode(err))

	proposed, err := f.manager.AssignCandidate(ctx, f.claims("m1"), req.ID, dto.AssignCandidateRequest{CandidateID: "e5", ConfirmClopening: true})
	require.NoError(t, err)
	assert.Equal(t, "Elena Mora", *proposed.ProposedUserName)
}

func TestCandidateSearchSeesEveryRosterShift(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)
	f.db.addUser(models.User{ID: "x1", FullName: "Ximena Ex", Role: models.RoleMesero, Active: false})
	dayBefore := time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3*occupancyPageSize; i++ {
		owner, name := "e3", "Carla Díaz"
		if i%2 == 0 {
			owner, name = "x1", "Ximena Ex"
		}
		start := dayBefore.Add(time.Duration(i) * 20 * time.Second)
		f.db.addShift(testShift(fmt.Sprintf("fill-%04d", i), owner, name, models.RoleMesero, start, 10*time.Second, "manana"))
	}
	f.db.addShift(testShift("s-9", "e2", "Beto Ruiz", models.RoleMesero, time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC), 4*time.Hour, "noche"))

	req, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-1", dto.RequestChangeRequest{})
	require.NoError(t, err)

	review, err := f.manager.OpenRequest(ctx, f.claims("m1"), req.ID)
	require.NoError(t, err)
	busy, ok := review.Candidates.Find("e2")
	require.True(t, ok)
	assert.Equal(t, models.ReasonAlreadyScheduled, busy.Reason)
	require.NotNil(t, busy.Conflict)
	assert.Equal(t, time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC), busy.Conflict.Start)
}

func TestReactorRedeliveryIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)
	req, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-1", dto.RequestChangeRequest{})
	require.NoError(t, err)
	created := f.db.eventsOf(req.ID)[0]

	require.NoError(t, f.reactor.Process(ctx, created.ID))
	require.NoError(t, f.reactor.Process(ctx, created.ID))
	assert.Len(t, f.db.notificationsFor("m1"), 1)

	plan, err := f.reactor.plan(ctx, &created)
	require.NoError(t, err)
	_, err = memReactions{f.db}.Apply(ctx, plan)
	assert.ErrorIs(t, err, repository.ErrEventClaimed)
}

func TestReactorAppliesEarlierEventsFirst(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)
	f.employee.dispatcher = nil

	req, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-1", dto.RequestChangeRequest{})
	require.NoError(t, err)
	assert.Empty(t, f.db.notificationsFor("m1"))

	_, err = f.manager.AssignCandidate(ctx, f.claims("m1"), req.ID, dto.AssignCandidateRequest{CandidateID: "e2"})
	require.NoError(t, err)

	assert.Len(t, f.db.notificationsFor("m1"), 1)
	assert.Len(t, f.db.notificationsFor("e2"), 1)
	assert.Equal(t, models.ShiftStatusChangeInProcess, f.db.shift("s-1").Status)
	for _, ev := range f.db.eventsOf(req.ID) {
		assert.NotNil(t, ev.ProcessedAt)
	}
}

func TestReactorRecordsShiftMismatch(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)
	req, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-1", dto.RequestChangeRequest{})
	require.NoError(t, err)

	tampered := f.db.shift("s-1")
	tampered.Status = models.ShiftStatusOfferedManager
	f.db.addShift(tampered)

	proposed, err := f.manager.AssignCandidate(ctx, f.claims("m1"), req.ID, dto.AssignCandidateRequest{CandidateID: "e2"})
	require.NoError(t, err, "the transition itself commits")
	assert.Equal(t, models.RequestStatusProposedEmployee, proposed.Status)

	failures := f.dispatcher.failures()
	require.Len(t, failures, 1)
	assert.True(t, errors.Is(failures[0], repository.ErrShiftStateMismatch))

	events := f.db.eventsOf(req.ID)
	require.Len(t, events, 2)
	assert.Nil(t, events[1].ProcessedAt)
	assert.Equal(t, 1, events[1].Attempts)
	require.NotNil(t, events[1].LastError)
	assert.Contains(t, *events[1].LastError, "cambio_ofrecido_gerente")
	assert.Empty(t, f.db.notificationsFor("e2"))
	assert.Equal(t, models.ShiftStatusOfferedManager, f.db.shift("s-1").Status)
}

func TestReactorBlockedEventRecordsOwnFailure(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)
	f.employee.dispatcher = nil

	req, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-1", dto.RequestChangeRequest{})
	require.NoError(t, err)

	f.db.mu.Lock()
	f.db.applyErr = errInjected
	f.db.failApply = 1
	f.db.mu.Unlock()

	_, err = f.manager.AssignCandidate(ctx, f.claims("m1"), req.ID, dto.AssignCandidateRequest{CandidateID: "e2"})
	require.NoError(t, err)

	failures := f.dispatcher.failures()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], errInjected)

	events := f.db.eventsOf(req.ID)
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Nil(t, ev.ProcessedAt)
		assert.Equal(t, 1, ev.Attempts, "event %s", ev.ID)
		require.NotNil(t, ev.LastError)
	}
	assert.Contains(t, *events[1].LastError, events[0].ID)
	assert.Equal(t, models.ShiftStatusChangeRequested, f.db.shift("s-1").Status)
}

func TestReactorExhaustionAndOperatorRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newWorkflowFixture(t)

	require.ErrorIs(t, f.reactor.Retry(ctx, "ev-1"), appErrors.ErrReconciliationUnavailable)

	f.db.mu.Lock()
	f.db.applyErr = errInjected
	f.db.failApply = -1
	f.db.mu.Unlock()

	f.reactor.Start(ctx)
	defer f.reactor.Stop()
	f.employee.dispatcher = f.reactor

	req, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-1", dto.RequestChangeRequest{})
	require.NoError(t, err)

	var failed []dto.ReconciliationItem
	require.Eventually(t, func() bool {
		failed, err = f.reactor.Failed(ctx, 10)
		return err == nil && len(failed) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, req.ID, failed[0].RequestID)
	assert.Equal(t, 3, failed[0].Attempts)
	assert.Equal(t, errInjected.Error(), failed[0].LastError)
	assert.Equal(t, models.ActionCreate, failed[0].Action)
	assert.Empty(t, f.db.notificationsFor("m1"))
	require.Eventually(t, func() bool {
		return f.metrics.Snapshot().Inconsistencies == 1
	}, time.Second, 10*time.Millisecond)

	f.db.mu.Lock()
	f.db.applyErr = nil
	f.db.failApply = 0
	f.db.mu.Unlock()

	require.NoError(t, f.reactor.Retry(ctx, failed[0].EventID))
	require.Eventually(t, func() bool {
		return len(f.db.notificationsFor("m1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	failed, err = f.reactor.Failed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, failed)

	err = f.reactor.Retry(ctx, firstEventID(t, f, req.ID))
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(err), "processed events cannot be retried")
}

func firstEventID(t *testing.T, f *workflowFixture, requestID string) string {
	t.Helper()
	events := f.db.eventsOf(requestID)
	require.NotEmpty(t, events)
	return events[0].ID
}

func TestReactorSweepPicksUpBacklog(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newWorkflowFixture(t)
	f.employee.dispatcher = nil

	_, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-1", dto.RequestChangeRequest{})
	require.NoError(t, err)
	assert.Empty(t, f.db.notificationsFor("m1"))

	f.reactor.Start(ctx)
	defer f.reactor.Stop()
	require.Eventually(t, func() bool {
		return len(f.db.notificationsFor("m1")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChangeRequestQueriesScopeByRole(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t)
	f.db.addShift(testShift("s-2", "e3", "Carla Díaz", models.RoleBartender, time.Date(2024, 6, 11, 18, 0, 0, 0, time.UTC), 6*time.Hour, "noche"))

	first, err := f.employee.RequestChange(ctx, f.claims("e1"), "s-1", dto.RequestChangeRequest{})
	require.NoError(t, err)
	_, err = f.employee.RequestChange(ctx, f.claims("e3"), "s-2", dto.RequestChangeRequest{})
	require.NoError(t, err)

	all, err := f.queries.List(ctx, f.claims("m1"), dto.ChangeRequestQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.queries.List(ctx, f.claims("e1"), dto.ChangeRequestQuery{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, first.ID, mine[0].ID)

	none, err := f.queries.List(ctx, f.claims("e2"), dto.ChangeRequestQuery{})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.manager.AssignCandidate(ctx, f.claims("m1"), first.ID, dto.AssignCandidateRequest{CandidateID: "e2"})
	require.NoError(t, err)
	proposedToMe, err := f.queries.List(ctx, f.claims("e2"), dto.ChangeRequestQuery{Status: []models.ChangeRequestStatus{models.RequestStatusProposedEmployee}})
	require.NoError(t, err)
	assert.Len(t, proposedToMe, 1)

	_, err = f.queries.Get(ctx, f.claims("e3"), first.ID)
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(err))

	_, err = f.queries.List(ctx, f.claims("m1"), dto.ChangeRequestQuery{Status: []models.ChangeRequestStatus{"CERRADO"}})
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))

	f.queries.now = func() time.Time { return time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC) }
	view, err := f.queries.Get(ctx, f.claims("e1"), first.ID)
	require.NoError(t, err)
	assert.True(t, view.Stale)
	assert.Equal(t, int64((8*24+22)*3600), view.AgeSeconds)
}
