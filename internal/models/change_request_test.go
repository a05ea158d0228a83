package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(v string) *string { return &v }

func TestNextStatusFollowsGraph(t *testing.T) {
	cases := []struct {
		from   ChangeRequestStatus
		action TransitionAction
		want   ChangeRequestStatus
	}{
		{"", ActionCreate, RequestStatusPendingManager},
		{RequestStatusPendingManager, ActionPropose, RequestStatusProposedEmployee},
		{RequestStatusPendingManager, ActionManagerReject, RequestStatusRejectedManager},
		{RequestStatusProposedEmployee, ActionAccept, RequestStatusAcceptedEmployee},
		{RequestStatusProposedEmployee, ActionDecline, RequestStatusRejectedEmployee},
		{RequestStatusRejectedEmployee, ActionRecycle, RequestStatusPendingManager},
		{RequestStatusAcceptedEmployee, ActionApprove, RequestStatusApprovedManager},
	}
	for _, tc := range cases {
		got, err := NextStatus(tc.from, tc.action)
		require.NoError(t, err, "%s -%s->", tc.from, tc.action)
		assert.Equal(t, tc.want, got)
	}
}

func TestNextStatusRejectsIllegalEdges(t *testing.T) {
	illegal := []struct {
		from   ChangeRequestStatus
		action TransitionAction
	}{
		{RequestStatusProposedEmployee, ActionPropose},
		{RequestStatusAcceptedEmployee, ActionManagerReject},
		{RequestStatusPendingManager, ActionApprove},
		{RequestStatusApprovedManager, ActionRecycle},
		{RequestStatusRejectedManager, ActionPropose},
		{RequestStatusPendingManager, ActionCreate},
	}
	for _, tc := range illegal {
		_, err := NextStatus(tc.from, tc.action)
		assert.ErrorIs(t, err, ErrIllegalTransition, "%s -%s->", tc.from, tc.action)
	}
}

func TestTerminalStatusesHaveNoEdges(t *testing.T) {
	for _, status := range []ChangeRequestStatus{RequestStatusApprovedManager, RequestStatusRejectedManager} {
		assert.True(t, status.Terminal())
		_, ok := transitionGraph[status]
		assert.False(t, ok)
	}
	for _, status := range ActiveRequestStatuses() {
		assert.False(t, status.Terminal())
	}
}

func TestPhaseProjectsVariants(t *testing.T) {
	now := time.Now().UTC()

	phase, err := ChangeRequest{Status: RequestStatusPendingManager}.Phase()
	require.NoError(t, err)
	assert.IsType(t, PendingManagerPhase{}, phase)

	phase, err = ChangeRequest{
		Status:           RequestStatusProposedEmployee,
		ProposedUserID:   strPtr("e2"),
		ProposedUserName: strPtr("Ana"),
		ManagerID:        strPtr("m1"),
	}.Phase()
	require.NoError(t, err)
	proposed, ok := phase.(ProposedPhase)
	require.True(t, ok)
	assert.Equal(t, CandidateRef{UserID: "e2", Name: "Ana"}, proposed.Candidate)
	assert.Equal(t, "m1", proposed.ManagerID)

	phase, err = ChangeRequest{
		Status:      RequestStatusRejectedManager,
		ManagerID:   strPtr("m1"),
		ManagerNote: strPtr("sin personal"),
		ResolvedAt:  &now,
	}.Phase()
	require.NoError(t, err)
	rejected := phase.(ManagerRejectedPhase)
	assert.Equal(t, "sin personal", rejected.Reason)
}

func TestPhaseRejectsMalformedRows(t *testing.T) {
	malformed := []ChangeRequest{
		{Status: RequestStatusPendingManager, ProposedUserID: strPtr("e2")},
		{Status: RequestStatusPendingManager, ManagerID: strPtr("m1")},
		{Status: RequestStatusProposedEmployee, ManagerID: strPtr("m1")},
		{Status: RequestStatusAcceptedEmployee, ProposedUserID: strPtr("e2")},
		{Status: RequestStatusApprovedManager, ProposedUserID: strPtr("e2"), ManagerID: strPtr("m1")},
		{Status: "BOGUS"},
	}
	for _, req := range malformed {
		assert.ErrorIs(t, req.Validate(), ErrMalformedRequest, "status %s", req.Status)
	}
}

func TestShiftOverlapIsHalfOpen(t *testing.T) {
	base := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	shift := Shift{StartsAt: base, EndsAt: base.Add(8 * time.Hour)}

	assert.False(t, shift.Overlaps(base.Add(-4*time.Hour), base), "ending at start does not conflict")
	assert.False(t, shift.Overlaps(base.Add(8*time.Hour), base.Add(10*time.Hour)), "starting at end does not conflict")
	assert.True(t, shift.Overlaps(base.Add(-time.Hour), base.Add(time.Minute)))
	assert.True(t, shift.Overlaps(base.Add(7*time.Hour), base.Add(9*time.Hour)))
	assert.True(t, shift.Overlaps(base.Add(time.Hour), base.Add(2*time.Hour)))
}
