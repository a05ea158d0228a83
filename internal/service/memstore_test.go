package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/turnos-api/internal/models"
	"github.com/noah-isme/turnos-api/internal/repository"
)

// memDB mirrors the repository contracts in memory, including the conditional writes the
// SQL layer relies on.
type memDB struct {
	mu            sync.Mutex
	seq           int
	users         map[string]models.User
	shifts        map[string]models.Shift
	requests      map[string]models.ChangeRequest
	events        []models.ChangeRequestEvent
	notifications []models.Notification
	failApply     int
	applyErr      error
}

func newMemDB() *memDB {
	return &memDB{
		users:    make(map[string]models.User),
		shifts:   make(map[string]models.Shift),
		requests: make(map[string]models.ChangeRequest),
	}
}

func (db *memDB) nextID(prefix string) string {
	db.seq++
	return fmt.Sprintf("%s-%d", prefix, db.seq)
}

func (db *memDB) addUser(u models.User) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users[u.ID] = u
}

func (db *memDB) addShift(s models.Shift) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.shifts[s.ID] = s
}

func (db *memDB) shift(id string) models.Shift {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.shifts[id]
}

func (db *memDB) request(id string) models.ChangeRequest {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.requests[id]
}

func (db *memDB) notificationsFor(userID string) []models.Notification {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.Notification
	for _, n := range db.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (db *memDB) eventsOf(requestID string) []models.ChangeRequestEvent {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.ChangeRequestEvent
	for _, ev := range db.events {
		if ev.RequestID == requestID {
			out = append(out, ev)
		}
	}
	return out
}

func (db *memDB) insertEventLocked(ev models.ChangeRequestEvent, now time.Time) models.ChangeRequestEvent {
	ev.ID = db.nextID("ev")
	ev.CreatedAt = now
	db.events = append(db.events, ev)
	return ev
}

func (db *memDB) transitionLocked(params repository.TransitionParams, dryRun bool) (*models.ChangeRequestEvent, error) {
	stored, ok := db.requests[params.Next.ID]
	if !ok || stored.Status != params.ExpectedStatus || stored.Version != params.ExpectedVersion {
		return nil, repository.ErrStaleRequest
	}
	if params.Action == models.ActionPropose && params.Next.ProposedUserID != nil {
		if u, ok := db.users[*params.Next.ProposedUserID]; !ok || !u.Active {
			return nil, repository.ErrCandidateInactive
		}
	}
	if dryRun {
		return nil, nil
	}
	next := params.Next
	stored.Status = next.Status
	stored.ProposedUserID = next.ProposedUserID
	stored.ProposedUserName = next.ProposedUserName
	stored.ManagerID = next.ManagerID
	stored.ManagerNote = next.ManagerNote
	stored.ResolvedAt = next.ResolvedAt
	stored.Version = params.ExpectedVersion + 1
	stored.UpdatedAt = params.Now
	db.requests[stored.ID] = stored

	ev := db.insertEventLocked(models.NewTransitionEvent(stored, params.ExpectedStatus, params.Action, params.ActorID), params.Now)
	return &ev, nil
}

type memRequests struct{ db *memDB }

func (r memRequests) CreateWithShiftFlip(_ context.Context, params repository.CreateParams) (*models.ChangeRequestEvent, error) {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()

	req := params.Request
	if u, ok := db.users[req.RequesterID]; !ok || !u.Active {
		return nil, repository.ErrShiftNotEligible
	}
	shift, ok := db.shifts[req.OriginalShiftID]
	if !ok || shift.OwnerID() != req.RequesterID || shift.Status != models.ShiftStatusConfirmed || !shift.StartsAt.After(params.Now) {
		return nil, repository.ErrShiftNotEligible
	}
	for _, existing := range db.requests {
		if existing.OriginalShiftID == req.OriginalShiftID && !existing.Status.Terminal() {
			return nil, repository.ErrActiveRequestExists
		}
	}

	req.ID = db.nextID("cr")
	req.Status = models.RequestStatusPendingManager
	req.Version = 1
	req.CreatedAt = params.Now
	req.UpdatedAt = params.Now
	db.requests[req.ID] = *req

	shift.Status = models.ShiftStatusChangeRequested
	shift.UpdatedAt = params.Now
	db.shifts[shift.ID] = shift

	ev := db.insertEventLocked(models.NewTransitionEvent(*req, "", models.ActionCreate, req.RequesterID), params.Now)
	return &ev, nil
}

func (r memRequests) GetByID(_ context.Context, id string) (*models.ChangeRequest, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	req, ok := r.db.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &req, nil
}

func (r memRequests) FindActiveByShift(_ context.Context, shiftID string) (*models.ChangeRequest, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, req := range r.db.requests {
		if req.OriginalShiftID == shiftID && !req.Status.Terminal() {
			found := req
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memRequests) List(_ context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.ChangeRequest
	for _, req := range r.db.requests {
		if len(filter.Status) > 0 && !containsStatus(filter.Status, req.Status) {
			continue
		}
		if filter.ShiftID != "" && req.OriginalShiftID != filter.ShiftID {
			continue
		}
		if filter.RequesterID != "" && req.RequesterID != filter.RequesterID {
			continue
		}
		if filter.ParticipantID != "" && !isParticipant(&req, filter.ParticipantID) {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memRequests) Transition(_ context.Context, params repository.TransitionParams) (*models.ChangeRequestEvent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.transitionLocked(params, false)
}

func containsStatus(list []models.ChangeRequestStatus, status models.ChangeRequestStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

func containsShiftStatus(list []models.ShiftStatus, status models.ShiftStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

type memShifts struct{ db *memDB }

func (r memShifts) GetByID(_ context.Context, id string) (*models.Shift, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	shift, ok := r.db.shifts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &shift, nil
}

func (r memShifts) List(_ context.Context, filter models.ShiftFilter) ([]models.Shift, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	ids := stringSet(filter.IDs)
	owners := stringSet(filter.UserIDs)
	var out []models.Shift
	for _, s := range r.db.shifts {
		if _, ok := ids[s.ID]; len(ids) > 0 && !ok {
			continue
		}
		if _, ok := owners[s.OwnerID()]; len(owners) > 0 && !ok {
			continue
		}
		if filter.From != nil && !s.EndsAt.After(*filter.From) {
			continue
		}
		if filter.To != nil && !s.StartsAt.Before(*filter.To) {
			continue
		}
		if len(filter.Status) > 0 && !containsShiftStatus(filter.Status, s.Status) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r memShifts) CreateBatch(_ context.Context, shifts []*models.Shift) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range shifts {
		if s.ID == "" {
			s.ID = r.db.nextID("sh")
		}
		r.db.shifts[s.ID] = *s
	}
	return nil
}

func stringSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

type memUsers struct{ db *memDB }

func (r memUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

func (r memUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Email == email {
			found := u
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memUsers) List(_ context.Context, filter models.UserFilter) ([]models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.User
	for _, u := range r.db.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		if filter.Active != nil && u.Active != *filter.Active {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memUsers) Create(_ context.Context, user *models.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if user.ID == "" {
		user.ID = r.db.nextID("u")
	}
	r.db.users[user.ID] = *user
	return nil
}

func (r memUsers) Deactivate(_ context.Context, id string, now time.Time, notify repository.NotifyFunc) (*repository.DeactivationResult, error) {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, req := range db.requests {
		if !req.Status.Terminal() && isParticipant(&req, id) {
			return nil, repository.ErrUserHasActiveRequests
		}
	}
	user, ok := db.users[id]
	if !ok || !user.Active {
		return nil, sql.ErrNoRows
	}
	user.Active = false
	user.UpdatedAt = now
	db.users[id] = user

	result := &repository.DeactivationResult{User: user}
	for sid, s := range db.shifts {
		settled := s.Status == models.ShiftStatusConfirmed || s.Status == models.ShiftStatusChangeApproved
		if s.OwnerID() == id && s.StartsAt.After(now) && settled {
			s.UserID = nil
			s.UserName = ""
			s.Status = models.ShiftStatusUnassigned
			db.shifts[sid] = s
			result.ClearedShiftIDs = append(result.ClearedShiftIDs, sid)
		}
	}
	sort.Strings(result.ClearedShiftIDs)
	if notify != nil {
		result.Notifications = notify(*result)
		db.insertNotificationsLocked(result.Notifications, now)
	}
	return result, nil
}

func (db *memDB) insertNotificationsLocked(items []models.Notification, now time.Time) {
	for i := range items {
		items[i].ID = db.nextID("n")
		if items[i].Severity == "" {
			items[i].Severity = models.SeverityInfo
		}
		items[i].CreatedAt = now
		db.notifications = append(db.notifications, items[i])
	}
}

type memEvents struct{ db *memDB }

func (r memEvents) GetByID(_ context.Context, id string) (*models.ChangeRequestEvent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, ev := range r.db.events {
		if ev.ID == id {
			found := ev
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memEvents) ListPending(_ context.Context, maxAttempts, limit int) ([]models.ChangeRequestEvent, error) {
	return r.filter(func(ev models.ChangeRequestEvent) bool {
		return ev.ProcessedAt == nil && ev.Attempts < maxAttempts
	}, limit), nil
}

func (r memEvents) ListPendingBefore(_ context.Context, requestID string, version int) ([]models.ChangeRequestEvent, error) {
	return r.filter(func(ev models.ChangeRequestEvent) bool {
		return ev.ProcessedAt == nil && ev.RequestID == requestID && ev.Version < version
	}, 0), nil
}

func (r memEvents) ListFailed(_ context.Context, maxAttempts, limit int) ([]models.ChangeRequestEvent, error) {
	return r.filter(func(ev models.ChangeRequestEvent) bool {
		return ev.ProcessedAt == nil && ev.Attempts >= maxAttempts
	}, limit), nil
}

func (r memEvents) filter(keep func(models.ChangeRequestEvent) bool, limit int) []models.ChangeRequestEvent {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.ChangeRequestEvent
	for _, ev := range r.db.events {
		if keep(ev) {
			out = append(out, ev)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (r memEvents) RecordFailure(_ context.Context, id string, cause string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for i := range r.db.events {
		ev := &r.db.events[i]
		if ev.ID == id && ev.ProcessedAt == nil {
			ev.Attempts++
			ev.LastError = &cause
			return ev.Attempts, nil
		}
	}
	return 0, repository.ErrEventClaimed
}

func (r memEvents) ResetAttempts(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for i := range r.db.events {
		ev := &r.db.events[i]
		if ev.ID == id && ev.ProcessedAt == nil {
			ev.Attempts = 0
			ev.LastError = nil
			return nil
		}
	}
	return sql.ErrNoRows
}

type memReactions struct{ db *memDB }

func (r memReactions) Apply(_ context.Context, plan repository.ReactionPlan) (*repository.ReactionOutcome, error) {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.applyErr != nil && db.failApply != 0 {
		if db.failApply > 0 {
			db.failApply--
		}
		return nil, db.applyErr
	}

	idx := -1
	for i := range db.events {
		if db.events[i].ID == plan.EventID {
			idx = i
		}
	}
	if idx < 0 || db.events[idx].ProcessedAt != nil {
		return nil, repository.ErrEventClaimed
	}

	outcome := &repository.ReactionOutcome{}
	var shift models.Shift
	if m := plan.Shift; m != nil {
		var ok bool
		shift, ok = db.shifts[m.ShiftID]
		if !ok {
			return nil, fmt.Errorf("%w: shift %s missing", repository.ErrShiftStateMismatch, m.ShiftID)
		}
		atTarget := shift.Status == m.To && (m.NewOwner == nil || shift.OwnerID() == m.NewOwner.UserID)
		if !atTarget && shift.Status != m.From {
			return nil, fmt.Errorf("%w: shift %s is %s, expected %s", repository.ErrShiftStateMismatch, m.ShiftID, shift.Status, m.From)
		}
		outcome.ShiftChanged = !atTarget
	}
	if plan.FollowUp != nil {
		if _, err := db.transitionLocked(*plan.FollowUp, true); err != nil {
			return nil, err
		}
	}

	now := plan.Now
	db.events[idx].ProcessedAt = &now
	if m := plan.Shift; m != nil {
		if outcome.ShiftChanged {
			shift.Status = m.To
			shift.UpdatedAt = now
			if m.NewOwner != nil {
				owner := m.NewOwner.UserID
				shift.UserID = &owner
				shift.UserName = m.NewOwner.Name
			}
			db.shifts[shift.ID] = shift
		}
		outcome.Shift = &shift
	}
	if plan.FollowUp != nil {
		ev, err := db.transitionLocked(*plan.FollowUp, false)
		if err != nil {
			return nil, err
		}
		outcome.FollowUp = ev
	}
	if len(plan.Notifications) > 0 {
		db.insertNotificationsLocked(plan.Notifications, now)
		outcome.Notifications = plan.Notifications
	}
	return outcome, nil
}

// syncDispatcher runs the reactor inline so tests observe effects right after a call.
type syncDispatcher struct {
	reactor *ChangeRequestReactor
	mu      sync.Mutex
	errs    []error
}

func (d *syncDispatcher) Dispatch(ev *models.ChangeRequestEvent) {
	if err := d.reactor.Process(context.Background(), ev.ID); err != nil {
		d.mu.Lock()
		d.errs = append(d.errs, err)
		d.mu.Unlock()
	}
}

func (d *syncDispatcher) failures() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.errs...)
}

type recordedMessage struct {
	Type   string
	Topics []string
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []recordedMessage
	err      error
}

func (b *recordingBroadcaster) Publish(_ context.Context, msgType string, _ interface{}, topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, recordedMessage{Type: msgType, Topics: topics})
	return b.err
}

func (b *recordingBroadcaster) count(msgType, topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.messages {
		if m.Type != msgType {
			continue
		}
		for _, t := range m.Topics {
			if t == topic {
				n++
			}
		}
	}
	return n
}

var errInjected = errors.New("injected failure")
