package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/turnos-api/internal/models"
)

const changeRequestColumns = `id, original_shift_id, requester_id, requester_name, proposed_user_id, proposed_user_name,
       manager_id, status, reason, manager_note, version, created_at, updated_at, resolved_at`

// ChangeRequestRepository persists coverage requests together with their outbox events.
type ChangeRequestRepository struct {
	db *sqlx.DB
}

// NewChangeRequestRepository constructs the repository.
func NewChangeRequestRepository(db *sqlx.DB) *ChangeRequestRepository {
	return &ChangeRequestRepository{db: db}
}

// CreateParams groups the inputs of the request-change atomic pair.
type CreateParams struct {
	Request *models.ChangeRequest
	Now     time.Time
}

// CreateWithShiftFlip flips the shift from confirmado to cambio_solicitado, inserts the
// request and its creation event in one transaction. The shift update is conditional on
// ownership, status and a future start, so a lost race leaves nothing written.
func (r *ChangeRequestRepository) CreateWithShiftFlip(ctx context.Context, params CreateParams) (event *models.ChangeRequestEvent, err error) {
	req := params.Request
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Status = models.RequestStatusPendingManager
	req.Version = 1
	req.CreatedAt = params.Now
	req.UpdatedAt = params.Now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin change request: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = lockActiveUser(ctx, tx, req.RequesterID, ErrShiftNotEligible); err != nil {
		return nil, err
	}

	const flip = `UPDATE shifts SET status = $4, updated_at = $3
WHERE id = $1 AND user_id = $2 AND status = $5 AND starts_at > $3`
	res, err := tx.ExecContext(ctx, flip, req.OriginalShiftID, req.RequesterID, params.Now,
		models.ShiftStatusChangeRequested, models.ShiftStatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("flip shift status: %w", err)
	}
	if err = expectOneRow(res, ErrShiftNotEligible); err != nil {
		return nil, err
	}

	const insert = `INSERT INTO change_requests
	(id, original_shift_id, requester_id, requester_name, proposed_user_id, proposed_user_name, manager_id, status, reason, manager_note, version, created_at, updated_at, resolved_at)
	VALUES (:id, :original_shift_id, :requester_id, :requester_name, :proposed_user_id, :proposed_user_name, :manager_id, :status, :reason, :manager_note, :version, :created_at, :updated_at, :resolved_at)`
	if _, err = tx.NamedExecContext(ctx, insert, req); err != nil {
		if isUniqueViolation(err) {
			err = ErrActiveRequestExists
			return nil, err
		}
		return nil, fmt.Errorf("insert change request: %w", err)
	}

	ev := models.NewTransitionEvent(*req, "", models.ActionCreate, req.RequesterID)
	if err = insertEvent(ctx, tx, &ev, params.Now); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit change request: %w", err)
	}
	return &ev, nil
}

// GetByID fetches a change request by identifier.
func (r *ChangeRequestRepository) GetByID(ctx context.Context, id string) (*models.ChangeRequest, error) {
	query := `SELECT ` + changeRequestColumns + ` FROM change_requests WHERE id = $1`
	var req models.ChangeRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get change request: %w", err)
	}
	return &req, nil
}

// FindActiveByShift returns the in-flight request for a shift, if any.
func (r *ChangeRequestRepository) FindActiveByShift(ctx context.Context, shiftID string) (*models.ChangeRequest, error) {
	query := `SELECT ` + changeRequestColumns + ` FROM change_requests
	WHERE original_shift_id = $1 AND status NOT IN ('APROBADO_GERENTE', 'RECHAZADO_GERENTE') LIMIT 1`
	var req models.ChangeRequest
	if err := r.db.GetContext(ctx, &req, query, shiftID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find active change request: %w", err)
	}
	return &req, nil
}

// List returns change requests matching the filter, oldest first so managers triage in arrival order.
func (r *ChangeRequestRepository) List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(`SELECT ` + changeRequestColumns + ` FROM change_requests`)

	conditions := make([]string, 0, 4)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.ShiftID != "" {
		args = append(args, filter.ShiftID)
		conditions = append(conditions, fmt.Sprintf("original_shift_id = $%d", len(args)))
	}
	if filter.RequesterID != "" {
		args = append(args, filter.RequesterID)
		conditions = append(conditions, fmt.Sprintf("requester_id = $%d", len(args)))
	}
	if filter.ParticipantID != "" {
		args = append(args, filter.ParticipantID)
		conditions = append(conditions, fmt.Sprintf("(requester_id = $%d OR proposed_user_id = $%d)", len(args), len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at ASC, id ASC")

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.ChangeRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list change requests: %w", err)
	}
	return requests, nil
}

// TransitionParams describes one edge of the request graph. Next holds the full row after
// the transition; the write only lands if the stored row still has ExpectedStatus and ExpectedVersion.
type TransitionParams struct {
	Next            models.ChangeRequest
	ExpectedStatus  models.ChangeRequestStatus
	ExpectedVersion int
	Action          models.TransitionAction
	ActorID         string
	Now             time.Time
}

// Transition writes the new request state and its outbox event in one transaction.
func (r *ChangeRequestRepository) Transition(ctx context.Context, params TransitionParams) (event *models.ChangeRequestEvent, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	event, err = applyTransition(ctx, tx, params)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return event, nil
}

func applyTransition(ctx context.Context, tx *sqlx.Tx, params TransitionParams) (*models.ChangeRequestEvent, error) {
	next := params.Next
	next.Version = params.ExpectedVersion + 1
	next.UpdatedAt = params.Now

	if params.Action == models.ActionPropose && next.ProposedUserID != nil {
		if err := lockActiveUser(ctx, tx, *next.ProposedUserID, ErrCandidateInactive); err != nil {
			return nil, err
		}
	}

	const update = `UPDATE change_requests SET
	status = $3, proposed_user_id = $4, proposed_user_name = $5, manager_id = $6, manager_note = $7,
	version = $8, updated_at = $9, resolved_at = $10
	WHERE id = $1 AND status = $2 AND version = $11`
	res, err := tx.ExecContext(ctx, update,
		next.ID, params.ExpectedStatus, next.Status, next.ProposedUserID, next.ProposedUserName,
		next.ManagerID, next.ManagerNote, next.Version, next.UpdatedAt, next.ResolvedAt, params.ExpectedVersion)
	if err != nil {
		return nil, fmt.Errorf("update change request: %w", err)
	}
	if err := expectOneRow(res, ErrStaleRequest); err != nil {
		return nil, err
	}

	ev := models.NewTransitionEvent(next, params.ExpectedStatus, params.Action, params.ActorID)
	if err := insertEvent(ctx, tx, &ev, params.Now); err != nil {
		return nil, err
	}
	return &ev, nil
}

// lockActiveUser holds a share lock on an active user row until the transaction ends.
func lockActiveUser(ctx context.Context, tx *sqlx.Tx, userID string, missing error) error {
	var id string
	err := tx.GetContext(ctx, &id, `SELECT id FROM users WHERE id = $1 AND active = TRUE FOR SHARE`, userID)
	if err == sql.ErrNoRows {
		return missing
	}
	if err != nil {
		return fmt.Errorf("lock user %s: %w", userID, err)
	}
	return nil
}

func expectOneRow(res sql.Result, sentinel error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel
	}
	return nil
}
