package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/turnos-api/internal/models"
)

// ShiftMutation is the conditional shift write an event requires.
type ShiftMutation struct {
	ShiftID  string
	From     models.ShiftStatus
	To       models.ShiftStatus
	NewOwner *models.CandidateRef
}

// ReactionPlan is everything the reactor commits for one event.
type ReactionPlan struct {
	EventID       string
	Shift         *ShiftMutation
	FollowUp      *TransitionParams
	Notifications []models.Notification
	Now           time.Time
}

// ReactionOutcome reports what Apply actually wrote.
type ReactionOutcome struct {
	ShiftChanged  bool
	Shift         *models.Shift
	FollowUp      *models.ChangeRequestEvent
	Notifications []models.Notification
}

// ReactionRepository commits reactor effects atomically with the event claim.
type ReactionRepository struct {
	db *sqlx.DB
}

// NewReactionRepository constructs the repository.
func NewReactionRepository(db *sqlx.DB) *ReactionRepository {
	return &ReactionRepository{db: db}
}

// Apply claims the event and applies the plan in one transaction. ErrEventClaimed means the
// event was processed before; ErrShiftStateMismatch means the shift moved outside the workflow.
func (r *ReactionRepository) Apply(ctx context.Context, plan ReactionPlan) (outcome *ReactionOutcome, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const claim = `UPDATE change_request_events SET processed_at = $2 WHERE id = $1 AND processed_at IS NULL`
	res, err := tx.ExecContext(ctx, claim, plan.EventID, plan.Now)
	if err != nil {
		return nil, fmt.Errorf("claim event: %w", err)
	}
	if err = expectOneRow(res, ErrEventClaimed); err != nil {
		return nil, err
	}

	outcome = &ReactionOutcome{}
	if plan.Shift != nil {
		outcome.Shift, outcome.ShiftChanged, err = mutateShift(ctx, tx, *plan.Shift, plan.Now)
		if err != nil {
			return nil, err
		}
	}

	if plan.FollowUp != nil {
		outcome.FollowUp, err = applyTransition(ctx, tx, *plan.FollowUp)
		if err != nil {
			return nil, err
		}
	}

	if len(plan.Notifications) > 0 {
		if err = insertNotifications(ctx, tx, plan.Notifications, plan.Now); err != nil {
			return nil, err
		}
		outcome.Notifications = plan.Notifications
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reaction: %w", err)
	}
	return outcome, nil
}

func mutateShift(ctx context.Context, tx *sqlx.Tx, m ShiftMutation, now time.Time) (*models.Shift, bool, error) {
	var shift models.Shift
	query := `SELECT ` + shiftColumns + ` FROM shifts WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &shift, query, m.ShiftID); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, fmt.Errorf("%w: shift %s missing", ErrShiftStateMismatch, m.ShiftID)
		}
		return nil, false, fmt.Errorf("lock shift: %w", err)
	}

	if shift.Status == m.To && (m.NewOwner == nil || shift.OwnerID() == m.NewOwner.UserID) {
		return &shift, false, nil
	}
	if shift.Status != m.From {
		return nil, false, fmt.Errorf("%w: shift %s is %s, expected %s", ErrShiftStateMismatch, m.ShiftID, shift.Status, m.From)
	}

	shift.Status = m.To
	shift.UpdatedAt = now
	if m.NewOwner != nil {
		owner := m.NewOwner.UserID
		shift.UserID = &owner
		shift.UserName = m.NewOwner.Name
		const reassign = `UPDATE shifts SET status = $2, user_id = $3, user_name = $4, updated_at = $5 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, reassign, shift.ID, shift.Status, owner, shift.UserName, now); err != nil {
			return nil, false, fmt.Errorf("reassign shift: %w", err)
		}
		return &shift, true, nil
	}

	const update = `UPDATE shifts SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, update, shift.ID, shift.Status, now); err != nil {
		return nil, false, fmt.Errorf("update shift status: %w", err)
	}
	return &shift, true, nil
}
