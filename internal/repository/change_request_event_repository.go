package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/turnos-api/internal/models"
)

const eventColumns = `id, request_id, shift_id, version, from_status, to_status, action, actor_id, requester_id,
       requester_name, proposed_user_id, proposed_user_name, manager_id, note, attempts, last_error, created_at, processed_at`

// ChangeRequestEventRepository reads and bookkeeps the transition outbox.
type ChangeRequestEventRepository struct {
	db *sqlx.DB
}

// NewChangeRequestEventRepository constructs the repository.
func NewChangeRequestEventRepository(db *sqlx.DB) *ChangeRequestEventRepository {
	return &ChangeRequestEventRepository{db: db}
}

// GetByID fetches one event.
func (r *ChangeRequestEventRepository) GetByID(ctx context.Context, id string) (*models.ChangeRequestEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM change_request_events WHERE id = $1`
	var ev models.ChangeRequestEvent
	if err := r.db.GetContext(ctx, &ev, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get change request event: %w", err)
	}
	return &ev, nil
}

// ListPending returns unprocessed events below the attempt ceiling in commit order.
func (r *ChangeRequestEventRepository) ListPending(ctx context.Context, maxAttempts, limit int) ([]models.ChangeRequestEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + eventColumns + ` FROM change_request_events
	WHERE processed_at IS NULL AND attempts < $1 ORDER BY created_at ASC, version ASC LIMIT $2`
	var events []models.ChangeRequestEvent
	if err := r.db.SelectContext(ctx, &events, query, maxAttempts, limit); err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	return events, nil
}

// ListPendingBefore returns unprocessed events of a request with a lower version, in version order.
func (r *ChangeRequestEventRepository) ListPendingBefore(ctx context.Context, requestID string, version int) ([]models.ChangeRequestEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM change_request_events
	WHERE request_id = $1 AND version < $2 AND processed_at IS NULL ORDER BY version ASC`
	var events []models.ChangeRequestEvent
	if err := r.db.SelectContext(ctx, &events, query, requestID, version); err != nil {
		return nil, fmt.Errorf("list earlier events: %w", err)
	}
	return events, nil
}

// ListFailed returns unprocessed events that exhausted their attempts.
func (r *ChangeRequestEventRepository) ListFailed(ctx context.Context, maxAttempts, limit int) ([]models.ChangeRequestEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + eventColumns + ` FROM change_request_events
	WHERE processed_at IS NULL AND attempts >= $1 ORDER BY created_at ASC LIMIT $2`
	var events []models.ChangeRequestEvent
	if err := r.db.SelectContext(ctx, &events, query, maxAttempts, limit); err != nil {
		return nil, fmt.Errorf("list failed events: %w", err)
	}
	return events, nil
}

// RecordFailure increments the attempt counter and stores the last error.
func (r *ChangeRequestEventRepository) RecordFailure(ctx context.Context, id string, cause string) (int, error) {
	const query = `UPDATE change_request_events SET attempts = attempts + 1, last_error = $2
	WHERE id = $1 AND processed_at IS NULL RETURNING attempts`
	var attempts int
	if err := r.db.GetContext(ctx, &attempts, query, id, cause); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrEventClaimed
		}
		return 0, fmt.Errorf("record event failure: %w", err)
	}
	return attempts, nil
}

// ResetAttempts clears the failure bookkeeping so an operator can retry an event.
func (r *ChangeRequestEventRepository) ResetAttempts(ctx context.Context, id string) error {
	const query = `UPDATE change_request_events SET attempts = 0, last_error = NULL WHERE id = $1 AND processed_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("reset event attempts: %w", err)
	}
	return expectOneRow(res, sql.ErrNoRows)
}

func insertEvent(ctx context.Context, tx *sqlx.Tx, ev *models.ChangeRequestEvent, now time.Time) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.CreatedAt = now
	const query = `INSERT INTO change_request_events
	(id, request_id, shift_id, version, from_status, to_status, action, actor_id, requester_id, requester_name,
	 proposed_user_id, proposed_user_name, manager_id, note, attempts, created_at)
	VALUES (:id, :request_id, :shift_id, :version, :from_status, :to_status, :action, :actor_id, :requester_id, :requester_name,
	 :proposed_user_id, :proposed_user_name, :manager_id, :note, 0, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, ev); err != nil {
		return fmt.Errorf("insert change request event: %w", err)
	}
	return nil
}
