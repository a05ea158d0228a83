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

const shiftColumns = `id, user_id, user_name, role, starts_at, ends_at, shift_type, status, notes, created_at, updated_at`

// ShiftRepository persists scheduled shifts.
type ShiftRepository struct {
	db *sqlx.DB
}

// NewShiftRepository constructs the repository.
func NewShiftRepository(db *sqlx.DB) *ShiftRepository {
	return &ShiftRepository{db: db}
}

// GetByID fetches a shift by identifier.
func (r *ShiftRepository) GetByID(ctx context.Context, id string) (*models.Shift, error) {
	query := `SELECT ` + shiftColumns + ` FROM shifts WHERE id = $1`
	var shift models.Shift
	if err := r.db.GetContext(ctx, &shift, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get shift: %w", err)
	}
	return &shift, nil
}

// List returns shifts intersecting [From, To) ordered by start time.
func (r *ShiftRepository) List(ctx context.Context, filter models.ShiftFilter) ([]models.Shift, error) {
	args := make([]interface{}, 0, 4)
	conditions := make([]string, 0, 4)

	inList := func(column string, values []string) {
		placeholders := make([]string, len(values))
		for i, v := range values {
			args = append(args, v)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ",")))
	}
	if len(filter.IDs) > 0 {
		inList("id", filter.IDs)
	}
	if len(filter.UserIDs) > 0 {
		inList("user_id", filter.UserIDs)
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("ends_at > $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("starts_at < $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			statuses[i] = string(status)
		}
		inList("status", statuses)
	}

	query := `SELECT ` + shiftColumns + ` FROM shifts`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY starts_at ASC, id ASC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var shifts []models.Shift
	if err := r.db.SelectContext(ctx, &shifts, query, args...); err != nil {
		return nil, fmt.Errorf("list shifts: %w", err)
	}
	return shifts, nil
}

// CreateBatch publishes shifts atomically; a single failure discards the whole batch.
func (r *ShiftRepository) CreateBatch(ctx context.Context, shifts []*models.Shift) (err error) {
	if len(shifts) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin shift batch: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	const query = `INSERT INTO shifts (id, user_id, user_name, role, starts_at, ends_at, shift_type, status, notes, created_at, updated_at)
VALUES (:id, :user_id, :user_name, :role, :starts_at, :ends_at, :shift_type, :status, :notes, :created_at, :updated_at)`
	for _, shift := range shifts {
		if shift.ID == "" {
			shift.ID = uuid.NewString()
		}
		if shift.Status == "" {
			shift.Status = models.ShiftStatusConfirmed
		}
		shift.CreatedAt = now
		shift.UpdatedAt = now
		if _, err = tx.NamedExecContext(ctx, query, shift); err != nil {
			return fmt.Errorf("insert shift: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit shift batch: %w", err)
	}
	return nil
}
