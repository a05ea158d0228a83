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

const userColumns = `id, email, password_hash, full_name, role, active, created_at, updated_at`

// UserRepository provides database access for the restaurant roster.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1) LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// List returns users matching the filter in stable roster order.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, error) {
	var conditions []string
	var args []interface{}

	if filter.Role != nil {
		args = append(args, *filter.Role)
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)))
	}

	query := `SELECT ` + userColumns + ` FROM users`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY full_name ASC, id ASC"

	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, email, password_hash, full_name, role, active, created_at, updated_at) VALUES (:id, :email, :password_hash, :full_name, :role, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// DeactivationResult reports what a deactivation changed.
type DeactivationResult struct {
	User            models.User
	ClearedShiftIDs []string
	Notifications   []models.Notification
}

// NotifyFunc builds notifications from the outcome of a write, inside the same transaction.
type NotifyFunc func(result DeactivationResult) []models.Notification

// Deactivate marks the user inactive, releases every settled shift starting after now and
// stores the notifications built by notify in one transaction. The user row stays locked
// until commit so no request can be opened or proposed for the user meanwhile.
func (r *UserRepository) Deactivate(ctx context.Context, id string, now time.Time, notify NotifyFunc) (result *DeactivationResult, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin deactivation: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked string
	if err = tx.GetContext(ctx, &locked, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock user: %w", err)
	}

	var busy int
	const busyQuery = `SELECT COUNT(*) FROM change_requests
WHERE status NOT IN ('APROBADO_GERENTE', 'RECHAZADO_GERENTE') AND (requester_id = $1 OR proposed_user_id = $1)`
	if err = tx.GetContext(ctx, &busy, busyQuery, id); err != nil {
		return nil, fmt.Errorf("count active requests: %w", err)
	}
	if busy > 0 {
		err = ErrUserHasActiveRequests
		return nil, err
	}

	var user models.User
	updateUser := `UPDATE users SET active = FALSE, updated_at = $2 WHERE id = $1 AND active = TRUE RETURNING ` + userColumns
	if err = tx.GetContext(ctx, &user, updateUser, id, now); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("deactivate user: %w", err)
	}

	var cleared []string
	const releaseShifts = `UPDATE shifts SET user_id = NULL, user_name = '', status = $3, updated_at = $2
WHERE user_id = $1 AND starts_at > $2 AND status IN ($4, $5) RETURNING id`
	if err = tx.SelectContext(ctx, &cleared, releaseShifts, id, now, models.ShiftStatusUnassigned,
		models.ShiftStatusConfirmed, models.ShiftStatusChangeApproved); err != nil {
		return nil, fmt.Errorf("release future shifts: %w", err)
	}

	result = &DeactivationResult{User: user, ClearedShiftIDs: cleared}
	if notify != nil {
		result.Notifications = notify(*result)
		if err = insertNotifications(ctx, tx, result.Notifications, now); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit deactivation: %w", err)
	}
	return result, nil
}
