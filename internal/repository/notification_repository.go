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

const notificationColumns = `id, user_id, title, message, severity, requires_confirmation, read, acknowledged_at, request_id, created_at`

// NotificationRepository stores per-user workflow notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// List returns notifications for a user, newest first, plus the unread count.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1`
	if filter.UnreadOnly {
		query += " AND read = FALSE"
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d", limit, offset)

	var items []models.Notification
	if err := r.db.SelectContext(ctx, &items, query, filter.UserID); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	var unread int
	if err := r.db.GetContext(ctx, &unread, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = FALSE`, filter.UserID); err != nil {
		return nil, 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return items, unread, nil
}

// MarkRead flips the read flag of a notification owned by userID.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string) (*models.Notification, error) {
	query := `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2 RETURNING ` + notificationColumns
	var n models.Notification
	if err := r.db.GetContext(ctx, &n, query, id, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return &n, nil
}

// Acknowledge records the confirmation of a notification that requires one. Acknowledging also reads it.
func (r *NotificationRepository) Acknowledge(ctx context.Context, id, userID string, at time.Time) (*models.Notification, error) {
	query := `UPDATE notifications SET read = TRUE, acknowledged_at = COALESCE(acknowledged_at, $3)
	WHERE id = $1 AND user_id = $2 AND requires_confirmation = TRUE RETURNING ` + notificationColumns
	var n models.Notification
	if err := r.db.GetContext(ctx, &n, query, id, userID, at); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("acknowledge notification: %w", err)
	}
	return &n, nil
}

func insertNotifications(ctx context.Context, tx *sqlx.Tx, items []models.Notification, now time.Time) error {
	const query = `INSERT INTO notifications (id, user_id, title, message, severity, requires_confirmation, read, acknowledged_at, request_id, created_at)
	VALUES (:id, :user_id, :title, :message, :severity, :requires_confirmation, :read, :acknowledged_at, :request_id, :created_at)`
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		if items[i].Severity == "" {
			items[i].Severity = models.SeverityInfo
		}
		items[i].CreatedAt = now
		if _, err := tx.NamedExecContext(ctx, query, &items[i]); err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
	}
	return nil
}
