package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/noah-isme/turnos-api/internal/models"
	appErrors "github.com/noah-isme/turnos-api/pkg/errors"
)

type notificationStore interface {
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id, userID string) (*models.Notification, error)
	Acknowledge(ctx context.Context, id, userID string, at time.Time) (*models.Notification, error)
}

// NotificationList is a page of notifications with the unread total.
type NotificationList struct {
	Items  []models.Notification `json:"items"`
	Unread int                   `json:"unread"`
}

// NotificationService exposes a user's notification inbox.
type NotificationService struct {
	repo notificationStore
	now  func() time.Time
}

// NewNotificationService constructs the service.
func NewNotificationService(repo notificationStore) *NotificationService {
	return &NotificationService{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// List returns the caller's notifications.
func (s *NotificationService) List(ctx context.Context, actor *models.JWTClaims, unreadOnly bool, limit, offset int) (*NotificationList, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	items, unread, err := s.repo.List(ctx, models.NotificationFilter{UserID: actor.UserID, UnreadOnly: unreadOnly, Limit: limit, Offset: offset})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return &NotificationList{Items: items, Unread: unread}, nil
}

// MarkRead flips the read flag on one of the caller's notifications.
func (s *NotificationService) MarkRead(ctx context.Context, actor *models.JWTClaims, id string) (*models.Notification, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	n, err := s.repo.MarkRead(ctx, id, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update notification")
	}
	return n, nil
}

// Acknowledge confirms a notification that requires confirmation.
func (s *NotificationService) Acknowledge(ctx context.Context, actor *models.JWTClaims, id string) (*models.Notification, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	n, err := s.repo.Acknowledge(ctx, id, actor.UserID, s.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "notification not found or does not require confirmation")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acknowledge notification")
	}
	return n, nil
}
