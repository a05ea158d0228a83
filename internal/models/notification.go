package models

import "time"

// NotificationSeverity drives how the client renders a notification.
type NotificationSeverity string

const (
	SeverityInfo    NotificationSeverity = "info"
	SeveritySuccess NotificationSeverity = "success"
	SeverityWarning NotificationSeverity = "warning"
	SeverityError   NotificationSeverity = "error"
)

// Notification is an append-only message addressed to one user.
type Notification struct {
	ID                   string               `db:"id" json:"id"`
	UserID               string               `db:"user_id" json:"user_id"`
	Title                string               `db:"title" json:"title"`
	Message              string               `db:"message" json:"message"`
	Severity             NotificationSeverity `db:"severity" json:"severity"`
	RequiresConfirmation bool                 `db:"requires_confirmation" json:"requires_confirmation"`
	Read                 bool                 `db:"read" json:"read"`
	AcknowledgedAt       *time.Time           `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	RequestID            *string              `db:"request_id" json:"request_id,omitempty"`
	CreatedAt            time.Time            `db:"created_at" json:"created_at"`
}

// NotificationFilter constrains notification listing.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Limit      int
	Offset     int
}
