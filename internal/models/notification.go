package models

import "time"

// NotificationType classifies persisted messages.
type NotificationType string

const (
	NotificationQuoteReceived       NotificationType = "QUOTE_RECEIVED"
	NotificationQuoteAccepted       NotificationType = "QUOTE_ACCEPTED"
	NotificationQuoteDeclined       NotificationType = "QUOTE_DECLINED"
	NotificationRequestCancelled    NotificationType = "REQUEST_CANCELLED"
	NotificationRequestExpired      NotificationType = "REQUEST_EXPIRED"
	NotificationServiceCompleted    NotificationType = "SERVICE_COMPLETED"
	NotificationAppointmentReminder NotificationType = "APPOINTMENT_REMINDER"
)

// Notification is one addressed message document. ScheduledFor is set only on
// appointment reminders; DeliveredAt records when a scheduled message reached
// its recipient's inbox.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"userId"`
	Type      NotificationType `db:"type" json:"type"`
	Title     string           `db:"title" json:"title"`
	Message   string           `db:"message" json:"message"`
	Data      []byte           `db:"data" json:"data,omitempty"`
	Read      bool             `db:"read" json:"read"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`

	ScheduledFor *time.Time `db:"scheduled_for" json:"scheduledFor,omitempty"`
	DeliveredAt  *time.Time `db:"delivered_at" json:"-"`
}

// NotificationFilter constrains inbox queries.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Limit      int
	Offset     int
}
