package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/quotelane/quotelane-api/internal/models"
)

// NotificationRepository persists fan-out messages and the per-user inbox.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts one notification. Immediate messages carry no schedule and
// are considered delivered on insert.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.ScheduledFor == nil && n.DeliveredAt == nil {
		n.DeliveredAt = &now
	}

	const query = `INSERT INTO notifications
	(id, user_id, type, title, message, data, read, created_at, scheduled_for, delivered_at)
	VALUES (:id, :user_id, :type, :title, :message, :data, :read, :created_at, :scheduled_for, :delivered_at)`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// List returns a user's delivered notifications, newest first.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	where := `WHERE user_id = $1 AND delivered_at IS NOT NULL`
	args := []interface{}{filter.UserID}
	if filter.UnreadOnly {
		where += ` AND read = FALSE`
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM notifications `+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT id, user_id, type, title, message, data, read, created_at, scheduled_for, delivered_at
		FROM notifications %s ORDER BY created_at DESC LIMIT %d OFFSET %d`, where, limit, filter.Offset)

	var rows []models.Notification
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	return rows, total, nil
}

// MarkRead flags a single notification as read, scoped to its owner.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, notificationID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification read rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("notification %s not found for user", notificationID)
	}
	return nil
}

// MarkAllRead flags every delivered notification of a user as read.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE user_id = $1 AND read = FALSE AND delivered_at IS NOT NULL`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read rows: %w", err)
	}
	return rows, nil
}

// UnreadCount returns the number of unread delivered notifications.
func (r *NotificationRepository) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = FALSE AND delivered_at IS NOT NULL`, userID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkScheduledDelivered promotes due appointment reminders into the inbox and
// returns them for logging.
func (r *NotificationRepository) MarkScheduledDelivered(ctx context.Context, now time.Time) ([]models.Notification, error) {
	const query = `UPDATE notifications SET delivered_at = $1
		WHERE scheduled_for IS NOT NULL AND scheduled_for <= $1 AND delivered_at IS NULL
		RETURNING id, user_id, type, title, message, data, read, created_at, scheduled_for, delivered_at`

	var delivered []models.Notification
	if err := r.db.SelectContext(ctx, &delivered, query, now.UTC()); err != nil {
		return nil, fmt.Errorf("deliver scheduled notifications: %w", err)
	}
	return delivered, nil
}

// PurgeUndeliveredReminders drops scheduled reminders that should no longer
// fire, e.g. after a cancellation of the underlying appointment.
func (r *NotificationRepository) PurgeUndeliveredReminders(ctx context.Context, userIDs []string, quotationID string) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	const query = `DELETE FROM notifications
		WHERE type = $1 AND delivered_at IS NULL AND user_id = ANY($2) AND data::jsonb ->> 'quotationId' = $3`
	res, err := r.db.ExecContext(ctx, query, models.NotificationAppointmentReminder, pq.Array(userIDs), quotationID)
	if err != nil {
		return 0, fmt.Errorf("purge undelivered reminders: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge undelivered reminders rows: %w", err)
	}
	return rows, nil
}
