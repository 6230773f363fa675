package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quotelane/quotelane-api/internal/models"
	"github.com/quotelane/quotelane-api/pkg/config"
	"github.com/quotelane/quotelane-api/pkg/jobs"
)

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkScheduledDelivered(ctx context.Context, now time.Time) ([]models.Notification, error)
	PurgeUndeliveredReminders(ctx context.Context, userIDs []string, quotationID string) (int64, error)
}

// NotificationService fans workflow transitions out into per-user inbox
// messages. Persistence runs through a background queue: a failing insert is
// retried a few times and then dropped with an error log, it never fails the
// transition that triggered it.
type NotificationService struct {
	store           notificationStore
	queue           *jobs.Queue[models.Notification]
	logger          *zap.Logger
	reminderOffsets []int
	cleanupInterval time.Duration
}

// NewNotificationService constructs the service and its persistence queue.
func NewNotificationService(store notificationStore, cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{
		store:           store,
		logger:          logger,
		reminderOffsets: cfg.ReminderHoursBefore,
		cleanupInterval: cfg.CleanupInterval,
	}
	svc.queue = jobs.NewQueue[models.Notification]("notifications", svc.persist, jobs.QueueConfig{
		Workers:    cfg.QueueWorkers,
		MaxRetries: cfg.QueueRetries,
		RetryDelay: cfg.QueueRetryDelay,
		Logger:     logger,
	})
	return svc
}

// Start launches the persistence workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the persistence workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

func (s *NotificationService) persist(ctx context.Context, job jobs.Job[models.Notification]) error {
	n := job.Payload
	return s.store.Create(ctx, &n)
}

// NotifyTransition translates an applied workflow transition into addressed
// notifications. The recipient set depends on both the event and the actor:
// a workshop is never told about its own submission, and on acceptance only
// the customer and the winning workshop hear about it.
func (s *NotificationService) NotifyTransition(ctx context.Context, q *models.Quotation, tr models.Transition) {
	vehicle := fmt.Sprintf("%s %s", q.Make, q.Model)
	var out []models.Notification

	switch tr.Event {
	case models.EventQuoteSubmitted:
		if tr.Quote == nil {
			s.logger.Error("quote submitted transition without quote", zap.String("quotation_id", q.ID))
			return
		}
		out = append(out, s.build(q, tr.Quote, q.CustomerID, models.NotificationQuoteReceived,
			"New quote received",
			fmt.Sprintf("A workshop quoted %.2f for your %s.", tr.Quote.TotalAmount, vehicle)))

	case models.EventQuoteAccepted:
		if tr.Quote == nil {
			s.logger.Error("quote accepted transition without quote", zap.String("quotation_id", q.ID))
			return
		}
		out = append(out,
			s.build(q, tr.Quote, q.CustomerID, models.NotificationQuoteAccepted,
				"Quote accepted",
				fmt.Sprintf("You accepted a quote of %.2f for your %s. The workshop's contact details are now visible.", tr.Quote.TotalAmount, vehicle)),
			s.build(q, tr.Quote, tr.Quote.WorkshopID, models.NotificationQuoteAccepted,
				"Your quote won",
				fmt.Sprintf("Your quote of %.2f for the %s was accepted. The customer's contact details are now visible.", tr.Quote.TotalAmount, vehicle)))

	case models.EventQuoteDeclined:
		if tr.Quote == nil {
			s.logger.Error("quote declined transition without quote", zap.String("quotation_id", q.ID))
			return
		}
		msg := fmt.Sprintf("Your quote for the %s was declined.", vehicle)
		if tr.Reason != "" {
			msg = fmt.Sprintf("%s Reason: %s", msg, tr.Reason)
		}
		out = append(out, s.build(q, tr.Quote, tr.Quote.WorkshopID, models.NotificationQuoteDeclined,
			"Quote declined", msg))

	case models.EventCancelled:
		msg := fmt.Sprintf("The quote request for the %s was cancelled by the customer.", vehicle)
		if tr.Reason != "" {
			msg = fmt.Sprintf("%s Reason: %s", msg, tr.Reason)
		}
		for i := range q.Quotes {
			quote := &q.Quotes[i]
			if quote.Status != models.QuoteStatusSubmitted && quote.Status != models.QuoteStatusPending {
				continue
			}
			out = append(out, s.build(q, quote, quote.WorkshopID, models.NotificationRequestCancelled,
				"Request cancelled", msg))
		}

	case models.EventExpired:
		out = append(out, s.build(q, nil, q.CustomerID, models.NotificationRequestExpired,
			"Request expired",
			fmt.Sprintf("Your quote request for the %s expired without an accepted quote.", vehicle)))
		for i := range q.Quotes {
			quote := &q.Quotes[i]
			if quote.Status != models.QuoteStatusSubmitted {
				continue
			}
			out = append(out, s.build(q, quote, quote.WorkshopID, models.NotificationRequestExpired,
				"Request expired",
				fmt.Sprintf("The quote request for the %s expired before the customer decided.", vehicle)))
		}

	case models.EventCompleted:
		winner := q.QuoteByID(stringValue(q.AcceptedQuoteID))
		if winner == nil {
			s.logger.Error("completed transition without accepted quote", zap.String("quotation_id", q.ID))
			return
		}
		out = append(out, s.build(q, winner, winner.WorkshopID, models.NotificationServiceCompleted,
			"Service completed",
			fmt.Sprintf("The customer marked the %s repair as completed.", vehicle)))

	default:
		s.logger.Error("unhandled transition event", zap.String("event", string(tr.Event)))
		return
	}

	for _, n := range out {
		s.enqueue(n)
	}
}

// ScheduleAppointmentReminders records reminders for the customer and winning
// workshop at each configured offset before the appointment. Offsets already
// in the past are skipped.
func (s *NotificationService) ScheduleAppointmentReminders(ctx context.Context, q *models.Quotation, appointmentAt time.Time) {
	winner := q.QuoteByID(stringValue(q.AcceptedQuoteID))
	if winner == nil {
		s.logger.Error("appointment reminders requested without accepted quote", zap.String("quotation_id", q.ID))
		return
	}
	now := time.Now().UTC()
	vehicle := fmt.Sprintf("%s %s", q.Make, q.Model)

	for _, hours := range s.reminderOffsets {
		fireAt := appointmentAt.Add(-time.Duration(hours) * time.Hour).UTC()
		if !fireAt.After(now) {
			continue
		}
		msg := fmt.Sprintf("Appointment for the %s repair is in %d hours.", vehicle, hours)
		for _, userID := range []string{q.CustomerID, winner.WorkshopID} {
			n := s.build(q, winner, userID, models.NotificationAppointmentReminder, "Appointment reminder", msg)
			fire := fireAt
			n.ScheduledFor = &fire
			s.enqueue(n)
		}
	}
}

// CancelReminders drops undelivered appointment reminders for the request,
// for example after a completed or cancelled appointment.
func (s *NotificationService) CancelReminders(ctx context.Context, q *models.Quotation) {
	userIDs := []string{q.CustomerID}
	if winner := q.QuoteByID(stringValue(q.AcceptedQuoteID)); winner != nil {
		userIDs = append(userIDs, winner.WorkshopID)
	}
	purged, err := s.store.PurgeUndeliveredReminders(ctx, userIDs, q.ID)
	if err != nil {
		s.logger.Error("purge reminders", zap.String("quotation_id", q.ID), zap.Error(err))
		return
	}
	if purged > 0 {
		s.logger.Info("purged pending reminders", zap.String("quotation_id", q.ID), zap.Int64("count", purged))
	}
}

// Inbox returns a user's delivered notifications.
func (s *NotificationService) Inbox(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	return s.store.List(ctx, filter)
}

// MarkRead flags one notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	return s.store.MarkRead(ctx, userID, notificationID)
}

// MarkAllRead flags a user's whole inbox as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.store.MarkAllRead(ctx, userID)
}

// UnreadCount returns the unread badge count.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}

// RunReminderScheduler periodically promotes due reminders into inboxes until
// the context is cancelled. Intended to run as a background goroutine.
func (s *NotificationService) RunReminderScheduler(ctx context.Context) {
	interval := s.cleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			delivered, err := s.store.MarkScheduledDelivered(ctx, time.Now().UTC())
			if err != nil {
				s.logger.Error("deliver scheduled reminders", zap.Error(err))
				continue
			}
			if len(delivered) > 0 {
				s.logger.Info("delivered scheduled reminders", zap.Int("count", len(delivered)))
			}
		}
	}
}

func (s *NotificationService) build(q *models.Quotation, quote *models.Quote, userID string, typ models.NotificationType, title, message string) models.Notification {
	payload := map[string]string{"quotationId": q.ID}
	if quote != nil {
		payload["quoteId"] = quote.ID
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data = nil
	}
	return models.Notification{
		ID:      uuid.NewString(),
		UserID:  userID,
		Type:    typ,
		Title:   title,
		Message: message,
		Data:    data,
	}
}

func (s *NotificationService) enqueue(n models.Notification) {
	err := s.queue.Enqueue(jobs.Job[models.Notification]{ID: n.ID, Payload: n})
	if err != nil {
		s.logger.Error("enqueue notification",
			zap.String("notification_id", n.ID),
			zap.String("user_id", n.UserID),
			zap.Error(err))
	}
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
