package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quotelane/quotelane-api/internal/models"
	"github.com/quotelane/quotelane-api/pkg/config"
)

type notificationStoreStub struct {
	mu       sync.Mutex
	created  []models.Notification
	failures int
	purged   []string
}

func (s *notificationStoreStub) Create(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("transient insert failure")
	}
	s.created = append(s.created, *n)
	return nil
}

func (s *notificationStoreStub) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.created {
		if n.UserID != filter.UserID {
			continue
		}
		if filter.UnreadOnly && n.Read {
			continue
		}
		out = append(out, n)
	}
	return out, len(out), nil
}

func (s *notificationStoreStub) MarkRead(ctx context.Context, userID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.created {
		if s.created[i].ID == notificationID && s.created[i].UserID == userID {
			s.created[i].Read = true
			return nil
		}
	}
	return errors.New("not found")
}

func (s *notificationStoreStub) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for i := range s.created {
		if s.created[i].UserID == userID && !s.created[i].Read {
			s.created[i].Read = true
			count++
		}
	}
	return count, nil
}

func (s *notificationStoreStub) UnreadCount(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.created {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (s *notificationStoreStub) MarkScheduledDelivered(ctx context.Context, now time.Time) ([]models.Notification, error) {
	return nil, nil
}

func (s *notificationStoreStub) PurgeUndeliveredReminders(ctx context.Context, userIDs []string, quotationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purged = append(s.purged, quotationID)
	return 1, nil
}

func (s *notificationStoreStub) snapshot() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Notification(nil), s.created...)
}

func newTestNotificationService(store *notificationStoreStub) *NotificationService {
	svc := NewNotificationService(store, config.NotificationsConfig{
		QueueWorkers:        1,
		QueueRetries:        3,
		QueueRetryDelay:     time.Millisecond,
		ReminderHoursBefore: []int{24, 2},
	}, nil)
	return svc
}

func awaitNotifications(t *testing.T, store *notificationStoreStub, want int) []models.Notification {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(store.snapshot()) == want
	}, 2*time.Second, 5*time.Millisecond)
	return store.snapshot()
}

func byUser(notifications []models.Notification) map[string][]models.Notification {
	out := make(map[string][]models.Notification)
	for _, n := range notifications {
		out[n.UserID] = append(out[n.UserID], n)
	}
	return out
}

func fanoutFixture() *models.Quotation {
	accepted := "quote-a"
	return &models.Quotation{
		ID:              "q-1",
		CustomerID:      "cust-1",
		Vehicle:         models.Vehicle{Make: "Skoda", Model: "Octavia", Year: 2019},
		Status:          models.QuotationStatusQuoted,
		AcceptedQuoteID: &accepted,
		Quotes: []models.Quote{
			{ID: "quote-a", WorkshopID: "ws-a", Status: models.QuoteStatusSubmitted, TotalAmount: 450},
			{ID: "quote-b", WorkshopID: "ws-b", Status: models.QuoteStatusSubmitted, TotalAmount: 500},
			{ID: "quote-c", WorkshopID: "ws-c", Status: models.QuoteStatusPending},
		},
	}
}

func TestNotifyQuoteSubmittedAddressesCustomerOnly(t *testing.T) {
	store := &notificationStoreStub{}
	svc := newTestNotificationService(store)
	svc.Start(context.Background())
	defer svc.Stop()

	q := fanoutFixture()
	svc.NotifyTransition(context.Background(), q, models.Transition{
		Event: models.EventQuoteSubmitted,
		Actor: models.RoleWorkshop,
		Quote: &q.Quotes[0],
	})

	created := awaitNotifications(t, store, 1)
	require.Equal(t, "cust-1", created[0].UserID)
	require.Equal(t, models.NotificationQuoteReceived, created[0].Type)
}

func TestNotifyQuoteAcceptedAddressesCustomerAndWinner(t *testing.T) {
	store := &notificationStoreStub{}
	svc := newTestNotificationService(store)
	svc.Start(context.Background())
	defer svc.Stop()

	q := fanoutFixture()
	q.Status = models.QuotationStatusAccepted
	q.Quotes[0].Status = models.QuoteStatusAccepted
	q.Quotes[1].Status = models.QuoteStatusDeclined

	svc.NotifyTransition(context.Background(), q, models.Transition{
		Event: models.EventQuoteAccepted,
		Actor: models.RoleCustomer,
		Quote: &q.Quotes[0],
	})

	created := byUser(awaitNotifications(t, store, 2))
	require.Len(t, created["cust-1"], 1)
	require.Len(t, created["ws-a"], 1)
	// Declined workshops learn nothing from acceptance fan-out.
	require.Empty(t, created["ws-b"])
	require.Empty(t, created["ws-c"])
}

func TestNotifyCancelledAddressesOpenQuotes(t *testing.T) {
	store := &notificationStoreStub{}
	svc := newTestNotificationService(store)
	svc.Start(context.Background())
	defer svc.Stop()

	q := fanoutFixture()
	svc.NotifyTransition(context.Background(), q, models.Transition{
		Event:  models.EventCancelled,
		Actor:  models.RoleCustomer,
		Reason: "changed my mind",
	})

	created := byUser(awaitNotifications(t, store, 3))
	require.Len(t, created["ws-a"], 1)
	require.Len(t, created["ws-b"], 1)
	require.Len(t, created["ws-c"], 1)
	require.Contains(t, created["ws-a"][0].Message, "changed my mind")
}

func TestNotifyExpiredSkipsNonResponders(t *testing.T) {
	store := &notificationStoreStub{}
	svc := newTestNotificationService(store)
	svc.Start(context.Background())
	defer svc.Stop()

	q := fanoutFixture()
	svc.NotifyTransition(context.Background(), q, models.Transition{Event: models.EventExpired})

	created := byUser(awaitNotifications(t, store, 3))
	require.Len(t, created["cust-1"], 1)
	require.Len(t, created["ws-a"], 1)
	require.Len(t, created["ws-b"], 1)
	require.Empty(t, created["ws-c"])
}

func TestNotifyCompletedAddressesWinner(t *testing.T) {
	store := &notificationStoreStub{}
	svc := newTestNotificationService(store)
	svc.Start(context.Background())
	defer svc.Stop()

	q := fanoutFixture()
	svc.NotifyTransition(context.Background(), q, models.Transition{Event: models.EventCompleted})

	created := awaitNotifications(t, store, 1)
	require.Equal(t, "ws-a", created[0].UserID)
	require.Equal(t, models.NotificationServiceCompleted, created[0].Type)
}

func TestScheduleAppointmentRemindersSkipsPastOffsets(t *testing.T) {
	store := &notificationStoreStub{}
	svc := newTestNotificationService(store)
	svc.Start(context.Background())
	defer svc.Stop()

	q := fanoutFixture()
	// 4 hours out: the 24h offset is already past, only the 2h one fires,
	// once for the customer and once for the winning workshop.
	appointment := time.Now().Add(4 * time.Hour)
	svc.ScheduleAppointmentReminders(context.Background(), q, appointment)

	created := awaitNotifications(t, store, 2)
	for _, n := range created {
		require.Equal(t, models.NotificationAppointmentReminder, n.Type)
		require.NotNil(t, n.ScheduledFor)
		require.WithinDuration(t, appointment.Add(-2*time.Hour), *n.ScheduledFor, time.Minute)
	}
}

func TestPersistenceRetriesTransientFailures(t *testing.T) {
	store := &notificationStoreStub{failures: 2}
	svc := newTestNotificationService(store)
	svc.Start(context.Background())
	defer svc.Stop()

	q := fanoutFixture()
	svc.NotifyTransition(context.Background(), q, models.Transition{Event: models.EventCompleted})

	created := awaitNotifications(t, store, 1)
	require.Equal(t, "ws-a", created[0].UserID)
}

func TestCancelRemindersPurgesUndelivered(t *testing.T) {
	store := &notificationStoreStub{}
	svc := newTestNotificationService(store)

	q := fanoutFixture()
	svc.CancelReminders(context.Background(), q)
	require.Equal(t, []string{"q-1"}, store.purged)
}
