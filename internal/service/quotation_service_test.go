package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/quotelane/quotelane-api/internal/dto"
	"github.com/quotelane/quotelane-api/internal/models"
	"github.com/quotelane/quotelane-api/pkg/config"
	appErrors "github.com/quotelane/quotelane-api/pkg/errors"
)

type quotationStoreStub struct {
	quotations map[string]*models.Quotation
}

func newQuotationStoreStub() *quotationStoreStub {
	return &quotationStoreStub{quotations: make(map[string]*models.Quotation)}
}

func (s *quotationStoreStub) Create(ctx context.Context, q *models.Quotation) error {
	now := time.Now().UTC()
	for _, workshopID := range q.TargetWorkshops {
		q.Quotes = append(q.Quotes, models.Quote{
			ID:          uuid.NewString(),
			QuotationID: q.ID,
			WorkshopID:  workshopID,
			Status:      models.QuoteStatusPending,
			SubmittedAt: now,
		})
	}
	copy := *q
	copy.Quotes = append([]models.Quote(nil), q.Quotes...)
	s.quotations[q.ID] = &copy
	return nil
}

func (s *quotationStoreStub) GetByID(ctx context.Context, id string) (*models.Quotation, error) {
	q, ok := s.quotations[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *q
	copy.Quotes = append([]models.Quote(nil), q.Quotes...)
	return &copy, nil
}

func (s *quotationStoreStub) List(ctx context.Context, filter models.QuotationFilter) ([]models.Quotation, int, error) {
	var out []models.Quotation
	for _, q := range s.quotations {
		if filter.CustomerID != "" && q.CustomerID != filter.CustomerID {
			continue
		}
		if filter.WorkshopID != "" && !q.Invited(filter.WorkshopID) {
			continue
		}
		out = append(out, *q)
	}
	return out, len(out), nil
}

func (s *quotationStoreStub) IncrementViewCount(ctx context.Context, id string) error {
	if q, ok := s.quotations[id]; ok {
		q.ViewCount++
	}
	return nil
}

func (s *quotationStoreStub) UpsertQuote(ctx context.Context, quote *models.Quote) (bool, error) {
	q, ok := s.quotations[quote.QuotationID]
	if !ok {
		return false, sql.ErrNoRows
	}
	if !q.Status.CompetitionOpen() {
		return false, appErrors.ErrCompetitionClosed
	}
	existing := q.QuoteByWorkshop(quote.WorkshopID)
	if existing == nil && !q.Invited(quote.WorkshopID) {
		return false, appErrors.ErrNotInvited
	}

	now := time.Now().UTC()
	quote.Status = models.QuoteStatusSubmitted
	quote.UpdatedAt = now

	first := existing == nil || existing.Status == models.QuoteStatusPending
	if existing != nil {
		quote.ID = existing.ID
		quote.SubmittedAt = existing.SubmittedAt
		*existing = *quote
	} else {
		quote.ID = uuid.NewString()
		quote.SubmittedAt = now
		q.Quotes = append(q.Quotes, *quote)
	}
	if first {
		q.ResponseCount++
	}
	if q.Status == models.QuotationStatusPending {
		q.Status = models.QuotationStatusQuoted
	}
	return first, nil
}

func (s *quotationStoreStub) AcceptQuote(ctx context.Context, quotationID, quoteID string) (*models.Quotation, error) {
	q, ok := s.quotations[quotationID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if q.Status != models.QuotationStatusQuoted {
		if q.Status == models.QuotationStatusPending {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "request has no quotes to accept yet")
		}
		return nil, appErrors.ErrCompetitionClosed
	}
	winner := q.QuoteByID(quoteID)
	if winner == nil || winner.Status != models.QuoteStatusSubmitted {
		return nil, appErrors.ErrInvalidQuoteRef
	}

	q.Status = models.QuotationStatusAccepted
	q.AcceptedQuoteID = &winner.ID
	winner.Status = models.QuoteStatusAccepted
	for i := range q.Quotes {
		if q.Quotes[i].ID != quoteID && q.Quotes[i].Status == models.QuoteStatusSubmitted {
			q.Quotes[i].Status = models.QuoteStatusDeclined
		}
	}
	return s.GetByID(ctx, quotationID)
}

func (s *quotationStoreStub) DeclineQuote(ctx context.Context, quotationID, quoteID string) error {
	q, ok := s.quotations[quotationID]
	if !ok {
		return sql.ErrNoRows
	}
	if !q.Status.CompetitionOpen() {
		return appErrors.ErrCompetitionClosed
	}
	quote := q.QuoteByID(quoteID)
	if quote == nil || quote.Status == models.QuoteStatusDeclined {
		return appErrors.ErrInvalidQuoteRef
	}
	quote.Status = models.QuoteStatusDeclined
	return nil
}

func (s *quotationStoreStub) UpdateStatus(ctx context.Context, id string, to models.QuotationStatus, from ...models.QuotationStatus) error {
	q, ok := s.quotations[id]
	if !ok {
		return sql.ErrNoRows
	}
	for _, status := range from {
		if q.Status == status {
			q.Status = to
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrInvalidTransition, "cannot move request")
}

func (s *quotationStoreStub) ExpireOverdue(ctx context.Context, now time.Time) ([]models.Quotation, error) {
	var expired []models.Quotation
	for _, q := range s.quotations {
		if q.Status.CompetitionOpen() && !q.ExpiresAt.After(now) {
			q.Status = models.QuotationStatusExpired
			expired = append(expired, *q)
		}
	}
	return expired, nil
}

type idemStub struct {
	keys map[string]string
}

func newIdemStub() *idemStub {
	return &idemStub{keys: make(map[string]string)}
}

func (s *idemStub) Remember(ctx context.Context, userID, key, resourceID string) (string, bool, error) {
	if key == "" {
		return resourceID, true, nil
	}
	if existing, ok := s.keys[userID+":"+key]; ok {
		return existing, false, nil
	}
	s.keys[userID+":"+key] = resourceID
	return resourceID, true, nil
}

func (s *idemStub) Lookup(ctx context.Context, userID, key string) (string, bool, error) {
	existing, ok := s.keys[userID+":"+key]
	return existing, ok, nil
}

type notifierStub struct {
	transitions []models.Transition
	reminders   []time.Time
	cancelled   []string
}

func (n *notifierStub) NotifyTransition(ctx context.Context, q *models.Quotation, tr models.Transition) {
	n.transitions = append(n.transitions, tr)
}

func (n *notifierStub) ScheduleAppointmentReminders(ctx context.Context, q *models.Quotation, appointmentAt time.Time) {
	n.reminders = append(n.reminders, appointmentAt)
}

func (n *notifierStub) CancelReminders(ctx context.Context, q *models.Quotation) {
	n.cancelled = append(n.cancelled, q.ID)
}

func newTestQuotationService() (*QuotationService, *quotationStoreStub, *idemStub, *notifierStub) {
	store := newQuotationStoreStub()
	idem := newIdemStub()
	notifier := &notifierStub{}
	svc := NewQuotationService(store, idem, notifier, nil, nil, config.QuotationsConfig{
		DefaultExpiry: 7 * 24 * time.Hour,
	}, nil)
	return svc, store, idem, notifier
}

func createRequest(t *testing.T, svc *QuotationService, customerID string, targets []string) *models.Quotation {
	t.Helper()
	req := dto.CreateQuotationRequest{
		Vehicle: dto.VehiclePayload{
			Make:  gofakeit.CarMaker(),
			Model: gofakeit.CarModel(),
			Year:  2018,
		},
		DamageDescriptions: []string{"front bumper scratched"},
		TargetWorkshops:    targets,
	}
	q, created, err := svc.Create(context.Background(), customerID, "", req)
	require.NoError(t, err)
	require.True(t, created)
	return q
}

func submitQuote(t *testing.T, svc *QuotationService, quotationID, workshopID string, amount float64) {
	t.Helper()
	_, err := svc.SubmitQuote(context.Background(), quotationID, workshopID, dto.SubmitQuoteRequest{
		TotalAmount:  amount,
		ContactPhone: "555-0101",
	})
	require.NoError(t, err)
}

func TestCreateAppliesDefaultExpiryAndPlaceholders(t *testing.T) {
	svc, store, _, _ := newTestQuotationService()

	q := createRequest(t, svc, "cust-1", []string{"ws-a", "ws-b"})
	require.Equal(t, models.QuotationStatusPending, q.Status)
	require.WithinDuration(t, time.Now().Add(7*24*time.Hour), q.ExpiresAt, time.Minute)

	stored, err := store.GetByID(context.Background(), q.ID)
	require.NoError(t, err)
	require.Len(t, stored.Quotes, 2)
	for _, quote := range stored.Quotes {
		require.Equal(t, models.QuoteStatusPending, quote.Status)
	}
}

func TestCreateReplaysIdempotencyKey(t *testing.T) {
	svc, _, _, _ := newTestQuotationService()

	req := dto.CreateQuotationRequest{
		Vehicle:            dto.VehiclePayload{Make: "VW", Model: "Golf", Year: 2015},
		DamageDescriptions: []string{"dent in door"},
	}
	first, created, err := svc.Create(context.Background(), "cust-1", "key-1", req)
	require.NoError(t, err)
	require.True(t, created)

	replay, created, err := svc.Create(context.Background(), "cust-1", "key-1", req)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, replay.ID)
}

func TestCreateRejectsPastExpiry(t *testing.T) {
	svc, _, _, _ := newTestQuotationService()
	past := time.Now().Add(-time.Hour)
	_, _, err := svc.Create(context.Background(), "cust-1", "", dto.CreateQuotationRequest{
		Vehicle:            dto.VehiclePayload{Make: "VW", Model: "Golf", Year: 2015},
		DamageDescriptions: []string{"dent"},
		ExpiresAt:          &past,
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSubmitQuoteMovesRequestToQuotedAndNotifiesCustomer(t *testing.T) {
	svc, store, _, notifier := newTestQuotationService()
	q := createRequest(t, svc, "cust-1", nil)

	submitQuote(t, svc, q.ID, "ws-a", 450)

	stored, err := store.GetByID(context.Background(), q.ID)
	require.NoError(t, err)
	require.Equal(t, models.QuotationStatusQuoted, stored.Status)
	require.Equal(t, 1, stored.ResponseCount)

	require.Len(t, notifier.transitions, 1)
	require.Equal(t, models.EventQuoteSubmitted, notifier.transitions[0].Event)
	require.Equal(t, "ws-a", notifier.transitions[0].Quote.WorkshopID)
}

func TestSubmitQuoteRejectsUninvitedWorkshop(t *testing.T) {
	svc, _, _, _ := newTestQuotationService()
	q := createRequest(t, svc, "cust-1", []string{"ws-a"})

	_, err := svc.SubmitQuote(context.Background(), q.ID, "ws-intruder", dto.SubmitQuoteRequest{TotalAmount: 100})
	require.True(t, errors.Is(err, appErrors.ErrNotInvited))
}

func TestSubmitQuoteRejectsClosedCompetition(t *testing.T) {
	svc, store, _, _ := newTestQuotationService()
	q := createRequest(t, svc, "cust-1", nil)
	store.quotations[q.ID].Status = models.QuotationStatusCancelled

	_, err := svc.SubmitQuote(context.Background(), q.ID, "ws-a", dto.SubmitQuoteRequest{TotalAmount: 100})
	require.True(t, errors.Is(err, appErrors.ErrCompetitionClosed))
}

func TestResubmissionUpdatesQuoteInPlace(t *testing.T) {
	svc, store, _, _ := newTestQuotationService()
	q := createRequest(t, svc, "cust-1", nil)

	submitQuote(t, svc, q.ID, "ws-a", 450)
	submitQuote(t, svc, q.ID, "ws-a", 399)

	stored, err := store.GetByID(context.Background(), q.ID)
	require.NoError(t, err)
	require.Len(t, stored.Quotes, 1)
	require.Equal(t, 399.0, stored.Quotes[0].TotalAmount)
	require.Equal(t, 1, stored.ResponseCount)
}

func TestAcceptDeclinesLosersAndLeavesPendingUntouched(t *testing.T) {
	svc, store, _, notifier := newTestQuotationService()
	q := createRequest(t, svc, "cust-1", []string{"ws-a", "ws-b", "ws-c"})

	submitQuote(t, svc, q.ID, "ws-a", 450)
	submitQuote(t, svc, q.ID, "ws-b", 500)
	// ws-c never responds.

	stored, _ := store.GetByID(context.Background(), q.ID)
	winnerID := stored.QuoteByWorkshop("ws-a").ID

	customer := &models.User{ID: "cust-1", Role: models.RoleCustomer}
	appointment := time.Now().Add(48 * time.Hour)
	result, err := svc.Accept(context.Background(), q.ID, customer, winnerID, &appointment)
	require.NoError(t, err)

	require.Equal(t, models.QuotationStatusAccepted, result.Status)
	require.Equal(t, winnerID, *result.AcceptedQuoteID)
	require.Equal(t, models.QuoteStatusAccepted, result.QuoteByWorkshop("ws-a").Status)
	require.Equal(t, models.QuoteStatusDeclined, result.QuoteByWorkshop("ws-b").Status)
	require.Equal(t, models.QuoteStatusPending, result.QuoteByWorkshop("ws-c").Status)

	last := notifier.transitions[len(notifier.transitions)-1]
	require.Equal(t, models.EventQuoteAccepted, last.Event)
	require.Equal(t, "ws-a", last.Quote.WorkshopID)
	require.Len(t, notifier.reminders, 1)
}

func TestAcceptRejectsForeignQuoteID(t *testing.T) {
	svc, _, _, _ := newTestQuotationService()
	q := createRequest(t, svc, "cust-1", nil)
	submitQuote(t, svc, q.ID, "ws-a", 450)

	customer := &models.User{ID: "cust-1", Role: models.RoleCustomer}
	_, err := svc.Accept(context.Background(), q.ID, customer, "not-a-quote", nil)
	require.True(t, errors.Is(err, appErrors.ErrInvalidQuoteRef))
}

func TestAcceptTwiceFailsCompetitionClosed(t *testing.T) {
	svc, store, _, _ := newTestQuotationService()
	q := createRequest(t, svc, "cust-1", nil)
	submitQuote(t, svc, q.ID, "ws-a", 450)

	stored, _ := store.GetByID(context.Background(), q.ID)
	winnerID := stored.Quotes[0].ID

	customer := &models.User{ID: "cust-1", Role: models.RoleCustomer}
	_, err := svc.Accept(context.Background(), q.ID, customer, winnerID, nil)
	require.NoError(t, err)

	_, err = svc.Accept(context.Background(), q.ID, customer, winnerID, nil)
	require.True(t, errors.Is(err, appErrors.ErrCompetitionClosed))
}

func TestAcceptByNonOwnerForbidden(t *testing.T) {
	svc, store, _, _ := newTestQuotationService()
	q := createRequest(t, svc, "cust-1", nil)
	submitQuote(t, svc, q.ID, "ws-a", 450)
	stored, _ := store.GetByID(context.Background(), q.ID)

	other := &models.User{ID: "cust-2", Role: models.RoleCustomer}
	_, err := svc.Accept(context.Background(), q.ID, other, stored.Quotes[0].ID, nil)
	require.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestCancelOnlyFromOpenStates(t *testing.T) {
	svc, _, _, notifier := newTestQuotationService()
	q := createRequest(t, svc, "cust-1", nil)
	submitQuote(t, svc, q.ID, "ws-a", 450)

	customer := &models.User{ID: "cust-1", Role: models.RoleCustomer}
	result, err := svc.Cancel(context.Background(), q.ID, customer, "found a cheaper option")
	require.NoError(t, err)
	require.Equal(t, models.QuotationStatusCancelled, result.Status)

	last := notifier.transitions[len(notifier.transitions)-1]
	require.Equal(t, models.EventCancelled, last.Event)
	require.Equal(t, "found a cheaper option", last.Reason)

	// Once cancelled, cancelling again is an invalid transition.
	_, err = svc.Cancel(context.Background(), q.ID, customer, "")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestCompleteRequiresAcceptedState(t *testing.T) {
	svc, store, _, notifier := newTestQuotationService()
	q := createRequest(t, svc, "cust-1", nil)
	submitQuote(t, svc, q.ID, "ws-a", 450)
	customer := &models.User{ID: "cust-1", Role: models.RoleCustomer}

	_, err := svc.Complete(context.Background(), q.ID, customer)
	require.Error(t, err)

	stored, _ := store.GetByID(context.Background(), q.ID)
	_, err = svc.Accept(context.Background(), q.ID, customer, stored.Quotes[0].ID, nil)
	require.NoError(t, err)

	result, err := svc.Complete(context.Background(), q.ID, customer)
	require.NoError(t, err)
	require.Equal(t, models.QuotationStatusCompleted, result.Status)
	require.Equal(t, models.EventCompleted, notifier.transitions[len(notifier.transitions)-1].Event)
	require.Equal(t, []string{q.ID}, notifier.cancelled)
}

func TestGetScopesWorkshopToOwnQuote(t *testing.T) {
	svc, _, _, _ := newTestQuotationService()
	q := createRequest(t, svc, "cust-1", nil)
	submitQuote(t, svc, q.ID, "ws-a", 450)
	submitQuote(t, svc, q.ID, "ws-b", 500)

	viewer := &models.User{ID: "ws-a", Role: models.RoleWorkshop}
	result, err := svc.Get(context.Background(), q.ID, viewer)
	require.NoError(t, err)
	require.Len(t, result.Quotes, 1)
	require.Equal(t, "ws-a", result.Quotes[0].WorkshopID)
	require.Equal(t, 1, result.ViewCount)
}

func TestGetMasksContactWhileCompetitionOpen(t *testing.T) {
	svc, store, _, _ := newTestQuotationService()
	q := createRequest(t, svc, "cust-1", nil)
	submitQuote(t, svc, q.ID, "ws-a", 450)

	owner := &models.User{ID: "cust-1", Role: models.RoleCustomer}
	result, err := svc.Get(context.Background(), q.ID, owner)
	require.NoError(t, err)
	require.Equal(t, models.MaskedContact, result.Quotes[0].ContactPhone)

	// After acceptance the same read path reveals the winner's contact.
	stored, _ := store.GetByID(context.Background(), q.ID)
	_, err = svc.Accept(context.Background(), q.ID, owner, stored.Quotes[0].ID, nil)
	require.NoError(t, err)

	result, err = svc.Get(context.Background(), q.ID, owner)
	require.NoError(t, err)
	require.Equal(t, "555-0101", result.Quotes[0].ContactPhone)
}

func TestGetForbidsForeignCustomer(t *testing.T) {
	svc, _, _, _ := newTestQuotationService()
	q := createRequest(t, svc, "cust-1", nil)

	other := &models.User{ID: "cust-2", Role: models.RoleCustomer}
	_, err := svc.Get(context.Background(), q.ID, other)
	require.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestExpireOverdueNotifiesParties(t *testing.T) {
	svc, store, _, notifier := newTestQuotationService()
	q := createRequest(t, svc, "cust-1", nil)
	submitQuote(t, svc, q.ID, "ws-a", 450)
	store.quotations[q.ID].ExpiresAt = time.Now().Add(-time.Hour)

	count, err := svc.ExpireOverdue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	stored, _ := store.GetByID(context.Background(), q.ID)
	require.Equal(t, models.QuotationStatusExpired, stored.Status)
	require.Equal(t, models.EventExpired, notifier.transitions[len(notifier.transitions)-1].Event)
}

func TestUpdateDispatchesByRoleAndBody(t *testing.T) {
	svc, store, _, _ := newTestQuotationService()
	q := createRequest(t, svc, "cust-1", nil)

	workshop := &models.User{ID: "ws-a", Role: models.RoleWorkshop}
	_, err := svc.Update(context.Background(), q.ID, workshop, dto.UpdateQuotationRequest{
		Quote: &dto.SubmitQuoteRequest{TotalAmount: 300},
	})
	require.NoError(t, err)

	stored, _ := store.GetByID(context.Background(), q.ID)
	winnerID := stored.Quotes[0].ID

	customer := &models.User{ID: "cust-1", Role: models.RoleCustomer}
	result, err := svc.Update(context.Background(), q.ID, customer, dto.UpdateQuotationRequest{
		AcceptedQuoteID: &winnerID,
	})
	require.NoError(t, err)
	require.Equal(t, models.QuotationStatusAccepted, result.Status)

	// Workshops cannot accept.
	_, err = svc.Update(context.Background(), q.ID, workshop, dto.UpdateQuotationRequest{
		AcceptedQuoteID: &winnerID,
	})
	require.Error(t, err)
}
