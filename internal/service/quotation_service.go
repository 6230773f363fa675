package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quotelane/quotelane-api/internal/dto"
	"github.com/quotelane/quotelane-api/internal/models"
	"github.com/quotelane/quotelane-api/pkg/config"
	appErrors "github.com/quotelane/quotelane-api/pkg/errors"
)

type quotationStore interface {
	Create(ctx context.Context, q *models.Quotation) error
	GetByID(ctx context.Context, id string) (*models.Quotation, error)
	List(ctx context.Context, filter models.QuotationFilter) ([]models.Quotation, int, error)
	IncrementViewCount(ctx context.Context, id string) error
	UpsertQuote(ctx context.Context, quote *models.Quote) (bool, error)
	AcceptQuote(ctx context.Context, quotationID, quoteID string) (*models.Quotation, error)
	DeclineQuote(ctx context.Context, quotationID, quoteID string) error
	UpdateStatus(ctx context.Context, id string, to models.QuotationStatus, from ...models.QuotationStatus) error
	ExpireOverdue(ctx context.Context, now time.Time) ([]models.Quotation, error)
}

type idempotencyStore interface {
	Remember(ctx context.Context, userID, key, resourceID string) (string, bool, error)
	Lookup(ctx context.Context, userID, key string) (string, bool, error)
}

type transitionNotifier interface {
	NotifyTransition(ctx context.Context, q *models.Quotation, tr models.Transition)
	ScheduleAppointmentReminders(ctx context.Context, q *models.Quotation, appointmentAt time.Time)
	CancelReminders(ctx context.Context, q *models.Quotation)
}

// QuotationService runs the quote competition workflow: customers open
// requests, workshops submit quotes, the customer accepts exactly one. Status
// transitions are guarded in the store so concurrent actors cannot race past
// each other; this layer owns authorization, validation, fan-out and caching.
type QuotationService struct {
	store    quotationStore
	idem     idempotencyStore
	notifier transitionNotifier
	cache    *CacheService
	metrics  *MetricsService
	validate *validator.Validate
	logger   *zap.Logger
	cfg      config.QuotationsConfig
}

// NewQuotationService constructs the service.
func NewQuotationService(
	store quotationStore,
	idem idempotencyStore,
	notifier transitionNotifier,
	cache *CacheService,
	metrics *MetricsService,
	cfg config.QuotationsConfig,
	logger *zap.Logger,
) *QuotationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := validator.New()
	_ = v.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
		switch models.QuotationPriority(fl.Field().String()) {
		case models.QuotationPriorityLow, models.QuotationPriorityNormal, models.QuotationPriorityHigh:
			return true
		}
		return false
	})
	return &QuotationService{
		store:    store,
		idem:     idem,
		notifier: notifier,
		cache:    cache,
		metrics:  metrics,
		validate: v,
		logger:   logger,
		cfg:      cfg,
	}
}

func quotationCacheKey(id string) string {
	return "quotations:detail:" + id
}

// Create opens a new quote competition. When the caller supplies an
// idempotency key, a replayed request returns the originally created request
// instead of opening a second competition.
func (s *QuotationService) Create(ctx context.Context, customerID, idemKey string, req dto.CreateQuotationRequest) (*models.Quotation, bool, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.cfg.DefaultExpiry)
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			return nil, false, appErrors.Clone(appErrors.ErrValidation, "expiresAt must be in the future")
		}
		expiresAt = req.ExpiresAt.UTC()
	}

	q := &models.Quotation{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Vehicle: models.Vehicle{
			Make:  req.Vehicle.Make,
			Model: req.Vehicle.Model,
			Year:  req.Vehicle.Year,
			Plate: req.Vehicle.Plate,
		},
		DamageDescriptions: req.DamageDescriptions,
		RequestedServices:  req.RequestedServices,
		Budget:             req.Budget,
		Priority:           models.QuotationPriority(req.Priority),
		Status:             models.QuotationStatusPending,
		TargetWorkshops:    req.TargetWorkshops,
		ExpiresAt:          expiresAt,
	}
	if req.Timeline != "" {
		q.Timeline = &req.Timeline
	}
	if q.Priority == "" {
		q.Priority = models.QuotationPriorityNormal
	}

	winnerID, claimed, err := s.idem.Remember(ctx, customerID, idemKey, q.ID)
	if err != nil {
		return nil, false, err
	}
	if !claimed {
		existing, err := s.store.GetByID(ctx, winnerID)
		if err != nil {
			return nil, false, fmt.Errorf("load idempotent quotation: %w", err)
		}
		return existing, false, nil
	}

	if err := s.store.Create(ctx, q); err != nil {
		return nil, false, err
	}
	if s.metrics != nil {
		s.metrics.RecordQuotationEvent("created")
	}
	s.logger.Info("quotation created",
		zap.String("quotation_id", q.ID),
		zap.String("customer_id", customerID),
		zap.Int("invited_workshops", len(q.TargetWorkshops)))
	return q, true, nil
}

// Get loads a request for a viewer, enforcing role scoping and the contact
// privacy gate. Workshop viewers see only their own quote and count as a view.
func (s *QuotationService) Get(ctx context.Context, id string, viewer *models.User) (*models.Quotation, error) {
	q, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeView(q, viewer); err != nil {
		return nil, err
	}

	if viewer.Role == models.RoleWorkshop {
		if err := s.store.IncrementViewCount(ctx, id); err != nil {
			s.logger.Warn("increment view count", zap.String("quotation_id", id), zap.Error(err))
		} else {
			q.ViewCount++
		}
	}

	return s.scopeForViewer(q, viewer), nil
}

// List returns request summaries visible to the viewer: customers see their
// own requests, workshops see open-market requests plus their invitations,
// admins see everything.
func (s *QuotationService) List(ctx context.Context, viewer *models.User, query dto.QuotationQuery) ([]models.Quotation, *models.Pagination, error) {
	filter := models.QuotationFilter{
		Status:   query.Status,
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	switch viewer.Role {
	case models.RoleCustomer:
		filter.CustomerID = viewer.ID
	case models.RoleWorkshop:
		filter.WorkshopID = viewer.ID
	case models.RoleAdmin:
	default:
		return nil, nil, appErrors.ErrForbidden
	}

	start := time.Now()
	rows, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("quotations_list", time.Since(start))
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	pagination := &models.Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}
	return rows, pagination, nil
}

// Update is the single mutation entry point, dispatched on the caller's role
// and the fields present in the body.
func (s *QuotationService) Update(ctx context.Context, id string, viewer *models.User, req dto.UpdateQuotationRequest) (*models.Quotation, error) {
	switch {
	case viewer.Role == models.RoleWorkshop:
		if req.Quote == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "workshops may only submit quotes")
		}
		return s.SubmitQuote(ctx, id, viewer.ID, *req.Quote)

	case viewer.Role == models.RoleCustomer || viewer.Role == models.RoleAdmin:
		switch {
		case req.AcceptedQuoteID != nil:
			return s.Accept(ctx, id, viewer, *req.AcceptedQuoteID, req.AppointmentAt)
		case req.DeclinedQuoteID != nil:
			return s.Decline(ctx, id, viewer, *req.DeclinedQuoteID, req.Reason)
		case req.Status != nil && *req.Status == models.QuotationStatusCancelled:
			return s.Cancel(ctx, id, viewer, req.Reason)
		case req.Status != nil && *req.Status == models.QuotationStatusCompleted:
			return s.Complete(ctx, id, viewer)
		default:
			return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported update")
		}

	default:
		return nil, appErrors.ErrForbidden
	}
}

// SubmitQuote records or revises a workshop's quote. The competition-open and
// invitation guards are enforced atomically in the store.
func (s *QuotationService) SubmitQuote(ctx context.Context, quotationID, workshopID string, req dto.SubmitQuoteRequest) (*models.Quotation, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	quote := &models.Quote{
		QuotationID:   quotationID,
		WorkshopID:    workshopID,
		TotalAmount:   req.TotalAmount,
		LineItems:     req.LineItems,
		EstimatedDays: req.EstimatedDays,
		ContactPhone:  req.ContactPhone,
		ContactEmail:  req.ContactEmail,
		ContactPerson: req.ContactPerson,
	}
	if req.Note != "" {
		quote.Note = &req.Note
	}

	firstSubmission, err := s.store.UpsertQuote(ctx, quote)
	if err != nil {
		return nil, s.mapStoreError(err)
	}
	s.invalidate(ctx, quotationID)

	q, err := s.store.GetByID(ctx, quotationID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordQuotationEvent("quote_submitted")
	}
	s.logger.Info("quote submitted",
		zap.String("quotation_id", quotationID),
		zap.String("workshop_id", workshopID),
		zap.Bool("first_submission", firstSubmission))

	s.notifier.NotifyTransition(ctx, q, models.Transition{
		Event: models.EventQuoteSubmitted,
		Actor: models.RoleWorkshop,
		Quote: q.QuoteByWorkshop(workshopID),
	})
	return s.scopeForViewer(q, &models.User{ID: workshopID, Role: models.RoleWorkshop}), nil
}

// Accept picks the winning quote. The store flips the request, the winner and
// every losing submitted quote in one transaction; on success the customer and
// winning workshop are notified and optional appointment reminders scheduled.
func (s *QuotationService) Accept(ctx context.Context, quotationID string, viewer *models.User, quoteID string, appointmentAt *time.Time) (*models.Quotation, error) {
	if err := s.authorizeOwner(ctx, quotationID, viewer); err != nil {
		return nil, err
	}
	if appointmentAt != nil && !appointmentAt.After(time.Now().UTC()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "appointmentAt must be in the future")
	}

	q, err := s.store.AcceptQuote(ctx, quotationID, quoteID)
	if err != nil {
		return nil, s.mapStoreError(err)
	}
	s.invalidate(ctx, quotationID)
	if s.metrics != nil {
		s.metrics.RecordQuotationEvent("quote_accepted")
	}

	winner := q.QuoteByID(quoteID)
	s.logger.Info("quote accepted",
		zap.String("quotation_id", quotationID),
		zap.String("quote_id", quoteID))

	s.notifier.NotifyTransition(ctx, q, models.Transition{
		Event: models.EventQuoteAccepted,
		Actor: viewer.Role,
		Quote: winner,
	})
	if appointmentAt != nil {
		s.notifier.ScheduleAppointmentReminders(ctx, q, appointmentAt.UTC())
	}
	return s.scopeForViewer(q, viewer), nil
}

// Decline rejects a single quote while keeping the competition open.
func (s *QuotationService) Decline(ctx context.Context, quotationID string, viewer *models.User, quoteID, reason string) (*models.Quotation, error) {
	if err := s.authorizeOwner(ctx, quotationID, viewer); err != nil {
		return nil, err
	}

	if err := s.store.DeclineQuote(ctx, quotationID, quoteID); err != nil {
		return nil, s.mapStoreError(err)
	}
	s.invalidate(ctx, quotationID)

	q, err := s.store.GetByID(ctx, quotationID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordQuotationEvent("quote_declined")
	}
	s.notifier.NotifyTransition(ctx, q, models.Transition{
		Event:  models.EventQuoteDeclined,
		Actor:  viewer.Role,
		Quote:  q.QuoteByID(quoteID),
		Reason: reason,
	})
	return s.scopeForViewer(q, viewer), nil
}

// Cancel withdraws an open request. Workshops that quoted or were invited are
// told the competition is over.
func (s *QuotationService) Cancel(ctx context.Context, quotationID string, viewer *models.User, reason string) (*models.Quotation, error) {
	if err := s.authorizeOwner(ctx, quotationID, viewer); err != nil {
		return nil, err
	}

	err := s.store.UpdateStatus(ctx, quotationID, models.QuotationStatusCancelled,
		models.QuotationStatusPending, models.QuotationStatusQuoted)
	if err != nil {
		return nil, s.mapStoreError(err)
	}
	s.invalidate(ctx, quotationID)

	q, err := s.store.GetByID(ctx, quotationID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordQuotationEvent("cancelled")
	}
	s.notifier.NotifyTransition(ctx, q, models.Transition{
		Event:  models.EventCancelled,
		Actor:  viewer.Role,
		Reason: reason,
	})
	return s.scopeForViewer(q, viewer), nil
}

// Complete marks the accepted repair as done and stops pending reminders.
func (s *QuotationService) Complete(ctx context.Context, quotationID string, viewer *models.User) (*models.Quotation, error) {
	if err := s.authorizeOwner(ctx, quotationID, viewer); err != nil {
		return nil, err
	}

	err := s.store.UpdateStatus(ctx, quotationID, models.QuotationStatusCompleted,
		models.QuotationStatusAccepted)
	if err != nil {
		return nil, s.mapStoreError(err)
	}
	s.invalidate(ctx, quotationID)

	q, err := s.store.GetByID(ctx, quotationID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordQuotationEvent("completed")
	}
	s.notifier.NotifyTransition(ctx, q, models.Transition{
		Event: models.EventCompleted,
		Actor: viewer.Role,
	})
	s.notifier.CancelReminders(ctx, q)
	return s.scopeForViewer(q, viewer), nil
}

// ExpireOverdue sweeps open requests past their deadline and notifies the
// affected parties. Returns the number of expired requests.
func (s *QuotationService) ExpireOverdue(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireOverdue(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	for i := range expired {
		s.invalidate(ctx, expired[i].ID)
		q, err := s.store.GetByID(ctx, expired[i].ID)
		if err != nil {
			s.logger.Error("load expired quotation", zap.String("quotation_id", expired[i].ID), zap.Error(err))
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordQuotationEvent("expired")
		}
		s.notifier.NotifyTransition(ctx, q, models.Transition{Event: models.EventExpired})
	}
	return len(expired), nil
}

// RunExpirySweeper periodically expires overdue requests until the context is
// cancelled. Intended to run as a background goroutine.
func (s *QuotationService) RunExpirySweeper(ctx context.Context) {
	interval := s.cfg.ExpirySweepInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.ExpireOverdue(ctx)
			if err != nil {
				s.logger.Error("expiry sweep", zap.Error(err))
				continue
			}
			if count > 0 {
				s.logger.Info("expired overdue quotations", zap.Int("count", count))
			}
		}
	}
}

func (s *QuotationService) load(ctx context.Context, id string) (*models.Quotation, error) {
	var cached models.Quotation
	if s.cache.Enabled() {
		if hit, err := s.cache.Get(ctx, quotationCacheKey(id), &cached); err == nil && hit {
			return &cached, nil
		}
	}
	start := time.Now()
	q, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, s.mapStoreError(err)
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("quotation_detail", time.Since(start))
	}
	if s.cache.Enabled() {
		_ = s.cache.Set(ctx, quotationCacheKey(id), q, s.cfg.CacheTTL)
	}
	return q, nil
}

func (s *QuotationService) invalidate(ctx context.Context, id string) {
	if s.cache.Enabled() {
		_ = s.cache.Invalidate(ctx, quotationCacheKey(id))
	}
}

func (s *QuotationService) authorizeView(q *models.Quotation, viewer *models.User) error {
	switch viewer.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleCustomer:
		if q.CustomerID != viewer.ID {
			return appErrors.ErrForbidden
		}
		return nil
	case models.RoleWorkshop:
		if !q.Invited(viewer.ID) {
			return appErrors.ErrForbidden
		}
		return nil
	default:
		return appErrors.ErrForbidden
	}
}

// authorizeOwner ensures the viewer may mutate the request: the owning
// customer, or an admin.
func (s *QuotationService) authorizeOwner(ctx context.Context, id string, viewer *models.User) error {
	if viewer.Role == models.RoleAdmin {
		return nil
	}
	if viewer.Role != models.RoleCustomer {
		return appErrors.ErrForbidden
	}
	q, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if q.CustomerID != viewer.ID {
		return appErrors.ErrForbidden
	}
	return nil
}

// scopeForViewer returns a copy trimmed to what the viewer may see: workshops
// get only their own quote, and contact snapshots pass the privacy gate.
func (s *QuotationService) scopeForViewer(q *models.Quotation, viewer *models.User) *models.Quotation {
	scoped := *q
	scoped.Quotes = make([]models.Quote, 0, len(q.Quotes))
	for i := range q.Quotes {
		quote := q.Quotes[i]
		if viewer.Role == models.RoleWorkshop && quote.WorkshopID != viewer.ID {
			continue
		}
		models.RedactQuoteContact(scoped.Status, &quote, viewer.Role)
		scoped.Quotes = append(scoped.Quotes, quote)
	}
	return &scoped
}

func (s *QuotationService) mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "quote request not found")
	}
	return err
}
