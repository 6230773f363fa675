package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/quotelane/quotelane-api/internal/models"
	appErrors "github.com/quotelane/quotelane-api/pkg/errors"
)

const quotationColumns = `id, customer_id, vehicle_make, vehicle_model, vehicle_year, vehicle_plate,
       damage_descriptions, requested_services, budget, timeline, priority, status,
       target_workshops, accepted_quote_id, view_count, response_count,
       created_at, updated_at, expires_at`

const quoteColumns = `id, quotation_id, workshop_id, status, total_amount, line_items,
       estimated_days, note, contact_phone, contact_email, contact_person,
       submitted_at, updated_at`

// QuotationRepository persists the quote competition aggregate. Quotes live in
// their own table with a partial unique index guaranteeing at most one
// accepted quote per request; all multi-row mutations run inside a single
// transaction so the transition guard is evaluated atomically with the write.
type QuotationRepository struct {
	db *sqlx.DB
}

// NewQuotationRepository constructs the repository.
func NewQuotationRepository(db *sqlx.DB) *QuotationRepository {
	return &QuotationRepository{db: db}
}

// Create inserts the request and, for targeted requests, one PENDING
// placeholder quote per invited workshop.
func (r *QuotationRepository) Create(ctx context.Context, q *models.Quotation) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	q.UpdatedAt = now
	if q.Status == "" {
		q.Status = models.QuotationStatusPending
	}
	if q.Priority == "" {
		q.Priority = models.QuotationPriorityNormal
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create quotation: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertRequest = `INSERT INTO quote_requests
	(id, customer_id, vehicle_make, vehicle_model, vehicle_year, vehicle_plate,
	 damage_descriptions, requested_services, budget, timeline, priority, status,
	 target_workshops, view_count, response_count, created_at, updated_at, expires_at)
	VALUES (:id, :customer_id, :vehicle_make, :vehicle_model, :vehicle_year, :vehicle_plate,
	 :damage_descriptions, :requested_services, :budget, :timeline, :priority, :status,
	 :target_workshops, :view_count, :response_count, :created_at, :updated_at, :expires_at)`
	if _, err := tx.NamedExecContext(ctx, insertRequest, q); err != nil {
		return fmt.Errorf("create quotation: %w", err)
	}

	q.Quotes = q.Quotes[:0]
	for _, workshopID := range q.TargetWorkshops {
		placeholder := models.Quote{
			ID:          uuid.NewString(),
			QuotationID: q.ID,
			WorkshopID:  workshopID,
			Status:      models.QuoteStatusPending,
			SubmittedAt: now,
			UpdatedAt:   now,
		}
		const insertPlaceholder = `INSERT INTO quotes
		(id, quotation_id, workshop_id, status, total_amount, estimated_days, submitted_at, updated_at)
		VALUES (:id, :quotation_id, :workshop_id, :status, :total_amount, :estimated_days, :submitted_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, insertPlaceholder, placeholder); err != nil {
			return fmt.Errorf("create invited quote placeholder: %w", err)
		}
		q.Quotes = append(q.Quotes, placeholder)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create quotation: %w", err)
	}
	return nil
}

// GetByID fetches the aggregate with its quotes in arrival order.
func (r *QuotationRepository) GetByID(ctx context.Context, id string) (*models.Quotation, error) {
	var q models.Quotation
	query := fmt.Sprintf(`SELECT %s FROM quote_requests WHERE id = $1`, quotationColumns)
	if err := r.db.GetContext(ctx, &q, query, id); err != nil {
		return nil, err
	}

	quotesQuery := fmt.Sprintf(`SELECT %s FROM quotes WHERE quotation_id = $1 ORDER BY submitted_at, id`, quoteColumns)
	if err := r.db.SelectContext(ctx, &q.Quotes, quotesQuery, id); err != nil {
		return nil, fmt.Errorf("load quotes: %w", err)
	}
	return &q, nil
}

// List returns quotation summaries (without embedded quotes) matching the
// filter, latest first, plus the total count.
func (r *QuotationRepository) List(ctx context.Context, filter models.QuotationFilter) ([]models.Quotation, int, error) {
	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)

	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.WorkshopID != "" {
		args = append(args, filter.WorkshopID)
		conditions = append(conditions, fmt.Sprintf(
			"(target_workshops IS NULL OR cardinality(target_workshops) = 0 OR $%d = ANY(target_workshops))", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM quote_requests"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count quotations: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	query := fmt.Sprintf("SELECT %s FROM quote_requests%s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		quotationColumns, where, pageSize, (page-1)*pageSize)

	var rows []models.Quotation
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list quotations: %w", err)
	}
	return rows, total, nil
}

// IncrementViewCount bumps the request view counter.
func (r *QuotationRepository) IncrementViewCount(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE quote_requests SET view_count = view_count + 1 WHERE id = $1`, id); err != nil {
		return fmt.Errorf("increment view count: %w", err)
	}
	return nil
}

// UpsertQuote applies a workshop submission: a new quote is appended, a
// repeated submission updates the existing row in place. The open-competition
// and invite guards run inside the same transaction as the write, against a
// locked parent row, so a concurrent accept cannot slip between check and
// mutation. Returns whether this was the workshop's first submission.
func (r *QuotationRepository) UpsertQuote(ctx context.Context, quote *models.Quote) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin submit quote: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var parent struct {
		Status          models.QuotationStatus `db:"status"`
		TargetWorkshops pq.StringArray         `db:"target_workshops"`
	}
	if err := tx.GetContext(ctx, &parent,
		`SELECT status, target_workshops FROM quote_requests WHERE id = $1 FOR UPDATE`, quote.QuotationID); err != nil {
		return false, err
	}
	if !parent.Status.CompetitionOpen() {
		return false, appErrors.ErrCompetitionClosed
	}

	var existing struct {
		ID     string             `db:"id"`
		Status models.QuoteStatus `db:"status"`
	}
	err = tx.GetContext(ctx, &existing,
		`SELECT id, status FROM quotes WHERE quotation_id = $1 AND workshop_id = $2`,
		quote.QuotationID, quote.WorkshopID)
	hasExisting := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("lookup existing quote: %w", err)
	}

	if !hasExisting && len(parent.TargetWorkshops) > 0 {
		invited := false
		for _, id := range parent.TargetWorkshops {
			if id == quote.WorkshopID {
				invited = true
				break
			}
		}
		if !invited {
			return false, appErrors.ErrNotInvited
		}
	}

	now := time.Now().UTC()
	quote.Status = models.QuoteStatusSubmitted
	quote.UpdatedAt = now

	firstSubmission := !hasExisting || existing.Status == models.QuoteStatusPending

	if hasExisting {
		quote.ID = existing.ID
		const update = `UPDATE quotes SET
			status = :status, total_amount = :total_amount, line_items = :line_items,
			estimated_days = :estimated_days, note = :note,
			contact_phone = :contact_phone, contact_email = :contact_email, contact_person = :contact_person,
			updated_at = :updated_at
		WHERE id = :id`
		if _, err := tx.NamedExecContext(ctx, update, quote); err != nil {
			return false, fmt.Errorf("update quote: %w", err)
		}
	} else {
		if quote.ID == "" {
			quote.ID = uuid.NewString()
		}
		quote.SubmittedAt = now
		const insert = `INSERT INTO quotes
		(id, quotation_id, workshop_id, status, total_amount, line_items, estimated_days, note,
		 contact_phone, contact_email, contact_person, submitted_at, updated_at)
		VALUES (:id, :quotation_id, :workshop_id, :status, :total_amount, :line_items, :estimated_days, :note,
		 :contact_phone, :contact_email, :contact_person, :submitted_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, insert, quote); err != nil {
			return false, fmt.Errorf("insert quote: %w", err)
		}
	}

	increment := 0
	if firstSubmission {
		increment = 1
	}
	const bumpParent = `UPDATE quote_requests SET
		status = CASE WHEN status = 'PENDING' THEN 'QUOTED' ELSE status END,
		response_count = response_count + $2,
		updated_at = $3
	WHERE id = $1`
	if _, err := tx.ExecContext(ctx, bumpParent, quote.QuotationID, increment, now); err != nil {
		return false, fmt.Errorf("update parent status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit submit quote: %w", err)
	}
	return firstSubmission, nil
}

// AcceptQuote atomically picks the winner: the parent flips QUOTED→ACCEPTED,
// the chosen quote becomes ACCEPTED and every other SUBMITTED quote is
// declined in the same transaction. PENDING placeholders are left untouched.
// A stale or foreign quote id rolls the whole operation back.
func (r *QuotationRepository) AcceptQuote(ctx context.Context, quotationID, quoteID string) (*models.Quotation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin accept quote: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE quote_requests SET status = 'ACCEPTED', accepted_quote_id = $2, updated_at = $3
		 WHERE id = $1 AND status = 'QUOTED'`,
		quotationID, quoteID, now)
	if err != nil {
		return nil, fmt.Errorf("accept quotation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("accept quotation rows: %w", err)
	}
	if rows == 0 {
		var status models.QuotationStatus
		if err := tx.GetContext(ctx, &status, `SELECT status FROM quote_requests WHERE id = $1`, quotationID); err != nil {
			return nil, err
		}
		if status == models.QuotationStatusPending {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "request has no quotes to accept yet")
		}
		return nil, appErrors.ErrCompetitionClosed
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE quotes SET status = 'ACCEPTED', updated_at = $3
		 WHERE id = $2 AND quotation_id = $1 AND status = 'SUBMITTED'`,
		quotationID, quoteID, now)
	if err != nil {
		return nil, fmt.Errorf("accept quote: %w", err)
	}
	rows, err = res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("accept quote rows: %w", err)
	}
	if rows == 0 {
		return nil, appErrors.ErrInvalidQuoteRef
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE quotes SET status = 'DECLINED', updated_at = $3
		 WHERE quotation_id = $1 AND id <> $2 AND status = 'SUBMITTED'`,
		quotationID, quoteID, now); err != nil {
		return nil, fmt.Errorf("decline losing quotes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit accept quote: %w", err)
	}
	return r.GetByID(ctx, quotationID)
}

// DeclineQuote declines a single quote while the competition stays open.
func (r *QuotationRepository) DeclineQuote(ctx context.Context, quotationID, quoteID string) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE quotes q SET status = 'DECLINED', updated_at = $3
		 FROM quote_requests r
		 WHERE q.id = $2 AND q.quotation_id = $1 AND r.id = q.quotation_id
		   AND r.status IN ('PENDING', 'QUOTED') AND q.status IN ('PENDING', 'SUBMITTED')`,
		quotationID, quoteID, now)
	if err != nil {
		return fmt.Errorf("decline quote: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decline quote rows: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var status models.QuotationStatus
	if err := r.db.GetContext(ctx, &status, `SELECT status FROM quote_requests WHERE id = $1`, quotationID); err != nil {
		return err
	}
	if !status.CompetitionOpen() {
		return appErrors.ErrCompetitionClosed
	}
	return appErrors.ErrInvalidQuoteRef
}

// UpdateStatus applies a guarded parent transition. The allowed source states
// are part of the UPDATE predicate; zero affected rows means the transition
// raced or was illegal.
func (r *QuotationRepository) UpdateStatus(ctx context.Context, id string, to models.QuotationStatus, from ...models.QuotationStatus) error {
	if len(from) == 0 {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "missing source states")
	}
	args := []interface{}{id, to, time.Now().UTC()}
	placeholders := make([]string, len(from))
	for i, status := range from {
		args = append(args, status)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}
	query := fmt.Sprintf(
		`UPDATE quote_requests SET status = $2, updated_at = $3 WHERE id = $1 AND status IN (%s)`,
		strings.Join(placeholders, ","))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update quotation status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update quotation status rows: %w", err)
	}
	if rows == 0 {
		var current models.QuotationStatus
		if err := r.db.GetContext(ctx, &current, `SELECT status FROM quote_requests WHERE id = $1`, id); err != nil {
			return err
		}
		return appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot move request from %s to %s", current, to))
	}
	return nil
}

// ExpireOverdue flips every open request past its deadline to EXPIRED and
// returns the affected rows for notification fan-out.
func (r *QuotationRepository) ExpireOverdue(ctx context.Context, now time.Time) ([]models.Quotation, error) {
	query := fmt.Sprintf(`UPDATE quote_requests SET status = 'EXPIRED', updated_at = $1
		 WHERE status IN ('PENDING', 'QUOTED') AND expires_at <= $1
		 RETURNING %s`, quotationColumns)

	var expired []models.Quotation
	if err := r.db.SelectContext(ctx, &expired, query, now.UTC()); err != nil {
		return nil, fmt.Errorf("expire overdue quotations: %w", err)
	}
	return expired, nil
}
