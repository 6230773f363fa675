package models

import (
	"time"

	"github.com/lib/pq"
)

// QuotationStatus captures the lifecycle of a quote request.
type QuotationStatus string

const (
	QuotationStatusPending   QuotationStatus = "PENDING"
	QuotationStatusQuoted    QuotationStatus = "QUOTED"
	QuotationStatusAccepted  QuotationStatus = "ACCEPTED"
	QuotationStatusDeclined  QuotationStatus = "DECLINED"
	QuotationStatusCompleted QuotationStatus = "COMPLETED"
	QuotationStatusCancelled QuotationStatus = "CANCELLED"
	QuotationStatusExpired   QuotationStatus = "EXPIRED"
)

// CompetitionOpen reports whether the request still accepts new or updated
// quotes. Everything outside PENDING/QUOTED is closed.
func (s QuotationStatus) CompetitionOpen() bool {
	return s == QuotationStatusPending || s == QuotationStatusQuoted
}

// QuoteStatus captures the per-workshop quote lifecycle. PENDING means
// invited but not yet responded and is only meaningful for targeted requests.
type QuoteStatus string

const (
	QuoteStatusPending   QuoteStatus = "PENDING"
	QuoteStatusSubmitted QuoteStatus = "SUBMITTED"
	QuoteStatusAccepted  QuoteStatus = "ACCEPTED"
	QuoteStatusDeclined  QuoteStatus = "DECLINED"
)

// QuotationPriority orders requests for workshop dashboards.
type QuotationPriority string

const (
	QuotationPriorityLow    QuotationPriority = "LOW"
	QuotationPriorityNormal QuotationPriority = "NORMAL"
	QuotationPriorityHigh   QuotationPriority = "HIGH"
)

// Vehicle describes the car a quote request is about.
type Vehicle struct {
	Make  string `db:"vehicle_make" json:"make"`
	Model string `db:"vehicle_model" json:"model"`
	Year  int    `db:"vehicle_year" json:"year"`
	Plate string `db:"vehicle_plate" json:"plate,omitempty"`
}

// Quotation is the aggregate root of the quote competition: one customer
// request broadcast to one or more workshops, holding their competing quotes.
type Quotation struct {
	ID         string `db:"id" json:"id"`
	CustomerID string `db:"customer_id" json:"customerId"`
	Vehicle

	DamageDescriptions pq.StringArray    `db:"damage_descriptions" json:"damageDescriptions"`
	RequestedServices  pq.StringArray    `db:"requested_services" json:"requestedServices"`
	Budget             *float64          `db:"budget" json:"budget,omitempty"`
	Timeline           *string           `db:"timeline" json:"timeline,omitempty"`
	Priority           QuotationPriority `db:"priority" json:"priority"`

	Status QuotationStatus `db:"status" json:"status"`

	// TargetWorkshops restricts who may quote. Empty means open to any
	// workshop.
	TargetWorkshops pq.StringArray `db:"target_workshops" json:"targetWorkshops,omitempty"`

	AcceptedQuoteID *string `db:"accepted_quote_id" json:"acceptedQuoteId,omitempty"`

	ViewCount     int `db:"view_count" json:"viewCount"`
	ResponseCount int `db:"response_count" json:"responseCount"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
	ExpiresAt time.Time `db:"expires_at" json:"expiresAt"`

	Quotes []Quote `db:"-" json:"quotes"`
}

// IsTargeted reports whether the request carries a workshop allow-list.
func (q *Quotation) IsTargeted() bool {
	return len(q.TargetWorkshops) > 0
}

// Invited reports whether a workshop may quote this request.
func (q *Quotation) Invited(workshopID string) bool {
	if !q.IsTargeted() {
		return true
	}
	for _, id := range q.TargetWorkshops {
		if id == workshopID {
			return true
		}
	}
	return false
}

// QuoteByID returns the embedded quote with the given id, or nil.
func (q *Quotation) QuoteByID(quoteID string) *Quote {
	for i := range q.Quotes {
		if q.Quotes[i].ID == quoteID {
			return &q.Quotes[i]
		}
	}
	return nil
}

// QuoteByWorkshop returns the quote submitted by the given workshop, or nil.
// At most one exists per request.
func (q *Quotation) QuoteByWorkshop(workshopID string) *Quote {
	for i := range q.Quotes {
		if q.Quotes[i].WorkshopID == workshopID {
			return &q.Quotes[i]
		}
	}
	return nil
}

// Quote is one workshop's priced response inside a Quotation. The contact
// fields are snapshots taken at submission time.
type Quote struct {
	ID          string      `db:"id" json:"id"`
	QuotationID string      `db:"quotation_id" json:"quotationId"`
	WorkshopID  string      `db:"workshop_id" json:"workshopId"`
	Status      QuoteStatus `db:"status" json:"status"`

	TotalAmount   float64 `db:"total_amount" json:"totalAmount"`
	LineItems     []byte  `db:"line_items" json:"lineItems,omitempty"`
	EstimatedDays int     `db:"estimated_days" json:"estimatedDays"`
	Note          *string `db:"note" json:"note,omitempty"`

	ContactPhone  string `db:"contact_phone" json:"contactPhone,omitempty"`
	ContactEmail  string `db:"contact_email" json:"contactEmail,omitempty"`
	ContactPerson string `db:"contact_person" json:"contactPerson,omitempty"`

	SubmittedAt time.Time `db:"submitted_at" json:"submittedAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// QuotationFilter constrains listing queries.
type QuotationFilter struct {
	CustomerID string
	WorkshopID string
	Status     []QuotationStatus
	Page       int
	PageSize   int
}

// TransitionEvent names the workflow transitions that trigger notification
// fan-out.
type TransitionEvent string

const (
	EventQuoteSubmitted TransitionEvent = "QUOTE_SUBMITTED"
	EventQuoteAccepted  TransitionEvent = "QUOTE_ACCEPTED"
	EventQuoteDeclined  TransitionEvent = "QUOTE_DECLINED"
	EventCancelled      TransitionEvent = "REQUEST_CANCELLED"
	EventExpired        TransitionEvent = "REQUEST_EXPIRED"
	EventCompleted      TransitionEvent = "SERVICE_COMPLETED"
)

// Transition describes an applied status change for fan-out purposes.
type Transition struct {
	Event TransitionEvent
	// Actor is the role that caused the transition. Workshops are not
	// notified about their own submissions.
	Actor  UserRole
	Quote  *Quote
	Reason string
}
