package dto

import (
	"encoding/json"
	"time"

	"github.com/quotelane/quotelane-api/internal/models"
)

// VehiclePayload mirrors the vehicle block of a quote request.
type VehiclePayload struct {
	ID    string `json:"id"`
	Make  string `json:"make" validate:"required"`
	Model string `json:"model" validate:"required"`
	Year  int    `json:"year" validate:"required,gte=1950"`
	Plate string `json:"plate"`
}

// CreateQuotationRequest is the customer payload opening a quote competition.
type CreateQuotationRequest struct {
	Vehicle            VehiclePayload `json:"vehicle" validate:"required"`
	DamageDescriptions []string       `json:"damageDescriptions" validate:"required,min=1,dive,min=1"`
	RequestedServices  []string       `json:"requestedServices"`
	Budget             *float64       `json:"budget" validate:"omitempty,gt=0"`
	Timeline           string         `json:"timeline"`
	Priority           string         `json:"priority" validate:"omitempty,priority"`
	TargetWorkshops    []string       `json:"targetWorkshops"`
	ExpiresAt          *time.Time     `json:"expiresAt"`
}

// SubmitQuoteRequest is one workshop's priced response. Re-submission updates
// the existing quote in place.
type SubmitQuoteRequest struct {
	TotalAmount   float64         `json:"totalAmount" validate:"required,gt=0"`
	LineItems     json.RawMessage `json:"lineItems"`
	EstimatedDays int             `json:"estimatedDays" validate:"omitempty,gte=0"`
	Note          string          `json:"note"`
	ContactPhone  string          `json:"contactPhone"`
	ContactEmail  string          `json:"contactEmail" validate:"omitempty,email"`
	ContactPerson string          `json:"contactPerson"`
}

// UpdateQuotationRequest is the polymorphic PUT body. Workshops submit a
// quote; customers accept, decline a quote, cancel, or mark completion.
type UpdateQuotationRequest struct {
	Status          *models.QuotationStatus `json:"status"`
	AcceptedQuoteID *string                 `json:"acceptedQuoteId"`
	DeclinedQuoteID *string                 `json:"declinedQuoteId"`
	Reason          string                  `json:"reason"`
	AppointmentAt   *time.Time              `json:"appointmentAt"`
	Quote           *SubmitQuoteRequest     `json:"quote"`
}

// QuotationQuery mirrors supported listing filters.
type QuotationQuery struct {
	Status   []models.QuotationStatus
	Page     int
	PageSize int
}
