package models

// MaskedContact is the placeholder substituted for contact details while the
// competition is still open.
const MaskedContact = "hidden until acceptance"

// CanRevealContact is the privacy gate: it decides whether counterparty
// contact details (phone/email/person) may be shown to a viewer. Contact is
// revealed once the competition is closed (request accepted, completed or
// cancelled), or to the counterparty of the winning quote. Admins always see
// contact details.
//
// Every read path that serializes contact info must call this gate; nothing
// is enforced at write time.
func CanRevealContact(requestStatus QuotationStatus, quoteStatus QuoteStatus, viewer UserRole) bool {
	if viewer == RoleAdmin {
		return true
	}
	switch requestStatus {
	case QuotationStatusAccepted, QuotationStatusCompleted, QuotationStatusCancelled:
		return true
	}
	return quoteStatus == QuoteStatusAccepted
}

// RedactQuoteContact masks the workshop contact snapshot on a quote when the
// gate denies visibility.
func RedactQuoteContact(requestStatus QuotationStatus, quote *Quote, viewer UserRole) {
	if quote == nil || CanRevealContact(requestStatus, quote.Status, viewer) {
		return
	}
	if quote.ContactPhone != "" {
		quote.ContactPhone = MaskedContact
	}
	if quote.ContactEmail != "" {
		quote.ContactEmail = MaskedContact
	}
	if quote.ContactPerson != "" {
		quote.ContactPerson = MaskedContact
	}
}
