package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanRevealContact(t *testing.T) {
	cases := []struct {
		name          string
		requestStatus QuotationStatus
		quoteStatus   QuoteStatus
		viewer        UserRole
		want          bool
	}{
		{"open competition hides contact", QuotationStatusQuoted, QuoteStatusSubmitted, RoleCustomer, false},
		{"pending request hides contact", QuotationStatusPending, QuoteStatusPending, RoleCustomer, false},
		{"accepted request reveals", QuotationStatusAccepted, QuoteStatusDeclined, RoleCustomer, true},
		{"completed request reveals", QuotationStatusCompleted, QuoteStatusAccepted, RoleCustomer, true},
		{"cancelled request reveals", QuotationStatusCancelled, QuoteStatusSubmitted, RoleCustomer, true},
		{"winning quote reveals even mid flight", QuotationStatusQuoted, QuoteStatusAccepted, RoleWorkshop, true},
		{"expired request keeps losing quotes hidden", QuotationStatusExpired, QuoteStatusSubmitted, RoleCustomer, false},
		{"admin always sees", QuotationStatusPending, QuoteStatusPending, RoleAdmin, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, CanRevealContact(tc.requestStatus, tc.quoteStatus, tc.viewer))
		})
	}
}

func TestRedactQuoteContactMasksOnlySetFields(t *testing.T) {
	quote := &Quote{
		Status:        QuoteStatusSubmitted,
		ContactPhone:  "123456",
		ContactPerson: "Alex",
	}
	RedactQuoteContact(QuotationStatusQuoted, quote, RoleCustomer)

	require.Equal(t, MaskedContact, quote.ContactPhone)
	require.Equal(t, MaskedContact, quote.ContactPerson)
	require.Empty(t, quote.ContactEmail)
}

func TestRedactQuoteContactLeavesRevealedQuotesAlone(t *testing.T) {
	quote := &Quote{
		Status:       QuoteStatusAccepted,
		ContactPhone: "123456",
		ContactEmail: "shop@example.com",
	}
	RedactQuoteContact(QuotationStatusAccepted, quote, RoleCustomer)

	require.Equal(t, "123456", quote.ContactPhone)
	require.Equal(t, "shop@example.com", quote.ContactEmail)
}
