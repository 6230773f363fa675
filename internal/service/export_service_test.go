package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotelane/quotelane-api/internal/models"
)

type archiveStub struct {
	saved []string
}

func (a *archiveStub) Save(filename string, data []byte) (string, error) {
	a.saved = append(a.saved, filename)
	return filename, nil
}

func comparisonFixture() *models.Quotation {
	note := "paint match included"
	return &models.Quotation{
		ID:      "q-1",
		Vehicle: models.Vehicle{Make: "Skoda", Model: "Octavia", Year: 2019},
		Status:  models.QuotationStatusAccepted,
		Quotes: []models.Quote{
			{
				ID:            "quote-a",
				WorkshopID:    "ws-a",
				Status:        models.QuoteStatusAccepted,
				TotalAmount:   450.5,
				EstimatedDays: 3,
				Note:          &note,
				ContactPhone:  "555-0101",
				ContactEmail:  "shop@example.com",
				ContactPerson: "Ola",
				SubmittedAt:   time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
			},
			{
				ID:          "quote-b",
				WorkshopID:  "ws-b",
				Status:      models.QuoteStatusDeclined,
				TotalAmount: 510,
				SubmittedAt: time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC),
			},
		},
	}
}

func TestQuoteComparisonCSVContainsAllQuotes(t *testing.T) {
	svc := NewExportService(nil, nil, nil, nil)

	result, err := svc.QuoteComparison(comparisonFixture(), ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Contains(t, result.Filename, "quotes_q-1_")

	body := string(result.Payload)
	assert.Contains(t, body, "Workshop")
	assert.Contains(t, body, "ws-a")
	assert.Contains(t, body, "450.50")
	assert.Contains(t, body, "ws-b")
	assert.Contains(t, body, "paint match included")
}

func TestQuoteComparisonPDFRenders(t *testing.T) {
	svc := NewExportService(nil, nil, nil, nil)

	result, err := svc.QuoteComparison(comparisonFixture(), ExportFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, len(result.Payload) > 0)
	assert.Equal(t, "%PDF", string(result.Payload[:4]))
}

func TestQuoteComparisonRejectsUnknownFormat(t *testing.T) {
	svc := NewExportService(nil, nil, nil, nil)

	_, err := svc.QuoteComparison(comparisonFixture(), ExportFormat("xlsx"))
	require.Error(t, err)
}

func TestQuoteComparisonArchivesCopy(t *testing.T) {
	archive := &archiveStub{}
	svc := NewExportService(nil, nil, nil, archive)

	result, err := svc.QuoteComparison(comparisonFixture(), ExportFormatCSV)
	require.NoError(t, err)
	require.Len(t, archive.saved, 1)
	assert.Equal(t, result.Filename, archive.saved[0])
}
