package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quotelane/quotelane-api/internal/models"
	appErrors "github.com/quotelane/quotelane-api/pkg/errors"
	"github.com/quotelane/quotelane-api/pkg/export"
)

// ExportFormat names a supported export encoding.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult carries a rendered export payload.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportArchiver persists a server-side copy of generated exports.
type ExportArchiver interface {
	Save(filename string, data []byte) (string, error)
}

// ExportService renders a request's quote comparison for download. The caller
// passes an already viewer-scoped quotation, so redaction decisions stay in
// one place.
type ExportService struct {
	csv     csvRenderer
	pdf     pdfRenderer
	archive ExportArchiver
	logger  *zap.Logger
}

// NewExportService constructs an ExportService. A nil archive disables
// server-side archival of generated exports.
func NewExportService(logger *zap.Logger, csv csvRenderer, pdf pdfRenderer, archive ExportArchiver) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{csv: csv, pdf: pdf, archive: archive, logger: logger}
}

// QuoteComparison renders the quotes of a request as CSV or PDF.
func (s *ExportService) QuoteComparison(q *models.Quotation, format ExportFormat) (*ExportResult, error) {
	dataset := buildComparisonDataset(q)
	title := fmt.Sprintf("Quote comparison - %s %s", q.Make, q.Model)

	var payload []byte
	var err error
	var contentType string
	switch format {
	case ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
		contentType = "text/csv"
	case ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
		contentType = "application/pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, fmt.Errorf("render quote comparison: %w", err)
	}

	filename := fmt.Sprintf("quotes_%s_%s.%s", q.ID, time.Now().UTC().Format("20060102"), format)
	if s.archive != nil {
		if _, archiveErr := s.archive.Save(filename, payload); archiveErr != nil {
			s.logger.Warn("export archival failed",
				zap.String("quotation_id", q.ID),
				zap.Error(archiveErr))
		}
	}
	s.logger.Info("export generated",
		zap.String("quotation_id", q.ID),
		zap.String("format", string(format)),
		zap.Int("bytes", len(payload)))
	return &ExportResult{Filename: filename, ContentType: contentType, Payload: payload}, nil
}

func buildComparisonDataset(q *models.Quotation) export.Dataset {
	rows := make([][]string, 0, len(q.Quotes))
	for i := range q.Quotes {
		quote := &q.Quotes[i]
		note := ""
		if quote.Note != nil {
			note = *quote.Note
		}
		rows = append(rows, []string{
			quote.WorkshopID,
			string(quote.Status),
			strconv.FormatFloat(quote.TotalAmount, 'f', 2, 64),
			strconv.Itoa(quote.EstimatedDays),
			quote.ContactPerson,
			quote.ContactPhone,
			quote.ContactEmail,
			quote.SubmittedAt.UTC().Format(time.RFC3339),
			strings.ReplaceAll(note, "\n", " "),
		})
	}
	return export.Dataset{
		Headers: []string{"Workshop", "Status", "Total", "Days", "Contact", "Phone", "Email", "Submitted", "Note"},
		Rows:    rows,
	}
}
