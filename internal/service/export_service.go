package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/brightfund/review-api/internal/models"
	appErrors "github.com/brightfund/review-api/pkg/errors"
	"github.com/brightfund/review-api/pkg/export"
)

type applicationFilterer interface {
	FilterApplications(ctx context.Context, formID string, filter models.ApplicationFilter) ([]models.Application, error)
}

// ExportFile is a rendered export ready to stream back to the caller.
type ExportFile struct {
	FileName    string
	ContentType string
	Content     []byte
}

// ExportService renders filtered application sets as CSV or PDF.
type ExportService struct {
	applications applicationFilterer
	csv          *export.CSVExporter
	pdf          *export.PDFExporter
	logger       *zap.Logger
}

// NewExportService constructs ExportService.
func NewExportService(applications applicationFilterer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		applications: applications,
		csv:          export.NewCSVExporter(),
		pdf:          export.NewPDFExporter(),
		logger:       logger,
	}
}

// Export renders the applications matching the filter in the requested
// format. Supported formats are "csv" and "pdf".
func (s *ExportService) Export(ctx context.Context, formID, format string, filter models.ApplicationFilter) (*ExportFile, error) {
	apps, err := s.applications.FilterApplications(ctx, formID, filter)
	if err != nil {
		return nil, err
	}
	dataset := applicationDataset(apps)

	switch strings.ToLower(format) {
	case "csv":
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return &ExportFile{
			FileName:    fmt.Sprintf("applications-%s.csv", formID),
			ContentType: "text/csv",
			Content:     content,
		}, nil
	case "pdf":
		content, err := s.pdf.Render(dataset, "Application Review Export")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return &ExportFile{
			FileName:    fmt.Sprintf("applications-%s.pdf", formID),
			ContentType: "application/pdf",
			Content:     content,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

func applicationDataset(apps []models.Application) export.Dataset {
	headers := []string{"Applicant", "Email", "Status", "Stage", "Score", "Reviews", "Tags", "Submitted"}
	rows := make([]map[string]string, 0, len(apps))
	for i := range apps {
		app := &apps[i]
		score := ""
		if app.Score != nil {
			score = fmt.Sprintf("%.1f/%.0f", *app.Score, app.MaxScore)
		}
		rows = append(rows, map[string]string{
			"Applicant": app.ApplicantName,
			"Email":     app.ApplicantEmail,
			"Status":    string(app.Status),
			"Stage":     app.StageID,
			"Score":     score,
			"Reviews":   fmt.Sprintf("%d/%d", app.ReviewCount, app.RequiredReviews),
			"Tags":      strings.Join(app.Tags, ", "),
			"Submitted": app.SubmittedAt.Format("2006-01-02"),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
