package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/turnos-api/internal/dto"
	"github.com/noah-isme/turnos-api/internal/models"
	appErrors "github.com/noah-isme/turnos-api/pkg/errors"
	"github.com/noah-isme/turnos-api/pkg/export"
)

// Export formats.
const (
	ExportFormatCSV  = "csv"
	ExportFormatPDF  = "pdf"
	ExportFormatXLSX = "xlsx"
)

type requestLister interface {
	List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type xlsxRenderer interface {
	Render(data export.Dataset, sheet string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	Enabled bool
	MaxRows int
}

// ExportFile is a rendered change-request history.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
	Rows        int
}

// ExportService renders change-request history for managers.
type ExportService struct {
	requests requestLister
	csv      csvRenderer
	pdf      pdfRenderer
	xlsx     xlsxRenderer
	cfg      ExportConfig
	logger   *zap.Logger
	now      func() time.Time
}

var exportHeaders = []string{"ID", "Turno", "Solicitante", "Propuesto", "Estado", "Motivo", "Nota gerente", "Version", "Creada", "Resuelta"}

// NewExportService constructs an ExportService. Nil renderers fall back to the defaults.
func NewExportService(requests requestLister, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer, xlsx xlsxRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 500
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	if xlsx == nil {
		xlsx = export.NewXLSXExporter()
	}
	return &ExportService{
		requests: requests,
		csv:      csv,
		pdf:      pdf,
		xlsx:     xlsx,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Export renders the requests matching query in the given format.
func (s *ExportService) Export(ctx context.Context, actor *models.JWTClaims, format string, query dto.ChangeRequestQuery) (*ExportFile, error) {
	if !s.cfg.Enabled {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled")
	}
	if err := requireManagement(actor); err != nil {
		return nil, err
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}

	items, err := s.requests.List(ctx, models.ChangeRequestFilter{
		Status:  query.Status,
		ShiftID: query.ShiftID,
		Limit:   s.cfg.MaxRows,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load change requests")
	}
	dataset := buildRequestDataset(items)

	stamp := s.now().Format("20060102-150405")
	file := &ExportFile{Filename: "solicitudes-" + stamp + "." + format, Rows: len(items)}
	switch format {
	case ExportFormatCSV:
		file.ContentType = "text/csv"
		file.Data, err = s.csv.Render(dataset)
	case ExportFormatPDF:
		file.ContentType = "application/pdf"
		file.Data, err = s.pdf.Render(dataset, "Historial de solicitudes de cambio")
	case ExportFormatXLSX:
		file.ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		file.Data, err = s.xlsx.Render(dataset, "Solicitudes")
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	s.logger.Info("change request export rendered",
		zap.String("actor_id", actor.UserID),
		zap.String("format", format),
		zap.Int("rows", len(items)))
	return file, nil
}

func buildRequestDataset(items []models.ChangeRequest) export.Dataset {
	rows := make([]map[string]string, 0, len(items))
	for _, item := range items {
		resolved := ""
		if item.ResolvedAt != nil {
			resolved = item.ResolvedAt.Format(time.RFC3339)
		}
		rows = append(rows, map[string]string{
			"ID":           item.ID,
			"Turno":        item.OriginalShiftID,
			"Solicitante":  item.RequesterName,
			"Propuesto":    valueOf(item.ProposedUserName),
			"Estado":       string(item.Status),
			"Motivo":       item.Reason,
			"Nota gerente": valueOf(item.ManagerNote),
			"Version":      strconv.Itoa(item.Version),
			"Creada":       item.CreatedAt.Format(time.RFC3339),
			"Resuelta":     resolved,
		})
	}
	return export.Dataset{Headers: exportHeaders, Rows: rows}
}
