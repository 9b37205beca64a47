package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/reportgen/internal/api/shared"
	"github.com/phrazzld/reportgen/internal/domain"
)

// ReportReader loads reports by id.
type ReportReader interface {
	GetReport(ctx context.Context, id uuid.UUID) (*domain.Report, error)
}

// ReportHandler serves /api/reports.
type ReportHandler struct {
	reports ReportReader
	logger  *slog.Logger
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(reports ReportReader, logger *slog.Logger) *ReportHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for ReportHandler")
	}
	return &ReportHandler{
		reports: reports,
		logger:  logger.With(slog.String("component", "report_handler")),
	}
}

// GetReport handles GET /api/reports/{id}.
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	report, err := h.reports.GetReport(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load report")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, reportToResponse(report))
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler handles GET /health. It answers 503 while the database is
// unreachable.
func HealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "database unavailable", err)
				return
			}
		}
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	}
}
