package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/reportgen/internal/api/shared"
	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/manifest"
	"github.com/phrazzld/reportgen/internal/platform/logger"
)

// maxManifestBytes bounds multipart uploads of XLSX manifests.
const maxManifestBytes = 16 << 20

// JobSubmitter enqueues report jobs.
type JobSubmitter interface {
	Submit(ctx context.Context, in domain.ReportInput) (*domain.Job, error)
}

// JobReader loads jobs by id.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)
}

// JobHandler serves /api/jobs.
type JobHandler struct {
	submitter JobSubmitter
	jobs      JobReader
	logger    *slog.Logger
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(submitter JobSubmitter, jobs JobReader, logger *slog.Logger) *JobHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for JobHandler")
	}
	return &JobHandler{
		submitter: submitter,
		jobs:      jobs,
		logger:    logger.With(slog.String("component", "job_handler")),
	}
}

// CreateJob handles POST /api/jobs. The body is either a JSON ReportInput or
// a multipart form with the input (minus images) in the "request" field and
// an XLSX image manifest in the "manifest" file.
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	in, err := h.decodeInput(w, r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	job, err := h.submitter.Submit(r.Context(), *in)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to enqueue job")
		return
	}

	log.Info("report job accepted",
		slog.String("job_id", job.ID.String()),
		slog.String("report_id", in.ReportID.String()))
	shared.RespondWithJSON(w, r, http.StatusAccepted, JobAcceptedResponse{
		JobID:    job.ID,
		ReportID: in.ReportID,
		Status:   job.Status,
	})
}

func (h *JobHandler) decodeInput(w http.ResponseWriter, r *http.Request) (*domain.ReportInput, error) {
	var in domain.ReportInput

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if err := shared.DecodeJSON(w, r, &in); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
		return &in, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxManifestBytes)
	if err := r.ParseMultipartForm(maxManifestBytes); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err := json.Unmarshal([]byte(r.FormValue("request")), &in); err != nil {
		return nil, fmt.Errorf("%w: request field: %v", domain.ErrValidation, err)
	}
	file, _, err := r.FormFile("manifest")
	if err != nil {
		return nil, fmt.Errorf("%w: manifest file: %v", domain.ErrValidation, err)
	}
	defer func() { _ = file.Close() }()

	images, err := manifest.Read(file)
	if err != nil {
		return nil, err
	}
	in.Images = images
	return &in, nil
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load job")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, jobToResponse(job))
}
