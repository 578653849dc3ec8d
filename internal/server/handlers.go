package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/maauso/videocollage/internal/collage"
	"github.com/maauso/videocollage/internal/export"
	"github.com/maauso/videocollage/internal/job"
)

// ExportService is what the handlers need from the collage service.
type ExportService interface {
	PlanAndExport(ctx context.Context, req collage.Request) (*export.Job, error)
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context) ([]*job.Job, error)
	Cancel(ctx context.Context, id string) error
	Exporting() bool
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   ExportService
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service ExportService, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Exporting: h.service.Exporting()})
}

// CreateExport handles POST /exports requests.
func (h *Handlers) CreateExport(w http.ResponseWriter, r *http.Request) {
	var req CreateExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	ej, err := h.service.PlanAndExport(r.Context(), collage.Request{
		Clips:         req.Clips,
		OutputName:    req.OutputName,
		PushToLibrary: req.PushToLibrary,
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	h.logger.Info("export started",
		slog.String("job_id", ej.ID()),
		slog.Int("clips", len(req.Clips)),
		slog.Bool("push_to_library", req.PushToLibrary),
	)

	writeJSON(w, http.StatusAccepted, CreateExportResponse{
		ID:     ej.ID(),
		Status: string(ej.Snapshot().Status),
	})
}

// ListExports handles GET /exports requests.
func (h *Handlers) ListExports(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list exports", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list exports", "EXPORT_LIST_FAILED")
		return
	}

	resp := ListExportsResponse{Exports: make([]ExportResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Exports = append(resp.Exports, toExportResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetExport handles GET /exports/{id} requests.
func (h *Handlers) GetExport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	found, err := h.service.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "export not found", "EXPORT_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get export",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get export", "EXPORT_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toExportResponse(found))
}

// CancelExport handles DELETE /exports/{id} requests.
func (h *Handlers) CancelExport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	err := h.service.Cancel(r.Context(), jobID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "export not found", "EXPORT_NOT_FOUND")
	case errors.Is(err, collage.ErrAlreadyFinished):
		writeError(w, http.StatusConflict, "export already finished", "EXPORT_FINISHED")
	case errors.Is(err, collage.ErrNotRunning):
		writeError(w, http.StatusConflict, "export is not running", "EXPORT_NOT_RUNNING")
	default:
		h.logger.Error("failed to cancel export",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to cancel export", "EXPORT_CANCEL_FAILED")
	}
}

// writeFailure maps a planning failure to its HTTP status.
func (h *Handlers) writeFailure(w http.ResponseWriter, err error) {
	f := collage.NewFailure(err)

	status := http.StatusUnprocessableEntity
	switch f.Kind {
	case collage.KindExportInProgress:
		status = http.StatusConflict
	case collage.KindExportSessionUnavailable:
		status = http.StatusServiceUnavailable
	case collage.KindCancelled:
		status = http.StatusServiceUnavailable
	}

	h.logger.Warn("export rejected",
		slog.String("kind", string(f.Kind)),
		slog.Int("clip_index", f.ClipIndex),
		slog.String("error", err.Error()),
	)

	resp := ErrorResponse{Error: f.Err.Error(), Code: string(f.Kind)}
	if f.ClipIndex >= 0 {
		idx := f.ClipIndex
		resp.ClipIndex = &idx
	}
	writeJSON(w, status, resp)
}

func toExportResponse(j *job.Job) ExportResponse {
	resp := ExportResponse{
		ID:              j.ID,
		Status:          string(j.Status),
		Progress:        j.Progress,
		Clips:           make([]ClipResponse, 0, len(j.Clips)),
		OutputWidth:     j.OutputWidth,
		OutputHeight:    j.OutputHeight,
		Duration:        j.Duration,
		OutputPath:      j.OutputPath,
		PushToLibrary:   j.PushToLibrary,
		LibraryLocation: j.LibraryLocation,
		ErrorKind:       j.ErrorKind,
		Error:           j.Error,
		CreatedAt:       j.CreatedAt,
	}
	for _, c := range j.Clips {
		resp.Clips = append(resp.Clips, ClipResponse(c))
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
