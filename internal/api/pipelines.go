package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rat-data/rat/platform/internal/domain"
)

// MountPipelineRoutes registers pipeline CRUD and control endpoints
// (spec.md §6).
func MountPipelineRoutes(r chi.Router, srv *Server) {
	r.Get("/pipelines", srv.HandleListPipelines)
	r.Post("/pipelines", srv.HandleCreatePipeline)
	r.Get("/pipelines/{id}", srv.HandleGetPipeline)
	r.Put("/pipelines/{id}", srv.HandleUpdatePipeline)
	r.Delete("/pipelines/{id}", srv.HandleDeletePipeline)
	r.Post("/pipelines/{id}/run", srv.HandleRunPipeline)
	r.Get("/pipelines/{id}/results", srv.HandleGetResults)
}

// createPipelineRequest is the JSON body for POST /api/v1/pipelines.
type createPipelineRequest struct {
	Name         string                `json:"name"`
	Description  string                `json:"description"`
	RunFrequency domain.RunFrequency   `json:"run_frequency"`
	Ingestor     domain.IngestorConfig `json:"ingestor_config"`
}

// updatePipelineRequest is the JSON body for PUT /api/v1/pipelines/{id}.
// Nil fields leave the corresponding value unchanged.
type updatePipelineRequest struct {
	Name         *string                `json:"name"`
	Description  *string                `json:"description"`
	RunFrequency *domain.RunFrequency   `json:"run_frequency"`
	Ingestor     *domain.IngestorConfig `json:"ingestor_config"`
}

func parseIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func (s *Server) HandleListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := s.Pipelines.List(r.Context())
	if err != nil {
		internalError(w, "internal error", err)
		return
	}
	limit, offset := parsePagination(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pipelines": paginate(pipelines, limit, offset),
		"total":     len(pipelines),
	})
}

func (s *Server) HandleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req createPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		errorJSON(w, "invalid JSON body", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		errorJSON(w, "name is required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if !domain.ValidRunFrequency(string(req.RunFrequency)) {
		errorJSON(w, "run_frequency must be DAILY, WEEKLY, or MONTHLY", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	p := &domain.Pipeline{
		Name:        req.Name,
		Description: req.Description,
		Status:      domain.StatusInactive,
		Config: domain.PipelineConfig{
			Ingestor:     req.Ingestor,
			RunFrequency: req.RunFrequency,
		},
	}

	created, err := s.Pipelines.Create(r.Context(), p)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) HandleGetPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		errorJSON(w, "invalid pipeline id", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	p, err := s.Pipelines.Get(r.Context(), id)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) HandleUpdatePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		errorJSON(w, "invalid pipeline id", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	var req updatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		errorJSON(w, "invalid JSON body", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if req.RunFrequency != nil && !domain.ValidRunFrequency(string(*req.RunFrequency)) {
		errorJSON(w, "run_frequency must be DAILY, WEEKLY, or MONTHLY", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	updated, err := s.Pipelines.Update(r.Context(), id, PipelineUpdate{
		Name:         req.Name,
		Description:  req.Description,
		RunFrequency: req.RunFrequency,
		Ingestor:     req.Ingestor,
	})
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) HandleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		errorJSON(w, "invalid pipeline id", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if err := s.Pipelines.Delete(r.Context(), id); err != nil {
		writePipelineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRunPipeline triggers a manual run (spec.md §4.E, §6): 202 once
// accepted, 409 if the pipeline is already ACTIVE.
func (s *Server) HandleRunPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		errorJSON(w, "invalid pipeline id", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if err := s.Pipelines.RunNow(r.Context(), id); err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(domain.StatusActive)})
}

func (s *Server) HandleGetResults(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		errorJSON(w, "invalid pipeline id", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	results, err := s.Pipelines.GetLatestResults(r.Context(), id)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	// results is nil both when the pipeline exists but has never completed a
	// run, and never when the pipeline is missing — GetLatestResults already
	// returned ErrPipelineNotFound for that case above. A nil result here is
	// a legitimate 200 (spec.md §6: "200 JSON or null; 404 if pipeline
	// absent"), not a 404.
	writeJSON(w, http.StatusOK, results)
}

// writePipelineError maps domain errors to the right HTTP status.
func writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrPipelineNotFound):
		errorJSON(w, "pipeline not found", "NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, domain.ErrPipelineActive):
		errorJSON(w, "pipeline is already active", "CONFLICT", http.StatusConflict)
	default:
		var cfgErr *domain.ConfigError
		if errors.As(err, &cfgErr) {
			errorJSON(w, cfgErr.Error(), "INVALID_ARGUMENT", http.StatusBadRequest)
			return
		}
		internalError(w, "internal error", err)
	}
}
