/*
handlers.go - HTTP API handlers for the compensation engine

PURPOSE:
  Exposes the validation and compensation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Runs:
    POST   /api/runs                    Execute a run over posted input rows
    GET    /api/runs                    List stored runs
    GET    /api/runs/{id}               Full run result
    GET    /api/runs/{id}/issues        Issue report only
    GET    /api/runs/{id}/unattributed  Unattributed billing only
    GET    /api/runs/{id}/export.xlsx   Review workbook
    GET    /api/runs/{id}/export.csv    Payroll line item detail

  Parameters:
    GET    /api/parameters              List parameter versions
    POST   /api/parameters              Insert a parameter version

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Params: Live parameter store (runs snapshot it)
  - ParamRepo: Persists parameter versions across restarts
  - Runs: Persists finished run results
  - Engine config for the pipeline stages

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (engine run, store read)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Run not found
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/comp-engine/engine"
	"github.com/warp/comp-engine/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Params    *engine.ParameterStore
	ParamRepo engine.ParameterRepository
	Runs      engine.RunStore

	EngineConfig engine.EngineConfig
	Location     *time.Location
	Log          *zap.Logger
}

// NewHandler creates a handler. ParamRepo may equal Runs when one store
// implements both interfaces (the SQLite store does).
func NewHandler(params *engine.ParameterStore, repo engine.ParameterRepository,
	runs engine.RunStore, cfg engine.EngineConfig, loc *time.Location, logger *zap.Logger) *Handler {

	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Params:       params,
		ParamRepo:    repo,
		Runs:         runs,
		EngineConfig: cfg,
		Location:     loc,
		Log:          logger,
	}
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// ExecuteRun runs the pipeline over the posted input and persists the result.
// POST /api/runs
func (h *Handler) ExecuteRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	input, err := req.ToInput(h.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid run request", err)
		return
	}

	cfg := h.EngineConfig
	if len(req.Identity) > 0 {
		cfg.Normalizer.Identity = cfg.Normalizer.Identity.Merge(engine.NewIdentityTable(req.Identity))
	}

	eng := engine.NewEngine(cfg, h.Params, h.Log)
	result, err := eng.Run(r.Context(), input)
	if err != nil {
		status := http.StatusInternalServerError
		if engine.IsClientError(err) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "Run failed", err)
		return
	}

	if err := h.Runs.SaveRun(r.Context(), result); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to persist run", err)
		return
	}

	writeJSON(w, http.StatusCreated, toRunDTO(result))
}

// ListRuns returns stored run summaries.
// GET /api/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.Runs.ListRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]RunSummaryDTO, 0, len(summaries))
	for _, summary := range summaries {
		dtos = append(dtos, toRunSummaryDTO(summary))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRun returns a stored run in full.
// GET /api/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	result, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(result))
}

// GetRunIssues returns a stored run's issue report.
// GET /api/runs/{id}/issues
func (h *Handler) GetRunIssues(w http.ResponseWriter, r *http.Request) {
	result, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toIssueDTOs(result.Issues))
}

// GetRunUnattributed returns a stored run's unattributed billing.
// GET /api/runs/{id}/unattributed
func (h *Handler) GetRunUnattributed(w http.ResponseWriter, r *http.Request) {
	result, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toUnattributedDTOs(result.Unattributed))
}

// ExportRunExcel streams the review workbook.
// GET /api/runs/{id}/export.xlsx
func (h *Handler) ExportRunExcel(w http.ResponseWriter, r *http.Request) {
	result, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	data, err := report.ExcelWorkbook(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render workbook", err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="run-%s.xlsx"`, result.RunID))
	w.Write(data)
}

// ExportRunCSV streams the payroll line item detail.
// GET /api/runs/{id}/export.csv
func (h *Handler) ExportRunCSV(w http.ResponseWriter, r *http.Request) {
	result, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	data, err := report.LineItemsCSV(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render csv", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="run-%s.csv"`, result.RunID))
	w.Write(data)
}

func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (*engine.RunResult, bool) {
	runID := chi.URLParam(r, "id")
	result, err := h.Runs.GetRun(r.Context(), runID)
	if err != nil {
		if engine.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Run not found", err)
		} else {
			writeError(w, http.StatusInternalServerError, "Failed to load run", err)
		}
		return nil, false
	}
	return result, true
}

// =============================================================================
// PARAMETER HANDLERS
// =============================================================================

// ListParameters returns the recorded parameter versions.
// GET /api/parameters?category=compensation
func (h *Handler) ListParameters(w http.ResponseWriter, r *http.Request) {
	category := engine.Category(r.URL.Query().Get("category"))
	if category == "" {
		category = engine.CategoryCompensation
	}

	versions := h.Params.Versions(category)
	dtos := make([]ParameterSetDTO, 0, len(versions))
	for _, ps := range versions {
		dtos = append(dtos, toParameterSetDTO(ps))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateParameters inserts a parameter version into the live store and
// persists it.
// POST /api/parameters
func (h *Handler) CreateParameters(w http.ResponseWriter, r *http.Request) {
	var dto ParameterSetDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ps, err := dto.ToParameterSet(h.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid parameter set", err)
		return
	}

	if err := h.Params.Insert(ps); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to insert parameter set", err)
		return
	}
	if h.ParamRepo != nil {
		if err := h.ParamRepo.SaveParameterSet(r.Context(), ps); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to persist parameter set", err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, toParameterSetDTO(ps))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
