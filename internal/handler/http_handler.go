package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/govforge/bcr-service/internal/errors"
	"github.com/govforge/bcr-service/internal/logger"
	"github.com/govforge/bcr-service/internal/repository"
	"github.com/govforge/bcr-service/internal/service"
	"github.com/govforge/bcr-service/internal/workflow"
)

// BCRLister is the browse surface, wider than the store interface the
// services need.
type BCRLister interface {
	service.BCRStore
	List(ctx context.Context, phase, status, urgency *string, limit, offset int) ([]*repository.BCR, int64, error)
}

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	registry  *workflow.Registry
	engine    *service.TransitionService
	review    *service.ReviewService
	dashboard *service.DashboardService
	cache     *service.CounterCache
	bcrs      BCRLister
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	registry *workflow.Registry,
	engine *service.TransitionService,
	review *service.ReviewService,
	dashboard *service.DashboardService,
	cache *service.CounterCache,
	bcrs BCRLister,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		registry:  registry,
		engine:    engine,
		review:    review,
		dashboard: dashboard,
		cache:     cache,
		bcrs:      bcrs,
		log:       log,
	}
}

// Dashboard handles the dashboard view-model request.
func (h *HTTPHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dash, err := h.dashboard.Compose(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dash)
}

// Counters serves the counter snapshot. ?refresh=true forces a recompute.
func (h *HTTPHandler) Counters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	force := r.URL.Query().Get("refresh") == "true"
	snap, err := h.cache.Get(r.Context(), force)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// Phases lists the workflow phase configuration.
func (h *HTTPHandler) Phases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"phases": h.registry.Phases()})
}

// GetBCR handles single-BCR reads.
func (h *HTTPHandler) GetBCR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "BCR ID is required", http.StatusBadRequest)
		return
	}

	bcr, err := h.bcrs.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bcr)
}

// ListBCRs handles filtered, paginated BCR listings.
func (h *HTTPHandler) ListBCRs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var phasePtr, statusPtr, urgencyPtr *string
	if v := r.URL.Query().Get("phase"); v != "" {
		phasePtr = &v
	}
	if v := r.URL.Query().Get("status"); v != "" {
		statusPtr = &v
	}
	if v := r.URL.Query().Get("urgency"); v != "" {
		urgencyPtr = &v
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	bcrs, total, err := h.bcrs.List(r.Context(), phasePtr, statusPtr, urgencyPtr, pageSize, (page-1)*pageSize)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"bcrs":     bcrs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

// TransitionBCR handles phase/status transition requests.
func (h *HTTPHandler) TransitionBCR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID      string `json:"id"`
		Phase   string `json:"phase"`
		Status  string `json:"status"`
		Comment string `json:"comment"`
		Actor   string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "BCR ID is required", http.StatusBadRequest)
		return
	}

	bcr, err := h.engine.Transition(r.Context(), req.ID, req.Phase, req.Status, req.Comment, req.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bcr)
}

// ReviewSubmission handles submission review decisions.
func (h *HTTPHandler) ReviewSubmission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID      string `json:"id"`
		Outcome string `json:"outcome"`
		Actor   string `json:"actor"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "Submission ID is required", http.StatusBadRequest)
		return
	}

	bcr, err := h.review.ReviewSubmission(r.Context(), req.ID, req.Outcome, req.Actor, req.Comment)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := map[string]any{"outcome": req.Outcome}
	if bcr != nil {
		resp["bcr"] = bcr
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("failed to write response")
	}
}

// writeError maps service error codes onto HTTP statuses.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.Code(err) {
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case errors.ErrCodeConflict:
		status = http.StatusConflict
	case errors.ErrCodeUnauthorized:
		status = http.StatusForbidden
	case errors.ErrCodeTimeout:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
