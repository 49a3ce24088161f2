package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/examkit/alloc-engine/pkg/allocengine"
)

// AllocationHandler exposes dry-run selection without bundle persistence.
// The result carries only a best-effort freshness guarantee; clients that
// want the exact guarantee create a bundle instead.
type AllocationHandler struct {
	service allocengine.Service
}

// NewAllocationHandler creates a new allocation handler
func NewAllocationHandler(service allocengine.Service) *AllocationHandler {
	return &AllocationHandler{service: service}
}

// Routes returns the routes for allocations
func (h *AllocationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/preview", h.Preview)
	return r
}

// PreviewRequest is the request body for an allocation preview
type PreviewRequest struct {
	Mode       string   `json:"mode"`
	Count      int      `json:"count"`
	CategoryID string   `json:"category_id,omitempty"`
	ItemIDs    []string `json:"item_ids,omitempty"`
}

// PreviewResponse is the response body for an allocation preview
type PreviewResponse struct {
	ItemIDs     []string `json:"item_ids"`
	FreshCount  int      `json:"fresh_count"`
	ReusedCount int      `json:"reused_count"`
}

// Preview runs one selection attempt without persisting anything
func (h *AllocationHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	allocReq := allocengine.AllocateRequest{
		Mode:  allocengine.Mode(req.Mode),
		Count: req.Count,
	}

	if req.CategoryID != "" {
		categoryID, err := uuid.Parse(req.CategoryID)
		if err != nil {
			slog.Error("Invalid category ID", "category_id", req.CategoryID, "error", err)
			http.Error(w, "Invalid category ID", http.StatusBadRequest)
			return
		}
		allocReq.CategoryID = &categoryID
	}

	itemIDs, err := parseIDs(req.ItemIDs)
	if err != nil {
		slog.Error("Invalid item ID", "error", err)
		http.Error(w, "Invalid item ID", http.StatusBadRequest)
		return
	}
	allocReq.ItemIDs = itemIDs

	sel, err := h.service.Allocate(r.Context(), allocReq)
	if err != nil {
		slog.Error("Allocation preview failed", "mode", req.Mode, "count", req.Count, "error", err)
		writeAllocationError(w, r, err)
		return
	}

	render.JSON(w, r, PreviewResponse{
		ItemIDs:     formatIDs(sel.ItemIDs),
		FreshCount:  sel.FreshCount,
		ReusedCount: sel.ReusedCount,
	})
}

// errorResponse is the JSON body for allocation failures
type errorResponse struct {
	Error string   `json:"error"`
	IDs   []string `json:"ids,omitempty"`
}

// writeAllocationError translates engine error kinds into HTTP responses,
// surfacing the offending identifiers for manual-validation failures.
func writeAllocationError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *allocengine.ValidationError
	if errors.As(err, &validationErr) {
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, errorResponse{
			Error: validationErr.Err.Error(),
			IDs:   formatIDs(validationErr.IDs),
		})
		return
	}

	var status int
	switch {
	case errors.Is(err, allocengine.ErrInvalidCount),
		errors.Is(err, allocengine.ErrCategoryRequired),
		errors.Is(err, allocengine.ErrInvalidMode):
		status = http.StatusBadRequest
	case errors.Is(err, allocengine.ErrNoEligibleItems),
		errors.Is(err, allocengine.ErrInsufficientCatalog),
		errors.Is(err, allocengine.ErrInsufficientUniqueItems):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, allocengine.ErrLockTimeout):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}

	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}
