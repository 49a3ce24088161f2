package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/examkit/alloc-engine/pkg/allocengine"
)

// BundleHandler handles HTTP requests for bundles using pkg/allocengine
type BundleHandler struct {
	service allocengine.Service
}

// NewBundleHandler creates a new bundle handler
func NewBundleHandler(service allocengine.Service) *BundleHandler {
	return &BundleHandler{service: service}
}

// Routes returns the routes for bundles
func (h *BundleHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateBundle)
	r.Get("/", h.ListBundles)
	r.Get("/{id}", h.GetBundle)
	r.Delete("/{id}", h.DeleteBundle)
	r.Get("/{id}/items", h.GetBundleItems)
	r.Post("/{id}/regenerate", h.RegenerateBundle)

	return r
}

// CreateBundleRequest is the request body for creating a bundle
type CreateBundleRequest struct {
	Name       string   `json:"name"`
	Mode       string   `json:"mode"`
	Count      int      `json:"count"`
	CategoryID string   `json:"category_id,omitempty"`
	ItemIDs    []string `json:"item_ids,omitempty"`
}

// BundleResponse is the response body for a bundle
type BundleResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	TargetCount int       `json:"target_count"`
	CategoryID  string    `json:"category_id,omitempty"`
	Mode        string    `json:"mode"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toBundleResponse(b *allocengine.Bundle) BundleResponse {
	resp := BundleResponse{
		ID:          b.ID.String(),
		Name:        b.Name,
		TargetCount: b.TargetCount,
		Mode:        string(b.Mode),
		Status:      string(b.Status),
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
	if b.CategoryID != nil {
		resp.CategoryID = b.CategoryID.String()
	}
	return resp
}

// CreateBundle creates a new bundle with an allocated item set
func (h *BundleHandler) CreateBundle(w http.ResponseWriter, r *http.Request) {
	var req CreateBundleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	createReq := allocengine.CreateBundleRequest{
		Name:  req.Name,
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
		createReq.CategoryID = &categoryID
	}

	itemIDs, err := parseIDs(req.ItemIDs)
	if err != nil {
		slog.Error("Invalid item ID", "error", err)
		http.Error(w, "Invalid item ID", http.StatusBadRequest)
		return
	}
	createReq.ItemIDs = itemIDs

	bundle, err := h.service.CreateBundle(r.Context(), createReq)
	if err != nil {
		slog.Error("Failed to create bundle", "name", req.Name, "mode", req.Mode, "error", err)
		writeAllocationError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toBundleResponse(bundle))
}

// GetBundle returns a bundle by ID
func (h *BundleHandler) GetBundle(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r)
	if !ok {
		return
	}

	bundle, err := h.service.GetBundle(r.Context(), id)
	if err != nil {
		if errors.Is(err, allocengine.ErrBundleNotFound) {
			http.Error(w, "Bundle not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to get bundle", "bundle_id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	render.JSON(w, r, toBundleResponse(bundle))
}

// GetBundleItems returns the item IDs of a bundle, in stored order
func (h *BundleHandler) GetBundleItems(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r)
	if !ok {
		return
	}

	items, err := h.service.GetBundleItems(r.Context(), id)
	if err != nil {
		if errors.Is(err, allocengine.ErrBundleNotFound) {
			http.Error(w, "Bundle not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to get bundle items", "bundle_id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	render.JSON(w, r, map[string]interface{}{"item_ids": formatIDs(items)})
}

// ListBundles returns all non-deleted bundles
func (h *BundleHandler) ListBundles(w http.ResponseWriter, r *http.Request) {
	bundles, err := h.service.ListBundles(r.Context())
	if err != nil {
		slog.Error("Failed to list bundles", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := make([]BundleResponse, 0, len(bundles))
	for _, b := range bundles {
		resp = append(resp, toBundleResponse(b))
	}
	render.JSON(w, r, resp)
}

// RegenerateBundleRequest is the request body for regenerating a bundle
type RegenerateBundleRequest struct {
	ItemIDs []string `json:"item_ids,omitempty"`
}

// RegenerateBundle replaces a bundle's item set wholesale
func (h *BundleHandler) RegenerateBundle(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r)
	if !ok {
		return
	}

	var req RegenerateBundleRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	itemIDs, err := parseIDs(req.ItemIDs)
	if err != nil {
		slog.Error("Invalid item ID", "error", err)
		http.Error(w, "Invalid item ID", http.StatusBadRequest)
		return
	}

	bundle, err := h.service.RegenerateBundle(r.Context(), allocengine.RegenerateBundleRequest{
		BundleID: id,
		ItemIDs:  itemIDs,
	})
	if err != nil {
		if errors.Is(err, allocengine.ErrBundleNotFound) {
			http.Error(w, "Bundle not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to regenerate bundle", "bundle_id", id, "error", err)
		writeAllocationError(w, r, err)
		return
	}

	render.JSON(w, r, toBundleResponse(bundle))
}

// DeleteBundle soft-deletes a bundle, freeing its items for future selections
func (h *BundleHandler) DeleteBundle(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteBundle(r.Context(), id); err != nil {
		if errors.Is(err, allocengine.ErrBundleNotFound) {
			http.Error(w, "Bundle not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to delete bundle", "bundle_id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parsePathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func formatIDs(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
