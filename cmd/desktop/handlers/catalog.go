package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/appdeck/internal/catalog"
)

// CatalogHandler handles category and assignment management.
type CatalogHandler struct {
	catalog *catalog.Catalog
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(cat *catalog.Catalog) *CatalogHandler {
	return &CatalogHandler{catalog: cat}
}

// Categories handles /api/catalog/categories: GET lists all categories,
// POST creates a custom one.
func (h *CatalogHandler) Categories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"categories": h.catalog.Categories(),
		})
	case http.MethodPost:
		var request struct {
			Name string `json:"name"`
			Icon string `json:"icon"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if request.Name == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}
		created, err := h.catalog.AddCategory(request.Name, request.Icon)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// UpdateCategory handles POST /api/catalog/categories/update.
func (h *CatalogHandler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var request struct {
		Name string `json:"name"`
		Icon string `json:"icon"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	updated, err := h.catalog.UpdateCategory(request.Name, request.Icon)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteCategory handles POST /api/catalog/categories/delete. Assignments
// referencing the deleted category move to the fallback category; the
// response lists the affected bundle identifiers.
func (h *CatalogHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var request struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	affected, err := h.catalog.DeleteCategory(request.Name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":    request.Name,
		"reassigned": affected,
		"fallback":   h.catalog.FallbackCategory(),
	})
}

// Assignments handles /api/catalog/assignments: GET lists assignments,
// POST assigns an app to a category.
func (h *CatalogHandler) Assignments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"assignments": h.catalog.Assignments(),
		})
	case http.MethodPost:
		var request struct {
			BundleID string `json:"bundle_id"`
			Category string `json:"category"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if request.BundleID == "" || request.Category == "" {
			http.Error(w, "bundle_id and category are required", http.StatusBadRequest)
			return
		}
		assigned, err := h.catalog.Assign(request.BundleID, request.Category)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, assigned)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
