package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/appdeck/internal/db"
	"github.com/kimhsiao/appdeck/internal/models"
	syncpkg "github.com/kimhsiao/appdeck/internal/sync"
	"github.com/kimhsiao/appdeck/internal/sync/conflict"
)

// SyncHandler handles sync status, control, and conflict review.
type SyncHandler struct {
	coordinator syncpkg.Syncer
	resolver    *conflict.Resolver
	repo        *db.Repository
}

// NewSyncHandler creates a new SyncHandler. repo may be nil, which
// disables conflict history.
func NewSyncHandler(coordinator syncpkg.Syncer, resolver *conflict.Resolver, repo *db.Repository) *SyncHandler {
	return &SyncHandler{
		coordinator: coordinator,
		resolver:    resolver,
		repo:        repo,
	}
}

// Status handles GET /api/sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.coordinator.Info())
}

// SyncNow handles POST /api/sync/now and waits for the cycle outcome.
func (h *SyncHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.coordinator.SyncNow(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, h.coordinator.Info())
}

// SetEnabled handles POST /api/sync/enabled.
func (h *SyncHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var request struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.coordinator.SetEnabled(request.Enabled); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, h.coordinator.Info())
}

// Conflicts handles GET /api/sync/conflicts: conflicts parked for manual
// review plus recent resolution history.
func (h *SyncHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	response := map[string]interface{}{
		"pending": h.resolver.Pending(),
	}
	if h.repo != nil {
		history, err := h.repo.ListConflictLogs(50)
		if err == nil {
			response["history"] = history
		}
	}
	writeJSON(w, http.StatusOK, response)
}

// Resolve handles POST /api/sync/conflicts/resolve: applies a user
// decision to a parked conflict.
func (h *SyncHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var request struct {
		ID     string `json:"id"`
		Choice string `json:"choice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	switch conflict.ManualChoice(request.Choice) {
	case conflict.ManualUseLocal, conflict.ManualUseRemote, conflict.ManualProceed, conflict.ManualKeep:
	default:
		http.Error(w, "choice must be one of use_local, use_remote, proceed, keep", http.StatusBadRequest)
		return
	}
	if err := h.resolver.ResolveManually(models.UUID(request.ID), conflict.ManualChoice(request.Choice)); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resolved": request.ID,
		"choice":   request.Choice,
	})
}
