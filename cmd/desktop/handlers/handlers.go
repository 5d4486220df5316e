// Package handlers provides the REST API for the desktop UI: sync
// status and control, conflict review, and catalog management.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/kimhsiao/appdeck/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  string(apperrors.Code(err)),
	})
}

// statusFor maps an application error to an HTTP status code.
func statusFor(err error) int {
	switch apperrors.Code(err) {
	case apperrors.ErrNotFound, apperrors.ErrCategoryNotFound, apperrors.ErrAssignmentNotFound:
		return http.StatusNotFound
	case apperrors.ErrDuplicate, apperrors.ErrCategoryDuplicate:
		return http.StatusConflict
	case apperrors.ErrInvalid, apperrors.ErrValidation, apperrors.ErrCategoryPredefined:
		return http.StatusBadRequest
	case apperrors.ErrSyncOffline, apperrors.ErrSyncTimeout:
		return http.StatusServiceUnavailable
	case apperrors.ErrSyncDisabled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
