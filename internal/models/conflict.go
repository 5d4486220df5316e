// Package models provides data model definitions for the appdeck sync core.
package models

import "time"

// ConflictKind identifies what a SyncConflict disagrees about.
type ConflictKind string

const (
	ConflictKindCategory         ConflictKind = "category"
	ConflictKindAssignment       ConflictKind = "assignment"
	ConflictKindCategoryDeletion ConflictKind = "category_deletion"
)

// DeletionDecision is the outcome of a category-deletion conflict.
type DeletionDecision string

const (
	// DeletionProceed deletes the category and reassigns dependents to the
	// fallback category.
	DeletionProceed DeletionDecision = "proceed"
	// DeletionKeepLocal keeps the category despite the remote deletion signal.
	DeletionKeepLocal DeletionDecision = "keep_local"
	// DeletionDeferred means the decision is parked awaiting user input.
	DeletionDeferred DeletionDecision = "deferred"
)

// SyncConflict is a detected disagreement between a local and a remote
// version of a record, or a category deletion with its affected apps.
// Transient and in-memory only; resolved or discarded within one sync cycle
// or by a user decision.
type SyncConflict struct {
	ID   UUID         `json:"id"`
	Kind ConflictKind `json:"kind"`

	LocalCategory  *SyncableCategory `json:"local_category,omitempty"`
	RemoteCategory *SyncableCategory `json:"remote_category,omitempty"`

	LocalAssignment  *SyncableAppAssignment `json:"local_assignment,omitempty"`
	RemoteAssignment *SyncableAppAssignment `json:"remote_assignment,omitempty"`

	// AffectedBundleIDs lists applications assigned to a category that is
	// subject to a deletion conflict.
	AffectedBundleIDs []string `json:"affected_bundle_ids,omitempty"`

	DetectedAt int64 `json:"detected_at"`
}

// DetectedAtTime returns DetectedAt as time.Time.
func (c *SyncConflict) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}

// Key returns the business key the conflict is about.
func (c *SyncConflict) Key() string {
	switch c.Kind {
	case ConflictKindAssignment:
		if c.LocalAssignment != nil {
			return c.LocalAssignment.BundleID
		}
		if c.RemoteAssignment != nil {
			return c.RemoteAssignment.BundleID
		}
	default:
		if c.LocalCategory != nil {
			return c.LocalCategory.Name
		}
		if c.RemoteCategory != nil {
			return c.RemoteCategory.Name
		}
	}
	return ""
}
