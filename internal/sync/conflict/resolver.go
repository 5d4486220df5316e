// Package conflict provides conflict resolution for multi-device
// synchronization.
//
// Resolution is timestamp-based. Clock skew across devices can make
// useNewest pick a logically older write; that is an accepted limitation
// of the design, not a bug.
package conflict

import (
	"time"

	"github.com/kimhsiao/appdeck/internal/bridge"
	"github.com/kimhsiao/appdeck/internal/errors"
	"github.com/kimhsiao/appdeck/internal/logging"
	"github.com/kimhsiao/appdeck/internal/models"
	"github.com/kimhsiao/appdeck/internal/uuid"
)

// Strategy defines how conflicts are resolved. Configured once at
// construction, not per call.
type Strategy string

const (
	StrategyUseLocal  Strategy = "local"
	StrategyUseRemote Strategy = "remote"
	StrategyUseNewest Strategy = "newest"
	StrategyUseOldest Strategy = "oldest"
	StrategyMerge     Strategy = "merge"
	StrategyAskUser   Strategy = "ask_user"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyUseLocal, StrategyUseRemote, StrategyUseNewest,
		StrategyUseOldest, StrategyMerge, StrategyAskUser:
		return Strategy(s), nil
	}
	return "", errors.New(errors.ErrValidation, "unknown conflict strategy "+s)
}

// ManualChoice is a user decision for a parked conflict.
type ManualChoice string

const (
	ManualUseLocal  ManualChoice = "use_local"
	ManualUseRemote ManualChoice = "use_remote"
	// ManualProceed and ManualKeep decide category-deletion conflicts.
	ManualProceed ManualChoice = "proceed"
	ManualKeep    ManualChoice = "keep"
)

// LogSink persists resolved conflicts for user awareness.
type LogSink interface {
	CreateConflictLog(entry *models.ConflictLog) error
}

// Resolver decides, for two versions of the same logical record, which one
// survives. All resolutions, automatic and manual alike, are announced on
// the bridge as tagged results.
type Resolver struct {
	strategy Strategy
	bus      *bridge.Bus
	sink     LogSink

	pending *pendingSet
}

// NewResolver creates a Resolver. bus must not be nil; sink may be nil to
// skip conflict logging.
func NewResolver(strategy Strategy, bus *bridge.Bus, sink LogSink) *Resolver {
	return &Resolver{
		strategy: strategy,
		bus:      bus,
		sink:     sink,
		pending:  newPendingSet(),
	}
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// =====================================================
// Category Conflicts
// =====================================================

// ResolveCategory resolves a disagreement between a local and a remote
// version of the same category and returns the surviving version. Under
// askUser the conflict is parked and the newest version is returned as the
// interim answer; the user's later choice supersedes it.
func (r *Resolver) ResolveCategory(local, remote *models.SyncableCategory) (*models.SyncableCategory, error) {
	if local == nil || remote == nil {
		return nil, errors.New(errors.ErrInvalid, "both category versions must be non-nil")
	}
	if local.Name != remote.Name {
		return nil, errors.New(errors.ErrInvalid, "category name mismatch: "+local.Name+" vs "+remote.Name)
	}

	conflict := &models.SyncConflict{
		ID:             models.UUID(uuid.New()),
		Kind:           models.ConflictKindCategory,
		LocalCategory:  local.Clone(),
		RemoteCategory: remote.Clone(),
		DetectedAt:     time.Now().Unix(),
	}
	r.bus.Publish(bridge.Event{Kind: bridge.EventConflictDetected, Conflict: conflict})

	var winner *models.SyncableCategory
	resolution := ""

	switch r.strategy {
	case StrategyUseLocal:
		winner, resolution = local, "local_wins"
	case StrategyUseRemote:
		winner, resolution = remote, "remote_wins"
	case StrategyUseOldest:
		if remote.LastModified < local.LastModified {
			winner, resolution = remote, "remote_wins"
		} else {
			winner, resolution = local, "local_wins"
		}
	case StrategyMerge:
		winner, resolution = mergeCategories(local, remote), "merged"
	case StrategyAskUser:
		r.pending.add(conflict)
		logging.Warn("Category conflict queued for manual review",
			map[string]interface{}{
				"category":         local.Name,
				"local_timestamp":  local.LastModified,
				"remote_timestamp": remote.LastModified,
			})
		// Interim answer until the user decides.
		return newestCategory(local, remote).Clone(), nil
	default: // StrategyUseNewest
		winner = newestCategory(local, remote)
		if winner == local {
			resolution = "local_wins"
		} else {
			resolution = "remote_wins"
		}
	}

	r.announceCategory(conflict, winner, resolution)
	return winner.Clone(), nil
}

// mergeCategories keeps the local name (names are the identity key), takes
// the remote icon only when the remote version is strictly newer, ORs the
// isCustom flag, and keeps the newer timestamp.
func mergeCategories(local, remote *models.SyncableCategory) *models.SyncableCategory {
	merged := local.Clone()
	merged.IsCustom = local.IsCustom || remote.IsCustom
	if remote.LastModified > local.LastModified {
		merged.Icon = remote.Icon
		merged.LastModified = remote.LastModified
		merged.OriginDevice = remote.OriginDevice
	}
	return merged
}

func newestCategory(local, remote *models.SyncableCategory) *models.SyncableCategory {
	if remote.LastModified > local.LastModified {
		return remote
	}
	return local
}

// =====================================================
// Assignment Conflicts
// =====================================================

// ResolveAssignment resolves a disagreement between a local and a remote
// assignment. An assignment is a single scalar category reference, so
// every strategy reduces to local, remote, or a timestamp comparison.
func (r *Resolver) ResolveAssignment(local, remote *models.SyncableAppAssignment) (*models.SyncableAppAssignment, error) {
	if local == nil || remote == nil {
		return nil, errors.New(errors.ErrInvalid, "both assignment versions must be non-nil")
	}
	if local.BundleID != remote.BundleID {
		return nil, errors.New(errors.ErrInvalid, "bundle id mismatch: "+local.BundleID+" vs "+remote.BundleID)
	}

	conflict := &models.SyncConflict{
		ID:               models.UUID(uuid.New()),
		Kind:             models.ConflictKindAssignment,
		LocalAssignment:  local.Clone(),
		RemoteAssignment: remote.Clone(),
		DetectedAt:       time.Now().Unix(),
	}
	r.bus.Publish(bridge.Event{Kind: bridge.EventConflictDetected, Conflict: conflict})

	var winner *models.SyncableAppAssignment
	resolution := ""

	switch r.strategy {
	case StrategyUseLocal:
		winner, resolution = local, "local_wins"
	case StrategyUseRemote:
		winner, resolution = remote, "remote_wins"
	case StrategyUseOldest:
		if remote.LastModified < local.LastModified {
			winner, resolution = remote, "remote_wins"
		} else {
			winner, resolution = local, "local_wins"
		}
	case StrategyAskUser:
		r.pending.add(conflict)
		logging.Warn("Assignment conflict queued for manual review",
			map[string]interface{}{
				"bundle_id":        local.BundleID,
				"local_timestamp":  local.LastModified,
				"remote_timestamp": remote.LastModified,
			})
		return newestAssignment(local, remote).Clone(), nil
	default: // StrategyUseNewest, StrategyMerge (no structural merge exists)
		winner = newestAssignment(local, remote)
		if winner == local {
			resolution = "local_wins"
		} else {
			resolution = "remote_wins"
		}
	}

	r.announceAssignment(conflict, winner, resolution)
	return winner.Clone(), nil
}

func newestAssignment(local, remote *models.SyncableAppAssignment) *models.SyncableAppAssignment {
	if remote.LastModified > local.LastModified {
		return remote
	}
	return local
}

// =====================================================
// Category Deletion Conflicts
// =====================================================

// ResolveDeletion decides whether a category deletion proceeds. The
// default policy proceeds, which moves every affected assignment to the
// fallback category downstream. Under askUser the decision is parked and
// DeletionDeferred is returned; the category stays until the user decides.
func (r *Resolver) ResolveDeletion(category *models.SyncableCategory, affected []string) (models.DeletionDecision, error) {
	if category == nil {
		return "", errors.New(errors.ErrInvalid, "deletion conflict needs a category")
	}

	conflict := &models.SyncConflict{
		ID:                models.UUID(uuid.New()),
		Kind:              models.ConflictKindCategoryDeletion,
		LocalCategory:     category.Clone(),
		AffectedBundleIDs: affected,
		DetectedAt:        time.Now().Unix(),
	}
	r.bus.Publish(bridge.Event{Kind: bridge.EventConflictDetected, Conflict: conflict})

	if r.strategy == StrategyAskUser {
		r.pending.add(conflict)
		logging.Warn("Category deletion queued for manual review",
			map[string]interface{}{
				"category": category.Name,
				"affected": len(affected),
			})
		return models.DeletionDeferred, nil
	}

	r.announceDeletion(conflict, models.DeletionProceed, "deletion_proceed")
	return models.DeletionProceed, nil
}

// =====================================================
// Manual Resolution
// =====================================================

// Pending returns copies of the parked conflicts awaiting user decisions.
func (r *Resolver) Pending() []*models.SyncConflict {
	return r.pending.list()
}

// ResolveManually applies a user decision to a parked conflict and
// broadcasts the outcome on the same channel automatic resolutions use,
// superseding any interim answer.
func (r *Resolver) ResolveManually(id models.UUID, choice ManualChoice) error {
	conflict, ok := r.pending.take(id)
	if !ok {
		return errors.New(errors.ErrNotFound, "no pending conflict "+string(id))
	}

	switch conflict.Kind {
	case models.ConflictKindCategory:
		winner := conflict.LocalCategory
		if choice == ManualUseRemote {
			winner = conflict.RemoteCategory
		}
		r.announceCategory(conflict, winner, "manual")
	case models.ConflictKindAssignment:
		winner := conflict.LocalAssignment
		if choice == ManualUseRemote {
			winner = conflict.RemoteAssignment
		}
		r.announceAssignment(conflict, winner, "manual")
	case models.ConflictKindCategoryDeletion:
		if choice == ManualProceed {
			r.announceDeletion(conflict, models.DeletionProceed, "deletion_proceed")
		} else {
			r.announceDeletion(conflict, models.DeletionKeepLocal, "deletion_keep_local")
		}
	}
	return nil
}

// =====================================================
// Announcements
// =====================================================

func (r *Resolver) announceCategory(conflict *models.SyncConflict, winner *models.SyncableCategory, resolution string) {
	r.bus.Publish(bridge.Event{
		Kind:     bridge.EventConflictResolved,
		Conflict: conflict,
		Category: winner.Clone(),
	})
	r.logResolution(conflict, resolution)
	logging.Info("Category conflict resolved",
		map[string]interface{}{
			"category":   conflict.Key(),
			"resolution": resolution,
			"strategy":   string(r.strategy),
		})
}

func (r *Resolver) announceAssignment(conflict *models.SyncConflict, winner *models.SyncableAppAssignment, resolution string) {
	r.bus.Publish(bridge.Event{
		Kind:       bridge.EventConflictResolved,
		Conflict:   conflict,
		Assignment: winner.Clone(),
	})
	r.logResolution(conflict, resolution)
	logging.Info("Assignment conflict resolved",
		map[string]interface{}{
			"bundle_id":  conflict.Key(),
			"resolution": resolution,
			"strategy":   string(r.strategy),
		})
}

func (r *Resolver) announceDeletion(conflict *models.SyncConflict, decision models.DeletionDecision, resolution string) {
	r.bus.Publish(bridge.Event{
		Kind:     bridge.EventDeletionResolved,
		Conflict: conflict,
		Decision: decision,
	})
	r.logResolution(conflict, resolution)
	logging.Info("Category deletion resolved",
		map[string]interface{}{
			"category": conflict.Key(),
			"decision": string(decision),
		})
}

func (r *Resolver) logResolution(conflict *models.SyncConflict, resolution string) {
	if r.sink == nil {
		return
	}
	entry := &models.ConflictLog{
		ItemKey:    conflict.Key(),
		Kind:       string(conflict.Kind),
		Resolution: resolution,
		DetectedAt: conflict.DetectedAt,
	}
	if conflict.LocalCategory != nil {
		entry.LocalTimestamp = conflict.LocalCategory.LastModified
	}
	if conflict.RemoteCategory != nil {
		entry.RemoteTimestamp = conflict.RemoteCategory.LastModified
	}
	if conflict.LocalAssignment != nil {
		entry.LocalTimestamp = conflict.LocalAssignment.LastModified
	}
	if conflict.RemoteAssignment != nil {
		entry.RemoteTimestamp = conflict.RemoteAssignment.LastModified
	}
	if err := r.sink.CreateConflictLog(entry); err != nil {
		logging.Error("Failed to record conflict resolution", err,
			map[string]interface{}{"item_key": entry.ItemKey})
	}
}
