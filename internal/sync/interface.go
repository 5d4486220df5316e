package sync

import (
	"context"
	"time"
)

// Status is the externally visible synchronization state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// StatusInfo is a point-in-time snapshot of the coordinator.
type StatusInfo struct {
	Status    Status     `json:"status"`
	Enabled   bool       `json:"enabled"`
	Online    bool       `json:"online"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Pending   int        `json:"pending_operations"`
}

// StatusListener receives every status transition. Listeners run on the
// coordinator's run loop and must not block.
type StatusListener func(StatusInfo)

// Syncer is the surface the HTTP layer talks to. *Coordinator implements it.
type Syncer interface {
	SyncNow(ctx context.Context) error
	SetEnabled(enabled bool) error
	NotifyReachability(online bool)
	Info() StatusInfo
	OnStatus(fn StatusListener)
}
