// Package models provides data model definitions for the appdeck sync core.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationKind identifies the type of a pending remote write.
type OperationKind string

const (
	OperationSaveCategory   OperationKind = "save_category"
	OperationSaveAssignment OperationKind = "save_assignment"
)

// PendingOperation is one not-yet-confirmed write against the remote store.
// Operations are appended when an upload attempt cannot complete (offline or
// transient failure) and replayed by the operation queue on reconnect.
type PendingOperation struct {
	ID        UUID          `db:"id" json:"id"`
	Kind      OperationKind `db:"kind" json:"kind"`
	Timestamp int64         `db:"timestamp" json:"timestamp"`

	Category   *SyncableCategory      `json:"category,omitempty"`
	Assignment *SyncableAppAssignment `json:"assignment,omitempty"`
}

// TableName returns the table name for PendingOperation.
func (PendingOperation) TableName() string {
	return "pending_operations"
}

// Time returns the Timestamp as time.Time.
func (p *PendingOperation) Time() time.Time {
	return time.Unix(p.Timestamp, 0)
}

// Key returns the business key of the attached payload.
func (p *PendingOperation) Key() string {
	switch p.Kind {
	case OperationSaveCategory:
		if p.Category != nil {
			return p.Category.Name
		}
	case OperationSaveAssignment:
		if p.Assignment != nil {
			return p.Assignment.BundleID
		}
	}
	return ""
}

// Validate checks that the operation carries the payload its kind requires.
func (p *PendingOperation) Validate() error {
	switch p.Kind {
	case OperationSaveCategory:
		if p.Category == nil {
			return fmt.Errorf("save_category operation %s has no category payload", p.ID)
		}
	case OperationSaveAssignment:
		if p.Assignment == nil {
			return fmt.Errorf("save_assignment operation %s has no assignment payload", p.ID)
		}
	default:
		return fmt.Errorf("unknown operation kind %q", p.Kind)
	}
	return nil
}

// MarshalPayload serializes the operation payload for durable storage.
func (p *PendingOperation) MarshalPayload() (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pending operation: %w", err)
	}
	return data, nil
}

// UnmarshalPendingOperation deserializes an operation from durable storage.
func UnmarshalPendingOperation(data json.RawMessage) (*PendingOperation, error) {
	var op PendingOperation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending operation: %w", err)
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return &op, nil
}
