// Package remote defines the record-store boundary the sync core
// integrates against. Any service offering save, query, and account-status
// is a valid backend; this package ships an in-memory store for tests and a
// Postgres-backed store for hosted deployments.
package remote

import (
	"context"
	"encoding/json"

	"github.com/kimhsiao/appdeck/internal/errors"
	"github.com/kimhsiao/appdeck/internal/models"
)

// RecordType identifies the kind of a remote record.
type RecordType string

const (
	RecordTypeCategory   RecordType = "category"
	RecordTypeAssignment RecordType = "assignment"
)

// Record is one unit of remote-store data. Key is the business identity
// (category name or bundle identifier); the store-assigned reference
// returned by Save is opaque and separate from the key.
type Record struct {
	Type     RecordType      `json:"type"`
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload"`
	Modified int64           `json:"modified"`
}

// Query selects records from the store.
type Query struct {
	Type RecordType

	// ModifiedSince, when non-zero, restricts the result to records
	// modified at or after the given timestamp.
	ModifiedSince int64
}

// AccountStatus is the availability of the backing account.
type AccountStatus int

const (
	AccountAvailable AccountStatus = iota
	AccountNoAccount
	AccountRestricted
	AccountIndeterminate
)

// String returns a human readable account status.
func (s AccountStatus) String() string {
	switch s {
	case AccountAvailable:
		return "available"
	case AccountNoAccount:
		return "no-account"
	case AccountRestricted:
		return "restricted"
	default:
		return "indeterminate"
	}
}

// Store is the remote record store boundary.
type Store interface {
	// Save upserts a record by (Type, Key) and returns the opaque
	// store-assigned reference for update-in-place.
	Save(ctx context.Context, rec Record) (ref string, err error)

	// Query returns all records matching q.
	Query(ctx context.Context, q Query) ([]Record, error)

	// AccountStatus returns the availability of the backing account.
	AccountStatus(ctx context.Context) (AccountStatus, error)
}

// =====================================================
// Record Codec
// =====================================================

// EncodeCategory converts a category to its remote record form.
func EncodeCategory(c *models.SyncableCategory) (Record, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return Record{}, errors.Wrap(errors.ErrInternal, "failed to encode category", err)
	}
	return Record{
		Type:     RecordTypeCategory,
		Key:      c.Name,
		Payload:  payload,
		Modified: c.LastModified,
	}, nil
}

// DecodeCategory converts a remote record back to a category. A malformed
// payload yields a SYNC_RECORD_DECODE error; callers skip the record.
func DecodeCategory(rec Record) (*models.SyncableCategory, error) {
	var c models.SyncableCategory
	if err := json.Unmarshal(rec.Payload, &c); err != nil {
		return nil, errors.Wrap(errors.ErrSyncRecordDecode, "malformed category record "+rec.Key, err)
	}
	if c.Name == "" {
		return nil, errors.New(errors.ErrSyncRecordDecode, "category record "+rec.Key+" has no name")
	}
	return &c, nil
}

// EncodeAssignment converts an assignment to its remote record form.
func EncodeAssignment(a *models.SyncableAppAssignment) (Record, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return Record{}, errors.Wrap(errors.ErrInternal, "failed to encode assignment", err)
	}
	return Record{
		Type:     RecordTypeAssignment,
		Key:      a.BundleID,
		Payload:  payload,
		Modified: a.LastModified,
	}, nil
}

// DecodeAssignment converts a remote record back to an assignment.
func DecodeAssignment(rec Record) (*models.SyncableAppAssignment, error) {
	var a models.SyncableAppAssignment
	if err := json.Unmarshal(rec.Payload, &a); err != nil {
		return nil, errors.Wrap(errors.ErrSyncRecordDecode, "malformed assignment record "+rec.Key, err)
	}
	if a.BundleID == "" {
		return nil, errors.New(errors.ErrSyncRecordDecode, "assignment record "+rec.Key+" has no bundle id")
	}
	return &a, nil
}
