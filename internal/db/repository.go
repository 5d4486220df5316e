// Package db provides CRUD repository operations for appdeck data models.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/appdeck/internal/logging"
	"github.com/kimhsiao/appdeck/internal/models"
	"github.com/kimhsiao/appdeck/internal/uuid"
)

// Settings keys used by the sync core.
const (
	SettingSyncEnabled      = "sync.enabled"
	SettingLastSync         = "sync.last_sync"
	SettingDeviceID         = "device.id"
	SettingCategorySnapshot = "sync.category_snapshot"
)

// Repository provides persistence for the sync core: the pending operation
// queue, the settings key/value store, the last-known custom category
// snapshot, and the conflict log.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db.DB}
}

// prepareStmt gets or creates a prepared statement from cache.
func (r *Repository) prepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Settings Operations
// =====================================================

// GetSetting returns the value for key. sql.ErrNoRows when unset.
func (r *Repository) GetSetting(key string) (string, error) {
	stmt, err := r.prepareStmt("SELECT value FROM settings WHERE key = ?")
	if err != nil {
		return "", err
	}
	var value string
	if err := stmt.QueryRow(key).Scan(&value); err != nil {
		return "", err
	}
	return value, nil
}

// SetSetting stores the value for key, replacing any previous value.
func (r *Repository) SetSetting(key, value string) error {
	stmt, err := r.prepareStmt(
		"INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?) " +
			"ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at")
	if err != nil {
		return err
	}
	_, err = stmt.Exec(key, value, time.Now().Unix())
	return err
}

// GetBoolSetting returns a boolean setting, or def when unset or corrupt.
func (r *Repository) GetBoolSetting(key string, def bool) bool {
	value, err := r.GetSetting(key)
	if err != nil {
		return def
	}
	switch value {
	case "true", "1":
		return true
	case "false", "0":
		return false
	}
	return def
}

// SetBoolSetting stores a boolean setting.
func (r *Repository) SetBoolSetting(key string, value bool) error {
	if value {
		return r.SetSetting(key, "true")
	}
	return r.SetSetting(key, "false")
}

// DeviceID returns the persisted device UUID, generating one on first use.
func (r *Repository) DeviceID() (string, error) {
	id, err := r.GetSetting(SettingDeviceID)
	if err == nil && uuid.IsValid(id) {
		return id, nil
	}
	id = uuid.New()
	if err := r.SetSetting(SettingDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// =====================================================
// Pending Operation Queue
// =====================================================

// ReplacePendingOperations persists the full queue, replacing any previous
// contents. Called on every queue mutation so a process restart does not
// lose pending writes.
func (r *Repository) ReplacePendingOperations(ops []*models.PendingOperation) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM pending_operations"); err != nil {
		return fmt.Errorf("failed to clear pending operations: %w", err)
	}

	for _, op := range ops {
		payload, err := op.MarshalPayload()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			"INSERT INTO pending_operations (id, payload, created_at) VALUES (?, ?, ?)",
			string(op.ID), string(payload), op.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to insert pending operation %s: %w", op.ID, err)
		}
	}

	return tx.Commit()
}

// LoadPendingOperations returns the persisted queue in original append
// order. Rows whose payload no longer decodes (for example after a schema
// change) are discarded rather than failing the load.
func (r *Repository) LoadPendingOperations() ([]*models.PendingOperation, error) {
	rows, err := r.db.Query("SELECT id, payload FROM pending_operations ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("failed to query pending operations: %w", err)
	}
	defer rows.Close()

	var ops []*models.PendingOperation
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		op, err := models.UnmarshalPendingOperation(json.RawMessage(payload))
		if err != nil {
			logging.Warn("Discarding corrupt pending operation",
				map[string]interface{}{"id": id, "error": err.Error()})
			continue
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// =====================================================
// Custom Category Snapshot
// =====================================================

// SaveCategorySnapshot persists the current custom category names for
// restart-time reconciliation.
func (r *Repository) SaveCategorySnapshot(names []string) error {
	data, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("failed to marshal category snapshot: %w", err)
	}
	return r.SetSetting(SettingCategorySnapshot, string(data))
}

// LoadCategorySnapshot returns the last persisted custom category names.
// A missing or corrupt snapshot yields an empty list.
func (r *Repository) LoadCategorySnapshot() []string {
	value, err := r.GetSetting(SettingCategorySnapshot)
	if err != nil {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(value), &names); err != nil {
		logging.Warn("Discarding corrupt category snapshot",
			map[string]interface{}{"error": err.Error()})
		return nil
	}
	return names
}

// =====================================================
// Conflict Log
// =====================================================

// CreateConflictLog records a resolved conflict.
func (r *Repository) CreateConflictLog(entry *models.ConflictLog) error {
	if entry.ID == "" {
		entry.ID = models.UUID(uuid.New())
	}
	if entry.DetectedAt == 0 {
		entry.DetectedAt = time.Now().Unix()
	}
	stmt, err := r.prepareStmt(
		"INSERT INTO conflict_log (id, item_key, kind, local_timestamp, remote_timestamp, resolution, detected_at) " +
			"VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	_, err = stmt.Exec(string(entry.ID), entry.ItemKey, entry.Kind,
		entry.LocalTimestamp, entry.RemoteTimestamp, entry.Resolution, entry.DetectedAt)
	return err
}

// ListConflictLogs returns the most recent conflict log entries.
func (r *Repository) ListConflictLogs(limit int) ([]*models.ConflictLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(
		"SELECT id, item_key, kind, local_timestamp, remote_timestamp, resolution, detected_at "+
			"FROM conflict_log ORDER BY detected_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.ConflictLog
	for rows.Next() {
		var e models.ConflictLog
		var id string
		if err := rows.Scan(&id, &e.ItemKey, &e.Kind, &e.LocalTimestamp,
			&e.RemoteTimestamp, &e.Resolution, &e.DetectedAt); err != nil {
			return nil, err
		}
		e.ID = models.UUID(id)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
