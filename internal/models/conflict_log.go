// Package models provides data model definitions for the appdeck sync core.
package models

import "time"

// ConflictLog records resolved sync conflicts for user awareness.
type ConflictLog struct {
	ID              UUID   `db:"id" json:"id"`
	ItemKey         string `db:"item_key" json:"item_key"`
	Kind            string `db:"kind" json:"kind"` // category, assignment, category_deletion
	LocalTimestamp  int64  `db:"local_timestamp" json:"local_timestamp"`
	RemoteTimestamp int64  `db:"remote_timestamp" json:"remote_timestamp"`
	Resolution      string `db:"resolution" json:"resolution"` // local_wins, remote_wins, merged, manual, deletion_proceed, deletion_keep_local
	DetectedAt      int64  `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}
