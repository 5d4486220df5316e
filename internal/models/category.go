// Package models provides data model definitions for the appdeck sync core.
package models

import "time"

// SyncableCategory is a user-visible category with synchronization metadata.
// The category name is its identity: there is at most one category per name,
// locally and in the remote store. Predefined categories ship with the app
// and are never uploaded; only custom categories synchronize.
type SyncableCategory struct {
	Name         string `db:"name" json:"name"`
	Icon         string `db:"icon" json:"icon"`
	IsCustom     bool   `db:"is_custom" json:"is_custom"`
	LastModified int64  `db:"last_modified" json:"last_modified"`
	OriginDevice string `db:"origin_device" json:"origin_device"`

	// RemoteRef is the opaque reference to the corresponding remote record.
	// Empty means "never uploaded yet". Local bookkeeping only.
	RemoteRef string `db:"remote_ref" json:"-"`

	// UploadedModified is the LastModified value last confirmed uploaded.
	// Local bookkeeping only.
	UploadedModified int64 `db:"uploaded_modified" json:"-"`
}

// TableName returns the table name for SyncableCategory.
func (SyncableCategory) TableName() string {
	return "categories"
}

// LastModifiedTime returns LastModified as time.Time.
func (c *SyncableCategory) LastModifiedTime() time.Time {
	return time.Unix(c.LastModified, 0)
}

// Touch records a local mutation: bumps LastModified and stamps the
// originating device label.
func (c *SyncableCategory) Touch(device string) {
	c.LastModified = time.Now().Unix()
	c.OriginDevice = device
}

// NeedsUpload reports whether the category has never been uploaded or has
// been modified since the last confirmed upload.
func (c *SyncableCategory) NeedsUpload() bool {
	return c.RemoteRef == "" || c.LastModified > c.UploadedModified
}

// MarkUploaded records a confirmed upload under the given remote reference.
// uploadedModified is the LastModified of the version actually sent; a
// mutation racing the upload keeps NeedsUpload true for its newer edit.
func (c *SyncableCategory) MarkUploaded(ref string, uploadedModified int64) {
	c.RemoteRef = ref
	if uploadedModified > c.UploadedModified {
		c.UploadedModified = uploadedModified
	}
}

// Clone returns a copy of the category.
func (c *SyncableCategory) Clone() *SyncableCategory {
	cp := *c
	return &cp
}
