// Package models provides data model definitions for the appdeck sync core.
package models

import "time"

// SyncableAppAssignment maps an installed application to a category. The
// application bundle identifier is its identity. Assignments are never
// explicitly deleted; a newer assignment for the same bundle supersedes the
// older one. Only assignments to custom categories synchronize; assignments
// to predefined categories are locally derived.
type SyncableAppAssignment struct {
	BundleID     string `db:"bundle_id" json:"bundle_id"`
	CategoryName string `db:"category_name" json:"category_name"`
	LastModified int64  `db:"last_modified" json:"last_modified"`
	OriginDevice string `db:"origin_device" json:"origin_device"`

	// RemoteRef is the opaque remote record reference; empty means never
	// uploaded. Local bookkeeping only.
	RemoteRef string `db:"remote_ref" json:"-"`

	// UploadedModified is the LastModified value last confirmed uploaded.
	UploadedModified int64 `db:"uploaded_modified" json:"-"`
}

// TableName returns the table name for SyncableAppAssignment.
func (SyncableAppAssignment) TableName() string {
	return "app_assignments"
}

// LastModifiedTime returns LastModified as time.Time.
func (a *SyncableAppAssignment) LastModifiedTime() time.Time {
	return time.Unix(a.LastModified, 0)
}

// Touch records a local mutation.
func (a *SyncableAppAssignment) Touch(device string) {
	a.LastModified = time.Now().Unix()
	a.OriginDevice = device
}

// NeedsUpload reports whether the assignment has never been uploaded or has
// been modified since the last confirmed upload.
func (a *SyncableAppAssignment) NeedsUpload() bool {
	return a.RemoteRef == "" || a.LastModified > a.UploadedModified
}

// MarkUploaded records a confirmed upload under the given remote reference.
// uploadedModified is the LastModified of the version actually sent; a
// mutation racing the upload keeps NeedsUpload true for its newer edit.
func (a *SyncableAppAssignment) MarkUploaded(ref string, uploadedModified int64) {
	a.RemoteRef = ref
	if uploadedModified > a.UploadedModified {
		a.UploadedModified = uploadedModified
	}
}

// Clone returns a copy of the assignment.
func (a *SyncableAppAssignment) Clone() *SyncableAppAssignment {
	cp := *a
	return &cp
}
