package models

import (
	"time"

	"gorm.io/gorm"
)

// FileNode is the local record of one file on a project's institutional
// storage, keyed by its path relative to the project's team folder.
type FileNode struct {
	gorm.Model

	ProjectID uint   `gorm:"not null;index:idx_file_nodes_lookup,unique" json:"project_id"`
	Provider  string `gorm:"not null;index:idx_file_nodes_lookup,unique;default:'dropboxbusiness'" json:"provider"`
	Path      string `gorm:"not null;index:idx_file_nodes_lookup,unique" json:"path"`

	Name         string     `json:"name"`
	Size         int64      `json:"size"`
	ContentHash  string     `json:"content_hash"`
	LastModified *time.Time `json:"last_modified,omitempty"`

	// Relations
	Timestamps []FileTimestamp `gorm:"foreignKey:FileNodeID" json:"-"`
}

// FileTimestamp is a minted timestamp token binding a file node's content
// hash to a trusted point in time. A node accumulates one row per distinct
// content version that was verified.
type FileTimestamp struct {
	gorm.Model

	FileNodeID uint  `gorm:"not null;index" json:"file_node_id"`
	UserID     *uint `gorm:"index" json:"user_id,omitempty"`

	ContentHash string     `gorm:"not null;index" json:"content_hash"`
	Size        int64      `json:"size"`
	Token       string     `gorm:"not null" json:"-"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`

	// Relations
	FileNode FileNode `json:"-"`
}

// Covers reports whether this token is still a valid assertion for the
// given content version.
func (t *FileTimestamp) Covers(hash string, size int64, now time.Time) bool {
	if t.ContentHash != hash || t.Size != size {
		return false
	}
	if t.ExpiresAt != nil && t.ExpiresAt.Before(now) {
		return false
	}
	return true
}
