package sync

import (
	"context"
	"time"

	"gorm.io/gorm"

	"rdmsync/dropbox"
	"rdmsync/models"
)

// Provider is the storage provider name recorded on file nodes.
const Provider = "dropboxbusiness"

// DirectoryClient is everything the synchronizer needs from the remote
// team-management and file APIs. Methods that act on folders or files take
// the team-member id of the admin to impersonate, because those endpoints
// are scoped to a member identity. Directory (below) implements this on
// top of the Dropbox clients; tests substitute a fake.
type DirectoryClient interface {
	// Team management.
	ListMembers(ctx context.Context) ([]dropbox.Member, error)
	ListGroups(ctx context.Context) ([]dropbox.Group, error)
	ListTeamFolders(ctx context.Context) ([]dropbox.TeamFolder, error)
	CreateGroup(ctx context.Context, name string) (dropbox.Group, error)
	DeleteGroup(ctx context.Context, groupID string) error
	AddGroupMembers(ctx context.Context, groupID string, emails []string) error
	RemoveGroupMembers(ctx context.Context, groupID string, emails []string) error
	ListGroupMembers(ctx context.Context, groupID string) ([]dropbox.Member, error)
	CreateTeamFolder(ctx context.Context, name string) (dropbox.TeamFolder, error)
	RenameTeamFolder(ctx context.Context, teamFolderID, name string) error
	ArchiveAndDeleteTeamFolder(ctx context.Context, teamFolderID string) error

	// Sharing and file operations, impersonated.
	AddFolderMember(ctx context.Context, adminID, sharedFolderID, dropboxID, accessLevel string) error
	ListFolderGroups(ctx context.Context, adminID, sharedFolderID string) (map[string]string, error)
	CreateFolder(ctx context.Context, adminID, namespaceID, path string) error
	DeleteFolder(ctx context.Context, adminID, namespaceID, path string) error
	MoveFolder(ctx context.Context, adminID, namespaceID, fromPath, toPath string) error
	ListFolder(ctx context.Context, adminID, namespaceID, path string, recursive bool) ([]dropbox.Entry, string, bool, error)
	ListFolderContinue(ctx context.Context, adminID, namespaceID, cursor string) ([]dropbox.Entry, string, bool, error)

	// Delta walk over the impersonated admin's view of the team space.
	// An empty cursor starts a fresh recursive walk.
	ListChanges(ctx context.Context, adminID, cursor string) ([]dropbox.Entry, string, bool, error)
	LatestCursor(ctx context.Context, adminID string) (string, error)

	// File-properties templates and per-file properties.
	ListTemplateIDs(ctx context.Context) ([]string, error)
	GetTemplate(ctx context.Context, templateID string) (dropbox.Template, error)
	AddTemplate(ctx context.Context, name string, fields []string) (string, error)
	UpdateTemplate(ctx context.Context, templateID string, addFields []string) error
	GetFileProperties(ctx context.Context, adminID, namespaceID, path, templateID string) (map[string]string, error)
	SetFileProperties(ctx context.Context, adminID, namespaceID, path, templateID string, fields map[string]string) error
}

// FileInfo carries the remote attributes of one changed file.
type FileInfo struct {
	Path        string
	Name        string
	Size        int64
	ContentHash string
	Modified    *time.Time
}

// ProjectSystem is the local project platform contract: file-node records,
// timestamp verification and audit logging. The gorm-backed implementation
// lives in local.go.
type ProjectSystem interface {
	GetOrCreateFileNode(ctx context.Context, projectID uint, provider, path string) (*models.FileNode, bool, error)
	UpdateFileNode(ctx context.Context, node *models.FileNode, info FileInfo) error

	// CoveringTimestamp returns the unexpired token that covers exactly
	// this content version of the node, or nil when none does.
	CoveringTimestamp(ctx context.Context, node *models.FileNode, info FileInfo) (*models.FileTimestamp, error)

	// MintTimestamp issues and stores a new token under the given user
	// identity (nil for the system fallback identity).
	MintTimestamp(ctx context.Context, userID *uint, node *models.FileNode, info FileInfo) (*models.FileTimestamp, error)

	AddAuditLog(ctx context.Context, projectID uint, action string, params map[string]interface{}) error
	ResolveUserByExternalID(ctx context.Context, externalID string) (*models.User, error)

	// WithTx returns a copy bound to the given transaction handle.
	WithTx(tx *gorm.DB) ProjectSystem
}
