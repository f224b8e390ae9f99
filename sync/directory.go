package sync

import (
	"context"

	"rdmsync/dropbox"
)

// Directory implements DirectoryClient on top of two Dropbox clients: one
// holding the team-management token and one holding the file-access token.
// Dropbox Business issues separate tokens for the two permission sets, so
// every team carries both.
type Directory struct {
	mgmt *dropbox.Client
	file *dropbox.Client
}

func NewDirectory(mgmt, file *dropbox.Client) *Directory {
	return &Directory{mgmt: mgmt, file: file}
}

func (d *Directory) ListMembers(ctx context.Context) ([]dropbox.Member, error) {
	return d.mgmt.ListMembers(ctx)
}

func (d *Directory) ListGroups(ctx context.Context) ([]dropbox.Group, error) {
	return d.mgmt.ListGroups(ctx)
}

func (d *Directory) ListTeamFolders(ctx context.Context) ([]dropbox.TeamFolder, error) {
	return d.mgmt.ListTeamFolders(ctx)
}

func (d *Directory) CreateGroup(ctx context.Context, name string) (dropbox.Group, error) {
	return d.mgmt.CreateGroup(ctx, name)
}

func (d *Directory) DeleteGroup(ctx context.Context, groupID string) error {
	return d.mgmt.DeleteGroup(ctx, groupID)
}

func (d *Directory) AddGroupMembers(ctx context.Context, groupID string, emails []string) error {
	return d.mgmt.AddGroupMembers(ctx, groupID, emails)
}

func (d *Directory) RemoveGroupMembers(ctx context.Context, groupID string, emails []string) error {
	return d.mgmt.RemoveGroupMembers(ctx, groupID, emails)
}

func (d *Directory) ListGroupMembers(ctx context.Context, groupID string) ([]dropbox.Member, error) {
	return d.mgmt.ListGroupMembers(ctx, groupID)
}

func (d *Directory) CreateTeamFolder(ctx context.Context, name string) (dropbox.TeamFolder, error) {
	return d.mgmt.CreateTeamFolder(ctx, name)
}

func (d *Directory) RenameTeamFolder(ctx context.Context, teamFolderID, name string) error {
	return d.mgmt.RenameTeamFolder(ctx, teamFolderID, name)
}

func (d *Directory) ArchiveAndDeleteTeamFolder(ctx context.Context, teamFolderID string) error {
	return d.mgmt.ArchiveAndDeleteTeamFolder(ctx, teamFolderID)
}

func (d *Directory) AddFolderMember(ctx context.Context, adminID, sharedFolderID, dropboxID, accessLevel string) error {
	return d.file.AsAdmin(adminID).AddFolderMember(ctx, sharedFolderID, dropboxID, accessLevel)
}

func (d *Directory) ListFolderGroups(ctx context.Context, adminID, sharedFolderID string) (map[string]string, error) {
	return d.file.AsAdmin(adminID).ListFolderGroups(ctx, sharedFolderID)
}

func (d *Directory) CreateFolder(ctx context.Context, adminID, namespaceID, path string) error {
	return d.file.AsAdmin(adminID).WithPathRoot(namespaceID).CreateFolder(ctx, path)
}

func (d *Directory) DeleteFolder(ctx context.Context, adminID, namespaceID, path string) error {
	return d.file.AsAdmin(adminID).WithPathRoot(namespaceID).DeleteFolder(ctx, path)
}

func (d *Directory) MoveFolder(ctx context.Context, adminID, namespaceID, fromPath, toPath string) error {
	return d.file.AsAdmin(adminID).WithPathRoot(namespaceID).MoveFolder(ctx, fromPath, toPath)
}

func (d *Directory) ListFolder(ctx context.Context, adminID, namespaceID, path string, recursive bool) ([]dropbox.Entry, string, bool, error) {
	return d.file.AsAdmin(adminID).WithPathRoot(namespaceID).ListFolder(ctx, path, recursive)
}

func (d *Directory) ListFolderContinue(ctx context.Context, adminID, namespaceID, cursor string) ([]dropbox.Entry, string, bool, error) {
	return d.file.AsAdmin(adminID).WithPathRoot(namespaceID).ListFolderContinue(ctx, cursor)
}

func (d *Directory) ListChanges(ctx context.Context, adminID, cursor string) ([]dropbox.Entry, string, bool, error) {
	client := d.file.AsAdmin(adminID)
	if cursor == "" {
		return client.ListFolder(ctx, "", true)
	}
	return client.ListFolderContinue(ctx, cursor)
}

func (d *Directory) LatestCursor(ctx context.Context, adminID string) (string, error) {
	return d.file.AsAdmin(adminID).LatestCursor(ctx, "", true)
}

func (d *Directory) ListTemplateIDs(ctx context.Context) ([]string, error) {
	return d.mgmt.ListTemplateIDs(ctx)
}

func (d *Directory) GetTemplate(ctx context.Context, templateID string) (dropbox.Template, error) {
	return d.mgmt.GetTemplate(ctx, templateID)
}

func (d *Directory) AddTemplate(ctx context.Context, name string, fields []string) (string, error) {
	return d.mgmt.AddTemplate(ctx, name, fields)
}

func (d *Directory) UpdateTemplate(ctx context.Context, templateID string, addFields []string) error {
	return d.mgmt.UpdateTemplate(ctx, templateID, addFields)
}

func (d *Directory) GetFileProperties(ctx context.Context, adminID, namespaceID, path, templateID string) (map[string]string, error) {
	return d.file.AsAdmin(adminID).WithPathRoot(namespaceID).GetFileProperties(ctx, path, templateID)
}

func (d *Directory) SetFileProperties(ctx context.Context, adminID, namespaceID, path, templateID string, fields map[string]string) error {
	return d.file.AsAdmin(adminID).WithPathRoot(namespaceID).SetFileProperties(ctx, path, templateID, fields)
}
