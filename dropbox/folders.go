package dropbox

import (
	"context"
	"fmt"
	"time"
)

// TeamFolder is a team-space top-level folder. Its id doubles as the
// shared-folder id for sharing calls and as the namespace id for
// path-rooted file calls.
type TeamFolder struct {
	TeamFolderID string `json:"team_folder_id"`
	Name         string `json:"name"`
}

// ListTeamFolders drains the paginated team-folder listing.
func (c *Client) ListTeamFolders(ctx context.Context) ([]TeamFolder, error) {
	var page struct {
		TeamFolders []TeamFolder `json:"team_folders"`
		Cursor      string       `json:"cursor"`
		HasMore     bool         `json:"has_more"`
	}
	if err := c.rpc(ctx, "/team/team_folder/list", map[string]interface{}{"limit": 100}, &page); err != nil {
		return nil, err
	}
	folders := page.TeamFolders
	for page.HasMore {
		cursor := page.Cursor
		page.TeamFolders = nil
		if err := c.rpc(ctx, "/team/team_folder/list/continue", map[string]string{"cursor": cursor}, &page); err != nil {
			return nil, err
		}
		folders = append(folders, page.TeamFolders...)
	}
	return folders, nil
}

// CreateTeamFolder creates an active team folder.
func (c *Client) CreateTeamFolder(ctx context.Context, name string) (TeamFolder, error) {
	var folder TeamFolder
	err := c.rpc(ctx, "/team/team_folder/create", map[string]string{"name": name}, &folder)
	return folder, err
}

// RenameTeamFolder changes a team folder's display name.
func (c *Client) RenameTeamFolder(ctx context.Context, teamFolderID, name string) error {
	params := map[string]string{"team_folder_id": teamFolderID, "name": name}
	return c.rpc(ctx, "/team/team_folder/rename", params, nil)
}

// ArchiveAndDeleteTeamFolder archives a team folder (waiting for the
// asynchronous archive job) and then permanently deletes it. Used by the
// provisioning rollback path.
func (c *Client) ArchiveAndDeleteTeamFolder(ctx context.Context, teamFolderID string) error {
	var launch struct {
		Tag        string `json:".tag"`
		AsyncJobID string `json:"async_job_id"`
	}
	params := map[string]interface{}{"team_folder_id": teamFolderID, "force_async_off": false}
	if err := c.rpc(ctx, "/team/team_folder/archive", params, &launch); err != nil {
		return err
	}
	if launch.Tag == "async_job_id" && launch.AsyncJobID != "" {
		if err := c.waitArchiveJob(ctx, launch.AsyncJobID); err != nil {
			return err
		}
	}
	return c.rpc(ctx, "/team/team_folder/permanently_delete", map[string]string{"team_folder_id": teamFolderID}, nil)
}

func (c *Client) waitArchiveJob(ctx context.Context, asyncJobID string) error {
	const maxPolls = 10
	interval := time.Second
	for i := 0; i < maxPolls; i++ {
		if err := sleepContext(ctx, interval); err != nil {
			return err
		}
		var status tagged
		err := c.rpc(ctx, "/team/team_folder/archive/check", map[string]string{"async_job_id": asyncJobID}, &status)
		if err != nil {
			return err
		}
		switch status.Tag {
		case "complete":
			return nil
		case "in_progress":
			interval *= 2
		default:
			return fmt.Errorf("dropbox: archive job %s failed: %s", asyncJobID, status.Tag)
		}
	}
	return fmt.Errorf("dropbox: archive job %s did not complete", asyncJobID)
}

// AddFolderMember shares a folder with a principal (a group id or account
// dropbox id) at the given access level ("editor", "viewer"). Requires an
// impersonated admin client for team folders.
func (c *Client) AddFolderMember(ctx context.Context, sharedFolderID, dropboxID, accessLevel string) error {
	params := map[string]interface{}{
		"shared_folder_id": sharedFolderID,
		"members": []map[string]interface{}{
			{
				"member":       map[string]string{".tag": "dropbox_id", "dropbox_id": dropboxID},
				"access_level": accessLevel,
			},
		},
		"quiet": true,
	}
	return c.rpc(ctx, "/sharing/add_folder_member", params, nil)
}

// ListFolderGroups returns the groups a shared folder is shared with,
// mapped group id -> access level.
func (c *Client) ListFolderGroups(ctx context.Context, sharedFolderID string) (map[string]string, error) {
	var page struct {
		Groups []struct {
			AccessType tagged `json:"access_type"`
			Group      struct {
				GroupID string `json:"group_id"`
			} `json:"group"`
		} `json:"groups"`
		Cursor string `json:"cursor"`
	}
	params := map[string]interface{}{"shared_folder_id": sharedFolderID, "limit": 100}
	if err := c.rpc(ctx, "/sharing/list_folder_members", params, &page); err != nil {
		return nil, err
	}
	access := map[string]string{}
	for {
		for _, g := range page.Groups {
			access[g.Group.GroupID] = g.AccessType.Tag
		}
		if page.Cursor == "" {
			return access, nil
		}
		cursor := page.Cursor
		page.Groups = nil
		page.Cursor = ""
		if err := c.rpc(ctx, "/sharing/list_folder_members/continue", map[string]string{"cursor": cursor}, &page); err != nil {
			return nil, err
		}
	}
}

// CreateFolder creates a folder inside the client's path root.
func (c *Client) CreateFolder(ctx context.Context, path string) error {
	err := c.rpc(ctx, "/files/create_folder_v2", map[string]string{"path": path}, nil)
	if apiErr, ok := err.(*APIError); ok && apiErr.HasTag("conflict") {
		return nil
	}
	return err
}

// DeleteFolder deletes a file or folder inside the client's path root.
func (c *Client) DeleteFolder(ctx context.Context, path string) error {
	return c.rpc(ctx, "/files/delete_v2", map[string]string{"path": path}, nil)
}

// MoveFolder renames or moves within the client's path root.
func (c *Client) MoveFolder(ctx context.Context, fromPath, toPath string) error {
	params := map[string]string{"from_path": fromPath, "to_path": toPath}
	return c.rpc(ctx, "/files/move_v2", params, nil)
}
