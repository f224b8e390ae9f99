package dropbox

import (
	"context"
	"time"
)

// Entry is one file, folder or deletion in a listing or delta page.
type Entry struct {
	Tag            string    `json:".tag"` // "file", "folder", "deleted"
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	PathDisplay    string    `json:"path_display"`
	PathLower      string    `json:"path_lower"`
	ClientModified time.Time `json:"client_modified,omitempty"`
	ServerModified time.Time `json:"server_modified,omitempty"`
	Size           int64     `json:"size,omitempty"`
	ContentHash    string    `json:"content_hash,omitempty"`

	SharingInfo struct {
		ModifiedBy string `json:"modified_by"`
	} `json:"sharing_info"`
}

type listFolderPage struct {
	Entries []Entry `json:"entries"`
	Cursor  string  `json:"cursor"`
	HasMore bool    `json:"has_more"`
}

// ListFolder starts a recursive listing over everything the calling
// identity can see under path ("" for the whole team space of an
// impersonated admin).
func (c *Client) ListFolder(ctx context.Context, path string, recursive bool) ([]Entry, string, bool, error) {
	params := map[string]interface{}{
		"path":                           path,
		"recursive":                      recursive,
		"include_deleted":                true,
		"include_mounted_folders":        true,
		"include_non_downloadable_files": true,
	}
	var page listFolderPage
	if err := c.rpc(ctx, "/files/list_folder", params, &page); err != nil {
		return nil, "", false, err
	}
	return page.Entries, page.Cursor, page.HasMore, nil
}

// ListFolderContinue fetches the next delta page for a cursor. The cursor
// is scoped to the identity that created it.
func (c *Client) ListFolderContinue(ctx context.Context, cursor string) ([]Entry, string, bool, error) {
	var page listFolderPage
	if err := c.rpc(ctx, "/files/list_folder/continue", map[string]string{"cursor": cursor}, &page); err != nil {
		return nil, "", false, err
	}
	return page.Entries, page.Cursor, page.HasMore, nil
}

// LatestCursor returns a cursor for the current state of the tree, so a
// caller can skip history and only see changes from now on.
func (c *Client) LatestCursor(ctx context.Context, path string, recursive bool) (string, error) {
	params := map[string]interface{}{
		"path":      path,
		"recursive": recursive,
	}
	var out struct {
		Cursor string `json:"cursor"`
	}
	if err := c.rpc(ctx, "/files/list_folder/get_latest_cursor", params, &out); err != nil {
		return "", err
	}
	return out.Cursor, nil
}
