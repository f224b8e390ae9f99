package sync

import (
	"context"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"rdmsync/dropbox"
	"rdmsync/models"
)

// Reconciler walks the team's delta feed and drives per-file timestamp
// verification. Each batch of entries is followed by a cursor save, so a
// crash between the two re-processes that batch (at-least-once); the
// valid-timestamp check makes re-processing a no-op.
type Reconciler struct {
	DB       *gorm.DB
	Dir      DirectoryClient
	Projects ProjectSystem
	Logger   *log.Logger
}

// Run processes all outstanding changes for one team under the given
// acting admin. The cursor restarts from scratch when the team-level
// cursor is absent or any binding's cursor was reset by an admin change.
func (r *Reconciler) Run(ctx context.Context, snap *TeamSnapshot, opt *models.TeamOption, adminID string) error {
	var bindings []models.ProjectStorageBinding
	err := r.DB.Where("team_option_id = ? AND team_folder_id IS NOT NULL", opt.ID).Find(&bindings).Error
	if err != nil {
		return err
	}
	if len(bindings) == 0 {
		return nil
	}

	byFolder := map[string][]*models.ProjectStorageBinding{}
	needRescan := opt.ChangeCursor == nil
	for i := range bindings {
		b := &bindings[i]
		byFolder[*b.TeamFolderID] = append(byFolder[*b.TeamFolderID], b)
		if b.ChangeCursor == nil {
			needRescan = true
		}
	}
	folderIDByName := snap.FolderIDByName()

	cursor := ""
	if !needRescan {
		cursor = *opt.ChangeCursor
	}

	for {
		entries, next, hasMore, err := r.Dir.ListChanges(ctx, adminID, cursor)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			switch entry.Tag {
			case "file":
				r.handleFile(ctx, snap, adminID, folderIDByName, byFolder, entry)
			case "folder", "deleted":
				// Folder creations and deletions cannot be told apart
				// between platform-initiated and drive-initiated changes,
				// so they are classified but deliberately not acted on.
			}
		}
		if err := r.persistCursor(opt, bindings, next); err != nil {
			return err
		}
		cursor = next
		if !hasMore {
			return nil
		}
	}
}

// handleFile verifies or mints a timestamp token for one changed file, for
// every binding bound to its team folder. Per-binding failures are logged
// with the project id and do not stop the walk.
func (r *Reconciler) handleFile(ctx context.Context, snap *TeamSnapshot, adminID string, folderIDByName map[string]string, byFolder map[string][]*models.ProjectStorageBinding, entry dropbox.Entry) {
	folderName, relPath, ok := splitTeamFolderPath(entry.PathDisplay)
	if !ok {
		return
	}
	folderID, ok := folderIDByName[folderName]
	if !ok {
		// Untracked or foreign team folder.
		return
	}
	modified := entry.ServerModified
	info := FileInfo{
		Path:        relPath,
		Name:        entry.Name,
		Size:        entry.Size,
		ContentHash: entry.ContentHash,
		Modified:    &modified,
	}

	// Normally exactly one binding per team folder; tolerate the
	// invariant being momentarily violated.
	for _, binding := range byFolder[folderID] {
		stamp, err := r.verifyOne(ctx, binding, info, entry)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"project_id": binding.ProjectID,
				"path":       entry.PathDisplay,
			}).WithError(err).Error("timestamp verification failed")
			continue
		}
		r.writeRemoteProperties(ctx, snap, adminID, folderID, binding, info, entry, stamp)
	}
}

// verifyOne performs the local mutations for one (binding, file) pair in
// a single transaction, so a crash leaves no partially-applied state. It
// returns the token covering the file, whether found or freshly minted.
func (r *Reconciler) verifyOne(ctx context.Context, binding *models.ProjectStorageBinding, info FileInfo, entry dropbox.Entry) (*models.FileTimestamp, error) {
	var stamp *models.FileTimestamp
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		ps := r.Projects.WithTx(tx)

		node, created, err := ps.GetOrCreateFileNode(ctx, binding.ProjectID, Provider, info.Path)
		if err != nil {
			return err
		}
		if err := ps.UpdateFileNode(ctx, node, info); err != nil {
			return err
		}

		stamp, err = ps.CoveringTimestamp(ctx, node, info)
		if err != nil {
			return err
		}
		if stamp != nil {
			return nil
		}

		// Attribute the change to whoever touched the file remotely,
		// falling back to the system identity when unresolvable.
		var userID *uint
		user, err := ps.ResolveUserByExternalID(ctx, entry.SharingInfo.ModifiedBy)
		if err != nil {
			return err
		}
		if user != nil {
			userID = &user.ID
		}
		if stamp, err = ps.MintTimestamp(ctx, userID, node, info); err != nil {
			return err
		}

		action := models.AuditFileUpdated
		if created {
			action = models.AuditFileAdded
		}
		return ps.AddAuditLog(ctx, binding.ProjectID, action, map[string]interface{}{
			"provider":     Provider,
			"path":         info.Path,
			"content_hash": info.ContentHash,
			"size":         info.Size,
		})
	})
	if err != nil {
		return nil, err
	}
	return stamp, nil
}

// writeRemoteProperties mirrors the covering token and the attributing
// account onto the file's remote property group, skipping the write when
// the remote copy already matches. Best-effort: the local record is
// authoritative.
func (r *Reconciler) writeRemoteProperties(ctx context.Context, snap *TeamSnapshot, adminID, folderID string, binding *models.ProjectStorageBinding, info FileInfo, entry dropbox.Entry, stamp *models.FileTimestamp) {
	if snap.TemplateID == "" || stamp == nil {
		return
	}
	current, err := r.Dir.GetFileProperties(ctx, adminID, folderID, info.Path, snap.TemplateID)
	if err == nil {
		stored, decodeErr := dropbox.DecodeProperty("timestamp", current)
		if decodeErr == nil && stored == stamp.Token {
			return
		}
	}
	fields, err := dropbox.EncodeProperty("timestamp", stamp.Token)
	if err != nil {
		r.Logger.Printf("Error encoding timestamp property for project %d: %v", binding.ProjectID, err)
		return
	}
	fields["timestamp_user"] = entry.SharingInfo.ModifiedBy
	if err := r.Dir.SetFileProperties(ctx, adminID, folderID, info.Path, snap.TemplateID, fields); err != nil {
		r.Logger.Printf("Error writing timestamp properties for project %d %s: %v", binding.ProjectID, info.Path, err)
	}
}

func (r *Reconciler) persistCursor(opt *models.TeamOption, bindings []models.ProjectStorageBinding, cursor string) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(opt).Update("change_cursor", cursor).Error; err != nil {
			return err
		}
		opt.ChangeCursor = &cursor
		for i := range bindings {
			if err := tx.Model(&bindings[i]).Update("change_cursor", cursor).Error; err != nil {
				return err
			}
			bindings[i].ChangeCursor = &cursor
		}
		return nil
	})
}

// splitTeamFolderPath resolves which team folder a display path belongs to
// and the file's path inside it: "/Folder/a/b.txt" -> ("Folder", "/a/b.txt").
// Entries at the team-space root live in no team folder.
func splitTeamFolderPath(path string) (folderName, relPath string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/")
	idx := strings.Index(trimmed, "/")
	if idx <= 0 {
		return "", "", false
	}
	return trimmed[:idx], trimmed[idx:], true
}
