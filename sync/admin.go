package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"rdmsync/dropbox"
	"rdmsync/models"
)

// ErrNoAdmin means the remote team exposes no active admin at all, so no
// impersonated call can ever succeed. The team is skipped until an admin
// appears.
var ErrNoAdmin = errors.New("team has no active admin")

// AdminReconciler decides which team-member id is used for impersonated
// admin calls, keeps the dedicated admin group in step with the team's
// real admins, and repairs admin-group sharing on every bound team folder.
type AdminReconciler struct {
	DB        *gorm.DB
	Dir       DirectoryClient
	GroupName string
	Logger    *log.Logger

	// ShareWorkers bounds the parallel per-binding share checks.
	ShareWorkers int
}

// Reconcile runs the full admin reconciliation for one team and returns
// the chosen acting-admin member id along with the admin group id. Any
// remote failure before the per-binding share checks aborts the cycle.
func (r *AdminReconciler) Reconcile(ctx context.Context, snap *TeamSnapshot, opt *models.TeamOption) (adminID, groupID string, err error) {
	if len(snap.AdminIDs) == 0 {
		return "", "", ErrNoAdmin
	}

	groupID, created, err := r.ensureAdminGroup(ctx, snap)
	if err != nil {
		return "", "", err
	}

	groupMembers, err := r.Dir.ListGroupMembers(ctx, groupID)
	if err != nil {
		return "", "", err
	}

	if created || r.needsMembershipSync(snap, groupMembers) {
		changed, syncErr := SyncGroupMembers(ctx, r.Dir, groupID, snap.AdminEmails, groupMembers)
		if syncErr != nil {
			return "", "", fmt.Errorf("sync admin group membership: %w", syncErr)
		}
		if changed {
			groupMembers, err = r.Dir.ListGroupMembers(ctx, groupID)
			if err != nil {
				return "", "", err
			}
		}
	}

	adminID = r.electAdmin(snap, opt, groupMembers)
	if adminID == "" {
		return "", "", ErrNoAdmin
	}

	if err := r.propagateAdmin(adminID, opt); err != nil {
		return "", "", err
	}

	r.repairFolderShares(ctx, adminID, groupID, opt)
	return adminID, groupID, nil
}

// ensureAdminGroup finds or creates the dedicated admin group. A creation
// race with another process is absorbed by refreshing the snapshot's group
// index once and retrying the lookup.
func (r *AdminReconciler) ensureAdminGroup(ctx context.Context, snap *TeamSnapshot) (string, bool, error) {
	if id, ok := snap.GroupIDByName[r.GroupName]; ok {
		return id, false, nil
	}
	group, err := r.Dir.CreateGroup(ctx, r.GroupName)
	if err == nil {
		snap.GroupIDByName[r.GroupName] = group.GroupID
		snap.GroupNameByID[group.GroupID] = r.GroupName
		return group.GroupID, true, nil
	}
	var apiErr *dropbox.APIError
	if errors.As(err, &apiErr) && apiErr.HasTag("group_name_already_used") {
		if refreshErr := snap.RefreshGroups(ctx); refreshErr != nil {
			return "", false, refreshErr
		}
		if id, ok := snap.GroupIDByName[r.GroupName]; ok {
			return id, false, nil
		}
	}
	return "", false, fmt.Errorf("create admin group %q: %w", r.GroupName, err)
}

// needsMembershipSync checks whether the admin group's remote membership
// has drifted from the snapshot's admin set.
func (r *AdminReconciler) needsMembershipSync(snap *TeamSnapshot, groupMembers []dropbox.Member) bool {
	if len(groupMembers) == 0 {
		return true
	}
	admins := make(map[string]bool, len(snap.AdminIDs))
	for _, id := range snap.AdminIDs {
		admins[id] = true
	}
	for _, m := range groupMembers {
		if !admins[m.TeamMemberID] {
			return true
		}
	}
	return len(groupMembers) != len(snap.AdminIDs)
}

// electAdmin picks the acting admin by majority vote over the bindings'
// current admin identities, falling back to an arbitrary valid admin when
// the majority choice is stale.
func (r *AdminReconciler) electAdmin(snap *TeamSnapshot, opt *models.TeamOption, groupMembers []dropbox.Member) string {
	valid := map[string]bool{}
	for _, m := range groupMembers {
		if member, ok := snap.Members[m.TeamMemberID]; ok && member.IsAdmin() {
			valid[m.TeamMemberID] = true
		}
	}
	// The group may have just been emptied by a failed sync; the
	// snapshot's admins are still authoritative then.
	if len(valid) == 0 {
		for _, id := range snap.AdminIDs {
			valid[id] = true
		}
	}

	var bindings []models.ProjectStorageBinding
	if err := r.DB.Where("team_option_id = ?", opt.ID).Find(&bindings).Error; err != nil {
		r.Logger.Printf("Error loading bindings for team %s: %v", opt.TeamID, err)
	}
	votes := map[string]int{}
	for _, b := range bindings {
		if b.AdminDBMID != nil {
			votes[*b.AdminDBMID]++
		}
	}

	candidates := make([]string, 0, len(votes))
	for id := range votes {
		candidates = append(candidates, id)
	}
	sort.Strings(candidates)
	best := ""
	for _, id := range candidates {
		if best == "" || votes[id] > votes[best] {
			best = id
		}
	}
	if best != "" && valid[best] {
		return best
	}

	fallback := make([]string, 0, len(valid))
	for id := range valid {
		fallback = append(fallback, id)
	}
	sort.Strings(fallback)
	if len(fallback) == 0 {
		return ""
	}
	return fallback[0]
}

// propagateAdmin writes the elected admin onto every binding that differs
// and resets the affected cursors, since delta listings are scoped to the
// calling identity and must be rebuilt under the new one.
func (r *AdminReconciler) propagateAdmin(adminID string, opt *models.TeamOption) error {
	var bindings []models.ProjectStorageBinding
	if err := r.DB.Where("team_option_id = ?", opt.ID).Find(&bindings).Error; err != nil {
		return err
	}
	changed := false
	for i := range bindings {
		b := &bindings[i]
		if b.AdminDBMID != nil && *b.AdminDBMID == adminID {
			continue
		}
		updates := map[string]interface{}{
			"admin_dbmid":   adminID,
			"change_cursor": nil,
		}
		if err := r.DB.Model(b).Updates(updates).Error; err != nil {
			return err
		}
		changed = true
	}
	if changed {
		if err := r.DB.Model(opt).Update("change_cursor", nil).Error; err != nil {
			return err
		}
		opt.ChangeCursor = nil
	}
	return nil
}

// repairFolderShares verifies, for every complete binding, that the admin
// group is still shared onto the team folder with edit access, re-sharing
// when it is not. Bindings are independent, so the checks run in a bounded
// pool and one binding's failure never blocks the rest.
func (r *AdminReconciler) repairFolderShares(ctx context.Context, adminID, groupID string, opt *models.TeamOption) {
	var bindings []models.ProjectStorageBinding
	if err := r.DB.Where("team_option_id = ? AND team_folder_id IS NOT NULL", opt.ID).Find(&bindings).Error; err != nil {
		r.Logger.Printf("Error loading bindings for share repair: %v", err)
		return
	}
	workers := r.ShareWorkers
	if workers <= 0 {
		workers = 10
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range bindings {
		b := bindings[i]
		g.Go(func() error {
			folderID := *b.TeamFolderID
			access, err := r.Dir.ListFolderGroups(gctx, adminID, folderID)
			if err != nil {
				r.Logger.Printf("Error listing folder members for project %d: %v", b.ProjectID, err)
				return nil
			}
			if level, ok := access[groupID]; ok && (level == "editor" || level == "owner") {
				return nil
			}
			if err := r.Dir.AddFolderMember(gctx, adminID, folderID, groupID, "editor"); err != nil {
				r.Logger.Printf("Error re-sharing admin group onto project %d folder: %v", b.ProjectID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// SyncGroupMembers makes the remote group membership exactly the desired
// email set, issuing add/remove calls only for actual differences so a
// repeated call with an unchanged target is a no-op.
func SyncGroupMembers(ctx context.Context, dir DirectoryClient, groupID string, desiredEmails []string, current []dropbox.Member) (bool, error) {
	if current == nil {
		var err error
		current, err = dir.ListGroupMembers(ctx, groupID)
		if err != nil {
			return false, err
		}
	}
	desired := make(map[string]bool, len(desiredEmails))
	for _, e := range desiredEmails {
		desired[e] = true
	}
	have := make(map[string]bool, len(current))
	for _, m := range current {
		have[m.Email] = true
	}

	var toAdd, toRemove []string
	for e := range desired {
		if !have[e] {
			toAdd = append(toAdd, e)
		}
	}
	for e := range have {
		if !desired[e] {
			toRemove = append(toRemove, e)
		}
	}
	sort.Strings(toAdd)
	sort.Strings(toRemove)

	if len(toAdd) > 0 {
		if err := dir.AddGroupMembers(ctx, groupID, toAdd); err != nil {
			return false, err
		}
	}
	if len(toRemove) > 0 {
		if err := dir.RemoveGroupMembers(ctx, groupID, toRemove); err != nil {
			return false, err
		}
	}
	return len(toAdd) > 0 || len(toRemove) > 0, nil
}
