package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"gorm.io/gorm"

	"rdmsync/models"
)

// Job composes snapshot, admin reconciliation and the change-feed walk
// into one full synchronization cycle per team.
type Job struct {
	DB       *gorm.DB
	Projects ProjectSystem

	// NewDirectory builds a directory client for one team, decrypting its
	// stored tokens. Injected so tests can substitute a fake.
	NewDirectory func(opt *models.TeamOption) (DirectoryClient, error)

	AdminGroupName  string
	GroupNamePrefix string
	ShareWorkers    int

	// MutateDelay is the fixed pause between remote-mutating calls in
	// bulk per-project loops, to stay under the vendor's rate limits.
	MutateDelay time.Duration

	Logger *log.Logger
}

// SyncTeam runs one full cycle: refresh snapshot, reconcile the acting
// admin, then walk the change feed under the (possibly new) admin
// identity. Snapshot or admin failures abort the cycle and are reported.
func (j *Job) SyncTeam(ctx context.Context, opt *models.TeamOption) error {
	dir, err := j.NewDirectory(opt)
	if err != nil {
		return fmt.Errorf("build directory client for team %s: %w", opt.TeamID, err)
	}

	snap, err := NewTeamSnapshot(ctx, dir, opt.TeamID, SnapshotOptions{
		Members:        true,
		Admins:         true,
		Groups:         true,
		FileProperties: true,
	})
	if err != nil {
		j.reportError(opt, err)
		return fmt.Errorf("snapshot team %s: %w", opt.TeamID, err)
	}

	reconciler := &AdminReconciler{
		DB:           j.DB,
		Dir:          dir,
		GroupName:    j.AdminGroupName,
		Logger:       j.Logger,
		ShareWorkers: j.ShareWorkers,
	}
	adminID, adminGroupID, err := reconciler.Reconcile(ctx, snap, opt)
	if err != nil {
		j.reportError(opt, err)
		return fmt.Errorf("reconcile admins for team %s: %w", opt.TeamID, err)
	}

	if snap.TemplateID != "" {
		if opt.TimestampTemplateID == nil || *opt.TimestampTemplateID != snap.TemplateID {
			if err := j.DB.Model(opt).Update("timestamp_template_id", snap.TemplateID).Error; err != nil {
				j.Logger.Printf("Error caching template id for team %s: %v", opt.TeamID, err)
			} else {
				opt.TimestampTemplateID = &snap.TemplateID
			}
		}
	}

	// Provision storage for institution projects that do not have a
	// complete binding yet, before the folder listing below so newly
	// created team folders are visible to the walk.
	j.provisionProjects(ctx, dir, snap, opt, adminID, adminGroupID)

	// Team folders are fetched after admin reconciliation so the walk
	// sees folders through the elected admin's view.
	if err := snap.RefreshTeamFolders(ctx); err != nil {
		j.reportError(opt, err)
		return fmt.Errorf("list team folders for team %s: %w", opt.TeamID, err)
	}

	walker := &Reconciler{
		DB:       j.DB,
		Dir:      dir,
		Projects: j.Projects,
		Logger:   j.Logger,
	}
	if err := walker.Run(ctx, snap, opt, adminID); err != nil {
		j.reportError(opt, err)
		return fmt.Errorf("walk change feed for team %s: %w", opt.TeamID, err)
	}
	return nil
}

// SyncMetadata re-syncs per-project title and contributor metadata for
// every binding of every enabled team. Each project is isolated: a remote
// failure is logged with the project id and the loop moves on, with a
// fixed pause between projects.
func (j *Job) SyncMetadata(ctx context.Context) {
	var opts []models.TeamOption
	if err := j.DB.Where("enabled = ?", true).Find(&opts).Error; err != nil {
		j.Logger.Printf("Error loading team options for metadata sync: %v", err)
		return
	}
	for i := range opts {
		opt := &opts[i]
		dir, err := j.NewDirectory(opt)
		if err != nil {
			j.Logger.Printf("Error building client for team %s: %v", opt.TeamID, err)
			continue
		}
		var bindings []models.ProjectStorageBinding
		if err := j.DB.Where("team_option_id = ? AND team_folder_id IS NOT NULL", opt.ID).Find(&bindings).Error; err != nil {
			j.Logger.Printf("Error loading bindings for team %s: %v", opt.TeamID, err)
			continue
		}
		for bi := range bindings {
			if ctx.Err() != nil {
				return
			}
			binding := &bindings[bi]
			adapter := NewBusinessAdapter(j.DB, dir, binding, j.Logger)
			if err := adapter.SyncTitle(ctx); err != nil {
				j.Logger.Printf("Error syncing title for project %d: %v", binding.ProjectID, err)
			}
			if err := adapter.SyncContributors(ctx); err != nil {
				j.Logger.Printf("Error syncing contributors for project %d: %v", binding.ProjectID, err)
			}
			if j.MutateDelay > 0 {
				time.Sleep(j.MutateDelay)
			}
		}
	}
}

// provisionProjects runs the provisioning transaction for every project
// of the team's institution that lacks a complete binding. Failures are
// isolated per project: the transaction compensates, the error is logged
// and reported, and the cycle continues.
func (j *Job) provisionProjects(ctx context.Context, dir DirectoryClient, snap *TeamSnapshot, opt *models.TeamOption, adminID, adminGroupID string) {
	var projects []models.Project
	if err := j.DB.Where("institution_id = ?", opt.InstitutionID).Preload("Contributors").Find(&projects).Error; err != nil {
		j.Logger.Printf("Error loading projects for institution %d: %v", opt.InstitutionID, err)
		return
	}

	var doneIDs []uint
	if err := j.DB.Model(&models.ProjectStorageBinding{}).
		Where("team_option_id = ? AND team_folder_id IS NOT NULL AND group_id IS NOT NULL", opt.ID).
		Pluck("project_id", &doneIDs).Error; err != nil {
		j.Logger.Printf("Error loading bindings for team %s: %v", opt.TeamID, err)
		return
	}
	done := make(map[uint]struct{}, len(doneIDs))
	for _, id := range doneIDs {
		done[id] = struct{}{}
	}

	memberEmails := make(map[string]struct{}, len(snap.Members))
	for _, m := range snap.Members {
		memberEmails[m.Email] = struct{}{}
	}

	provisioner := &Provisioner{
		DB:              j.DB,
		Dir:             dir,
		GroupNamePrefix: j.GroupNamePrefix,
		Logger:          j.Logger,
	}
	for i := range projects {
		if ctx.Err() != nil {
			return
		}
		project := &projects[i]
		if _, ok := done[project.ID]; ok {
			continue
		}

		// Only contributors who are members of the team can be placed in
		// the project group.
		var emails []string
		for _, u := range project.Contributors {
			if _, ok := memberEmails[u.Email]; ok {
				emails = append(emails, u.Email)
			}
		}

		if _, err := provisioner.Provision(ctx, opt, project, emails, adminID, adminGroupID); err != nil {
			j.Logger.Printf("Error provisioning project %s: %v", project.GUID, err)
			j.reportError(opt, err)
		}
		if j.MutateDelay > 0 {
			time.Sleep(j.MutateDelay)
		}
	}
}

func (j *Job) reportError(opt *models.TeamOption, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("team_id", opt.TeamID)
		sentry.CaptureException(err)
	})
}
