package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"rdmsync/models"
	syncpkg "rdmsync/sync"
)

// SyncWorker funnels team-sync triggers (webhook, cron, admin API) through
// the cross-process run lock so only one cycle runs at a time. Triggers
// arriving while a cycle is running land in the pending queue and are
// drained before the lock is released.
type SyncWorker struct {
	DB       *gorm.DB
	Job      *syncpkg.Job
	RunLock  *syncpkg.DirLock
	Queue    *syncpkg.WorkQueue
	Interval time.Duration
	Logger   *log.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

func NewSyncWorker(db *gorm.DB, job *syncpkg.Job, lockDir string, interval time.Duration, logger *log.Logger) *SyncWorker {
	return &SyncWorker{
		DB:       db,
		Job:      job,
		RunLock:  syncpkg.NewDirLock(lockDir, syncpkg.RunLockName, logger),
		Queue:    syncpkg.NewWorkQueue(lockDir, logger),
		Interval: interval,
		Logger:   logger,
		pending:  make(map[string]struct{}),
	}
}

func (sw *SyncWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	sw.Logger.Println("Sync worker started")

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Println("Sync worker shutting down...")
			return
		case <-ticker.C:
			sw.EnqueueAll(ctx)
		}
	}
}

// Enqueue requests a sync of the given teams. If another cycle holds the
// run lock the ids are parked in the pending queue for the holder to drain.
func (sw *SyncWorker) Enqueue(ctx context.Context, teamIDs []string) {
	sw.mu.Lock()
	for _, id := range teamIDs {
		sw.pending[id] = struct{}{}
	}
	sw.mu.Unlock()

	go sw.runCycle(ctx)
}

// EnqueueAll requests a sync of every enabled team.
func (sw *SyncWorker) EnqueueAll(ctx context.Context) {
	var opts []models.TeamOption
	if err := sw.DB.Where("enabled = ?", true).Find(&opts).Error; err != nil {
		sw.Logger.Printf("Error fetching enabled teams: %v", err)
		return
	}
	ids := make([]string, 0, len(opts))
	for _, opt := range opts {
		ids = append(ids, opt.TeamID)
	}
	if len(ids) == 0 {
		return
	}
	sw.Enqueue(ctx, ids)
}

func (sw *SyncWorker) runCycle(ctx context.Context) {
	batch := sw.takePending()
	if len(batch) == 0 {
		return
	}

	if !sw.RunLock.TryLock() {
		// Another process (or this one) is already running a cycle; park
		// the ids so the holder picks them up before unlocking.
		sw.Queue.AddPending(syncpkg.SortedIDs(batch))
		return
	}
	defer sw.RunLock.Unlock()

	for {
		batch = sw.Queue.DrainPending(batch)
		if len(batch) == 0 {
			return
		}
		for _, teamID := range syncpkg.SortedIDs(batch) {
			if ctx.Err() != nil {
				return
			}
			sw.syncOne(ctx, teamID)
		}
		batch = make(map[string]struct{})
	}
}

func (sw *SyncWorker) syncOne(ctx context.Context, teamID string) {
	var opt models.TeamOption
	if err := sw.DB.Where("team_id = ? AND enabled = ?", teamID, true).First(&opt).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			sw.Logger.Printf("Skipping unknown or disabled team %s", teamID)
			return
		}
		sw.Logger.Printf("Error loading team %s: %v", teamID, err)
		return
	}

	sw.Logger.Printf("Syncing team %s (%s)", opt.TeamID, opt.TeamName)
	if err := sw.Job.SyncTeam(ctx, &opt); err != nil {
		sw.Logger.Printf("Error syncing team %s: %v", opt.TeamID, err)
		return
	}
	sw.Logger.Printf("Finished syncing team %s", opt.TeamID)
}

func (sw *SyncWorker) takePending() map[string]struct{} {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	batch := sw.pending
	sw.pending = make(map[string]struct{})
	return batch
}
