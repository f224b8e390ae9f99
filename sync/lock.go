package sync

import (
	"bufio"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Fixed names so that independently invoked worker processes agree on the
// shared lock directories and queue file without coordination.
const (
	RunLockName   = "rdmsync_team_sync_run.lock"
	planLockName  = "rdmsync_team_sync_plan.lock"
	queueFileName = "rdmsync_team_sync_pending.txt"
)

// DirLock is a cross-process mutex built on atomic directory creation:
// Mkdir succeeding means the lock is held, Mkdir failing with "exists"
// means it is contended. A lock abandoned by a crashed process stays held
// until an operator removes the directory; TryLock logs the lock's age on
// contention so stuck locks are at least visible. A lease/TTL scheme would
// remove that failure mode but is not implemented here.
type DirLock struct {
	path   string
	logger *log.Logger
}

func NewDirLock(dir, name string, logger *log.Logger) *DirLock {
	return &DirLock{path: filepath.Join(dir, name), logger: logger}
}

// TryLock attempts to take the lock without blocking.
func (l *DirLock) TryLock() bool {
	err := os.Mkdir(l.path, 0o755)
	if err == nil {
		return true
	}
	if errors.Is(err, fs.ErrExist) {
		if info, statErr := os.Stat(l.path); statErr == nil && l.logger != nil {
			l.logger.Printf("Lock %s contended (held for %s)", filepath.Base(l.path), time.Since(info.ModTime()).Round(time.Second))
		}
		return false
	}
	if l.logger != nil {
		l.logger.Printf("Error taking lock %s: %v", l.path, err)
	}
	return false
}

// Unlock releases the lock, ignoring an already-removed directory.
func (l *DirLock) Unlock() {
	if err := os.RemoveAll(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		if l.logger != nil {
			l.logger.Printf("Error releasing lock %s: %v", l.path, err)
		}
	}
}

// WorkQueue is the durable pending-team list used when the run lock is
// contested: webhook handlers append team ids here and return, and the
// worker holding the run lock drains them. All access to the queue file
// goes through the plan lock; nothing else may touch it.
type WorkQueue struct {
	queuePath string
	plan      *DirLock
	logger    *log.Logger
}

func NewWorkQueue(dir string, logger *log.Logger) *WorkQueue {
	return &WorkQueue{
		queuePath: filepath.Join(dir, queueFileName),
		plan:      NewDirLock(dir, planLockName, nil),
		logger:    logger,
	}
}

// lockPlan takes the plan lock, waiting briefly for a concurrent holder.
// Queue file operations are tiny, so a holder that outlives this wait is
// treated as stuck and the operation is skipped.
func (q *WorkQueue) lockPlan() bool {
	for i := 0; i < 100; i++ {
		if q.plan.TryLock() {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	q.logger.Printf("Could not take plan lock for queue file %s", q.queuePath)
	return false
}

// AddPending appends team ids to the queue file, one per line. Best-effort:
// I/O failures are logged and swallowed because the caller is typically a
// webhook handler that must return quickly.
func (q *WorkQueue) AddPending(teamIDs []string) {
	if len(teamIDs) == 0 {
		return
	}
	if !q.lockPlan() {
		return
	}
	defer q.plan.Unlock()

	f, err := os.OpenFile(q.queuePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		q.logger.Printf("Error opening queue file: %v", err)
		return
	}
	defer f.Close()
	for _, id := range teamIDs {
		if _, err := f.WriteString(id + "\n"); err != nil {
			q.logger.Printf("Error queueing team %s: %v", id, err)
			return
		}
	}
}

// DrainPending reads and deletes the queue file, returning the union of
// the given set and the queued ids. An absent queue file drains to the
// input set alone.
func (q *WorkQueue) DrainPending(current map[string]struct{}) map[string]struct{} {
	merged := make(map[string]struct{}, len(current))
	for id := range current {
		merged[id] = struct{}{}
	}
	if !q.lockPlan() {
		return merged
	}
	defer q.plan.Unlock()

	f, err := os.Open(q.queuePath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			q.logger.Printf("Error reading queue file: %v", err)
		}
		return merged
	}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id != "" {
			merged[id] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		q.logger.Printf("Error scanning queue file: %v", err)
	}
	_ = f.Close()
	if err := os.Remove(q.queuePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		q.logger.Printf("Error removing queue file: %v", err)
	}
	return merged
}

// SortedIDs flattens an id set for deterministic processing order.
func SortedIDs(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
