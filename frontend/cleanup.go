package frontend

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"snaptosize/entitlement"
)

// CleanupRuns removes run directories last modified before now-maxAge.
func CleanupRuns(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			log.Errorf("Failed to remove run %s: %v", entry.Name(), err)
			continue
		}
		removed++
	}
	return removed, nil
}

// CleanupRoutine periodically drops old runs and stale ledger entries until ctx is done.
func CleanupRoutine(ctx context.Context, runDir string, retention, interval time.Duration, ledger *entitlement.Ledger) {
	log.Infof("Cleanup routine started - will run every %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof("Cleanup routine stopped due to context cancellation")
			return
		case <-ticker.C:
			now := time.Now()
			if n, err := CleanupRuns(runDir, retention, now); err != nil {
				log.Errorf("Failed to clean up runs: %v", err)
			} else if n > 0 {
				log.Infof("Removed %d runs older than %s", n, retention)
			}
			if ledger == nil {
				continue
			}
			if n, err := ledger.Prune(now); err != nil {
				log.Errorf("Failed to prune usage ledger: %v", err)
			} else if n > 0 {
				log.Debugf("Pruned %d ledger entries", n)
			}
		}
	}
}
